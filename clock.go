package beatloop

import (
	"context"

	"github.com/cbegin/beatloop-go/internal/audio"
	"github.com/cbegin/beatloop-go/internal/buffer"
	"github.com/cbegin/beatloop-go/internal/mixer"
	"github.com/cbegin/beatloop-go/internal/transport"
)

// Clock is the audio timeline. Resume must be idempotent; it blocks until
// the clock is running or ctx ends.
type Clock interface {
	Now() float64
	Resume(ctx context.Context) error
}

// PlaybackEngine produces sound for scheduled voices.
type PlaybackEngine interface {
	CreateVoice(buf *SampleBuffer, p VoiceParams) Voice
	SetGain(level float64)
}

type (
	SampleBuffer = buffer.SampleBuffer
	PlaybackMode = buffer.PlaybackMode
	VoiceParams  = mixer.Params
	Voice        = mixer.Handle
)

const (
	OneShot = buffer.OneShot
	Loop    = buffer.Loop
)

// deviceClock reads time from the mixer and resumes the output device.
type deviceClock struct {
	dev *audio.Device
	mix *mixer.Mixer
}

func (c *deviceClock) Now() float64 { return c.mix.Now() }

func (c *deviceClock) Resume(ctx context.Context) error { return c.dev.Resume(ctx) }

type freeRunning struct {
	transport.Clock
}

func (freeRunning) Resume(context.Context) error { return nil }

// FreeRunning wraps a clock that never needs resuming, such as a mixer
// driven by an offline render loop.
func FreeRunning(c transport.Clock) Clock {
	return freeRunning{c}
}
