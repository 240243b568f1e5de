package buffer

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingBuffer = errors.New("buffer not available")
	ErrEmpty         = errors.New("buffer has no frames")
)

// PlaybackMode is a fixed property of a loaded sample.
type PlaybackMode int

const (
	OneShot PlaybackMode = iota
	Loop
)

func (m PlaybackMode) String() string {
	switch m {
	case OneShot:
		return "oneshot"
	case Loop:
		return "loop"
	default:
		return fmt.Sprintf("PlaybackMode(%d)", int(m))
	}
}

// ParseMode maps "oneshot"/"loop" to a PlaybackMode.
func ParseMode(s string) (PlaybackMode, error) {
	switch s {
	case "oneshot", "one-shot", "once":
		return OneShot, nil
	case "loop":
		return Loop, nil
	default:
		return OneShot, fmt.Errorf("invalid playback mode %q (expected oneshot|loop)", s)
	}
}

// SampleBuffer holds decoded, non-interleaved PCM. It must not be mutated
// after construction; voices read it concurrently from the audio thread.
type SampleBuffer struct {
	Channels   [][]float32
	SampleRate int
}

// New validates channel data and returns a buffer. All channels must have the
// same, non-zero length.
func New(channels [][]float32, sampleRate int) (*SampleBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if len(channels) == 0 || len(channels[0]) == 0 {
		return nil, ErrEmpty
	}
	n := len(channels[0])
	for i, ch := range channels {
		if len(ch) != n {
			return nil, fmt.Errorf("channel %d has %d frames, want %d", i, len(ch), n)
		}
	}
	return &SampleBuffer{Channels: channels, SampleRate: sampleRate}, nil
}

func (b *SampleBuffer) NumChannels() int { return len(b.Channels) }

func (b *SampleBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration is the length in seconds at the native sample rate.
func (b *SampleBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

func (b *SampleBuffer) DurationTime() time.Duration {
	return time.Duration(b.Duration() * float64(time.Second))
}

// Reverse returns a copy with every channel's sample order inverted.
func (b *SampleBuffer) Reverse() (*SampleBuffer, error) {
	if b.Frames() == 0 {
		return nil, ErrEmpty
	}
	n := b.Frames()
	out := make([][]float32, len(b.Channels))
	for c, src := range b.Channels {
		if len(src) != n {
			return nil, fmt.Errorf("reverse: channel %d has %d frames, want %d", c, len(src), n)
		}
		dst := make([]float32, n)
		for i, s := range src {
			dst[n-1-i] = s
		}
		out[c] = dst
	}
	return &SampleBuffer{Channels: out, SampleRate: b.SampleRate}, nil
}

// Frame returns the left/right pair at integer frame i. Mono buffers are
// duplicated; channels past the second are ignored.
func (b *SampleBuffer) Frame(i int) (float32, float32) {
	l := b.Channels[0][i]
	if len(b.Channels) == 1 {
		return l, l
	}
	return l, b.Channels[1][i]
}
