package beatloop

import (
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cbegin/beatloop-go/internal/mixer"
	"github.com/cbegin/beatloop-go/internal/transport"
)

// RenderLoop runs the beat loop against an offline mixer and returns seconds
// of interleaved stereo float32 at sampleRate. Wakes are driven by the render
// itself, one per WakeInterval of output, so the result is deterministic.
func RenderLoop(raw []byte, tempo, pitch, seconds float64, sampleRate int, opts ...Option) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidParameter, sampleRate)
	}
	if err := positive("seconds", seconds); err != nil {
		return nil, err
	}
	mix := mixer.New(sampleRate)
	waker := &transport.ManualWaker{}
	opts = append(opts,
		WithSampleRate(sampleRate),
		WithPlaybackEngine(mix),
		WithClock(FreeRunning(mix)),
		WithWaker(waker),
	)
	e, err := New(raw, tempo, pitch, opts...)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	if err := e.StartLoop(); err != nil {
		return nil, err
	}

	block := int(e.sched.Config().WakeInterval.Seconds() * float64(sampleRate))
	if block < 1 {
		block = 1
	}
	frames := int(seconds * float64(sampleRate))
	out := make([]float32, frames*2)
	for f := 0; f < frames; f += block {
		n := min(block, frames-f)
		mix.Process(out[f*2 : (f+n)*2])
		waker.Fire()
	}
	return out, nil
}

// WriteWAV encodes interleaved stereo samples as 16-bit PCM. Samples are
// clipped to [-1,1].
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		data[i] = int(math.Round(v * math.MaxInt16))
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 2, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}
