package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

var ErrNotReady = errors.New("audio context not ready")

// SampleSource fills dst with interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the float32 little-endian byte
// stream ebiten expects.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, s := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// ebiten allows one audio context per process.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Device is the output device. It starts suspended; Resume waits for the
// platform to allow audio (browsers need a user gesture) and starts pulling
// from the source.
type Device struct {
	mu      sync.Mutex
	ctx     *ebitaudio.Context
	player  *ebitaudio.Player
	reader  io.ReadCloser
	playing bool
	poll    time.Duration
}

// DefaultBufferSize keeps output latency well under the scheduler's
// look-ahead window.
const DefaultBufferSize = 20 * time.Millisecond

func NewDevice(sampleRate int, source SampleSource) (*Device, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	pl.SetBufferSize(DefaultBufferSize)
	return &Device{
		ctx:    ctx,
		player: pl,
		reader: reader,
		poll:   10 * time.Millisecond,
	}, nil
}

// Resume blocks until the device is playing or ctx is done.
func (d *Device) Resume(ctx context.Context) error {
	d.mu.Lock()
	if d.playing {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	tk := time.NewTicker(d.poll)
	defer tk.Stop()
	for !d.ctx.IsReady() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-tk.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return errors.New("audio device closed")
	}
	if !d.playing {
		d.player.Play()
		d.playing = true
	}
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	d.player.Pause()
	err := d.player.Close()
	d.player = nil
	d.playing = false
	if cerr := d.reader.Close(); err == nil {
		err = cerr
	}
	return err
}
