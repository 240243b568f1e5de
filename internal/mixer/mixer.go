// Package mixer renders scheduled sample voices into a stereo stream.
//
// The mixer's running frame count is the audio clock: a voice asked to start
// at time t begins on frame round(t*sampleRate), regardless of when the
// request arrived relative to the audio callback.
package mixer

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/beatloop-go/internal/buffer"
	"github.com/cbegin/beatloop-go/internal/effects"
)

// Params describes one trigger.
type Params struct {
	Start float64 // seconds on the mixer clock
	Rate  float64 // 1 = native pitch
	Gain  float64
	Loop  bool
}

// Handle is the caller's view of a sounding voice.
type Handle interface {
	Stop()
	Done() bool
}

type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	pos        atomic.Int64
	voices     []*Voice
	out        *effects.Stage
	tap        func([]float32)
}

type Option func(*Mixer)

// WithTap installs a callback that sees each rendered stereo block. It runs
// on the audio thread; keep it brief.
func WithTap(tap func([]float32)) Option {
	return func(m *Mixer) { m.tap = tap }
}

func New(sampleRate int, opts ...Option) *Mixer {
	m := &Mixer{
		sampleRate: sampleRate,
		out:        effects.NewStage(sampleRate),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mixer) SampleRate() int { return m.sampleRate }

// Now is the time of the next frame to be rendered, in seconds.
func (m *Mixer) Now() float64 {
	return float64(m.pos.Load()) / float64(m.sampleRate)
}

// CreateVoice schedules buf. A start time already in the past plays from
// the next rendered frame.
func (m *Mixer) CreateVoice(buf *buffer.SampleBuffer, p Params) Handle {
	rate := p.Rate
	if rate <= 0 {
		rate = 1
	}
	v := &Voice{
		buf:        buf,
		startFrame: int64(math.Round(p.Start * float64(m.sampleRate))),
		srcRatio:   float64(buf.SampleRate) / float64(m.sampleRate),
		rate:       rate,
		gain:       float32(p.Gain),
		loop:       p.Loop,
	}
	m.mu.Lock()
	m.voices = append(m.voices, v)
	m.mu.Unlock()
	return v
}

// SetGain ramps the output stage toward level.
func (m *Mixer) SetGain(level float64) { m.out.SetLevel(level) }

func (m *Mixer) Gain() float64 { return m.out.Level() }

func (m *Mixer) SetEQBand(band int, gain float32) { m.out.SetBand(band, gain) }

func (m *Mixer) EQBand(band int) float32 { return m.out.Band(band) }

// ActiveVoices counts voices that are scheduled or sounding.
func (m *Mixer) ActiveVoices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.voices {
		if !v.Done() {
			n++
		}
	}
	return n
}

// Process renders len(dst)/2 interleaved stereo frames. It implements the
// audio package's SampleSource.
func (m *Mixer) Process(dst []float32) {
	frames := len(dst) / 2
	m.mu.Lock()
	pos := m.pos.Load()
	for f := 0; f < frames; f++ {
		var l, r float32
		for _, v := range m.voices {
			vl, vr := v.render(pos)
			l += vl
			r += vr
		}
		dst[f*2], dst[f*2+1] = m.out.Process(l, r)
		pos++
	}
	m.pos.Store(pos)
	m.prune()
	m.mu.Unlock()
	if m.tap != nil {
		m.tap(dst)
	}
}

func (m *Mixer) prune() {
	live := m.voices[:0]
	for _, v := range m.voices {
		if !v.Done() {
			live = append(live, v)
		}
	}
	for i := len(live); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = live
}
