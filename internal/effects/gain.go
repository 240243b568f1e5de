package effects

import (
	"math"
	"sync/atomic"
	"time"
)

// DefaultRampTime is how long a full 0 -> 1 gain change takes.
const DefaultRampTime = 30 * time.Millisecond

// GainRamp moves linearly toward its target so volume changes never click.
type GainRamp struct {
	target  atomic.Uint32 // float32 bits
	current float32
	step    float32
}

func NewGainRamp(sampleRate int, rampTime time.Duration, initial float32) *GainRamp {
	frames := rampTime.Seconds() * float64(sampleRate)
	if frames < 1 {
		frames = 1
	}
	g := &GainRamp{current: initial, step: float32(1 / frames)}
	g.target.Store(math.Float32bits(initial))
	return g
}

func (g *GainRamp) SetTarget(v float32) {
	if v < 0 {
		v = 0
	}
	g.target.Store(math.Float32bits(v))
}

func (g *GainRamp) Target() float32 { return math.Float32frombits(g.target.Load()) }

// Current is the gain applied to the most recent frame. Audio thread only.
func (g *GainRamp) Current() float32 { return g.current }

func (g *GainRamp) Process(l, r float32) (float32, float32) {
	t := math.Float32frombits(g.target.Load())
	switch {
	case g.current < t:
		g.current = min(g.current+g.step, t)
	case g.current > t:
		g.current = max(g.current-g.step, t)
	}
	return l * g.current, r * g.current
}

// Reset jumps straight to the target.
func (g *GainRamp) Reset() {
	g.current = g.Target()
}
