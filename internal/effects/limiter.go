package effects

import "math"

// Limiter is a stereo-linked peak limiter. Overlapping one-shots on a fast
// grid can sum past full scale; the limiter holds them under the ceiling.
type Limiter struct {
	ceiling float32
	release float32 // per-frame recovery coefficient
	env     float32 // current gain reduction, 1 = none
}

// NewLimiter clamps peaks to ceilingDB (dBFS) and recovers over releaseMs.
func NewLimiter(sampleRate int, ceilingDB, releaseMs float64) *Limiter {
	return &Limiter{
		ceiling: float32(math.Pow(10, ceilingDB/20)),
		release: float32(1 - math.Exp(-1/(releaseMs*float64(sampleRate)/1000))),
		env:     1,
	}
}

func (lm *Limiter) Process(l, r float32) (float32, float32) {
	peak := max(abs32(l), abs32(r))
	want := float32(1)
	if peak > lm.ceiling {
		want = lm.ceiling / peak
	}
	if want < lm.env {
		// Instant attack: never let a peak through.
		lm.env = want
	} else {
		lm.env += lm.release * (want - lm.env)
	}
	return l * lm.env, r * lm.env
}

// Reduction is the gain currently applied, in (0, 1].
func (lm *Limiter) Reduction() float32 { return lm.env }

func (lm *Limiter) Reset() { lm.env = 1 }

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
