// Package effects holds the shared output stage that every voice is mixed
// into: a smoothed gain ramp, a master EQ and a peak limiter.
package effects

// Effector processes one stereo frame.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain applies effects in insertion order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

func (c *Chain) Len() int { return len(c.effects) }

// Stage is the output mixing stage. Level and EQ setters are lock-free and
// may be called from any goroutine; Process runs on the audio thread.
type Stage struct {
	gain    *GainRamp
	eq      *EQ5Band
	limiter *Limiter
	chain   *Chain
}

// NewStage builds gain -> EQ -> limiter at sampleRate.
func NewStage(sampleRate int) *Stage {
	s := &Stage{
		gain:    NewGainRamp(sampleRate, DefaultRampTime, 1),
		eq:      NewEQ5Band(sampleRate),
		limiter: NewLimiter(sampleRate, -1, 80),
	}
	s.chain = NewChain(s.gain, s.eq, s.limiter)
	return s
}

func (s *Stage) Process(l, r float32) (float32, float32) { return s.chain.Process(l, r) }

func (s *Stage) Reset() { s.chain.Reset() }

// SetLevel ramps the master gain toward level.
func (s *Stage) SetLevel(level float64) { s.gain.SetTarget(float32(level)) }

func (s *Stage) Level() float64 { return float64(s.gain.Target()) }

func (s *Stage) SetBand(band int, gain float32) { s.eq.SetGain(band, gain) }

func (s *Stage) Band(band int) float32 { return s.eq.Gain(band) }
