package mixer

import (
	"math"
	"sync/atomic"

	"github.com/cbegin/beatloop-go/internal/buffer"
)

// Voice plays one buffer from a fixed start frame, either once or wrapping.
type Voice struct {
	buf        *buffer.SampleBuffer
	startFrame int64
	srcRatio   float64 // buffer rate / output rate
	rate       float64
	gain       float32
	loop       bool

	cursor  float64 // source frame position
	started bool
	stopped atomic.Bool
	done    atomic.Bool
}

// Stop silences the voice from the next rendered frame. Safe to call more
// than once and from any goroutine.
func (v *Voice) Stop() {
	v.stopped.Store(true)
}

// Done reports whether the voice has finished or been stopped.
func (v *Voice) Done() bool {
	return v.done.Load() || v.stopped.Load()
}

// render returns the voice's contribution at absolute output frame pos.
// Caller holds m.mu.
func (v *Voice) render(pos int64) (float32, float32) {
	if v.Done() {
		v.done.Store(true)
		return 0, 0
	}
	if !v.started {
		if pos < v.startFrame {
			return 0, 0
		}
		v.started = true
	}
	frames := float64(v.buf.Frames())
	if v.cursor >= frames {
		if !v.loop {
			v.done.Store(true)
			return 0, 0
		}
		v.cursor = math.Mod(v.cursor, frames)
	}
	l, r := v.sampleAt(v.cursor)
	v.cursor += v.rate * v.srcRatio
	return l * v.gain, r * v.gain
}

// sampleAt interpolates linearly between neighbouring frames. A looping
// voice interpolates across the wrap point.
func (v *Voice) sampleAt(pos float64) (float32, float32) {
	n := v.buf.Frames()
	i := int(pos)
	frac := float32(pos - float64(i))
	l0, r0 := v.buf.Frame(i)
	if frac == 0 {
		return l0, r0
	}
	j := i + 1
	if j >= n {
		if !v.loop {
			return l0, r0
		}
		j = 0
	}
	l1, r1 := v.buf.Frame(j)
	return l0 + (l1-l0)*frac, r0 + (r1-r0)*frac
}
