package effects

import (
	"math"
	"sync/atomic"
)

// Bands are split at these crossover frequencies (Hz).
var crossovers = [4]float64{200, 800, 2500, 8000}

const numBands = len(crossovers) + 1

// EQ5Band is a master EQ built from cascaded one-pole lowpass splits. Band
// gains are float32 bit patterns so the audio thread reads them without a
// lock.
type EQ5Band struct {
	gains [numBands]atomic.Uint32
	coef  [len(crossovers)]float32
	state [2][len(crossovers)]float32 // per channel
}

func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	dt := 1 / float64(sampleRate)
	for i, hz := range crossovers {
		rc := 1 / (2 * math.Pi * hz)
		eq.coef[i] = float32(dt / (rc + dt))
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1))
	}
	return eq
}

// SetGain sets band (0-4) to gain; 1 is unity. Out-of-range bands are ignored.
func (eq *EQ5Band) SetGain(band int, gain float32) {
	if band < 0 || band >= numBands {
		return
	}
	if gain < 0 {
		gain = 0
	}
	eq.gains[band].Store(math.Float32bits(gain))
}

func (eq *EQ5Band) Gain(band int) float32 {
	if band < 0 || band >= numBands {
		return 1
	}
	return math.Float32frombits(eq.gains[band].Load())
}

func (eq *EQ5Band) flat() bool {
	for i := range eq.gains {
		if eq.gains[i].Load() != math.Float32bits(1) {
			return false
		}
	}
	return true
}

func (eq *EQ5Band) Process(l, r float32) (float32, float32) {
	outL := eq.split(0, l)
	outR := eq.split(1, r)
	return outL, outR
}

// split runs one channel through the crossovers, keeping filter state warm
// even when all bands are flat so enabling a band does not click.
func (eq *EQ5Band) split(ch int, x float32) float32 {
	st := &eq.state[ch]
	rest := x
	var out float32
	flat := eq.flat()
	for i := range st {
		st[i] += eq.coef[i] * (rest - st[i])
		band := st[i]
		rest -= band
		if !flat {
			out += band * math.Float32frombits(eq.gains[i].Load())
		}
	}
	if flat {
		return x
	}
	return out + rest*math.Float32frombits(eq.gains[numBands-1].Load())
}

func (eq *EQ5Band) Reset() {
	eq.state = [2][len(crossovers)]float32{}
}
