// Package rate maps MIDI note numbers to sample playback rates.
package rate

import (
	"fmt"
	"math"
)

const (
	MinNote = 21  // A0
	MaxNote = 108 // C8

	ConcertA     = 440.0
	ConcertANote = 69
)

// Table is an immutable note -> playback-rate lookup.
type Table struct {
	reference float64
	rates     map[int]float64
}

// NoteFrequency returns the equal-tempered frequency of note, A4 = 440 Hz.
func NoteFrequency(note int) float64 {
	return ConcertA * math.Pow(2, float64(note-ConcertANote)/12)
}

// NewTable builds the table for a sample whose native pitch is referenceHz.
func NewTable(referenceHz float64) (*Table, error) {
	if referenceHz <= 0 || math.IsNaN(referenceHz) || math.IsInf(referenceHz, 0) {
		return nil, fmt.Errorf("invalid reference frequency %v", referenceHz)
	}
	t := &Table{
		reference: referenceHz,
		rates:     make(map[int]float64, MaxNote-MinNote+1),
	}
	for n := MinNote; n <= MaxNote; n++ {
		t.rates[n] = NoteFrequency(n) / referenceHz
	}
	return t, nil
}

// Rate looks up note. Notes outside [MinNote, MaxNote] are not found.
func (t *Table) Rate(note int) (float64, bool) {
	r, ok := t.rates[note]
	return r, ok
}

func (t *Table) Reference() float64 { return t.reference }

// SemitoneRatio is the playback-rate factor for shifting by n semitones.
func SemitoneRatio(n float64) float64 {
	return math.Pow(2, n/12)
}
