package midiin

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

var ErrSMF = errors.New("invalid standard MIDI file")

// Note is a note start at an offset from the beginning of a file.
type Note struct {
	At      time.Duration
	Message midi.Message
}

// ReadNotes loads every note start in a standard MIDI file, merged across
// tracks and ordered by time from the beginning of the file.
func ReadNotes(r io.Reader) ([]Note, error) {
	var out []Note
	rd := smf.ReadTracksFrom(r).Do(func(ev smf.TrackEvent) {
		msg := midi.Message(slices.Clone(ev.Message))
		var ch, key, vel uint8
		if msg.GetNoteStart(&ch, &key, &vel) {
			out = append(out, Note{
				At:      time.Duration(ev.AbsMicroSeconds) * time.Microsecond,
				Message: msg,
			})
		}
	})
	if err := rd.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSMF, err)
	}
	slices.SortStableFunc(out, func(a, b Note) int { return cmp.Compare(a.At, b.At) })
	return out, nil
}

// PlayFile routes the notes of a standard MIDI file in real time. It returns
// ctx.Err() if cancelled before the last note. Notes the router rejects are
// skipped.
func PlayFile(ctx context.Context, r io.Reader, router *Router) (played int, err error) {
	notes, err := ReadNotes(r)
	if err != nil {
		return 0, err
	}
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	start := time.Now()
	for _, n := range notes {
		if wait := n.At - time.Since(start); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return played, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return played, err
		}
		if ok, _ := router.Handle(n.Message); ok {
			played++
		}
	}
	return played, nil
}
