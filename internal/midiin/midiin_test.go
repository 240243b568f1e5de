package midiin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/beatloop-go/internal/rate"
)

type trigger struct {
	rate, velocity float64
}

type fakePlayer struct {
	rates    *rate.Table
	triggers []trigger
	err      error
}

func (p *fakePlayer) PlaybackRateForNote(note int) (float64, bool) { return p.rates.Rate(note) }

func (p *fakePlayer) PlaySampleAtRate(r, v float64) error {
	if p.err != nil {
		return p.err
	}
	p.triggers = append(p.triggers, trigger{r, v})
	return nil
}

func newPlayer(t *testing.T) *fakePlayer {
	t.Helper()
	tbl, err := rate.NewTable(rate.ConcertA)
	require.NoError(t, err)
	return &fakePlayer{rates: tbl}
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRouterPlaysNoteStart(t *testing.T) {
	p := newPlayer(t)
	r := NewRouter(p, quiet())

	ok, err := r.Handle(midi.NoteOn(0, 81, 127))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, p.triggers, 1)
	assert.InDelta(t, 2.0, p.triggers[0].rate, 1e-9)
	assert.InDelta(t, 1.0, p.triggers[0].velocity, 1e-9)

	ok, err = r.Handle(midi.NoteOn(3, 69, 64))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, p.triggers[1].rate, 1e-9)
	assert.InDelta(t, 64.0/127, p.triggers[1].velocity, 1e-9)
}

func TestRouterIgnoresNonNoteStarts(t *testing.T) {
	p := newPlayer(t)
	r := NewRouter(p, quiet())
	for _, msg := range []midi.Message{
		midi.NoteOff(0, 60),
		midi.NoteOn(0, 60, 0),
		midi.ControlChange(0, 7, 100),
		midi.ProgramChange(0, 5),
	} {
		ok, err := r.Handle(msg)
		require.NoError(t, err, msg.String())
		require.False(t, ok, msg.String())
	}
	assert.Empty(t, p.triggers)
}

func TestRouterChannelFilter(t *testing.T) {
	p := newPlayer(t)
	r := NewRouter(p, WithChannel(9), quiet())
	ok, err := r.Handle(midi.NoteOn(0, 60, 100))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.Handle(midi.NoteOn(9, 60, 100))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, p.triggers, 1)
}

func TestRouterRejectsNotesWithoutRate(t *testing.T) {
	p := newPlayer(t)
	r := NewRouter(p, quiet())
	for _, key := range []uint8{0, 20, 109, 127} {
		ok, err := r.Handle(midi.NoteOn(0, key, 100))
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrNoteOutOfRange)
	}
	assert.Empty(t, p.triggers)
}

func TestRouterReportsTriggerFailure(t *testing.T) {
	p := newPlayer(t)
	p.err = errors.New("clock unavailable")
	r := NewRouter(p, quiet())
	ok, err := r.Handle(midi.NoteOn(0, 60, 100))
	assert.False(t, ok)
	assert.ErrorIs(t, err, p.err)
}

// writeSMF builds a two-track file at 120 BPM, 96 ticks per quarter note.
func writeSMF(t *testing.T) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)

	var a smf.Track
	a.Add(0, smf.MetaTempo(120))
	a.Add(0, midi.NoteOn(0, 60, 100))
	a.Add(8, midi.NoteOff(0, 60))
	a.Add(8, midi.NoteOn(0, 64, 90))
	a.Close(8)
	require.NoError(t, s.Add(a))

	var b smf.Track
	b.Add(8, midi.NoteOn(1, 72, 127))
	b.Add(8, midi.NoteOff(1, 72))
	b.Close(0)
	require.NoError(t, s.Add(b))

	var buf bytes.Buffer
	_, err := s.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestReadNotesMergesTracks(t *testing.T) {
	notes, err := ReadNotes(bytes.NewReader(writeSMF(t)))
	require.NoError(t, err)
	require.Len(t, notes, 3)

	var keys []uint8
	for _, n := range notes {
		var ch, key, vel uint8
		require.True(t, n.Message.GetNoteStart(&ch, &key, &vel))
		keys = append(keys, key)
	}
	assert.Equal(t, []uint8{60, 72, 64}, keys)

	// 8 ticks at 96 ppq and 120 BPM is 41.666ms.
	assert.Equal(t, time.Duration(0), notes[0].At)
	assert.InDelta(t, float64(41667*time.Microsecond), float64(notes[1].At), float64(time.Millisecond))
	assert.InDelta(t, float64(83333*time.Microsecond), float64(notes[2].At), float64(time.Millisecond))
}

func TestReadNotesRejectsGarbage(t *testing.T) {
	_, err := ReadNotes(bytes.NewReader([]byte("MThd but not really")))
	assert.ErrorIs(t, err, ErrSMF)
}

func TestPlayFileRoutesInRealTime(t *testing.T) {
	p := newPlayer(t)
	start := time.Now()
	played, err := PlayFile(context.Background(), bytes.NewReader(writeSMF(t)), NewRouter(p, quiet()))
	require.NoError(t, err)
	assert.Equal(t, 3, played)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Len(t, p.triggers, 3)
	assert.InDelta(t, 2.0, p.triggers[1].rate/p.triggers[0].rate, 1e-9)
}

func TestPlayFileStopsOnCancel(t *testing.T) {
	p := newPlayer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	played, err := PlayFile(ctx, bytes.NewReader(writeSMF(t)), NewRouter(p, quiet()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, played)
	assert.Empty(t, p.triggers)
}
