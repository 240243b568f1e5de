// Package midiin turns MIDI note messages into pitched sample triggers.
package midiin

import (
	"errors"
	"log/slog"

	"gitlab.com/gomidi/midi/v2"
)

// ErrNoteOutOfRange means the note has no playback rate.
var ErrNoteOutOfRange = errors.New("note out of range")

// Player is the subset of the engine a Router drives.
type Player interface {
	PlaybackRateForNote(note int) (float64, bool)
	PlaySampleAtRate(rate, velocity float64) error
}

// AllChannels makes a Router accept notes on every channel.
const AllChannels = -1

type Router struct {
	player  Player
	channel int
	log     *slog.Logger
}

type Option func(*Router)

// WithChannel restricts the router to one MIDI channel (0-15).
func WithChannel(ch int) Option {
	return func(r *Router) { r.channel = ch }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

func NewRouter(p Player, opts ...Option) *Router {
	r := &Router{player: p, channel: AllChannels, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle plays msg if it is a note start on an accepted channel. It reports
// whether a sample was triggered. Note ends and other messages are ignored
// since every note plays the sample through once.
func (r *Router) Handle(msg midi.Message) (bool, error) {
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		r.log.Debug("midi message ignored", "msg", msg.String())
		return false, nil
	}
	if r.channel != AllChannels && int(ch) != r.channel {
		r.log.Debug("note on filtered channel", "ch", ch, "key", key)
		return false, nil
	}
	rate, ok := r.player.PlaybackRateForNote(int(key))
	if !ok {
		r.log.Debug("note has no playback rate", "key", key)
		return false, ErrNoteOutOfRange
	}
	if err := r.player.PlaySampleAtRate(rate, float64(vel)/127); err != nil {
		r.log.Warn("note trigger failed", "key", key, "err", err)
		return false, err
	}
	r.log.Debug("note on", "ch", ch, "key", key, "vel", vel, "rate", rate)
	return true, nil
}
