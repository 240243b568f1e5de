// Package beatloop plays an audio sample on a tempo grid. Beats are issued
// ahead of time by a look-ahead scheduler and placed on the audio clock, so
// the loop stays in phase however late the scheduling goroutine wakes.
package beatloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	intaudio "github.com/cbegin/beatloop-go/internal/audio"
	"github.com/cbegin/beatloop-go/internal/buffer"
	"github.com/cbegin/beatloop-go/internal/decode"
	"github.com/cbegin/beatloop-go/internal/mixer"
	"github.com/cbegin/beatloop-go/internal/rate"
	"github.com/cbegin/beatloop-go/internal/transport"
)

// Event carries transport and trigger notifications from Watch().
type Event struct {
	Kind EventKind
	Beat int     // beat index for EventBeat / EventTriggerFailed
	Time float64 // target time on the audio clock
	Err  error   // EventTriggerFailed only
}

type EventKind int

const (
	EventBeat EventKind = iota
	EventLoopStarted
	EventLoopStopped
	EventTransportRestarted
	EventReverseToggled
	EventTriggerFailed
	EventReloaded
)

func (k EventKind) String() string {
	switch k {
	case EventBeat:
		return "beat"
	case EventLoopStarted:
		return "loop-started"
	case EventLoopStopped:
		return "loop-stopped"
	case EventTransportRestarted:
		return "transport-restarted"
	case EventReverseToggled:
		return "reverse-toggled"
	case EventTriggerFailed:
		return "trigger-failed"
	case EventReloaded:
		return "reloaded"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Engine is one loaded sample with its transport. All methods are safe for
// concurrent use; they serialize on a single lock that scheduler wakes also
// take, so no operation ever interleaves with a scheduling pass.
type Engine struct {
	mu            sync.Mutex
	log           *slog.Logger
	clock         Clock
	voices        PlaybackEngine
	closer        io.Closer
	resumeTimeout time.Duration

	store     *buffer.Store
	rates     *rate.Table
	mode      buffer.PlaybackMode
	fixedMode bool
	fixedRef  bool
	sched     *transport.Scheduler

	pitch      float64
	volume     float64
	reversed   bool
	looping    bool
	loopVoice  Voice
	beatVoices []beatVoice

	eventCh   chan Event
	eventChMu sync.Mutex
}

// beatVoice is a one-shot triggered by the scheduler. gen is the transport
// generation whose grid it was computed on.
type beatVoice struct {
	v     Voice
	start float64
	gen   uint64
}

// New decodes raw and builds an engine at tempo BPM and playback rate pitch.
// Any failure here aborts initialization; the detail is also logged.
func New(raw []byte, tempo, pitch float64, opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.logger
	if log == nil {
		log = slog.Default()
	}
	fail := func(msg string, err error) (*Engine, error) {
		log.Error(msg, "err", err)
		return nil, err
	}

	if err := errors.Join(positive("tempo", tempo), positive("pitch", pitch)); err != nil {
		return fail("init: invalid parameter", err)
	}
	if cfg.multiplier < 1 {
		return fail("init: invalid parameter", fmt.Errorf("%w: schedule multiplier %d", ErrInvalidParameter, cfg.multiplier))
	}
	if err := cfg.scheduler.Validate(); err != nil {
		return fail("init: scheduler config", err)
	}
	if cfg.sampleRate <= 0 {
		return fail("init: sample rate", fmt.Errorf("%w: sample rate %d", ErrInvalidParameter, cfg.sampleRate))
	}

	res, err := decode.Decode(raw)
	if err != nil {
		return fail("init: decode sample", err)
	}
	store, err := buffer.NewStore(res.Buffer)
	if err != nil {
		return fail("init: buffer store", fmt.Errorf("%w: %v", ErrDecode, err))
	}
	if !store.HasReversed() {
		log.Warn("reverse playback disabled", "err", store.ReverseErr())
	}
	rates, err := rate.NewTable(referenceFor(cfg.referenceHz, res))
	if err != nil {
		return fail("init: rate table", fmt.Errorf("%w: %v", ErrInvalidParameter, err))
	}
	mode := res.Mode
	if cfg.mode != nil {
		mode = *cfg.mode
	}

	e := &Engine{
		log:           log,
		resumeTimeout: cfg.resumeTimeout,
		store:         store,
		rates:         rates,
		mode:          mode,
		fixedMode:     cfg.mode != nil,
		fixedRef:      cfg.referenceHz > 0,
		pitch:         pitch,
		volume:        clampVolume(cfg.volume),
	}
	if err := e.attachOutput(&cfg); err != nil {
		return fail("init: audio output", err)
	}
	sched, err := transport.New(cfg.scheduler, e.clock, cfg.waker, &e.mu, tempo)
	if err == nil && cfg.multiplier > 1 {
		_, err = sched.SetMultiplier(cfg.multiplier)
	}
	if err != nil {
		if e.closer != nil {
			_ = e.closer.Close()
		}
		return fail("init: scheduler", err)
	}
	sched.OnRestart(e.onTransportRestart)
	e.sched = sched
	e.voices.SetGain(e.volume)

	log.Info("engine initialized",
		"format", res.Format,
		"channels", res.Buffer.NumChannels(),
		"frames", res.Buffer.Frames(),
		"sampleRate", res.Buffer.SampleRate,
		"duration", res.Buffer.DurationTime(),
		"mode", mode,
		"referenceHz", rates.Reference(),
		"tempo", tempo,
		"pitch", pitch,
	)
	return e, nil
}

func referenceFor(explicit float64, res decode.Result) float64 {
	if explicit > 0 {
		return explicit
	}
	if res.UnityNote >= 0 {
		return rate.NoteFrequency(res.UnityNote)
	}
	return rate.ConcertA
}

// attachOutput wires the playback engine and clock, opening the audio device
// when neither was supplied.
func (e *Engine) attachOutput(cfg *engineConfig) error {
	e.voices = cfg.engine
	e.clock = cfg.clock
	if e.voices == nil {
		mix := mixer.New(cfg.sampleRate, mixer.WithTap(cfg.sampleTap))
		e.voices = mix
		if e.clock == nil {
			dev, err := intaudio.NewDevice(cfg.sampleRate, mix)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrClockUnavailable, err)
			}
			e.clock = &deviceClock{dev: dev, mix: mix}
			e.closer = dev
		}
	}
	if e.clock == nil {
		c, ok := e.voices.(Clock)
		if !ok {
			return errors.New("playback engine has no clock; use WithClock")
		}
		e.clock = c
	}
	return nil
}

// ensureClock resumes the clock if needed. It must not be called with e.mu
// held since resuming can block.
func (e *Engine) ensureClock() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.resumeTimeout)
	defer cancel()
	if err := e.clock.Resume(ctx); err != nil {
		err = fmt.Errorf("%w: %v", ErrClockUnavailable, err)
		e.log.Error("audio clock resume failed", "err", err)
		return err
	}
	return nil
}

// PlayOnce plays the current buffer once, now, at the global pitch.
func (e *Engine) PlayOnce() error {
	if err := e.ensureClock(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.triggerLocked(e.clock.Now(), e.pitch, 1, false)
	return err
}

// PlaySampleAtRate plays the current buffer once at an explicit rate.
// velocity in [0,1] scales the voice gain. It never loops, whatever the
// sample's playback mode.
func (e *Engine) PlaySampleAtRate(playbackRate, velocity float64) error {
	if err := positive("rate", playbackRate); err != nil {
		e.log.Warn("note ignored", "err", err)
		return err
	}
	if err := e.ensureClock(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.triggerLocked(e.clock.Now(), playbackRate, clampVolume(velocity), false)
	return err
}

func (e *Engine) triggerLocked(at, playbackRate, gain float64, loop bool) (Voice, error) {
	buf, err := e.store.Current(e.reversed)
	if err != nil {
		e.log.Warn("trigger skipped", "reversed", e.reversed, "err", err)
		return nil, err
	}
	return e.voices.CreateVoice(buf, VoiceParams{Start: at, Rate: playbackRate, Gain: gain, Loop: loop}), nil
}

// StartLoop starts beat-synchronized playback. One-shot samples are
// re-triggered on every beat; loop samples get a single engine-level looping
// voice started on the first beat. Calling it while looping does nothing.
func (e *Engine) StartLoop() error {
	if err := e.ensureClock(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.looping {
		e.log.Debug("loop already running")
		return nil
	}
	return e.startLoopLocked()
}

func (e *Engine) startLoopLocked() error {
	buf, err := e.store.Current(e.reversed)
	if err != nil {
		e.log.Warn("loop not started", "reversed", e.reversed, "err", err)
		return err
	}
	switch e.mode {
	case buffer.Loop:
		e.sched.Start(e.markBeat)
		e.loopVoice = e.voices.CreateVoice(buf, VoiceParams{
			Start: e.sched.StartTime(),
			Rate:  e.pitch,
			Gain:  1,
			Loop:  true,
		})
	default:
		e.sched.Start(e.triggerBeat)
	}
	e.looping = true
	e.log.Debug("loop started", "mode", e.mode, "start", e.sched.StartTime(), "tempo", e.sched.Tempo())
	e.sendEvent(Event{Kind: EventLoopStarted, Time: e.sched.StartTime()})
	return nil
}

// triggerBeat runs inside a scheduling pass with e.mu held. A failed trigger
// is reported and skipped; the transport keeps running.
func (e *Engine) triggerBeat(b transport.Beat) {
	e.pruneBeatVoices()
	v, err := e.triggerLocked(b.Time, e.pitch, 1, false)
	if err != nil {
		e.sendEvent(Event{Kind: EventTriggerFailed, Beat: b.Index, Time: b.Time, Err: err})
		return
	}
	e.beatVoices = append(e.beatVoices, beatVoice{v: v, start: b.Time, gen: e.sched.Generation()})
	e.sendEvent(Event{Kind: EventBeat, Beat: b.Index, Time: b.Time})
}

// markBeat keeps loop-mode observers in phase without triggering anything.
func (e *Engine) markBeat(b transport.Beat) {
	e.sendEvent(Event{Kind: EventBeat, Beat: b.Index, Time: b.Time})
}

func (e *Engine) pruneBeatVoices() {
	live := e.beatVoices[:0]
	for _, bv := range e.beatVoices {
		if !bv.v.Done() {
			live = append(live, bv)
		}
	}
	clear(e.beatVoices[len(live):])
	e.beatVoices = live
}

// onTransportRestart runs with e.mu held once a forced restart has issued
// its first pass. Beats from the old grid that have not sounded yet are
// cancelled, and a managed looping voice is hard-restarted on the new grid.
func (e *Engine) onTransportRestart(start float64) {
	now := e.clock.Now()
	gen := e.sched.Generation()
	kept := e.beatVoices[:0]
	for _, bv := range e.beatVoices {
		if bv.gen != gen && bv.start > now {
			bv.v.Stop()
			continue
		}
		kept = append(kept, bv)
	}
	clear(e.beatVoices[len(kept):])
	e.beatVoices = kept

	if e.mode == buffer.Loop && e.loopVoice != nil {
		e.loopVoice.Stop()
		e.loopVoice = nil
		buf, err := e.store.Current(e.reversed)
		if err != nil {
			e.log.Warn("loop voice not restarted", "err", err)
			e.sendEvent(Event{Kind: EventTriggerFailed, Time: start, Err: err})
		} else {
			e.loopVoice = e.voices.CreateVoice(buf, VoiceParams{Start: start, Rate: e.pitch, Gain: 1, Loop: true})
		}
	}
	e.log.Debug("transport restarted", "start", start, "tempo", e.sched.Tempo(), "multiplier", e.sched.Multiplier())
	e.sendEvent(Event{Kind: EventTransportRestarted, Time: start})
}

// StopLoop stops the transport and every voice it started. It is safe to
// call in any state, any number of times.
func (e *Engine) StopLoop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLoopLocked()
}

func (e *Engine) stopLoopLocked() {
	wasLooping := e.looping
	e.sched.Stop()
	if e.loopVoice != nil {
		e.loopVoice.Stop()
		e.loopVoice = nil
	}
	for _, bv := range e.beatVoices {
		bv.v.Stop()
	}
	clear(e.beatVoices)
	e.beatVoices = e.beatVoices[:0]
	e.looping = false
	if wasLooping {
		e.log.Debug("loop stopped")
		e.sendEvent(Event{Kind: EventLoopStopped})
	}
}

// ToggleReverse flips between the forward and reversed buffer. A running
// loop is stopped and restarted on the new buffer so the two never mix. If
// the other variant is unavailable the selection is left unchanged.
func (e *Engine) ToggleReverse() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := !e.reversed
	if _, err := e.store.Current(next); err != nil {
		e.log.Warn("reverse toggle ignored", "err", err)
		return err
	}
	if e.looping {
		e.stopLoopLocked()
		e.reversed = next
		if err := e.startLoopLocked(); err != nil {
			return err
		}
	} else {
		e.reversed = next
	}
	e.sendEvent(Event{Kind: EventReverseToggled})
	return nil
}

// SetTempo changes the tempo. A running transport restarts on a fresh grid.
func (e *Engine) SetTempo(bpm float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.sched.SetTempo(bpm); err != nil {
		e.log.Warn("tempo ignored", "bpm", bpm, "err", err)
		return err
	}
	return nil
}

// SetScheduleMultiplier places beats n quarter notes apart, so a sample
// spanning a bar can be re-triggered once per bar.
func (e *Engine) SetScheduleMultiplier(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.sched.SetMultiplier(n); err != nil {
		e.log.Warn("schedule multiplier ignored", "n", n, "err", err)
		return err
	}
	return nil
}

// SetPitch sets the playback rate for subsequent triggers. Voices already
// sounding, the managed looping voice included, keep their rate until they
// are next triggered or restarted.
func (e *Engine) SetPitch(playbackRate float64) error {
	if err := positive("pitch", playbackRate); err != nil {
		e.log.Warn("pitch ignored", "err", err)
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pitch = playbackRate
	return nil
}

// SetVolume ramps the shared output gain toward level, clamped to [0,1].
func (e *Engine) SetVolume(level float64) {
	level = clampVolume(level)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = level
	e.voices.SetGain(level)
}

func clampVolume(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// SetEQBand sets a master EQ band (0-4, 1.0 = unity) when the playback
// engine has one.
func (e *Engine) SetEQBand(band int, gain float32) bool {
	eq, ok := e.voices.(interface{ SetEQBand(int, float32) })
	if ok {
		eq.SetEQBand(band, gain)
	}
	return ok
}

// EQBand reads a master EQ band gain, or 1 when there is no EQ.
func (e *Engine) EQBand(band int) float32 {
	if eq, ok := e.voices.(interface{ EQBand(int) float32 }); ok {
		return eq.EQBand(band)
	}
	return 1
}

// PlaybackRateForNote returns the rate that plays the sample at midiNote.
// Notes outside 21..108 are not found.
func (e *Engine) PlaybackRateForNote(midiNote int) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rates.Rate(midiNote)
}

func (e *Engine) Looping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.looping
}

func (e *Engine) Reversed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reversed
}

func (e *Engine) Tempo() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Tempo()
}

func (e *Engine) Pitch() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pitch
}

func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Engine) ScheduleMultiplier() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Multiplier()
}

func (e *Engine) Mode() PlaybackMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// TransportState is a snapshot of the scheduler.
type TransportState struct {
	Tempo              float64
	Pitch              float64
	Looping            bool
	LoopStartTime      float64
	BeatCounter        int
	ScheduleMultiplier int
	WakeArmed          bool
}

func (e *Engine) State() TransportState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return TransportState{
		Tempo:              e.sched.Tempo(),
		Pitch:              e.pitch,
		Looping:            e.looping,
		LoopStartTime:      e.sched.StartTime(),
		BeatCounter:        e.sched.Counter(),
		ScheduleMultiplier: e.sched.Multiplier(),
		WakeArmed:          e.sched.Armed(),
	}
}

// Reload replaces the sample. A running loop is restarted on the new buffer;
// if decoding fails the old sample stays loaded.
func (e *Engine) Reload(raw []byte) error {
	res, err := decode.Decode(raw)
	if err != nil {
		e.log.Error("reload: decode sample", "err", err)
		return err
	}
	store, err := buffer.NewStore(res.Buffer)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDecode, err)
		e.log.Error("reload: buffer store", "err", err)
		return err
	}
	var rates *rate.Table
	if !e.fixedRef {
		if rates, err = rate.NewTable(referenceFor(0, res)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	wasLooping := e.looping
	e.stopLoopLocked()
	e.store = store
	if rates != nil {
		e.rates = rates
	}
	if !e.fixedMode {
		e.mode = res.Mode
	}
	if e.reversed && !store.HasReversed() {
		e.log.Warn("reversed buffer unavailable after reload; playing forward", "err", store.ReverseErr())
		e.reversed = false
	}
	e.log.Info("sample reloaded", "frames", res.Buffer.Frames(), "mode", e.mode)
	e.sendEvent(Event{Kind: EventReloaded})
	if wasLooping {
		return e.startLoopLocked()
	}
	return nil
}

// Close stops playback and releases the audio device.
func (e *Engine) Close() error {
	e.StopLoop()
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

// Watch returns a channel of transport events. The channel is buffered
// (cap 8); events are dropped rather than blocking the scheduler, so receive
// in a goroutine. Only the most recent Watch() channel receives events.
func (e *Engine) Watch() <-chan Event {
	ch := make(chan Event, 8)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}

func (e *Engine) sendEvent(ev Event) {
	e.eventChMu.Lock()
	ch := e.eventCh
	e.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}
