// Package transport implements the look-ahead beat scheduler.
//
// Beat times are derived from a fixed start time and a beat counter, never
// from when a wake happened to run, so wake jitter only changes how early a
// beat is issued and never where it lands.
package transport

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"
	"time"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidConfig    = errors.New("invalid scheduler config")
)

// MinLookAheadFactor is how many wake intervals the look-ahead window must
// cover so that one missed wake cannot starve the schedule.
const MinLookAheadFactor = 4

type Config struct {
	StartDelay   time.Duration
	WakeInterval time.Duration
	LookAhead    time.Duration
}

func DefaultConfig() Config {
	return Config{
		StartDelay:   50 * time.Millisecond,
		WakeInterval: 25 * time.Millisecond,
		LookAhead:    100 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.StartDelay < 0 || c.WakeInterval <= 0 || c.LookAhead <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if c.LookAhead < MinLookAheadFactor*c.WakeInterval {
		return fmt.Errorf("%w: look-ahead %v must be at least %dx the wake interval %v",
			ErrInvalidConfig, c.LookAhead, MinLookAheadFactor, c.WakeInterval)
	}
	return nil
}

// Beat is one scheduled trigger point.
type Beat struct {
	Index int
	Time  float64
}

type BeatFunc func(Beat)

// Scheduler is not safe for concurrent use on its own. Every method must be
// called with the Locker passed to New held; wakes acquire the same lock, so
// a pass never observes a half-applied tempo change.
type Scheduler struct {
	cfg    Config
	clock  Clock
	waker  Waker
	locker sync.Locker

	tempo      float64
	multiplier int

	running   bool
	startTime float64
	counter   int
	gen       uint64
	onBeat    BeatFunc
	cancel    func()
	onRestart func(startTime float64)
}

// New returns a stopped scheduler at tempo bpm.
func New(cfg Config, clock Clock, waker Waker, locker sync.Locker, bpm float64) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !validTempo(bpm) {
		return nil, fmt.Errorf("%w: tempo %v", ErrInvalidParameter, bpm)
	}
	if waker == nil {
		waker = TickerWaker{}
	}
	if locker == nil {
		locker = &sync.Mutex{}
	}
	return &Scheduler{
		cfg:        cfg,
		clock:      clock,
		waker:      waker,
		locker:     locker,
		tempo:      bpm,
		multiplier: 1,
	}, nil
}

// OnRestart installs a hook run after a forced restart has completed its
// first pass. It receives the new start time.
func (s *Scheduler) OnRestart(fn func(startTime float64)) {
	s.onRestart = fn
}

// Start begins looping. It returns false, doing nothing, when already running.
func (s *Scheduler) Start(fn BeatFunc) bool {
	if s.running {
		return false
	}
	if fn == nil {
		fn = func(Beat) {}
	}
	s.onBeat = fn
	s.running = true
	s.gen++
	s.startTime = s.clock.Now() + s.cfg.StartDelay.Seconds()
	s.counter = 0
	s.Pass()
	gen := s.gen
	s.cancel = s.waker.Arm(s.cfg.WakeInterval, func() { s.wake(gen) })
	return true
}

// Stop cancels the pending wake. Beats already handed out stay handed out.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
}

func (s *Scheduler) wake(gen uint64) {
	s.locker.Lock()
	defer s.locker.Unlock()
	// A wake that raced with Stop or a restart belongs to an older run.
	if !s.running || s.gen != gen {
		return
	}
	s.Pass()
}

// Pass issues every beat that falls inside the look-ahead window and returns
// how many were issued.
func (s *Scheduler) Pass() int {
	if !s.running {
		return 0
	}
	n := 0
	for b := range s.Due(s.clock.Now()) {
		s.onBeat(b)
		n++
	}
	return n
}

// Due yields, in order, each beat with a target time before now+LookAhead,
// advancing the counter as beats are consumed. Stopping iteration early
// leaves the remaining beats for the next pull.
func (s *Scheduler) Due(now float64) iter.Seq[Beat] {
	return func(yield func(Beat) bool) {
		if !s.running {
			return
		}
		horizon := now + s.cfg.LookAhead.Seconds()
		dur := s.BeatDuration()
		for {
			t := s.startTime + float64(s.counter)*dur
			if t >= horizon {
				return
			}
			b := Beat{Index: s.counter, Time: t}
			s.counter++
			if !yield(b) {
				return
			}
		}
	}
}

// SetTempo changes the tempo. When running, the transport restarts with a
// fresh start time and a zeroed counter; it reports whether that happened.
func (s *Scheduler) SetTempo(bpm float64) (bool, error) {
	if !validTempo(bpm) {
		return false, fmt.Errorf("%w: tempo %v", ErrInvalidParameter, bpm)
	}
	s.tempo = bpm
	return s.restartIfRunning(), nil
}

// SetMultiplier spaces beats n quarter notes apart.
func (s *Scheduler) SetMultiplier(n int) (bool, error) {
	if n < 1 {
		return false, fmt.Errorf("%w: schedule multiplier %d", ErrInvalidParameter, n)
	}
	s.multiplier = n
	return s.restartIfRunning(), nil
}

func (s *Scheduler) restartIfRunning() bool {
	if !s.running {
		return false
	}
	fn := s.onBeat
	s.Stop()
	s.Start(fn)
	if s.onRestart != nil {
		s.onRestart(s.startTime)
	}
	return true
}

func validTempo(bpm float64) bool {
	return bpm > 0 && !math.IsInf(bpm, 1)
}

// BeatDuration is the spacing between beats in seconds.
func (s *Scheduler) BeatDuration() float64 {
	return 60 / s.tempo * float64(s.multiplier)
}

func (s *Scheduler) Tempo() float64     { return s.tempo }
func (s *Scheduler) Multiplier() int    { return s.multiplier }
func (s *Scheduler) Running() bool      { return s.running }
func (s *Scheduler) StartTime() float64 { return s.startTime }
func (s *Scheduler) Counter() int       { return s.counter }
func (s *Scheduler) Armed() bool        { return s.cancel != nil }
func (s *Scheduler) Config() Config     { return s.cfg }

// Generation increases on every start, including forced restarts. Beats
// issued under different generations belong to different grids.
func (s *Scheduler) Generation() uint64 { return s.gen }

// NextBeatTime is the target time of the next beat to be issued.
func (s *Scheduler) NextBeatTime() float64 {
	return s.startTime + float64(s.counter)*s.BeatDuration()
}
