package transport

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type rig struct {
	mu    sync.Mutex
	clock *ManualClock
	waker *ManualWaker
	sched *Scheduler
	beats []Beat
}

func newRig(t *testing.T, bpm float64) *rig {
	t.Helper()
	r := &rig{clock: &ManualClock{}, waker: &ManualWaker{}}
	s, err := New(DefaultConfig(), r.clock, r.waker, &r.mu, bpm)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	r.sched = s
	return r
}

func (r *rig) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sched.Start(func(b Beat) { r.beats = append(r.beats, b) })
}

// step advances the clock by d and fires the wake.
func (r *rig) step(d time.Duration) {
	r.clock.Advance(d)
	r.waker.Fire()
}

func checkGrid(t *testing.T, beats []Beat, start, dur float64) {
	t.Helper()
	for i, b := range beats {
		if b.Index != i {
			t.Fatalf("beat %d has index %d; sequence %v", i, b.Index, beats)
		}
		want := start + float64(i)*dur
		if math.Abs(b.Time-want) > 1e-9 {
			t.Fatalf("beat %d at %v, want %v", i, b.Time, want)
		}
		if i > 0 {
			if gap := b.Time - beats[i-1].Time; math.Abs(gap-dur) > 1e-9 {
				t.Fatalf("gap before beat %d = %v, want %v", i, gap, dur)
			}
		}
	}
}

func TestStartIssuesFirstBeatAfterStartDelay(t *testing.T) {
	r := newRig(t, 120)
	r.clock.Set(10)
	r.start()
	if len(r.beats) != 1 {
		t.Fatalf("first pass issued %d beats, want 1", len(r.beats))
	}
	if got := r.beats[0].Time; math.Abs(got-10.05) > 1e-12 {
		t.Fatalf("first beat at %v, want 10.05", got)
	}
	if !r.waker.Armed() || r.waker.Interval() != 25*time.Millisecond {
		t.Fatalf("waker not armed at 25ms (armed=%v interval=%v)", r.waker.Armed(), r.waker.Interval())
	}
}

func TestScenarioTwoSecondsAt120BPM(t *testing.T) {
	r := newRig(t, 120)
	r.start()
	start := r.sched.StartTime()
	if d := r.sched.BeatDuration(); d != 0.5 {
		t.Fatalf("beat duration = %v, want 0.5", d)
	}
	for r.clock.Now() < start+2.0-1e-9 {
		r.step(25 * time.Millisecond)
	}
	var sounded []int
	for _, b := range r.beats {
		if b.Time < start+2.0-1e-9 {
			sounded = append(sounded, b.Index)
		}
	}
	if len(sounded) != 4 || sounded[0] != 0 || sounded[3] != 3 {
		t.Fatalf("beats before start+2s = %v, want [0 1 2 3]", sounded)
	}
	checkGrid(t, r.beats, start, 0.5)
	// Nothing may be issued past the look-ahead horizon.
	horizon := r.clock.Now() + 0.1
	for _, b := range r.beats {
		if b.Time >= horizon {
			t.Fatalf("beat %d at %v issued beyond horizon %v", b.Index, b.Time, horizon)
		}
	}
}

func TestPhaseAccuracyAcrossTempos(t *testing.T) {
	for _, bpm := range []float64{33.3, 60, 97, 120, 174, 300} {
		r := newRig(t, bpm)
		r.start()
		for i := 0; i < 400; i++ {
			r.step(25 * time.Millisecond)
		}
		if len(r.beats) < 2 {
			t.Fatalf("bpm %v: only %d beats", bpm, len(r.beats))
		}
		checkGrid(t, r.beats, r.sched.StartTime(), 60/bpm)
	}
}

func TestJitteredWakesNeitherSkipNorRepeat(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := newRig(t, 140)
	r.start()
	elapsed := 0.0
	for elapsed < 20 {
		// Wake anywhere between on time and a full look-ahead late.
		d := time.Duration(rng.Int63n(int64(100 * time.Millisecond)))
		elapsed += d.Seconds()
		r.step(d)
	}
	checkGrid(t, r.beats, r.sched.StartTime(), 60.0/140)
	last := r.beats[len(r.beats)-1]
	if next := r.sched.NextBeatTime(); next < r.clock.Now()+0.1-1e-9 {
		t.Fatalf("beat at %v due before horizon was left unissued", next)
	}
	if last.Time >= r.clock.Now()+0.1 {
		t.Fatalf("beat %d issued past horizon", last.Index)
	}
}

func TestLateWakeCatchesUpInOrder(t *testing.T) {
	r := newRig(t, 240)
	r.start()
	r.step(2 * time.Second)
	checkGrid(t, r.beats, r.sched.StartTime(), 0.25)
	if len(r.beats) != 9 {
		t.Fatalf("late wake issued %d beats, want 9", len(r.beats))
	}
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	r := newRig(t, 120)
	r.start()
	start := r.sched.StartTime()
	r.clock.Advance(time.Second)
	r.mu.Lock()
	ok := r.sched.Start(func(Beat) {})
	r.mu.Unlock()
	if ok {
		t.Fatalf("second Start should report false")
	}
	if r.sched.StartTime() != start {
		t.Fatalf("start time moved on no-op start")
	}
}

func TestStopIsIdempotentAndDisarms(t *testing.T) {
	r := newRig(t, 120)
	r.start()
	r.mu.Lock()
	r.sched.Stop()
	r.sched.Stop()
	r.mu.Unlock()
	if r.sched.Running() || r.sched.Armed() || r.waker.Armed() {
		t.Fatalf("stop left running=%v armed=%v waker=%v", r.sched.Running(), r.sched.Armed(), r.waker.Armed())
	}
	n := len(r.beats)
	r.step(time.Second)
	if len(r.beats) != n {
		t.Fatalf("beats issued after stop")
	}
}

func TestStaleWakeIgnoredAfterRestart(t *testing.T) {
	r := newRig(t, 120)
	r.start()
	stale := r.waker.fn
	r.mu.Lock()
	r.sched.Stop()
	r.sched.Start(func(b Beat) { r.beats = append(r.beats, b) })
	r.mu.Unlock()
	n := len(r.beats)
	r.clock.Advance(time.Second)
	stale()
	if len(r.beats) != n {
		t.Fatalf("stale wake issued %d beats", len(r.beats)-n)
	}
}

func TestSetTempoWhileRunningRestarts(t *testing.T) {
	r := newRig(t, 120)
	r.start()
	for i := 0; i < 40; i++ {
		r.step(25 * time.Millisecond)
	}
	oldStart := r.sched.StartTime()
	var restartedAt float64
	r.sched.OnRestart(func(st float64) { restartedAt = st })

	r.beats = nil
	r.mu.Lock()
	restarted, err := r.sched.SetTempo(90)
	r.mu.Unlock()
	if err != nil || !restarted {
		t.Fatalf("SetTempo = %v, %v; want restart", restarted, err)
	}
	newStart := r.sched.StartTime()
	if newStart <= oldStart || restartedAt != newStart {
		t.Fatalf("start time %v (hook %v), old %v", newStart, restartedAt, oldStart)
	}
	if math.Abs(newStart-(r.clock.Now()+0.05)) > 1e-12 {
		t.Fatalf("restart start time = %v, want now+50ms", newStart)
	}
	if len(r.beats) == 0 || r.beats[0].Index != 0 {
		t.Fatalf("restart should re-zero the counter, got %v", r.beats)
	}
	for i := 0; i < 40; i++ {
		r.step(25 * time.Millisecond)
	}
	checkGrid(t, r.beats, newStart, 60.0/90)
}

func TestSameInstantRestartAdvancesGeneration(t *testing.T) {
	r := newRig(t, 120)
	r.start()
	gen, start := r.sched.Generation(), r.sched.StartTime()
	var hookGen uint64
	r.sched.OnRestart(func(float64) { hookGen = r.sched.Generation() })

	r.mu.Lock()
	_, err := r.sched.SetMultiplier(2)
	r.mu.Unlock()
	if err != nil {
		t.Fatalf("SetMultiplier: %v", err)
	}
	if r.sched.StartTime() != start {
		t.Fatalf("start time moved without a clock advance: %v, want %v", r.sched.StartTime(), start)
	}
	if r.sched.Generation() == gen || hookGen != r.sched.Generation() {
		t.Fatalf("generation %d (hook %d), before %d", r.sched.Generation(), hookGen, gen)
	}
}

func TestSetTempoWhileStoppedOnlyRecords(t *testing.T) {
	r := newRig(t, 120)
	restarted, err := r.sched.SetTempo(150)
	if err != nil || restarted {
		t.Fatalf("SetTempo stopped = %v, %v", restarted, err)
	}
	if r.sched.Tempo() != 150 || r.sched.Running() {
		t.Fatalf("tempo=%v running=%v", r.sched.Tempo(), r.sched.Running())
	}
}

func TestInvalidParametersKeepPreviousValue(t *testing.T) {
	r := newRig(t, 120)
	if _, err := r.sched.SetTempo(0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
	if _, err := r.sched.SetMultiplier(0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
	if r.sched.Tempo() != 120 || r.sched.Multiplier() != 1 {
		t.Fatalf("values changed: tempo=%v mult=%d", r.sched.Tempo(), r.sched.Multiplier())
	}
}

func TestMultiplierSpacesBeats(t *testing.T) {
	r := newRig(t, 120)
	if _, err := r.sched.SetMultiplier(4); err != nil {
		t.Fatalf("multiplier: %v", err)
	}
	r.start()
	for i := 0; i < 200; i++ {
		r.step(25 * time.Millisecond)
	}
	checkGrid(t, r.beats, r.sched.StartTime(), 2.0)
}

func TestDuePullIsResumable(t *testing.T) {
	r := newRig(t, 600)
	r.mu.Lock()
	r.sched.Start(nil)
	r.mu.Unlock()
	first := r.sched.Counter()
	var got []Beat
	for b := range r.sched.Due(r.clock.Now() + 1) {
		got = append(got, b)
		if len(got) == 2 {
			break
		}
	}
	if got[0].Index != first || got[1].Index != first+1 {
		t.Fatalf("pulled %v", got)
	}
	if r.sched.Counter() != first+2 {
		t.Fatalf("counter = %d, want %d", r.sched.Counter(), first+2)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LookAhead = 3 * cfg.WakeInterval
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(DefaultConfig(), &ManualClock{}, nil, nil, -1); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestTickerWakerCancel(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	cancel := TickerWaker{}.Arm(time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	time.Sleep(20 * time.Millisecond)
	cancel()
	cancel()
	mu.Lock()
	n := fired
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if n == 0 {
		t.Fatalf("ticker never fired")
	}
	if fired > n+1 {
		t.Fatalf("ticker kept firing after cancel: %d -> %d", n, fired)
	}
}
