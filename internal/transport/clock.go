package transport

import (
	"sync"
	"time"
)

// Clock reports the audio timeline in seconds.
type Clock interface {
	Now() float64
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d.Seconds()
	return c.now
}

// Waker arms a periodic callback. The returned cancel func stops it; it is
// safe to call more than once.
type Waker interface {
	Arm(interval time.Duration, fn func()) (cancel func())
}

// TickerWaker fires fn from a goroutine driven by time.Ticker.
type TickerWaker struct{}

func (TickerWaker) Arm(interval time.Duration, fn func()) func() {
	tk := time.NewTicker(interval)
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				fn()
			}
		}
	}()
	return func() {
		once.Do(func() {
			tk.Stop()
			close(stop)
		})
	}
}

// ManualWaker records the armed callback; Fire runs it. Used for offline
// rendering and deterministic tests.
type ManualWaker struct {
	mu       sync.Mutex
	fn       func()
	interval time.Duration
	arms     int
}

func (w *ManualWaker) Arm(interval time.Duration, fn func()) func() {
	w.mu.Lock()
	w.arms++
	id := w.arms
	w.fn = fn
	w.interval = interval
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		if w.arms == id {
			w.fn = nil
		}
		w.mu.Unlock()
	}
}

// Fire runs the armed callback once. It reports false when nothing is armed.
func (w *ManualWaker) Fire() bool {
	w.mu.Lock()
	fn := w.fn
	w.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (w *ManualWaker) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fn != nil
}

func (w *ManualWaker) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}
