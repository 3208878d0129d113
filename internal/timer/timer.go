// Package timer provides a re-armable one-shot timer whose callback never
// runs concurrently with itself and whose Close waits for an in-flight
// callback to return.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNilCallback is returned by New when no callback is given.
	ErrNilCallback = errors.New("timer callback must not be nil")
	// ErrNegativeInterval is returned by Start for a negative interval.
	ErrNegativeInterval = errors.New("timer interval must not be negative")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("timer is closed")
)

// Timer runs onTick once per Start, after the requested interval.
//
// A firing that arrives while onTick is still running waits for it to
// finish, so ticks are processed one at a time even when onTick re-arms
// the timer itself.
type Timer struct {
	onTick func()

	mu      sync.Mutex
	cond    *sync.Cond
	t       *time.Timer
	running bool
	closed  bool
}

// New creates an idle timer.
func New(onTick func()) (*Timer, error) {
	if onTick == nil {
		return nil, ErrNilCallback
	}
	t := &Timer{onTick: onTick}
	t.cond = sync.NewCond(&t.mu)
	return t, nil
}

// Start arms the timer to fire after d, replacing any pending firing.
// It may be called from within the callback.
func (t *Timer) Start(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeInterval, d)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.t == nil {
		t.t = time.AfterFunc(d, t.fire)
	} else {
		t.t.Reset(d)
	}
	return nil
}

// Close stops the timer. It blocks until a running callback returns;
// a pending firing is discarded. Close is idempotent and may be called
// from several goroutines, but not from within the callback.
func (t *Timer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.running && !t.closed {
		t.cond.Wait()
	}
	if t.closed {
		return
	}

	if t.t != nil {
		t.t.Stop()
	}
	t.closed = true
	t.cond.Broadcast()
}

func (t *Timer) fire() {
	t.mu.Lock()
	for t.running && !t.closed {
		t.cond.Wait()
	}
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.cond.Broadcast()
		t.mu.Unlock()
	}()

	t.onTick()
}
