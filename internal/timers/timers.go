// Package timers provides cancellable one-shot and repeating timers that
// deliver their callbacks through an owner-supplied dispatch function, so
// firings are serialized with the owner's other work. Each timer instance is
// owned by exactly one logical purpose; stopping it guarantees no further
// delivery, even for a fire already in flight.
package timers

import (
	"sync"
	"time"
)

// Timer is a re-armable one-shot timer. Arming replaces any previous
// schedule.
type Timer struct {
	mu       sync.Mutex
	dispatch func(func())
	timer    *time.Timer
	gen      uint64
}

// NewTimer creates a one-shot timer delivering through dispatch.
func NewTimer(dispatch func(func())) *Timer {
	return &Timer{dispatch: dispatch}
}

// Arm schedules fn to run after d, replacing any previous schedule.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		t.dispatch(func() {
			// A fire that raced with Stop or a re-arm is stale; drop it.
			t.mu.Lock()
			live := t.gen == gen
			t.mu.Unlock()
			if live {
				fn()
			}
		})
	})
}

// Stop cancels any pending fire. Idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Armed reports whether a fire is currently scheduled.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Ticker is a repeating timer. Starting replaces any previous schedule.
type Ticker struct {
	mu       sync.Mutex
	dispatch func(func())
	stop     chan struct{}
	gen      uint64
}

// NewTicker creates a repeating timer delivering through dispatch.
func NewTicker(dispatch func(func())) *Ticker {
	return &Ticker{dispatch: dispatch}
}

// Start schedules fn to run every interval, replacing any previous schedule.
func (k *Ticker) Start(interval time.Duration, fn func()) {
	k.mu.Lock()
	k.gen++
	gen := k.gen
	if k.stop != nil {
		close(k.stop)
	}
	stop := make(chan struct{})
	k.stop = stop
	k.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				k.dispatch(func() {
					k.mu.Lock()
					live := k.gen == gen
					k.mu.Unlock()
					if live {
						fn()
					}
				})
			}
		}
	}()
}

// Stop cancels the schedule. Idempotent.
func (k *Ticker) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.gen++
	if k.stop != nil {
		close(k.stop)
		k.stop = nil
	}
}
