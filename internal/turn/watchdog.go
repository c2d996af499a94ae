package turn

import (
	"sync"
	"time"
)

// Watchdog is a single rearmable timer with a fixed budget. It is armed only
// while a tool call is pending; on expiry it invokes onExpire exactly once
// per arming, which records the timeout and cancels the transport read.
//
// Disarm wins over a concurrent fire: the generation counter is checked under
// the same mutex Disarm takes, so a timer callback that lost the race is a
// no-op rather than a late timeout.
type Watchdog struct {
	budget   time.Duration
	onExpire func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	armed bool
}

// NewWatchdog creates a disarmed watchdog.
func NewWatchdog(budget time.Duration, onExpire func()) *Watchdog {
	return &Watchdog{budget: budget, onExpire: onExpire}
}

// Arm (re)starts the countdown.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rearmLocked()
}

// Touch restarts the countdown only if currently armed; a no-op otherwise.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armed {
		w.rearmLocked()
	}
}

// Disarm cancels the countdown. No timeout is emitted after Disarm returns.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.armed = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Armed reports whether the countdown is running.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

func (w *Watchdog) rearmLocked() {
	w.gen++
	gen := w.gen
	if w.timer != nil {
		w.timer.Stop()
	}
	w.armed = true
	w.timer = time.AfterFunc(w.budget, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if !w.armed || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.timer = nil
	w.mu.Unlock()

	w.onExpire()
}
