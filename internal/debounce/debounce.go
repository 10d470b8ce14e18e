// Package debounce collapses bursts of calls into one deferred call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs fn with the most recent value once no new value has been
// scheduled for the configured delay. At most one timer is live at a time.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// New returns a Debouncer that calls fn after delay of quiet.
func New[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{delay: delay, fn: fn}
}

// Schedule cancels any pending call and schedules fn(v) after the delay.
func (d *Debouncer[T]) Schedule(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen, v) })
}

// A timer whose Stop lost the race with expiry still runs its func; the
// generation check turns that late run into a no-op.
func (d *Debouncer[T]) fire(gen uint64, v T) {
	d.mu.Lock()
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Cancel drops the pending call, if any.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Pending reports whether a call is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels the pending call and ignores later Schedule calls.
func (d *Debouncer[T]) Stop() {
	d.Cancel()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}
