// Package debounce delays propagation of rapidly changing input until it has
// been quiet for a fixed window.
package debounce

import (
	"sync"
	"time"
)

// Debouncer calls onSettled with the last pushed value once no new value has
// arrived for the configured window. The empty string is delivered at once
// and discards anything pending.
//
// onSettled runs with the debouncer's lock held, so deliveries never overlap
// each other or a concurrent Push. It must not call back into the Debouncer.
type Debouncer struct {
	mu        sync.Mutex
	window    time.Duration
	onSettled func(string)
	timer     *time.Timer
	gen       uint64
	stopped   bool
}

func New(window time.Duration, onSettled func(string)) *Debouncer {
	return &Debouncer{
		window:    window,
		onSettled: onSettled,
	}
}

func (d *Debouncer) Push(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.gen++
	d.stopTimerLocked()

	if value == "" {
		d.onSettled(value)
		return
	}

	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() {
		d.fire(gen, value)
	})
}

// Cancel discards any pending value without delivering it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.stopTimerLocked()
}

// pending reports whether a value is waiting for its window to elapse.
func (d *Debouncer) pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any pending value. Later pushes are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	d.stopTimerLocked()
}

func (d *Debouncer) fire(gen uint64, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A timer that lost the race with Stop or a newer Push is a no-op.
	if d.stopped || gen != d.gen {
		return
	}
	d.timer = nil
	d.onSettled(value)
}

func (d *Debouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
