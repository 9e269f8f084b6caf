// Package schedule provides timer-driven call coalescing.
package schedule

import (
	"sync"
	"time"
)

// Debouncer runs a callback once after calls stop arriving for a quiet
// period.
//
// All methods are safe for concurrent use. The callback never runs
// concurrently with itself.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending bool
	seq     uint64 // detects callbacks from replaced timers
	fn      func()

	runMu sync.Mutex
}

// NewDebouncer creates a debouncer that runs fn after delay of quiet.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Call (re)starts the quiet period.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = true
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if !d.pending || d.seq != seq {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.mu.Unlock()
		d.run()
	})
}

// Flush runs a pending call now instead of waiting.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	pending := d.pending
	d.pending = false
	d.mu.Unlock()

	if pending {
		d.run()
	}
}

// Cancel drops a pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}

// Pending reports whether a call is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) run() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.fn != nil {
		d.fn()
	}
}
