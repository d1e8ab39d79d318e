package integration

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into a single callback run after a
// quiet period.
//
// It holds at most one pending timer. Trigger cancels the pending timer, if
// any, and arms a new one, so the callback fires once, delay after the last
// trigger. A sequence number discards timers that fired while being replaced.
//
// Thread-safety: All methods are safe for concurrent use. The callback is
// never invoked concurrently with itself by the debouncer.
type Debouncer struct {
	mu       sync.Mutex
	runMu    sync.Mutex
	delay    time.Duration
	timer    *time.Timer
	pending  bool
	seq      uint64
	callback func()
}

// NewDebouncer creates a debouncer that runs callback delay after the last
// Trigger call.
func NewDebouncer(delay time.Duration, callback func()) *Debouncer {
	return &Debouncer{
		delay:    delay,
		callback: callback,
	}
}

// Trigger schedules the callback, replacing any pending schedule.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	d.pending = true
	d.seq++
	seq := d.seq

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if !d.pending || d.seq != seq {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()

		d.run()
	})
}

// Flush runs the callback now if a call is pending and cancels the timer.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	fire := d.pending
	d.pending = false
	d.mu.Unlock()

	if fire {
		d.run()
	}
}

// Cancel drops any pending call.
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

// Pending reports whether a callback is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Delay returns the quiet period.
func (d *Debouncer) Delay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delay
}

// SetDelay changes the quiet period for subsequent triggers.
func (d *Debouncer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

// Dispose cancels any pending call. It satisfies Disposable.
func (d *Debouncer) Dispose() {
	d.Cancel()
}

func (d *Debouncer) run() {
	if d.callback == nil {
		return
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.callback()
}

// Timer is a cancellable one-shot timer value. Schedule replaces any armed
// timer; it never accumulates handles.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
}

// Schedule arms fn to run after delay, cancelling a previously armed fn.
// A zero or negative delay still runs fn asynchronously.
func (t *Timer) Schedule(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.seq++
	seq := t.seq

	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.seq != seq {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Stop cancels the armed function. It reports whether one was armed.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	return true
}

// Armed reports whether a function is waiting to run.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Dispose stops the timer. It satisfies Disposable.
func (t *Timer) Dispose() {
	t.Stop()
}
