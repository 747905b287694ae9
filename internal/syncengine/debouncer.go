package syncengine

import "time"

// debouncer is a single restartable timer owned by the event loop. C is nil while idle, so
// selecting on it blocks.
type debouncer struct {
	window time.Duration
	timer  *time.Timer
	C      <-chan time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

// Reset discards any pending expiry and arms a fresh window.
func (d *debouncer) Reset() {
	d.Stop()
	d.timer = time.NewTimer(d.window)
	d.C = d.timer.C
}

// Stop cancels the pending expiry, if any.
func (d *debouncer) Stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.C = nil
}

// fired must be called after receiving from C.
func (d *debouncer) fired() {
	d.timer = nil
	d.C = nil
}
