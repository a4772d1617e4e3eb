package scheduler

import "time"

// rateWindow gates dequeues per window. The counter is reset on a fixed
// ticker independent of traffic; the log of recent dequeue times also keeps
// any rolling window at or under the limit across a reset boundary.
type rateWindow struct {
	limit  int
	length time.Duration
	count  int
	log    []time.Time
}

func newRateWindow(limit int, length time.Duration) *rateWindow {
	return &rateWindow{limit: limit, length: length}
}

func (w *rateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.log) && !w.log[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.log = append(w.log[:0], w.log[i:]...)
	}
}

// allow reports whether one more dequeue may start at now.
func (w *rateWindow) allow(now time.Time) bool {
	w.prune(now)
	return w.count < w.limit && len(w.log) < w.limit
}

func (w *rateWindow) record(now time.Time) {
	w.count++
	w.log = append(w.log, now)
}

// reset starts a new fixed window.
func (w *rateWindow) reset() {
	w.count = 0
}

func (w *rateWindow) setLimit(n int) {
	w.limit = n
}
