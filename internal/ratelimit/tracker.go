package ratelimit

import "time"

// window counts one signer's calls since start.
type window struct {
	start  time.Time
	counts map[string]int
}

// snapshot returns the count for category, resetting every counter when the
// window has elapsed.
func (w *window) snapshot(category string, length time.Duration, now time.Time) int {
	if w.counts == nil {
		w.counts = make(map[string]int)
	}
	if now.Sub(w.start) >= length {
		w.counts = make(map[string]int)
		w.start = now
	}
	return w.counts[category]
}

func (w *window) increment(category string) {
	if w.counts == nil {
		w.counts = make(map[string]int)
	}
	w.counts[category]++
}
