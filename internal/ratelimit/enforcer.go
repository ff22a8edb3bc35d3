package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Category string
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the limit.
func Check(count int, limit *Limit) CheckResult {
	if !limit.Active() {
		return CheckResult{}
	}
	if count >= limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				count, limit.MaxRequests, limit.Window),
		}
	}
	return CheckResult{}
}

// Enforcer tracks per-signer call counts against a swappable Config.
type Enforcer struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]*window
}

// NewEnforcer creates an Enforcer. A nil or empty cfg allows everything.
func NewEnforcer(cfg Config) *Enforcer {
	return &Enforcer{cfg: cfg, windows: make(map[string]*window)}
}

// SetConfig replaces the limits. Counters in flight are kept.
func (e *Enforcer) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Allow checks signer's limit for category and counts the call when it
// passes. Lookup order: cfg[signer], cfg["*"], no limit.
func (e *Enforcer) Allow(signer, category string, now time.Time) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	limits := e.cfg.For(signer)
	if !limits.HasLimits() {
		return CheckResult{}
	}
	limit := limits[category]
	if !limit.Active() {
		return CheckResult{}
	}

	w := e.windows[signer]
	if w == nil {
		w = &window{start: now}
		e.windows[signer] = w
	}
	result := Check(w.snapshot(category, limit.Window, now), limit)
	if result.Exceeded {
		result.Category = category
		return result
	}
	w.increment(category)
	return CheckResult{}
}
