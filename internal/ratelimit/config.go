package ratelimit

import "time"

// Categories of mutating calls a limit can apply to.
const (
	CategoryIdentity  = "identity"
	CategoryAgreement = "agreement"
	CategoryVault     = "vault"
)

// Wildcard keys the limits applied to signers without their own entry.
const Wildcard = "*"

// Limit caps calls in one category per fixed window.
// Zero values mean no limit.
type Limit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Active reports whether the limit constrains anything.
func (l *Limit) Active() bool {
	return l != nil && l.MaxRequests > 0 && l.Window > 0
}

// Limits maps categories to their limit for one signer.
type Limits map[string]*Limit

// HasLimits returns true if any category has a configured limit.
func (c Limits) HasLimits() bool {
	for _, l := range c {
		if l.Active() {
			return true
		}
	}
	return false
}

// Config maps signer keys (hex) or Wildcard to their limits.
type Config map[string]Limits

// For returns the limits for signer, falling back to Wildcard.
func (c Config) For(signer string) Limits {
	if l, ok := c[signer]; ok {
		return l
	}
	return c[Wildcard]
}
