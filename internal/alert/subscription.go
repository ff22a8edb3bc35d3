package alert

import "github.com/ppiankov/pactwatch/internal/events"

// Subscription is a webhook endpoint and the protocol events posted to it.
type Subscription struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // event types, or "*" for all
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Wants reports whether t is one of the subscribed event types.
func (s Subscription) Wants(t events.Type) bool {
	for _, e := range s.Events {
		if e == "*" || e == string(t) {
			return true
		}
	}
	return false
}
