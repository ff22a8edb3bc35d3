package alert

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ppiankov/pactwatch/internal/events"
)

// Dispatcher posts protocol events to the subscriptions that want them.
// The subscription set can be swapped at runtime by the config reloader.
type Dispatcher struct {
	mu   sync.RWMutex
	subs []Subscription
	wg   sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for subs.
func NewDispatcher(subs []Subscription) *Dispatcher {
	return &Dispatcher{subs: subs}
}

// SetSubscriptions replaces the subscription set. Deliveries already
// started finish against the old set.
func (d *Dispatcher) SetSubscriptions(subs []Subscription) {
	d.mu.Lock()
	d.subs = subs
	d.mu.Unlock()
}

// Subscriptions returns the current subscription set.
func (d *Dispatcher) Subscriptions() []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.subs
}

// Dispatch starts one delivery per matching subscription. Failures go to
// stderr.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs {
		if !sub.Wants(event.Type) {
			continue
		}
		d.wg.Add(1)
		go func(sub Subscription) {
			defer d.wg.Done()
			if err := Deliver(ctx, sub, event); err != nil {
				fmt.Fprintf(os.Stderr, "pactwatch: webhook %s: %v\n", sub.URL, err)
			}
		}(sub)
	}
}

// Run dispatches events from ch until it closes or ctx is done. Deliveries
// in flight when ctx ends still get to finish.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan events.Event) {
	deliverCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			d.Dispatch(deliverCtx, e)
		}
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }
