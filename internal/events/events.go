// Package events carries protocol events from the engine to in-process
// subscribers (websocket streams, webhook dispatch).
package events

import (
	"sync"
	"sync/atomic"
)

// Type names an event. Values are stable wire strings used in webhook
// filters and the event stream.
type Type string

const (
	AgentRegistered    Type = "agent_registered"
	AgentRevoked       Type = "agent_revoked"
	DelegationUpdated  Type = "delegation_updated"
	AgreementProposed  Type = "agreement_proposed"
	PartyAdded         Type = "party_added"
	AgreementSigned    Type = "agreement_signed"
	AgreementActivated Type = "agreement_activated"
	AgreementCancelled Type = "agreement_cancelled"
	AgreementFulfilled Type = "agreement_fulfilled"
	PartyClosed        Type = "party_closed"
	AgreementClosed    Type = "agreement_closed"
	EscrowCommitted    Type = "escrow_committed"
	VaultDeposit       Type = "vault_deposit"
	VaultWithdraw      Type = "vault_withdraw"
)

// All lists every event type.
var All = []Type{
	AgentRegistered, AgentRevoked, DelegationUpdated,
	AgreementProposed, PartyAdded, AgreementSigned, AgreementActivated,
	AgreementCancelled, AgreementFulfilled, PartyClosed, AgreementClosed,
	EscrowCommitted, VaultDeposit, VaultWithdraw,
}

// Event is one state change. Keys and ids are hex strings; fields that do
// not apply to a type are empty.
type Event struct {
	Seq       uint64 `json:"seq"`
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
	Signer    string `json:"signer,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Agreement string `json:"agreement,omitempty"`
	Party     string `json:"party,omitempty"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	NumSigned uint8  `json:"num_signed,omitempty"`
}

// Publisher is what the engine emits into.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Each subscriber has a bounded
// buffer; events for a full subscriber are dropped and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish stamps e with the next sequence number and delivers it without
// blocking.
func (b *Bus) Publish(e Event) {
	e.Seq = b.seq.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
