// Package engine runs protocol operations against a store. Each operation
// reads a snapshot, applies the pure identity, lifecycle, and commitment
// rules, and commits every touched record in one versioned batch. Events and
// an audit entry follow the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ppiankov/pactwatch/internal/audit"
	"github.com/ppiankov/pactwatch/internal/events"
	"github.com/ppiankov/pactwatch/internal/identity"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/store"
)

// DefaultMaxAttempts bounds commit retries on version conflicts.
const DefaultMaxAttempts = 5

// Auditor receives one entry per operation attempt. *audit.Log satisfies it.
type Auditor interface {
	Record(audit.AuditEntry) error
}

// Config holds engine collaborators. Zero values fall back to defaults.
type Config struct {
	Delegation  identity.Options
	Clock       func() time.Time
	Publisher   events.Publisher
	Auditor     Auditor
	ConfigHash  string
	MaxAttempts int
}

// Engine is safe for concurrent use.
type Engine struct {
	st    store.Store
	locks *keyedLocks

	mu         sync.RWMutex
	delegation identity.Options
	configHash string

	clock       func() time.Time
	pub         events.Publisher
	auditor     Auditor
	maxAttempts int
}

func New(st store.Store, cfg Config) *Engine {
	e := &Engine{
		st:          st,
		locks:       newKeyedLocks(),
		delegation:  cfg.Delegation,
		configHash:  cfg.ConfigHash,
		clock:       cfg.Clock,
		pub:         cfg.Publisher,
		auditor:     cfg.Auditor,
		maxAttempts: cfg.MaxAttempts,
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.pub == nil {
		e.pub = events.Discard{}
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	return e
}

// SetDelegation swaps delegation options after a config reload.
func (e *Engine) SetDelegation(opts identity.Options, configHash string) {
	e.mu.Lock()
	e.delegation = opts
	e.configHash = configHash
	e.mu.Unlock()
}

func (e *Engine) options() (identity.Options, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.delegation, e.configHash
}

// Store exposes the backing store for read-only callers.
func (e *Engine) Store() store.Store { return e.st }

func (e *Engine) now() int64 { return e.clock().Unix() }

type requestIDKey struct{}

// WithRequestID tags ctx so audit entries and events carry the caller's id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// txn is the output of one attempt: the batch to commit and the events it
// produces.
type txn struct {
	muts   []store.Mutation
	events []events.Event
}

func (t *txn) put(kind store.Kind, id string, version uint64, v any) error {
	m, err := store.Put(kind, id, version, v)
	if err != nil {
		return err
	}
	t.muts = append(t.muts, m)
	return nil
}

func (t *txn) del(kind store.Kind, id string, version uint64) {
	t.muts = append(t.muts, store.Delete(kind, id, version))
}

// pin asserts that a record read during the attempt is unchanged at commit.
// Identities that authorize an operation are pinned so a concurrent scope
// change or revoke forces a retry against the new record.
func (t *txn) pin(kind store.Kind, id string, version uint64) {
	for _, m := range t.muts {
		if m.Kind == kind && m.ID == id {
			return
		}
	}
	t.muts = append(t.muts, store.Assert(kind, id, version))
}

func (t *txn) emit(ev events.Event) {
	t.events = append(t.events, ev)
}

// op describes one operation for locking and auditing.
type op struct {
	name    string
	signer  model.Key
	subject string
	locks   []string
}

// run executes build under the op's locks, committing its batch and retrying
// from a fresh snapshot when another writer got there first.
func (e *Engine) run(ctx context.Context, o op, build func(now int64) (*txn, error)) error {
	unlock := e.locks.Lock(o.locks...)
	defer unlock()

	var (
		t   *txn
		err error
	)
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			break
		}
		t, err = build(e.now())
		if err != nil {
			break
		}
		err = e.st.Commit(ctx, t.muts)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if errors.Is(err, store.ErrConflict) {
		err = fmt.Errorf("%s: gave up after %d attempts: %w", o.name, e.maxAttempts, err)
	}

	e.audit(ctx, o, err)
	if err != nil {
		return err
	}

	reqID := RequestID(ctx)
	ts := e.now()
	for _, ev := range t.events {
		ev.RequestID = reqID
		ev.Signer = o.signer.String()
		ev.Timestamp = ts
		e.pub.Publish(ev)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, o op, err error) {
	if e.auditor == nil {
		return
	}
	_, hash := e.options()
	entry := audit.AuditEntry{
		RequestID:  RequestID(ctx),
		Op:         o.name,
		Signer:     o.signer.String(),
		Subject:    o.subject,
		Outcome:    audit.OutcomeOK,
		ConfigHash: hash,
	}
	if err != nil {
		entry.Detail = err.Error()
		if code := model.CodeOf(err); code != "" {
			entry.Outcome = audit.OutcomeRejected
			entry.Code = string(code)
		} else {
			entry.Outcome = audit.OutcomeError
		}
	}
	if aerr := e.auditor.Record(entry); aerr != nil {
		fmt.Fprintf(os.Stderr, "pactwatch: audit write failed: %v\n", aerr)
	}
}

// Record ids. Party ids start with the agreement id so a prefix scan lists
// an agreement's parties. They carry the key but not the ref kind, so a key
// holds at most one party record per agreement.
func identityID(k model.Key) string { return k.String() }
func vaultID(k model.Key) string { return k.String() }
func agreementKey(id model.AgreementID) string { return id.String() }

func partyID(id model.AgreementID, k model.Key) string {
	return id.String() + "." + k.String()
}

func identityLock(k model.Key) string { return "identity/" + k.String() }
func vaultLock(k model.Key) string { return "vault/" + k.String() }
func agreementLock(id model.AgreementID) string { return "agreement/" + id.String() }

// load fetches and decodes one record, returning its version.
func load[T any](ctx context.Context, st store.Store, kind store.Kind, id string) (T, uint64, error) {
	var zero T
	r, err := st.Get(ctx, kind, id)
	if err != nil {
		return zero, 0, err
	}
	v, err := store.Decode[T](r)
	if err != nil {
		return zero, 0, err
	}
	return v, r.Version, nil
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

// IsExists reports whether err is a duplicate-record error.
func IsExists(err error) bool { return errors.Is(err, store.ErrExists) }
