package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/pactwatch/internal/audit"
	"github.com/ppiankov/pactwatch/internal/events"
	"github.com/ppiankov/pactwatch/internal/identity"
	"github.com/ppiankov/pactwatch/internal/lifecycle"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/store"
	"github.com/ppiankov/pactwatch/internal/store/memory"
)

var (
	epoch = time.Unix(1_700_000_000, 0)

	aliceHuman = model.Key{0xA1}
	aliceAgent = model.Key{0xA2}
	bobHuman   = model.Key{0xB1}
	bobAgent   = model.Key{0xB2}
	carolKey   = model.Key{0xC1}

	pactID = model.AgreementID{0x01}
)

type recorder struct {
	mu      sync.Mutex
	entries []audit.AuditEntry
}

func (r *recorder) Record(e audit.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorder) last() audit.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) Publish(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) count(t events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	*Engine
	st    store.Store
	audit *recorder
	pub   *collector
	now   *atomic.Int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, memory.New(), identity.Options{})
}

func newHarnessOn(t *testing.T, st store.Store, opts identity.Options) *harness {
	t.Helper()
	h := &harness{st: st, audit: &recorder{}, pub: &collector{}, now: &atomic.Int64{}}
	h.now.Store(epoch.Unix())
	h.Engine = New(st, Config{
		Delegation: opts,
		Clock:      func() time.Time { return time.Unix(h.now.Load(), 0) },
		Publisher:  h.pub,
		Auditor:    h.audit,
		ConfigHash: "sha256:test",
	})
	return h
}

func fullScope() model.DelegationScope {
	return model.DelegationScope{CanSignAgreements: true, CanCommitFunds: true}
}

func (h *harness) register(t *testing.T, authority, agent model.Key, scope model.DelegationScope) {
	t.Helper()
	if _, err := h.RegisterIdentity(context.Background(), authority, agent, model.Digest{}, scope); err != nil {
		t.Fatalf("RegisterIdentity: %v", err)
	}
}

func proposeParams(n uint8) lifecycle.ProposeParams {
	return lifecycle.ProposeParams{ID: pactID, Type: model.TypeService, TermsURI: "ipfs://terms", NumParties: n}
}

// twoParty sets up alice proposing to bob, bob added but unsigned.
func (h *harness) twoParty(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())
	h.register(t, bobHuman, bobAgent, fullScope())
	if _, err := h.Propose(ctx, aliceAgent, proposeParams(2)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := h.AddParty(ctx, aliceAgent, pactID, model.IdentityRef(bobAgent), model.RoleCounterparty); err != nil {
		t.Fatalf("AddParty: %v", err)
	}
}

// --- Identity operations ---

func TestRegisterIdentityDuplicate(t *testing.T) {
	h := newHarness(t)
	h.register(t, aliceHuman, aliceAgent, fullScope())

	_, err := h.RegisterIdentity(context.Background(), bobHuman, aliceAgent, model.Digest{}, fullScope())
	if !IsExists(err) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	if got := h.audit.last(); got.Outcome != audit.OutcomeError || got.Op != "register" {
		t.Errorf("unexpected audit entry %+v", got)
	}
}

func TestRegisterDistinctKeyOption(t *testing.T) {
	h := newHarnessOn(t, memory.New(), identity.Options{RequireDistinctAgentKey: true})
	_, err := h.RegisterIdentity(context.Background(), aliceHuman, aliceHuman, model.Digest{}, fullScope())
	if !errors.Is(err, model.ErrAgentKeyEqualsAuthority) {
		t.Errorf("expected AgentKeyEqualsAuthority, got %v", err)
	}

	h.SetDelegation(identity.Options{}, "sha256:reloaded")
	if _, err := h.RegisterIdentity(context.Background(), aliceHuman, aliceHuman, model.Digest{}, fullScope()); err != nil {
		t.Errorf("expected registration after reload, got %v", err)
	}
	if got := h.audit.last(); got.ConfigHash != "sha256:reloaded" {
		t.Errorf("expected reloaded config hash in audit, got %s", got.ConfigHash)
	}
}

func TestSubAgentScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, model.DelegationScope{CanSignAgreements: true, CanCommitFunds: true, MaxCommitLamports: 1000})

	wide := model.DelegationScope{CanSignAgreements: true, CanCommitFunds: true, MaxCommitLamports: 2000}
	_, err := h.RegisterSubAgent(ctx, aliceAgent, aliceAgent, carolKey, model.Digest{}, wide)
	if !errors.Is(err, model.ErrSubAgentScopeExceedsParent) {
		t.Fatalf("expected SubAgentScopeExceedsParent, got %v", err)
	}
	if got := h.audit.last(); got.Outcome != audit.OutcomeRejected || got.Code != string(model.CodeSubAgentScopeExceedsParent) {
		t.Errorf("unexpected audit entry %+v", got)
	}

	narrow := wide
	narrow.MaxCommitLamports = 500
	child, err := h.RegisterSubAgent(ctx, aliceAgent, aliceAgent, carolKey, model.Digest{}, narrow)
	if err != nil {
		t.Fatalf("RegisterSubAgent: %v", err)
	}
	if child.Authority != aliceHuman || child.Parent != aliceAgent {
		t.Errorf("unexpected child %+v", child)
	}

	// Depth is capped at two levels.
	_, err = h.RegisterSubAgent(ctx, carolKey, carolKey, model.Key{0xD1}, model.Digest{}, model.DelegationScope{})
	if !errors.Is(err, model.ErrMaxDelegationDepth) {
		t.Errorf("expected MaxDelegationDepth, got %v", err)
	}
}

func TestUpdateDelegationRevalidation(t *testing.T) {
	for _, revalidate := range []bool{false, true} {
		h := newHarnessOn(t, memory.New(), identity.Options{RevalidateSubAgentScope: revalidate})
		ctx := context.Background()
		h.register(t, aliceHuman, aliceAgent, model.DelegationScope{CanSignAgreements: true, CanCommitFunds: true, MaxCommitLamports: 1000})
		if _, err := h.RegisterSubAgent(ctx, aliceAgent, aliceAgent, carolKey, model.Digest{}, model.DelegationScope{CanCommitFunds: true, MaxCommitLamports: 100}); err != nil {
			t.Fatalf("RegisterSubAgent: %v", err)
		}

		widened := model.DelegationScope{CanCommitFunds: true, MaxCommitLamports: 5000}
		_, err := h.UpdateDelegation(ctx, aliceHuman, carolKey, widened)
		if revalidate && !errors.Is(err, model.ErrSubAgentScopeExceedsParent) {
			t.Errorf("revalidate on: expected SubAgentScopeExceedsParent, got %v", err)
		}
		if !revalidate && err != nil {
			t.Errorf("revalidate off: expected widening to pass, got %v", err)
		}
	}
}

func TestUpdateDelegationRequiresAuthority(t *testing.T) {
	h := newHarness(t)
	h.register(t, aliceHuman, aliceAgent, fullScope())
	_, err := h.UpdateDelegation(context.Background(), aliceAgent, aliceAgent, model.DelegationScope{})
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
	if h.pub.count(events.DelegationUpdated) != 0 {
		t.Error("expected no event for rejected update")
	}
}

func TestRevokeIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())

	if err := h.RevokeIdentity(ctx, aliceAgent, aliceAgent); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
	if err := h.RevokeIdentity(ctx, aliceHuman, aliceAgent); err != nil {
		t.Fatalf("RevokeIdentity: %v", err)
	}
	if _, err := h.GetIdentity(ctx, aliceAgent); !IsNotFound(err) {
		t.Errorf("expected identity gone, got %v", err)
	}
	if h.pub.count(events.AgentRevoked) != 1 {
		t.Error("expected agent_revoked event")
	}
}

// --- Agreement lifecycle ---

func TestLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.twoParty(t)

	out, err := h.Sign(ctx, bobAgent, pactID, model.IdentityRef(bobAgent))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !out.Activated || out.Agreement.Status != model.StatusActive {
		t.Fatalf("expected activation, got %+v", out)
	}

	if _, err := h.Fulfill(ctx, bobHuman, pactID, model.IdentityRef(bobAgent)); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}

	first, err := h.Close(ctx, aliceHuman, pactID, model.IdentityRef(aliceAgent))
	if err != nil {
		t.Fatalf("Close alice: %v", err)
	}
	if first.AgreementDeleted {
		t.Error("expected agreement kept after first close")
	}
	view, err := h.GetAgreement(ctx, pactID)
	if err != nil {
		t.Fatalf("GetAgreement: %v", err)
	}
	if len(view.Parties) != 1 || view.Agreement.PartiesClosed != 1 {
		t.Errorf("unexpected view after first close: %+v", view)
	}

	second, err := h.Close(ctx, bobHuman, pactID, model.IdentityRef(bobAgent))
	if err != nil {
		t.Fatalf("Close bob: %v", err)
	}
	if !second.AgreementDeleted {
		t.Error("expected agreement deleted with last party")
	}
	if _, err := h.GetAgreement(ctx, pactID); !IsNotFound(err) {
		t.Errorf("expected agreement gone, got %v", err)
	}

	for _, typ := range []events.Type{events.AgreementProposed, events.PartyAdded, events.AgreementSigned,
		events.AgreementActivated, events.AgreementFulfilled, events.AgreementClosed} {
		if h.pub.count(typ) != 1 {
			t.Errorf("expected one %s event, got %d", typ, h.pub.count(typ))
		}
	}
	if h.pub.count(events.PartyClosed) != 2 {
		t.Errorf("expected two party_closed events, got %d", h.pub.count(events.PartyClosed))
	}
}

func TestCancelThenSignRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.twoParty(t)

	a, err := h.Cancel(ctx, aliceAgent, pactID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if a.Status != model.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", a.Status)
	}
	if _, err := h.Sign(ctx, bobAgent, pactID, model.IdentityRef(bobAgent)); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected InvalidStatus, got %v", err)
	}
}

func TestCloseCancelledRemovesAgreement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.twoParty(t)
	if _, err := h.Close(ctx, aliceHuman, pactID, model.IdentityRef(aliceAgent)); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected proposed agreement not closable, got %v", err)
	}
	if _, err := h.Cancel(ctx, aliceAgent, pactID); err != nil {
		t.Fatal(err)
	}
	out, err := h.Close(ctx, aliceHuman, pactID, model.IdentityRef(aliceAgent))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.AgreementDeleted {
		t.Error("expected agreement kept while bob's party remains")
	}
	out, err = h.Close(ctx, bobHuman, pactID, model.IdentityRef(bobAgent))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !out.AgreementDeleted {
		t.Error("expected agreement deleted with its last party")
	}
	if _, err := h.GetAgreement(ctx, pactID); !IsNotFound(err) {
		t.Errorf("expected agreement gone, got %v", err)
	}
	if n := h.pub.count(events.AgreementClosed); n != 1 {
		t.Errorf("expected one close event, got %d", n)
	}
}

func TestAddPartyDuplicateRef(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())
	if _, err := h.Propose(ctx, aliceAgent, proposeParams(3)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddParty(ctx, aliceAgent, pactID, model.DirectRef(carolKey), model.RoleWitness); err != nil {
		t.Fatal(err)
	}
	_, err := h.AddParty(ctx, aliceAgent, pactID, model.DirectRef(carolKey), model.RoleWitness)
	if !IsExists(err) {
		t.Errorf("expected ErrExists for duplicate party, got %v", err)
	}
	view, _ := h.GetAgreement(ctx, pactID)
	if view.Agreement.PartiesAdded != 2 {
		t.Errorf("expected failed add to leave counter at 2, got %d", view.Agreement.PartiesAdded)
	}
}

func TestAddPartyUnknownIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())
	if _, err := h.Propose(ctx, aliceAgent, proposeParams(2)); err != nil {
		t.Fatal(err)
	}
	_, err := h.AddParty(ctx, aliceAgent, pactID, model.IdentityRef(bobAgent), model.RoleCounterparty)
	if !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSignNonMember(t *testing.T) {
	h := newHarness(t)
	h.twoParty(t)
	_, err := h.Sign(context.Background(), carolKey, pactID, model.DirectRef(carolKey))
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

func TestSignExpiredAgreement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())
	h.register(t, bobHuman, bobAgent, fullScope())
	p := proposeParams(2)
	p.ExpiresAt = epoch.Unix() + 60
	if _, err := h.Propose(ctx, aliceAgent, p); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddParty(ctx, aliceAgent, pactID, model.IdentityRef(bobAgent), model.RoleCounterparty); err != nil {
		t.Fatal(err)
	}

	h.now.Add(60)
	if _, err := h.Sign(ctx, bobAgent, pactID, model.IdentityRef(bobAgent)); !errors.Is(err, model.ErrAgreementExpired) {
		t.Errorf("expected AgreementExpired, got %v", err)
	}
}

func TestConcurrentSignsActivateOnce(t *testing.T) {
	st := memory.New()
	h := newHarnessOn(t, st, identity.Options{})
	// A second engine on the same store shares no locks with the first, so
	// only the store's version check separates them.
	other := New(st, Config{Clock: func() time.Time { return epoch }, Publisher: h.pub, MaxAttempts: 50})
	h.maxAttempts = 50
	ctx := context.Background()

	h.register(t, aliceHuman, aliceAgent, fullScope())
	if _, err := h.Propose(ctx, aliceAgent, proposeParams(model.MaxParties)); err != nil {
		t.Fatal(err)
	}
	var signers []model.Key
	for i := 1; i < model.MaxParties; i++ {
		k := model.Key{0xF0, byte(i)}
		signers = append(signers, k)
		if _, err := h.AddParty(ctx, aliceAgent, pactID, model.DirectRef(k), model.RoleWitness); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	var activations atomic.Int32
	errs := make(chan error, len(signers))
	for i, k := range signers {
		eng := h.Engine
		if i%2 == 1 {
			eng = other
		}
		wg.Add(1)
		go func(eng *Engine, k model.Key) {
			defer wg.Done()
			out, err := eng.Sign(ctx, k, pactID, model.DirectRef(k))
			if err != nil {
				errs <- err
				return
			}
			if out.Activated {
				activations.Add(1)
			}
		}(eng, k)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Sign: %v", err)
	}

	if activations.Load() != 1 {
		t.Errorf("expected exactly 1 activation, got %d", activations.Load())
	}
	if h.pub.count(events.AgreementActivated) != 1 {
		t.Errorf("expected exactly 1 activation event, got %d", h.pub.count(events.AgreementActivated))
	}
	view, err := h.GetAgreement(ctx, pactID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Agreement.NumSigned != model.MaxParties || view.Agreement.Status != model.StatusActive {
		t.Errorf("unexpected final state %+v", view.Agreement)
	}
	if err := view.Agreement.CheckCounters(); err != nil {
		t.Error(err)
	}
}

// conflictOnce fails the first Commit with ErrConflict.
type conflictOnce struct {
	store.Store
	tripped atomic.Bool
}

func (c *conflictOnce) Commit(ctx context.Context, muts []store.Mutation) error {
	if c.tripped.CompareAndSwap(false, true) {
		return store.ErrConflict
	}
	return c.Store.Commit(ctx, muts)
}

func TestCommitRetriesOnConflict(t *testing.T) {
	st := &conflictOnce{Store: memory.New()}
	h := newHarnessOn(t, st, identity.Options{})
	h.register(t, aliceHuman, aliceAgent, fullScope())
	if !st.tripped.Load() {
		t.Fatal("expected the first commit to conflict")
	}
	if _, err := h.GetIdentity(context.Background(), aliceAgent); err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
}

// interleave runs one armed func right after the engine reads a given
// record, writing through the store beneath the engine the way a second
// server on the same database would.
type interleave struct {
	store.Store
	mu   sync.Mutex
	kind store.Kind
	id   string
	fn   func()
}

func (s *interleave) arm(kind store.Kind, id string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kind, s.id, s.fn = kind, id, fn
}

func (s *interleave) Get(ctx context.Context, kind store.Kind, id string) (store.Record, error) {
	r, err := s.Store.Get(ctx, kind, id)
	s.mu.Lock()
	fn := s.fn
	if fn != nil && kind == s.kind && id == s.id {
		s.fn = nil
	} else {
		fn = nil
	}
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return r, err
}

// rescope rewrites an identity's scope directly in st.
func rescope(t *testing.T, st store.Store, k model.Key, change func(*model.DelegationScope)) {
	t.Helper()
	ctx := context.Background()
	r, err := st.Get(ctx, store.KindIdentity, identityID(k))
	if err != nil {
		t.Errorf("rescope get: %v", err)
		return
	}
	id, err := store.Decode[model.AgentIdentity](r)
	if err != nil {
		t.Errorf("rescope decode: %v", err)
		return
	}
	change(&id.Scope)
	m, err := store.Put(store.KindIdentity, identityID(k), r.Version, id)
	if err != nil {
		t.Errorf("rescope put: %v", err)
		return
	}
	if err := st.Commit(ctx, []store.Mutation{m}); err != nil {
		t.Errorf("rescope commit: %v", err)
	}
}

func TestSignSeesScopeChangedMidOperation(t *testing.T) {
	inner := memory.New()
	st := &interleave{Store: inner}
	h := newHarnessOn(t, st, identity.Options{})
	ctx := context.Background()
	h.twoParty(t)

	st.arm(store.KindIdentity, identityID(bobAgent), func() {
		rescope(t, inner, bobAgent, func(s *model.DelegationScope) { s.CanSignAgreements = false })
	})
	if _, err := h.Sign(ctx, bobAgent, pactID, model.IdentityRef(bobAgent)); !errors.Is(err, model.ErrCannotSignAgreements) {
		t.Fatalf("expected CannotSignAgreements from the new scope, got %v", err)
	}
	view, err := h.GetAgreement(ctx, pactID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Agreement.Status != model.StatusProposed || view.Agreement.NumSigned != 1 {
		t.Errorf("expected unsigned proposal, got %+v", view.Agreement)
	}
	if n := h.pub.count(events.AgreementActivated); n != 0 {
		t.Errorf("expected no activation, got %d", n)
	}
}

func TestCommitEscrowSeesCeilingLoweredMidOperation(t *testing.T) {
	inner := memory.New()
	st := &interleave{Store: inner}
	h := newHarnessOn(t, st, identity.Options{})
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())
	h.register(t, bobHuman, bobAgent, model.DelegationScope{CanSignAgreements: true, CanCommitFunds: true, MaxCommitLamports: 10_000})
	if _, err := h.Propose(ctx, aliceAgent, proposeParams(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddParty(ctx, aliceAgent, pactID, model.IdentityRef(bobAgent), model.RoleCounterparty); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Deposit(ctx, bobHuman, bobAgent, 10_000); err != nil {
		t.Fatal(err)
	}

	st.arm(store.KindIdentity, identityID(bobAgent), func() {
		rescope(t, inner, bobAgent, func(s *model.DelegationScope) { s.MaxCommitLamports = 100 })
	})
	if _, err := h.CommitEscrow(ctx, bobAgent, pactID, bobAgent, 5000); !errors.Is(err, model.ErrEscrowExceedsLimit) {
		t.Fatalf("expected EscrowExceedsLimit against the lowered ceiling, got %v", err)
	}
	v, err := h.GetVault(ctx, bobAgent)
	if err != nil {
		t.Fatal(err)
	}
	if v.TotalCommitted != 0 {
		t.Errorf("expected nothing committed, got %d", v.TotalCommitted)
	}
}

func TestProposeSeesRevokeMidOperation(t *testing.T) {
	inner := memory.New()
	st := &interleave{Store: inner}
	h := newHarnessOn(t, st, identity.Options{})
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())

	st.arm(store.KindIdentity, identityID(aliceAgent), func() {
		r, err := inner.Get(ctx, store.KindIdentity, identityID(aliceAgent))
		if err != nil {
			t.Errorf("get: %v", err)
			return
		}
		if err := inner.Commit(ctx, []store.Mutation{store.Delete(store.KindIdentity, r.ID, r.Version)}); err != nil {
			t.Errorf("delete: %v", err)
		}
	})
	if _, err := h.Propose(ctx, aliceAgent, proposeParams(2)); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for the revoked proposer, got %v", err)
	}
	if _, err := h.GetAgreement(ctx, pactID); !IsNotFound(err) {
		t.Errorf("expected no agreement, got %v", err)
	}
}

func TestOnePartyRecordPerKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())
	if _, err := h.Propose(ctx, aliceAgent, proposeParams(2)); err != nil {
		t.Fatal(err)
	}

	// The proposer's key already holds the identity-backed record.
	if _, err := h.AddParty(ctx, aliceAgent, pactID, model.DirectRef(aliceAgent), model.RoleCounterparty); !IsExists(err) {
		t.Fatalf("expected ErrExists for the proposer's own key, got %v", err)
	}
	if _, err := h.Sign(ctx, aliceAgent, pactID, model.DirectRef(aliceAgent)); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized signing through the wrong ref kind, got %v", err)
	}
	view, err := h.GetAgreement(ctx, pactID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Agreement.Status != model.StatusProposed || view.Agreement.PartiesAdded != 1 {
		t.Errorf("expected lone proposer on a proposed agreement, got %+v", view.Agreement)
	}

	// And the other way round: a direct key cannot come back as an identity.
	h.register(t, bobHuman, bobAgent, fullScope())
	if _, err := h.Propose(ctx, aliceAgent, lifecycle.ProposeParams{ID: model.AgreementID{0x02}, NumParties: 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddParty(ctx, aliceAgent, model.AgreementID{0x02}, model.DirectRef(bobAgent), model.RoleWitness); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddParty(ctx, aliceAgent, model.AgreementID{0x02}, model.IdentityRef(bobAgent), model.RoleCounterparty); !IsExists(err) {
		t.Errorf("expected ErrExists for a key already added directly, got %v", err)
	}
}

// --- Escrow and vaults ---

func TestEscrowCommitAndRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())
	h.register(t, bobHuman, bobAgent, model.DelegationScope{CanSignAgreements: true, CanCommitFunds: true, MaxCommitLamports: 1000})
	if _, err := h.Propose(ctx, aliceAgent, proposeParams(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddParty(ctx, aliceAgent, pactID, model.IdentityRef(bobAgent), model.RoleCounterparty); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Deposit(ctx, bobHuman, bobAgent, 5000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	party, err := h.CommitEscrow(ctx, bobAgent, pactID, bobAgent, 800)
	if err != nil {
		t.Fatalf("CommitEscrow: %v", err)
	}
	if party.EscrowDeposited != 800 {
		t.Errorf("expected 800 escrowed, got %d", party.EscrowDeposited)
	}
	if _, err := h.CommitEscrow(ctx, bobAgent, pactID, bobAgent, 201); !errors.Is(err, model.ErrEscrowExceedsLimit) {
		t.Errorf("expected EscrowExceedsLimit, got %v", err)
	}
	if _, err := h.Withdraw(ctx, bobHuman, bobAgent, 4201); !errors.Is(err, model.ErrInsufficientVaultBalance) {
		t.Errorf("expected InsufficientVaultBalance, got %v", err)
	}

	if _, err := h.Cancel(ctx, aliceAgent, pactID); err != nil {
		t.Fatal(err)
	}
	out, err := h.Close(ctx, bobHuman, pactID, model.IdentityRef(bobAgent))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.Released != 800 {
		t.Errorf("expected 800 released, got %d", out.Released)
	}
	v, err := h.GetVault(ctx, bobAgent)
	if err != nil {
		t.Fatal(err)
	}
	if v.TotalCommitted != 0 || v.Available() != 5000 {
		t.Errorf("expected full balance back, got %+v", v)
	}
}

func TestRevokedIdentityCanCloseAndWithdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.twoParty(t)
	if _, err := h.Deposit(ctx, bobHuman, bobAgent, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := h.CommitEscrow(ctx, bobAgent, pactID, bobAgent, 40); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Cancel(ctx, aliceHuman, pactID); err != nil {
		t.Fatal(err)
	}
	if err := h.RevokeIdentity(ctx, bobHuman, bobAgent); err != nil {
		t.Fatal(err)
	}

	if _, err := h.Close(ctx, bobAgent, pactID, model.IdentityRef(bobAgent)); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected agent key refused, got %v", err)
	}
	if _, err := h.Close(ctx, bobHuman, pactID, model.IdentityRef(bobAgent)); err != nil {
		t.Fatalf("Close after revoke: %v", err)
	}
	v, err := h.Withdraw(ctx, bobHuman, bobAgent, 100)
	if err != nil {
		t.Fatalf("Withdraw after revoke: %v", err)
	}
	if v.Available() != 0 {
		t.Errorf("expected empty vault, got %+v", v)
	}
}

func TestDepositRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	if _, err := h.Deposit(context.Background(), bobHuman, bobAgent, 1); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Queries ---

func TestListAgreementsFiltersAndPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, aliceHuman, aliceAgent, fullScope())

	for i := 0; i < 5; i++ {
		p := proposeParams(2)
		p.ID = model.AgreementID{0x10, byte(i)}
		if i%2 == 1 {
			p.Visibility = model.VisibilityPrivate
		}
		h.now.Add(1)
		if _, err := h.Propose(ctx, aliceAgent, p); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.Cancel(ctx, aliceAgent, model.AgreementID{0x10, 0}); err != nil {
		t.Fatal(err)
	}

	all, total, err := h.ListAgreements(ctx, AgreementFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(all) != 5 {
		t.Fatalf("expected 5, got %d/%d", len(all), total)
	}
	if all[0].ID != (model.AgreementID{0x10, 4}) {
		t.Errorf("expected newest first, got %s", all[0].ID)
	}

	priv := model.VisibilityPrivate
	got, total, _ := h.ListAgreements(ctx, AgreementFilter{Visibility: &priv})
	if total != 2 || len(got) != 2 {
		t.Errorf("expected 2 private, got %d", total)
	}

	cancelled := model.StatusCancelled
	got, _, _ = h.ListAgreements(ctx, AgreementFilter{Status: &cancelled})
	if len(got) != 1 {
		t.Errorf("expected 1 cancelled, got %d", len(got))
	}

	page, total, _ := h.ListAgreements(ctx, AgreementFilter{Limit: 2, Offset: 4})
	if total != 5 || len(page) != 1 {
		t.Errorf("expected last page of 1, got %d", len(page))
	}
	page, _, _ = h.ListAgreements(ctx, AgreementFilter{Offset: 10})
	if len(page) != 0 {
		t.Errorf("expected empty page past end, got %d", len(page))
	}

	member := aliceAgent
	got, _, _ = h.ListAgreements(ctx, AgreementFilter{Party: &member})
	if len(got) != 5 {
		t.Errorf("expected alice in all 5, got %d", len(got))
	}
	stranger := carolKey
	got, _, _ = h.ListAgreements(ctx, AgreementFilter{Party: &stranger})
	if len(got) != 0 {
		t.Errorf("expected carol in none, got %d", len(got))
	}
}

func TestListIdentitiesByAuthority(t *testing.T) {
	h := newHarness(t)
	h.register(t, aliceHuman, aliceAgent, fullScope())
	h.register(t, bobHuman, bobAgent, fullScope())

	auth := bobHuman
	ids, total, err := h.ListIdentities(context.Background(), IdentityFilter{Authority: &auth})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(ids) != 1 || ids[0].AgentKey != bobAgent {
		t.Errorf("expected only bob's agent, got %d %+v", total, ids)
	}

	ids, total, err = h.ListIdentities(context.Background(), IdentityFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(ids) != 1 || ids[0].AgentKey != bobAgent {
		t.Errorf("expected second page to hold bob's agent, got %d %+v", total, ids)
	}
}

func TestAgentStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.twoParty(t)
	if _, err := h.Deposit(ctx, bobHuman, bobAgent, 500); err != nil {
		t.Fatal(err)
	}
	if _, err := h.CommitEscrow(ctx, bobAgent, pactID, bobAgent, 200); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Sign(ctx, bobAgent, pactID, model.IdentityRef(bobAgent)); err != nil {
		t.Fatal(err)
	}
	second := proposeParams(2)
	second.ID = model.AgreementID{0x02}
	if _, err := h.Propose(ctx, aliceAgent, second); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddParty(ctx, aliceAgent, second.ID, model.IdentityRef(bobAgent), model.RoleWitness); err != nil {
		t.Fatal(err)
	}

	stats, err := h.AgentStats(ctx, bobAgent)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAgreements != 2 || stats.ActiveCount != 1 || stats.FulfilledCount != 0 || stats.EscrowVolume != 200 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if _, err := h.Fulfill(ctx, bobHuman, pactID, model.IdentityRef(bobAgent)); err != nil {
		t.Fatal(err)
	}
	stats, _ = h.AgentStats(ctx, bobAgent)
	if stats.ActiveCount != 0 || stats.FulfilledCount != 1 {
		t.Errorf("expected fulfilled count to move, got %+v", stats)
	}

	stats, _ = h.AgentStats(ctx, carolKey)
	if stats.TotalAgreements != 0 || stats.AgentKey != carolKey {
		t.Errorf("expected empty stats for a stranger, got %+v", stats)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	h := newHarness(t)
	ctx := WithRequestID(context.Background(), "req_abc")
	if _, err := h.RegisterIdentity(ctx, aliceHuman, aliceAgent, model.Digest{}, fullScope()); err != nil {
		t.Fatal(err)
	}
	if got := h.audit.last().RequestID; got != "req_abc" {
		t.Errorf("expected request id in audit, got %q", got)
	}
	h.pub.mu.Lock()
	defer h.pub.mu.Unlock()
	if h.pub.events[0].RequestID != "req_abc" || h.pub.events[0].Signer != aliceHuman.String() {
		t.Errorf("unexpected event %+v", h.pub.events[0])
	}
}

func TestKeyedLocksRelease(t *testing.T) {
	k := newKeyedLocks()
	unlock := k.Lock("b", "a", "b")
	if k.size() != 2 {
		t.Errorf("expected 2 held keys, got %d", k.size())
	}
	unlock()
	if k.size() != 0 {
		t.Errorf("expected locks released, got %d", k.size())
	}
}
