package lifecycle

import (
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/pactwatch/internal/commitment"
	"github.com/ppiankov/pactwatch/internal/model"
)

const now int64 = 1_700_000_000

var (
	aliceHuman = model.Key{0xA1}
	aliceAgent = model.Key{0xA2}
	bobHuman   = model.Key{0xB1}
	bobAgent   = model.Key{0xB2}
	carolKey   = model.Key{0xC1}
	stranger   = model.Key{0xEE}

	agreementID = model.AgreementID{0x01, 0x02}
)

func identityFor(authority, agentKey model.Key) model.AgentIdentity {
	return model.AgentIdentity{
		Authority: authority,
		AgentKey:  agentKey,
		Scope:     model.DelegationScope{CanSignAgreements: true, CanCommitFunds: true},
		CreatedAt: now,
	}
}

func params(n uint8) ProposeParams {
	return ProposeParams{
		ID:         agreementID,
		Type:       model.TypeService,
		Visibility: model.VisibilityPublic,
		TermsURI:   "ipfs://terms",
		NumParties: n,
	}
}

// proposed returns a two-party agreement with bob added but unsigned.
func proposed(t *testing.T) (model.Agreement, model.AgreementParty, model.AgreementParty) {
	t.Helper()
	alice := identityFor(aliceHuman, aliceAgent)
	a, own, err := Propose(alice, aliceAgent, params(2), now)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	a, bob, err := AddParty(a, alice, aliceAgent, model.IdentityRef(bobAgent), model.RoleCounterparty)
	if err != nil {
		t.Fatalf("AddParty: %v", err)
	}
	return a, own, bob
}

// --- Propose tests ---

func TestProposeInitialState(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)
	a, own, err := Propose(alice, aliceAgent, params(3), now)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if a.Status != model.StatusProposed {
		t.Errorf("expected PROPOSED, got %s", a.Status)
	}
	if a.NumSigned != 1 || a.PartiesAdded != 1 || a.NumParties != 3 {
		t.Errorf("unexpected counters: %+v", a)
	}
	if a.Proposer != aliceAgent || a.CreatedAt != now {
		t.Errorf("unexpected proposer fields: %+v", a)
	}
	if !own.Signed || own.Role != model.RoleProposer || own.Ref != model.IdentityRef(aliceAgent) {
		t.Errorf("unexpected proposer party: %+v", own)
	}
	if err := a.CheckCounters(); err != nil {
		t.Error(err)
	}
}

func TestProposeValidation(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)

	tests := []struct {
		name   string
		mutate func(*ProposeParams)
		want   error
	}{
		{"one party", func(p *ProposeParams) { p.NumParties = 1 }, model.ErrInvalidPartyCount},
		{"nine parties", func(p *ProposeParams) { p.NumParties = 9 }, model.ErrInvalidPartyCount},
		{"bad type", func(p *ProposeParams) { p.Type = 5 }, model.ErrInvalidAgreementType},
		{"bad visibility", func(p *ProposeParams) { p.Visibility = 2 }, model.ErrInvalidVisibility},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params(2)
			tt.mutate(&p)
			if _, _, err := Propose(alice, aliceAgent, p, now); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestProposeBoundaryPartyCounts(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)
	for _, n := range []uint8{model.MinParties, model.MaxParties} {
		if _, _, err := Propose(alice, aliceAgent, params(n), now); err != nil {
			t.Errorf("num_parties %d: unexpected error %v", n, err)
		}
	}
}

func TestProposeRequiresAgentKeyAndCapability(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)
	if _, _, err := Propose(alice, aliceHuman, params(2), now); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected authority to be refused, got %v", err)
	}
	alice.Scope.CanSignAgreements = false
	if _, _, err := Propose(alice, aliceAgent, params(2), now); !errors.Is(err, model.ErrCannotSignAgreements) {
		t.Errorf("expected CannotSignAgreements, got %v", err)
	}
}

func TestClampURI(t *testing.T) {
	long := strings.Repeat("a", 63) + "é"
	got := ClampURI(long)
	if len(got) != 63 {
		t.Errorf("expected cut before multi-byte rune, got len %d", len(got))
	}
	if ClampURI("short") != "short" {
		t.Error("expected short uri unchanged")
	}
}

// --- AddParty tests ---

func TestAddPartyCapacity(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)
	a, _, bob := proposed(t)
	if a.PartiesAdded != 2 || bob.Signed {
		t.Errorf("unexpected state after add: %+v %+v", a, bob)
	}
	if _, _, err := AddParty(a, alice, aliceAgent, model.DirectRef(carolKey), model.RoleWitness); !errors.Is(err, model.ErrMaxPartiesExceeded) {
		t.Errorf("expected MaxPartiesExceeded, got %v", err)
	}
}

func TestAddPartyOnlyProposerAgent(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)
	bob := identityFor(bobHuman, bobAgent)
	a, _, err := Propose(alice, aliceAgent, params(3), now)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, _, err := AddParty(a, alice, aliceHuman, model.DirectRef(carolKey), model.RoleWitness); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected authority refused, got %v", err)
	}
	if _, _, err := AddParty(a, bob, bobAgent, model.DirectRef(carolKey), model.RoleWitness); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected non-proposer refused, got %v", err)
	}
	if _, _, err := AddParty(a, alice, aliceAgent, model.DirectRef(carolKey), model.Role(4)); !errors.Is(err, model.ErrInvalidRole) {
		t.Errorf("expected InvalidRole, got %v", err)
	}
}

// --- Sign tests ---

func TestScenarioActivation(t *testing.T) {
	a, _, bobParty := proposed(t)
	bob := identityFor(bobHuman, bobAgent)

	res, err := Sign(a, bobParty, &bob, bobAgent, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !res.Activated || res.Agreement.Status != model.StatusActive {
		t.Errorf("expected activation, got %+v", res)
	}
	if res.Agreement.NumSigned != 2 || !res.Party.Signed || res.Party.SignedAt != now {
		t.Errorf("unexpected post-sign state: %+v", res)
	}

	// Replaying the stale pre-sign snapshot must not re-activate an active agreement.
	if _, err := Sign(res.Agreement, res.Party, &bob, bobAgent, now); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected InvalidStatus on active agreement, got %v", err)
	}
}

func TestSignRefusesCountAheadOfParties(t *testing.T) {
	a, _, bobParty := proposed(t)
	bob := identityFor(bobHuman, bobAgent)

	// A record whose signature count already covers every added party.
	a.NumSigned = a.PartiesAdded
	_, err := Sign(a, bobParty, &bob, bobAgent, now)
	if !errors.Is(err, model.ErrInvalidStatus) {
		t.Fatalf("expected InvalidStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "signature count") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestSignPartialDoesNotActivate(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)
	bob := identityFor(bobHuman, bobAgent)
	a, _, err := Propose(alice, aliceAgent, params(3), now)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	a, bobParty, err := AddParty(a, alice, aliceAgent, model.IdentityRef(bobAgent), model.RoleCounterparty)
	if err != nil {
		t.Fatalf("AddParty: %v", err)
	}
	res, err := Sign(a, bobParty, &bob, bobAgent, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if res.Activated || res.Agreement.Status != model.StatusProposed {
		t.Errorf("expected still PROPOSED with 2 of 3 signed, got %+v", res.Agreement)
	}
}

func TestSignAlreadySigned(t *testing.T) {
	a, own, _ := proposed(t)
	alice := identityFor(aliceHuman, aliceAgent)
	if _, err := Sign(a, own, &alice, aliceAgent, now); !errors.Is(err, model.ErrAlreadySigned) {
		t.Errorf("expected AlreadySigned, got %v", err)
	}
}

func TestSignExpiredAgreement(t *testing.T) {
	a, _, bobParty := proposed(t)
	a.ExpiresAt = now
	bob := identityFor(bobHuman, bobAgent)
	if _, err := Sign(a, bobParty, &bob, bobAgent, now); !errors.Is(err, model.ErrAgreementExpired) {
		t.Errorf("expected AgreementExpired, got %v", err)
	}
}

func TestSignExpiredDelegation(t *testing.T) {
	a, _, bobParty := proposed(t)
	bob := identityFor(bobHuman, bobAgent)
	bob.Scope.ExpiresAt = now - 1
	if _, err := Sign(a, bobParty, &bob, bobAgent, now); !errors.Is(err, model.ErrDelegationExpired) {
		t.Errorf("expected DelegationExpired, got %v", err)
	}
}

func TestSignWrongIdentity(t *testing.T) {
	a, _, bobParty := proposed(t)
	alice := identityFor(aliceHuman, aliceAgent)
	if _, err := Sign(a, bobParty, &alice, aliceAgent, now); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
	bob := identityFor(bobHuman, bobAgent)
	if _, err := Sign(a, bobParty, &bob, bobHuman, now); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected authority signature refused, got %v", err)
	}
	foreign := bobParty
	foreign.Agreement = model.AgreementID{0xFF}
	if _, err := Sign(a, foreign, &bob, bobAgent, now); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected foreign party refused, got %v", err)
	}
}

func TestSignDirectParty(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)
	a, _, err := Propose(alice, aliceAgent, params(2), now)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	a, carol, err := AddParty(a, alice, aliceAgent, model.DirectRef(carolKey), model.RoleCounterparty)
	if err != nil {
		t.Fatalf("AddParty: %v", err)
	}
	if _, err := Sign(a, carol, nil, stranger, now); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for wrong raw key, got %v", err)
	}
	res, err := Sign(a, carol, nil, carolKey, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !res.Activated {
		t.Error("expected direct signature to activate")
	}
}

// --- Cancel tests ---

func TestScenarioCancelThenSign(t *testing.T) {
	a, _, bobParty := proposed(t)
	alice := identityFor(aliceHuman, aliceAgent)

	a, err := Cancel(a, alice, aliceHuman)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if a.Status != model.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", a.Status)
	}

	bob := identityFor(bobHuman, bobAgent)
	if _, err := Sign(a, bobParty, &bob, bobAgent, now); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected InvalidStatus, got %v", err)
	}
	if _, err := Cancel(a, alice, aliceAgent); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected second cancel refused, got %v", err)
	}
}

func TestCancelOnlyProposer(t *testing.T) {
	a, _, _ := proposed(t)
	bob := identityFor(bobHuman, bobAgent)
	if _, err := Cancel(a, bob, bobAgent); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

// --- Fulfill / Close tests ---

func active(t *testing.T) (model.Agreement, model.AgreementParty, model.AgreementParty) {
	t.Helper()
	a, own, bobParty := proposed(t)
	bob := identityFor(bobHuman, bobAgent)
	res, err := Sign(a, bobParty, &bob, bobAgent, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return res.Agreement, own, res.Party
}

func TestFulfill(t *testing.T) {
	a, _, bobParty := active(t)
	bob := identityFor(bobHuman, bobAgent)
	bob.Scope.ExpiresAt = now - 1 // expiry does not block fulfilment

	a, err := Fulfill(a, bobParty, &bob, bobHuman)
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if a.Status != model.StatusFulfilled {
		t.Errorf("expected FULFILLED, got %s", a.Status)
	}
	if _, err := Fulfill(a, bobParty, &bob, bobAgent); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected InvalidStatus, got %v", err)
	}
}

func TestFulfillRequiresActive(t *testing.T) {
	a, _, bobParty := proposed(t)
	bob := identityFor(bobHuman, bobAgent)
	if _, err := Fulfill(a, bobParty, &bob, bobAgent); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected InvalidStatus, got %v", err)
	}
}

func TestCloseRefCount(t *testing.T) {
	a, own, bobParty := active(t)
	alice := identityFor(aliceHuman, aliceAgent)
	bob := identityFor(bobHuman, bobAgent)

	if _, err := Close(a, own, &alice, aliceHuman); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected active agreement not closable, got %v", err)
	}

	a, err := Fulfill(a, own, &alice, aliceAgent)
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if _, err := Close(a, own, &alice, aliceAgent); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected agent key refused for close, got %v", err)
	}

	first, err := Close(a, own, &alice, aliceHuman)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if first.DeleteAgreement {
		t.Error("expected agreement kept while bob's party remains")
	}
	second, err := Close(first.Agreement, bobParty, &bob, bobHuman)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !second.DeleteAgreement {
		t.Error("expected agreement deleted with last party")
	}
}

func TestCloseBreachedAllowed(t *testing.T) {
	a, own, _ := active(t)
	a.Status = model.StatusBreached
	alice := identityFor(aliceHuman, aliceAgent)
	if _, err := Close(a, own, &alice, aliceHuman); err != nil {
		t.Errorf("expected BREACHED closable, got %v", err)
	}
}

func TestCloseByStatus(t *testing.T) {
	tests := []struct {
		status   model.Status
		closable bool
	}{
		{model.StatusProposed, false},
		{model.StatusActive, false},
		{model.StatusFulfilled, true},
		{model.StatusBreached, true},
		{model.StatusDisputed, false},
		{model.StatusCancelled, true},
	}
	alice := identityFor(aliceHuman, aliceAgent)
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			a, own, _ := active(t)
			a.Status = tt.status
			if got := tt.status.Closable(); got != tt.closable {
				t.Errorf("expected Closable()=%v, got %v", tt.closable, got)
			}
			res, err := Close(a, own, &alice, aliceHuman)
			if !tt.closable {
				if !errors.Is(err, model.ErrInvalidStatus) {
					t.Errorf("expected InvalidStatus, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Close: %v", err)
			}
			if res.Agreement.PartiesClosed != 1 || res.DeleteAgreement {
				t.Errorf("expected one of two parties closed, got %+v", res)
			}
		})
	}
}

func TestCloseCancelledProposal(t *testing.T) {
	a, own, bobParty := proposed(t)
	alice := identityFor(aliceHuman, aliceAgent)
	bob := identityFor(bobHuman, bobAgent)

	a, err := Cancel(a, alice, aliceAgent)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	first, err := Close(a, own, &alice, aliceHuman)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	second, err := Close(first.Agreement, bobParty, &bob, bobHuman)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !second.DeleteAgreement {
		t.Error("expected cancelled agreement deleted with its last party")
	}
}

// --- CommitEscrow tests ---

func TestCommitEscrowCeiling(t *testing.T) {
	a, _, bobParty := proposed(t)
	bob := identityFor(bobHuman, bobAgent)
	bob.Scope.MaxCommitLamports = 1000
	v := commitment.NewVault(bob)

	res, err := CommitEscrow(a, bobParty, bob, bobAgent, v, 600, now)
	if err != nil {
		t.Fatalf("CommitEscrow: %v", err)
	}
	if res.Agreement.EscrowTotal != 600 || res.Party.EscrowDeposited != 600 || res.Vault.TotalCommitted != 600 {
		t.Errorf("unexpected escrow state: %+v", res)
	}

	_, err = CommitEscrow(res.Agreement, res.Party, bob, bobAgent, res.Vault, 401, now)
	if !errors.Is(err, model.ErrEscrowExceedsLimit) {
		t.Errorf("expected EscrowExceedsLimit, got %v", err)
	}
}

func TestCommitEscrowRefusesDirectAndClosedStates(t *testing.T) {
	alice := identityFor(aliceHuman, aliceAgent)
	a, own, _ := proposed(t)

	a.Status = model.StatusCancelled
	if _, err := CommitEscrow(a, own, alice, aliceAgent, commitment.NewVault(alice), 1, now); !errors.Is(err, model.ErrInvalidStatus) {
		t.Errorf("expected InvalidStatus, got %v", err)
	}

	direct := model.AgreementParty{Agreement: a.ID, Ref: model.DirectRef(carolKey)}
	a.Status = model.StatusProposed
	if _, err := CommitEscrow(a, direct, alice, carolKey, commitment.NewVault(alice), 1, now); !errors.Is(err, model.ErrCannotCommitFunds) {
		t.Errorf("expected CannotCommitFunds for direct party, got %v", err)
	}
}
