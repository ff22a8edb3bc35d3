// Package lifecycle is the agreement state machine. Each operation takes the
// current records by value and returns the records to persist; nothing is
// written on failure, so a rejected call leaves no partial state behind.
package lifecycle

import (
	"unicode/utf8"

	"github.com/ppiankov/pactwatch/internal/commitment"
	"github.com/ppiankov/pactwatch/internal/identity"
	"github.com/ppiankov/pactwatch/internal/model"
)

// ProposeParams are the caller-chosen fields of a new agreement.
type ProposeParams struct {
	ID         model.AgreementID   `json:"agreement_id"`
	Type       model.AgreementType `json:"agreement_type"`
	Visibility model.Visibility    `json:"visibility"`
	TermsHash  model.Digest        `json:"terms_hash"`
	TermsURI   string              `json:"terms_uri"`
	NumParties uint8               `json:"num_parties"`
	ExpiresAt  int64               `json:"expires_at"`
}

// Propose creates an agreement and the proposer's own party record, which
// counts as both added and signed.
func Propose(proposer model.AgentIdentity, signer model.Key, p ProposeParams, now int64) (model.Agreement, model.AgreementParty, error) {
	if err := identity.Authorize(proposer, signer, identity.SignAgreements, now); err != nil {
		return model.Agreement{}, model.AgreementParty{}, err
	}
	if !p.Type.Valid() {
		return model.Agreement{}, model.AgreementParty{}, model.Fail(model.CodeInvalidAgreementType, "type %s", p.Type)
	}
	if !p.Visibility.Valid() {
		return model.Agreement{}, model.AgreementParty{}, model.Fail(model.CodeInvalidVisibility, "visibility %s", p.Visibility)
	}
	if p.NumParties < model.MinParties || p.NumParties > model.MaxParties {
		return model.Agreement{}, model.AgreementParty{}, model.Fail(model.CodeInvalidPartyCount,
			"num_parties %d outside [%d,%d]", p.NumParties, model.MinParties, model.MaxParties)
	}

	a := model.Agreement{
		ID:           p.ID,
		Type:         p.Type,
		Visibility:   p.Visibility,
		Status:       model.StatusProposed,
		Proposer:     proposer.AgentKey,
		TermsHash:    p.TermsHash,
		TermsURI:     ClampURI(p.TermsURI),
		NumParties:   p.NumParties,
		NumSigned:    1,
		PartiesAdded: 1,
		CreatedAt:    now,
		ExpiresAt:    p.ExpiresAt,
	}
	party := model.AgreementParty{
		Agreement: p.ID,
		Ref:       model.IdentityRef(proposer.AgentKey),
		Role:      model.RoleProposer,
		Signed:    true,
		SignedAt:  now,
	}
	return a, party, nil
}

// AddParty admits ref to a proposed agreement. Only the proposer's agent key
// may add parties. A direct ref admits a bare key with no registered identity.
func AddParty(a model.Agreement, proposer model.AgentIdentity, signer model.Key, ref model.PartyRef, role model.Role) (model.Agreement, model.AgreementParty, error) {
	if err := identity.CheckSigner(proposer, signer, identity.SignerAgent); err != nil {
		return a, model.AgreementParty{}, err
	}
	if a.Proposer != proposer.AgentKey {
		return a, model.AgreementParty{}, model.Fail(model.CodeUnauthorized, "%s did not propose agreement %s", proposer.AgentKey, a.ID)
	}
	if err := requireStatus(a, model.StatusProposed); err != nil {
		return a, model.AgreementParty{}, err
	}
	if a.PartiesAdded >= a.NumParties {
		return a, model.AgreementParty{}, model.Fail(model.CodeMaxPartiesExceeded, "%d of %d parties already added", a.PartiesAdded, a.NumParties)
	}
	if !role.Valid() {
		return a, model.AgreementParty{}, model.Fail(model.CodeInvalidRole, "role %s", role)
	}
	if ref.Kind != model.RefIdentity && ref.Kind != model.RefDirect {
		return a, model.AgreementParty{}, model.Fail(model.CodeUnauthorized, "unknown party reference kind %q", ref.Kind)
	}

	a.PartiesAdded++
	return a, model.AgreementParty{Agreement: a.ID, Ref: ref, Role: role}, nil
}

// SignResult reports what a successful Sign did.
type SignResult struct {
	Agreement model.Agreement
	Party     model.AgreementParty
	// Activated is true when this signature was the last one required.
	Activated bool
}

// Sign records party's signature. id is the party's identity for
// identity-backed parties and nil for direct parties, whose raw key must be
// the signer. When the signature count reaches NumParties the agreement
// becomes ACTIVE in the same call; no other path leads there.
func Sign(a model.Agreement, party model.AgreementParty, id *model.AgentIdentity, signer model.Key, now int64) (SignResult, error) {
	if err := actsFor(party, id, signer, identity.SignAgreements, now); err != nil {
		return SignResult{}, err
	}
	if err := belongs(a, party); err != nil {
		return SignResult{}, err
	}
	if err := requireStatus(a, model.StatusProposed); err != nil {
		return SignResult{}, err
	}
	if a.ExpiresAt != 0 && a.ExpiresAt <= now {
		return SignResult{}, model.Fail(model.CodeAgreementExpired, "agreement %s expired at %d", a.ID, a.ExpiresAt)
	}
	if party.Signed {
		return SignResult{}, model.Fail(model.CodeAlreadySigned, "party %s", party.Ref)
	}
	// Counts live on the agreement and flags on party records; keep
	// NumSigned <= PartiesAdded even if the two ever disagree.
	if a.NumSigned >= a.PartiesAdded {
		return SignResult{}, model.Fail(model.CodeInvalidStatus, "agreement %s signature count %d already at parties added %d", a.ID, a.NumSigned, a.PartiesAdded)
	}

	party.Signed = true
	party.SignedAt = now
	a.NumSigned++

	res := SignResult{Party: party}
	if a.NumSigned == a.NumParties {
		if err := transition(&a, model.StatusActive); err != nil {
			return SignResult{}, err
		}
		res.Activated = true
	}
	res.Agreement = a
	return res, nil
}

// Cancel moves a proposed agreement to CANCELLED. The proposer's agent key or
// authority may cancel. Irreversible.
func Cancel(a model.Agreement, proposer model.AgentIdentity, signer model.Key) (model.Agreement, error) {
	if err := identity.CheckSigner(proposer, signer, identity.SignerAgentOrAuthority); err != nil {
		return a, err
	}
	if a.Proposer != proposer.AgentKey {
		return a, model.Fail(model.CodeUnauthorized, "%s did not propose agreement %s", proposer.AgentKey, a.ID)
	}
	if err := requireStatus(a, model.StatusProposed); err != nil {
		return a, err
	}
	if err := transition(&a, model.StatusCancelled); err != nil {
		return a, err
	}
	return a, nil
}

// Fulfill moves an active agreement to FULFILLED. Any party may trigger it;
// holding a party record for this agreement is the membership proof.
func Fulfill(a model.Agreement, party model.AgreementParty, id *model.AgentIdentity, signer model.Key) (model.Agreement, error) {
	req := identity.Requirement{Signer: identity.SignerAgentOrAuthority, SkipExpiry: true}
	if err := actsFor(party, id, signer, req, 0); err != nil {
		return a, err
	}
	if err := belongs(a, party); err != nil {
		return a, err
	}
	if err := requireStatus(a, model.StatusActive); err != nil {
		return a, err
	}
	if err := transition(&a, model.StatusFulfilled); err != nil {
		return a, err
	}
	return a, nil
}

// CloseResult reports which records a successful Close destroys.
type CloseResult struct {
	Agreement model.Agreement
	// DeleteAgreement is true once every added party has been closed.
	DeleteAgreement bool
	// Released is the escrow the closing party had committed.
	Released uint64
}

// Close destroys the caller's party record. Only the identity's authority (or,
// for a direct party, its raw key) may close, and only from a closable status.
// The agreement itself is destroyed when its last party record goes.
func Close(a model.Agreement, party model.AgreementParty, id *model.AgentIdentity, signer model.Key) (CloseResult, error) {
	req := identity.Requirement{Signer: identity.SignerAuthority, SkipExpiry: true}
	if err := actsFor(party, id, signer, req, 0); err != nil {
		return CloseResult{}, err
	}
	if err := belongs(a, party); err != nil {
		return CloseResult{}, err
	}
	if !a.Status.Closable() {
		return CloseResult{}, model.Fail(model.CodeInvalidStatus, "agreement %s is %s", a.ID, a.Status)
	}
	a.PartiesClosed++
	return CloseResult{
		Agreement:       a,
		DeleteAgreement: a.PartiesClosed >= a.PartiesAdded,
		Released:        party.EscrowDeposited,
	}, nil
}

// EscrowResult is the record set touched by CommitEscrow.
type EscrowResult struct {
	Agreement model.Agreement
	Party     model.AgreementParty
	Vault     model.Vault
}

// CommitEscrow commits amount from the identity's vault to its party record.
// The commitment tracker enforces the delegated ceiling.
func CommitEscrow(a model.Agreement, party model.AgreementParty, id model.AgentIdentity, signer model.Key, v model.Vault, amount uint64, now int64) (EscrowResult, error) {
	if err := actsFor(party, &id, signer, identity.CommitFunds, now); err != nil {
		return EscrowResult{}, err
	}
	if err := belongs(a, party); err != nil {
		return EscrowResult{}, err
	}
	if a.Status != model.StatusProposed && a.Status != model.StatusActive {
		return EscrowResult{}, model.Fail(model.CodeInvalidStatus, "agreement %s is %s", a.ID, a.Status)
	}
	if amount == 0 {
		return EscrowResult{}, model.Fail(model.CodeInvalidAmount, "amount must be greater than zero")
	}
	v, err := commitment.Reserve(id, v, amount)
	if err != nil {
		return EscrowResult{}, err
	}
	total := a.EscrowTotal + amount
	deposited := party.EscrowDeposited + amount
	if total < a.EscrowTotal || deposited < party.EscrowDeposited {
		return EscrowResult{}, model.Fail(model.CodeInvalidAmount, "escrow overflows")
	}
	a.EscrowTotal = total
	party.EscrowDeposited = deposited
	return EscrowResult{Agreement: a, Party: party, Vault: v}, nil
}

// ClampURI truncates a terms locator to the fixed record capacity without
// splitting a UTF-8 sequence.
func ClampURI(s string) string {
	if len(s) <= model.MaxTermsURILen {
		return s
	}
	cut := model.MaxTermsURILen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// actsFor checks that signer may act as party. Identity-backed parties go
// through identity.Authorize; direct parties must sign with their own key.
func actsFor(party model.AgreementParty, id *model.AgentIdentity, signer model.Key, req identity.Requirement, now int64) error {
	switch party.Ref.Kind {
	case model.RefDirect:
		if req.Capability == identity.CapCommit {
			return model.Fail(model.CodeCannotCommitFunds, "direct party %s has no delegation scope", party.Ref.Key)
		}
		if signer != party.Ref.Key {
			return model.Fail(model.CodeUnauthorized, "signer %s is not party %s", signer, party.Ref.Key)
		}
		return nil
	case model.RefIdentity:
		if id == nil || id.AgentKey != party.Ref.Key {
			return model.Fail(model.CodeUnauthorized, "identity does not match party %s", party.Ref)
		}
		return identity.Authorize(*id, signer, req, now)
	default:
		return model.Fail(model.CodeUnauthorized, "unknown party reference kind %q", party.Ref.Kind)
	}
}

func belongs(a model.Agreement, party model.AgreementParty) error {
	if party.Agreement != a.ID {
		return model.Fail(model.CodeUnauthorized, "party %s is not a member of agreement %s", party.Ref, a.ID)
	}
	return nil
}

func requireStatus(a model.Agreement, want model.Status) error {
	if a.Status != want {
		return model.Fail(model.CodeInvalidStatus, "agreement %s is %s, expected %s", a.ID, a.Status, want)
	}
	return nil
}

// transition is the only place status is assigned. It rejects any change the
// state machine does not list.
func transition(a *model.Agreement, to model.Status) error {
	if !a.Status.CanTransition(to) {
		return model.Fail(model.CodeInvalidStatus, "agreement %s cannot move from %s to %s", a.ID, a.Status, to)
	}
	a.Status = to
	return nil
}
