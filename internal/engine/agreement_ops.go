package engine

import (
	"context"
	"fmt"

	"github.com/ppiankov/pactwatch/internal/commitment"
	"github.com/ppiankov/pactwatch/internal/events"
	"github.com/ppiankov/pactwatch/internal/lifecycle"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/store"
)

// Propose creates an agreement with the signer's identity as proposer.
func (e *Engine) Propose(ctx context.Context, signer model.Key, p lifecycle.ProposeParams) (model.Agreement, error) {
	var out model.Agreement
	o := op{name: "propose", signer: signer, subject: p.ID.String(), locks: []string{agreementLock(p.ID), identityLock(signer)}}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		proposer, propVer, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(signer))
		if err != nil {
			return nil, fmt.Errorf("proposer identity: %w", err)
		}
		a, party, err := lifecycle.Propose(proposer, signer, p, now)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		t.pin(store.KindIdentity, identityID(signer), propVer)
		if err := t.put(store.KindAgreement, agreementKey(a.ID), 0, a); err != nil {
			return nil, err
		}
		if err := t.put(store.KindParty, partyID(a.ID, party.Ref.Key), 0, party); err != nil {
			return nil, err
		}
		t.emit(events.Event{
			Type:      events.AgreementProposed,
			Agreement: a.ID.String(),
			Agent:     proposer.AgentKey.String(),
			Status:    a.Status.String(),
		})
		out = a
		return t, nil
	})
	return out, err
}

// AddParty admits ref to a proposed agreement. Identity refs must name a
// registered identity; direct refs are taken as given.
func (e *Engine) AddParty(ctx context.Context, signer model.Key, agreementID model.AgreementID, ref model.PartyRef, role model.Role) (model.AgreementParty, error) {
	var out model.AgreementParty
	o := op{
		name:    "add_party",
		signer:  signer,
		subject: agreementID.String(),
		locks:   []string{agreementLock(agreementID), identityLock(signer), identityLock(ref.Key)},
	}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		a, aVer, err := load[model.Agreement](ctx, e.st, store.KindAgreement, agreementKey(agreementID))
		if err != nil {
			return nil, err
		}
		proposer, propVer, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(a.Proposer))
		if err != nil {
			return nil, fmt.Errorf("proposer identity: %w", err)
		}
		var refVer uint64
		if ref.Kind == model.RefIdentity {
			if _, refVer, err = load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(ref.Key)); err != nil {
				return nil, fmt.Errorf("party identity: %w", err)
			}
		}
		a, party, err := lifecycle.AddParty(a, proposer, signer, ref, role)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		t.pin(store.KindIdentity, identityID(a.Proposer), propVer)
		if ref.Kind == model.RefIdentity {
			t.pin(store.KindIdentity, identityID(ref.Key), refVer)
		}
		if err := t.put(store.KindAgreement, agreementKey(a.ID), aVer, a); err != nil {
			return nil, err
		}
		// Version 0 rejects a second record for the same key, whichever
		// kind of ref holds it.
		if err := t.put(store.KindParty, partyID(a.ID, ref.Key), 0, party); err != nil {
			return nil, err
		}
		t.emit(events.Event{
			Type:      events.PartyAdded,
			Agreement: a.ID.String(),
			Party:     ref.String(),
			Role:      role.String(),
		})
		out = party
		return t, nil
	})
	return out, err
}

// SignOutcome is what a successful Sign changed.
type SignOutcome struct {
	Agreement model.Agreement
	Party     model.AgreementParty
	Activated bool
}

// Sign records ref's signature. The signature that completes the set
// activates the agreement in the same commit.
func (e *Engine) Sign(ctx context.Context, signer model.Key, agreementID model.AgreementID, ref model.PartyRef) (SignOutcome, error) {
	var out SignOutcome
	o := op{name: "sign", signer: signer, subject: agreementID.String(), locks: []string{agreementLock(agreementID), identityLock(ref.Key)}}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		a, aVer, party, pVer, err := e.loadMembership(ctx, agreementID, ref)
		if err != nil {
			return nil, err
		}
		id, idVer, err := e.actor(ctx, ref)
		if err != nil {
			return nil, err
		}
		res, err := lifecycle.Sign(a, party, id, signer, now)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		if id != nil {
			t.pin(store.KindIdentity, identityID(ref.Key), idVer)
		}
		if err := t.put(store.KindAgreement, agreementKey(a.ID), aVer, res.Agreement); err != nil {
			return nil, err
		}
		if err := t.put(store.KindParty, partyID(a.ID, ref.Key), pVer, res.Party); err != nil {
			return nil, err
		}
		t.emit(events.Event{
			Type:      events.AgreementSigned,
			Agreement: a.ID.String(),
			Party:     ref.String(),
			NumSigned: res.Agreement.NumSigned,
		})
		if res.Activated {
			t.emit(events.Event{
				Type:      events.AgreementActivated,
				Agreement: a.ID.String(),
				Status:    res.Agreement.Status.String(),
				NumSigned: res.Agreement.NumSigned,
			})
		}
		out = SignOutcome{Agreement: res.Agreement, Party: res.Party, Activated: res.Activated}
		return t, nil
	})
	return out, err
}

// Cancel withdraws a proposed agreement. The proposer's agent key or
// authority may cancel.
func (e *Engine) Cancel(ctx context.Context, signer model.Key, agreementID model.AgreementID) (model.Agreement, error) {
	var out model.Agreement
	o := op{name: "cancel", signer: signer, subject: agreementID.String(), locks: []string{agreementLock(agreementID)}}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		a, aVer, err := load[model.Agreement](ctx, e.st, store.KindAgreement, agreementKey(agreementID))
		if err != nil {
			return nil, err
		}
		proposer, propVer, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(a.Proposer))
		if err != nil {
			return nil, fmt.Errorf("proposer identity: %w", err)
		}
		a, err = lifecycle.Cancel(a, proposer, signer)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		t.pin(store.KindIdentity, identityID(a.Proposer), propVer)
		if err := t.put(store.KindAgreement, agreementKey(a.ID), aVer, a); err != nil {
			return nil, err
		}
		t.emit(events.Event{Type: events.AgreementCancelled, Agreement: a.ID.String(), Status: a.Status.String()})
		out = a
		return t, nil
	})
	return out, err
}

// Fulfill marks an active agreement fulfilled on behalf of party ref.
func (e *Engine) Fulfill(ctx context.Context, signer model.Key, agreementID model.AgreementID, ref model.PartyRef) (model.Agreement, error) {
	var out model.Agreement
	o := op{name: "fulfill", signer: signer, subject: agreementID.String(), locks: []string{agreementLock(agreementID), identityLock(ref.Key)}}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		a, aVer, party, _, err := e.loadMembership(ctx, agreementID, ref)
		if err != nil {
			return nil, err
		}
		id, idVer, err := e.actor(ctx, ref)
		if err != nil {
			return nil, err
		}
		a, err = lifecycle.Fulfill(a, party, id, signer)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		if id != nil {
			t.pin(store.KindIdentity, identityID(ref.Key), idVer)
		}
		if err := t.put(store.KindAgreement, agreementKey(a.ID), aVer, a); err != nil {
			return nil, err
		}
		t.emit(events.Event{Type: events.AgreementFulfilled, Agreement: a.ID.String(), Party: ref.String(), Status: a.Status.String()})
		out = a
		return t, nil
	})
	return out, err
}

// CloseOutcome is what a successful Close destroyed.
type CloseOutcome struct {
	AgreementDeleted bool
	Released         uint64
}

// Close destroys ref's party record, returning any escrow it committed to
// the identity's vault. The agreement goes with its last party.
//
// A revoked identity can still close: its vault's authority stands in for
// the missing identity record.
func (e *Engine) Close(ctx context.Context, signer model.Key, agreementID model.AgreementID, ref model.PartyRef) (CloseOutcome, error) {
	var out CloseOutcome
	o := op{
		name:    "close",
		signer:  signer,
		subject: agreementID.String(),
		locks:   []string{agreementLock(agreementID), vaultLock(ref.Key), identityLock(ref.Key)},
	}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		a, aVer, party, pVer, err := e.loadMembership(ctx, agreementID, ref)
		if err != nil {
			return nil, err
		}

		var (
			id       *model.AgentIdentity
			idVer    uint64
			vault    model.Vault
			vVer     uint64
			hasVault bool
		)
		if ref.Kind == model.RefIdentity {
			vault, vVer, err = load[model.Vault](ctx, e.st, store.KindVault, vaultID(ref.Key))
			switch {
			case err == nil:
				hasVault = true
			case !IsNotFound(err):
				return nil, err
			}
			idv, ver, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(ref.Key))
			switch {
			case err == nil:
				id, idVer = &idv, ver
			case IsNotFound(err) && hasVault:
				id = &model.AgentIdentity{AgentKey: ref.Key, Authority: vault.Authority}
			default:
				return nil, fmt.Errorf("party identity: %w", err)
			}
		}

		res, err := lifecycle.Close(a, party, id, signer)
		if err != nil {
			return nil, err
		}

		t := &txn{}
		if idVer != 0 {
			t.pin(store.KindIdentity, identityID(ref.Key), idVer)
		}
		t.del(store.KindParty, partyID(a.ID, ref.Key), pVer)
		if res.DeleteAgreement {
			t.del(store.KindAgreement, agreementKey(a.ID), aVer)
		} else if err := t.put(store.KindAgreement, agreementKey(a.ID), aVer, res.Agreement); err != nil {
			return nil, err
		}
		released := uint64(0)
		if res.Released > 0 && hasVault {
			if err := t.put(store.KindVault, vaultID(ref.Key), vVer, commitment.Release(vault, res.Released)); err != nil {
				return nil, err
			}
			released = res.Released
		}

		t.emit(events.Event{Type: events.PartyClosed, Agreement: a.ID.String(), Party: ref.String(), Amount: released})
		if res.DeleteAgreement {
			t.emit(events.Event{Type: events.AgreementClosed, Agreement: a.ID.String(), Status: a.Status.String()})
		}
		out = CloseOutcome{AgreementDeleted: res.DeleteAgreement, Released: released}
		return t, nil
	})
	return out, err
}

// CommitEscrow commits amount from agentKey's vault to its party record in
// the agreement, within the identity's delegated ceiling.
func (e *Engine) CommitEscrow(ctx context.Context, signer model.Key, agreementID model.AgreementID, agentKey model.Key, amount uint64) (model.AgreementParty, error) {
	var out model.AgreementParty
	ref := model.IdentityRef(agentKey)
	o := op{
		name:    "commit_escrow",
		signer:  signer,
		subject: agreementID.String(),
		locks:   []string{agreementLock(agreementID), vaultLock(agentKey), identityLock(agentKey)},
	}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		a, aVer, party, pVer, err := e.loadMembership(ctx, agreementID, ref)
		if err != nil {
			return nil, err
		}
		id, idVer, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(agentKey))
		if err != nil {
			return nil, fmt.Errorf("party identity: %w", err)
		}
		vault, vVer, err := e.vaultFor(ctx, id)
		if err != nil {
			return nil, err
		}
		res, err := lifecycle.CommitEscrow(a, party, id, signer, vault, amount, now)
		if err != nil {
			return nil, err
		}
		// The ceiling checked above is only good while the scope is.
		t := &txn{}
		t.pin(store.KindIdentity, identityID(agentKey), idVer)
		if err := t.put(store.KindAgreement, agreementKey(a.ID), aVer, res.Agreement); err != nil {
			return nil, err
		}
		if err := t.put(store.KindParty, partyID(a.ID, ref.Key), pVer, res.Party); err != nil {
			return nil, err
		}
		if err := t.put(store.KindVault, vaultID(agentKey), vVer, res.Vault); err != nil {
			return nil, err
		}
		t.emit(events.Event{
			Type:      events.EscrowCommitted,
			Agreement: a.ID.String(),
			Agent:     agentKey.String(),
			Amount:    amount,
		})
		out = res.Party
		return t, nil
	})
	return out, err
}

// loadMembership reads an agreement and one of its party records.
func (e *Engine) loadMembership(ctx context.Context, agreementID model.AgreementID, ref model.PartyRef) (model.Agreement, uint64, model.AgreementParty, uint64, error) {
	a, aVer, err := load[model.Agreement](ctx, e.st, store.KindAgreement, agreementKey(agreementID))
	if err != nil {
		return model.Agreement{}, 0, model.AgreementParty{}, 0, err
	}
	party, pVer, err := load[model.AgreementParty](ctx, e.st, store.KindParty, partyID(agreementID, ref.Key))
	if err != nil {
		if IsNotFound(err) {
			return model.Agreement{}, 0, model.AgreementParty{}, 0,
				model.Fail(model.CodeUnauthorized, "%s is not a party to agreement %s", ref, agreementID)
		}
		return model.Agreement{}, 0, model.AgreementParty{}, 0, err
	}
	if party.Ref != ref {
		return model.Agreement{}, 0, model.AgreementParty{}, 0,
			model.Fail(model.CodeUnauthorized, "%s is not a party to agreement %s; %s is", ref, agreementID, party.Ref)
	}
	return a, aVer, party, pVer, nil
}

// actor loads the identity behind an identity ref with its version. Direct
// refs have none.
func (e *Engine) actor(ctx context.Context, ref model.PartyRef) (*model.AgentIdentity, uint64, error) {
	if ref.Kind != model.RefIdentity {
		return nil, 0, nil
	}
	id, ver, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(ref.Key))
	if err != nil {
		return nil, 0, fmt.Errorf("party identity: %w", err)
	}
	return &id, ver, nil
}
