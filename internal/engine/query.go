package engine

import (
	"context"
	"sort"

	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/store"
)

// Page sizes for agreement listings.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// AgreementFilter narrows ListAgreements. Nil fields match everything.
type AgreementFilter struct {
	Status     *model.Status
	Type       *model.AgreementType
	Visibility *model.Visibility
	Party      *model.Key // agreements where this key holds a party record
	Limit      int
	Offset     int
}

// IdentityFilter narrows ListIdentities.
type IdentityFilter struct {
	Authority *model.Key
	Limit     int
	Offset    int
}

// AgentStats summarizes the party records a key holds.
type AgentStats struct {
	AgentKey        model.Key `json:"agent_key"`
	TotalAgreements int       `json:"total_agreements"`
	ActiveCount     int       `json:"active_count"`
	FulfilledCount  int       `json:"fulfilled_count"`
	EscrowVolume    uint64    `json:"escrow_volume"`
}

// AgreementView is an agreement with its current party records.
type AgreementView struct {
	Agreement model.Agreement        `json:"agreement"`
	Parties   []model.AgreementParty `json:"parties"`
}

func (e *Engine) GetIdentity(ctx context.Context, agentKey model.Key) (model.AgentIdentity, error) {
	id, _, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(agentKey))
	return id, err
}

func (e *Engine) GetVault(ctx context.Context, agentKey model.Key) (model.Vault, error) {
	v, _, err := load[model.Vault](ctx, e.st, store.KindVault, vaultID(agentKey))
	return v, err
}

func (e *Engine) GetAgreement(ctx context.Context, id model.AgreementID) (AgreementView, error) {
	a, _, err := load[model.Agreement](ctx, e.st, store.KindAgreement, agreementKey(id))
	if err != nil {
		return AgreementView{}, err
	}
	parties, err := e.Parties(ctx, id)
	if err != nil {
		return AgreementView{}, err
	}
	return AgreementView{Agreement: a, Parties: parties}, nil
}

// Parties lists the party records still held for an agreement.
func (e *Engine) Parties(ctx context.Context, id model.AgreementID) ([]model.AgreementParty, error) {
	recs, err := e.st.List(ctx, store.KindParty, agreementKey(id)+".")
	if err != nil {
		return nil, err
	}
	out := make([]model.AgreementParty, 0, len(recs))
	for _, r := range recs {
		p, err := store.Decode[model.AgreementParty](r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListIdentities returns identities ordered by agent key, optionally only
// those owned by one authority, paged like ListAgreements.
func (e *Engine) ListIdentities(ctx context.Context, f IdentityFilter) ([]model.AgentIdentity, int, error) {
	recs, err := e.st.List(ctx, store.KindIdentity, "")
	if err != nil {
		return nil, 0, err
	}
	var matched []model.AgentIdentity
	for _, r := range recs {
		id, err := store.Decode[model.AgentIdentity](r)
		if err != nil {
			return nil, 0, err
		}
		if f.Authority != nil && id.Authority != *f.Authority {
			continue
		}
		matched = append(matched, id)
	}
	return page(matched, f.Limit, f.Offset), len(matched), nil
}

// AgentStats counts the agreements key is party to, how many of them are
// active or fulfilled, and the escrow its party records hold. Closed party
// records no longer count.
func (e *Engine) AgentStats(ctx context.Context, key model.Key) (AgentStats, error) {
	out := AgentStats{AgentKey: key}
	recs, err := e.st.List(ctx, store.KindParty, "")
	if err != nil {
		return out, err
	}
	for _, r := range recs {
		p, err := store.Decode[model.AgreementParty](r)
		if err != nil {
			return out, err
		}
		if p.Ref.Key != key {
			continue
		}
		out.TotalAgreements++
		if out.EscrowVolume+p.EscrowDeposited < out.EscrowVolume {
			out.EscrowVolume = ^uint64(0)
		} else {
			out.EscrowVolume += p.EscrowDeposited
		}
		a, _, err := load[model.Agreement](ctx, e.st, store.KindAgreement, agreementKey(p.Agreement))
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return out, err
		}
		switch a.Status {
		case model.StatusActive:
			out.ActiveCount++
		case model.StatusFulfilled:
			out.FulfilledCount++
		}
	}
	return out, nil
}

// ListAgreements returns matching agreements, newest first, paged by
// Limit (default 50, max 200) and Offset. The second result is the total
// match count before paging.
func (e *Engine) ListAgreements(ctx context.Context, f AgreementFilter) ([]model.Agreement, int, error) {
	recs, err := e.st.List(ctx, store.KindAgreement, "")
	if err != nil {
		return nil, 0, err
	}

	var member map[model.AgreementID]bool
	if f.Party != nil {
		member, err = e.memberships(ctx, *f.Party)
		if err != nil {
			return nil, 0, err
		}
	}

	var matched []model.Agreement
	for _, r := range recs {
		a, err := store.Decode[model.Agreement](r)
		if err != nil {
			return nil, 0, err
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Type != nil && a.Type != *f.Type {
			continue
		}
		if f.Visibility != nil && a.Visibility != *f.Visibility {
			continue
		}
		if member != nil && !member[a.ID] {
			continue
		}
		matched = append(matched, a)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt > matched[j].CreatedAt })

	return page(matched, f.Limit, f.Offset), len(matched), nil
}

// page slices one page out of items. Limit defaults to DefaultLimit and is
// capped at MaxLimit.
func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (e *Engine) memberships(ctx context.Context, key model.Key) (map[model.AgreementID]bool, error) {
	recs, err := e.st.List(ctx, store.KindParty, "")
	if err != nil {
		return nil, err
	}
	out := make(map[model.AgreementID]bool)
	for _, r := range recs {
		p, err := store.Decode[model.AgreementParty](r)
		if err != nil {
			return nil, err
		}
		if p.Ref.Key == key {
			out[p.Agreement] = true
		}
	}
	return out, nil
}
