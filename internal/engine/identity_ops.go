package engine

import (
	"context"
	"fmt"

	"github.com/ppiankov/pactwatch/internal/events"
	"github.com/ppiankov/pactwatch/internal/identity"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/store"
)

// RegisterIdentity creates a root identity. The signer becomes its authority.
func (e *Engine) RegisterIdentity(ctx context.Context, signer, agentKey model.Key, metadata model.Digest, scope model.DelegationScope) (model.AgentIdentity, error) {
	var out model.AgentIdentity
	o := op{name: "register", signer: signer, subject: agentKey.String(), locks: []string{identityLock(agentKey)}}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		opts, _ := e.options()
		id, err := identity.Register(signer, agentKey, metadata, scope, now, opts)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		if err := t.put(store.KindIdentity, identityID(agentKey), 0, id); err != nil {
			return nil, err
		}
		t.emit(events.Event{Type: events.AgentRegistered, Agent: agentKey.String()})
		out = id
		return t, nil
	})
	return out, err
}

// RegisterSubAgent creates a child identity under parentKey, signed by the
// parent's agent key.
func (e *Engine) RegisterSubAgent(ctx context.Context, signer, parentKey, subKey model.Key, metadata model.Digest, scope model.DelegationScope) (model.AgentIdentity, error) {
	var out model.AgentIdentity
	o := op{
		name:    "register_sub_agent",
		signer:  signer,
		subject: subKey.String(),
		locks:   []string{identityLock(parentKey), identityLock(subKey)},
	}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		parent, parentVer, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(parentKey))
		if err != nil {
			return nil, fmt.Errorf("parent identity: %w", err)
		}
		child, err := identity.RegisterSubAgent(parent, signer, subKey, metadata, scope, now)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		t.pin(store.KindIdentity, identityID(parentKey), parentVer)
		if err := t.put(store.KindIdentity, identityID(subKey), 0, child); err != nil {
			return nil, err
		}
		t.emit(events.Event{Type: events.AgentRegistered, Agent: subKey.String()})
		out = child
		return t, nil
	})
	return out, err
}

// UpdateDelegation replaces an identity's scope. With
// Options.RevalidateSubAgentScope set, a sub-agent's new scope must also
// narrow its parent's.
func (e *Engine) UpdateDelegation(ctx context.Context, signer, agentKey model.Key, scope model.DelegationScope) (model.AgentIdentity, error) {
	var out model.AgentIdentity
	o := op{name: "update_delegation", signer: signer, subject: agentKey.String(), locks: []string{identityLock(agentKey)}}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		id, ver, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(agentKey))
		if err != nil {
			return nil, err
		}
		updated, err := identity.UpdateDelegation(id, signer, scope, now)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		if opts, _ := e.options(); opts.RevalidateSubAgentScope && id.IsSubAgent() {
			parent, parentVer, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(id.Parent))
			if err != nil {
				return nil, fmt.Errorf("parent identity: %w", err)
			}
			if err := identity.RevalidateAgainstParent(parent, scope); err != nil {
				return nil, err
			}
			t.pin(store.KindIdentity, identityID(id.Parent), parentVer)
		}
		if err := t.put(store.KindIdentity, identityID(agentKey), ver, updated); err != nil {
			return nil, err
		}
		t.emit(events.Event{Type: events.DelegationUpdated, Agent: agentKey.String()})
		out = updated
		return t, nil
	})
	return out, err
}

// RevokeIdentity destroys an identity. Sub-agents, vaults, and party
// records that reference it are left in place.
func (e *Engine) RevokeIdentity(ctx context.Context, signer, agentKey model.Key) error {
	o := op{name: "revoke", signer: signer, subject: agentKey.String(), locks: []string{identityLock(agentKey)}}
	return e.run(ctx, o, func(now int64) (*txn, error) {
		id, ver, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(agentKey))
		if err != nil {
			return nil, err
		}
		if err := identity.Revoke(id, signer); err != nil {
			return nil, err
		}
		t := &txn{}
		t.del(store.KindIdentity, identityID(agentKey), ver)
		t.emit(events.Event{Type: events.AgentRevoked, Agent: agentKey.String()})
		return t, nil
	})
}
