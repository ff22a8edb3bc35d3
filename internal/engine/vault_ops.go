package engine

import (
	"context"
	"fmt"

	"github.com/ppiankov/pactwatch/internal/commitment"
	"github.com/ppiankov/pactwatch/internal/events"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/store"
)

// Deposit credits agentKey's vault, creating it on first use.
func (e *Engine) Deposit(ctx context.Context, signer, agentKey model.Key, amount uint64) (model.Vault, error) {
	var out model.Vault
	o := op{name: "deposit", signer: signer, subject: agentKey.String(), locks: []string{vaultLock(agentKey), identityLock(agentKey)}}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		id, idVer, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(agentKey))
		if err != nil {
			return nil, err
		}
		v, ver, err := e.vaultFor(ctx, id)
		if err != nil {
			return nil, err
		}
		v, err = commitment.Deposit(id, v, signer, amount)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		t.pin(store.KindIdentity, identityID(agentKey), idVer)
		if err := t.put(store.KindVault, vaultID(agentKey), ver, v); err != nil {
			return nil, err
		}
		t.emit(events.Event{Type: events.VaultDeposit, Agent: agentKey.String(), Amount: amount})
		out = v
		return t, nil
	})
	return out, err
}

// Withdraw debits agentKey's vault. Vaults outlive their identity, so the
// vault's recorded authority may withdraw after a revoke.
func (e *Engine) Withdraw(ctx context.Context, signer, agentKey model.Key, amount uint64) (model.Vault, error) {
	var out model.Vault
	o := op{name: "withdraw", signer: signer, subject: agentKey.String(), locks: []string{vaultLock(agentKey), identityLock(agentKey)}}
	err := e.run(ctx, o, func(now int64) (*txn, error) {
		v, ver, err := load[model.Vault](ctx, e.st, store.KindVault, vaultID(agentKey))
		if err != nil {
			return nil, err
		}
		id, idVer, err := load[model.AgentIdentity](ctx, e.st, store.KindIdentity, identityID(agentKey))
		switch {
		case err == nil:
		case IsNotFound(err):
			id = model.AgentIdentity{AgentKey: agentKey, Authority: v.Authority}
		default:
			return nil, err
		}
		v, err = commitment.Withdraw(id, v, signer, amount)
		if err != nil {
			return nil, err
		}
		t := &txn{}
		if idVer != 0 {
			t.pin(store.KindIdentity, identityID(agentKey), idVer)
		}
		if err := t.put(store.KindVault, vaultID(agentKey), ver, v); err != nil {
			return nil, err
		}
		t.emit(events.Event{Type: events.VaultWithdraw, Agent: agentKey.String(), Amount: amount})
		out = v
		return t, nil
	})
	return out, err
}

// vaultFor returns the identity's vault, or a fresh one at version 0.
func (e *Engine) vaultFor(ctx context.Context, id model.AgentIdentity) (model.Vault, uint64, error) {
	v, ver, err := load[model.Vault](ctx, e.st, store.KindVault, vaultID(id.AgentKey))
	if IsNotFound(err) {
		return commitment.NewVault(id), 0, nil
	}
	if err != nil {
		return model.Vault{}, 0, fmt.Errorf("vault: %w", err)
	}
	return v, ver, nil
}
