// Package commitment tracks cumulative funds each identity has committed to
// agreements against its delegated ceiling. It keeps counters only; moving
// funds belongs to whoever custodies them.
package commitment

import (
	"github.com/ppiankov/pactwatch/internal/model"
)

// NewVault returns an empty ledger for identity.
func NewVault(id model.AgentIdentity) model.Vault {
	return model.Vault{Identity: id.AgentKey, Authority: id.Authority}
}

// CheckResult is the outcome of a ceiling check.
type CheckResult struct {
	Exceeded  bool
	Committed uint64
	Requested uint64
	Limit     uint64
}

// Check compares a prospective commitment against the scope ceiling.
// A zero ceiling means unlimited.
func Check(scope model.DelegationScope, v model.Vault, amount uint64) CheckResult {
	res := CheckResult{Committed: v.TotalCommitted, Requested: amount, Limit: scope.MaxCommitLamports}
	if scope.MaxCommitLamports == 0 {
		return res
	}
	total, overflow := add(v.TotalCommitted, amount)
	res.Exceeded = overflow || total > scope.MaxCommitLamports
	return res
}

// Reserve commits amount on the identity's behalf.
// Checks run in order: capability, amount, ceiling.
func Reserve(id model.AgentIdentity, v model.Vault, amount uint64) (model.Vault, error) {
	if !id.Scope.CanCommitFunds {
		return v, model.Fail(model.CodeCannotCommitFunds, "identity %s", id.AgentKey)
	}
	if amount == 0 {
		return v, model.Fail(model.CodeInvalidAmount, "amount must be greater than zero")
	}
	if res := Check(id.Scope, v, amount); res.Exceeded {
		return v, model.Fail(model.CodeEscrowExceedsLimit,
			"%d committed + %d requested exceeds max_commit_lamports %d", res.Committed, res.Requested, res.Limit)
	}
	total, overflow := add(v.TotalCommitted, amount)
	if overflow {
		return v, model.Fail(model.CodeInvalidAmount, "commitment overflows")
	}
	v.TotalCommitted = total
	return v, nil
}

// Release returns amount to the identity, saturating at zero.
func Release(v model.Vault, amount uint64) model.Vault {
	if amount >= v.TotalCommitted {
		v.TotalCommitted = 0
	} else {
		v.TotalCommitted -= amount
	}
	return v
}

func add(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}
