package commitment

import "github.com/ppiankov/pactwatch/internal/model"

// Deposit credits the vault. Only the identity's authority may deposit.
func Deposit(id model.AgentIdentity, v model.Vault, signer model.Key, amount uint64) (model.Vault, error) {
	if signer != id.Authority {
		return v, model.Fail(model.CodeUnauthorized, "signer %s is not the authority", signer)
	}
	if amount == 0 {
		return v, model.Fail(model.CodeInvalidAmount, "amount must be greater than zero")
	}
	total, overflow := add(v.TotalDeposited, amount)
	if overflow {
		return v, model.Fail(model.CodeInvalidAmount, "deposit overflows")
	}
	v.TotalDeposited = total
	return v, nil
}

// Withdraw debits the vault. Committed funds are not available.
func Withdraw(id model.AgentIdentity, v model.Vault, signer model.Key, amount uint64) (model.Vault, error) {
	if signer != id.Authority || v.Authority != id.Authority {
		return v, model.Fail(model.CodeUnauthorized, "signer %s is not the vault authority", signer)
	}
	if amount == 0 {
		return v, model.Fail(model.CodeInvalidAmount, "amount must be greater than zero")
	}
	if avail := v.Available(); amount > avail {
		return v, model.Fail(model.CodeInsufficientVaultBalance, "requested %d, available %d", amount, avail)
	}
	v.TotalWithdrawn += amount
	return v, nil
}
