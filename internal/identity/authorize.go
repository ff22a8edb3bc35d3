package identity

import "github.com/ppiankov/pactwatch/internal/model"

// SignerMode says which of the identity's keys may act.
type SignerMode int

const (
	SignerAgent SignerMode = iota
	SignerAgentOrAuthority
	SignerAuthority
)

// Capability is a scope flag an action requires.
type Capability int

const (
	CapNone Capability = iota
	CapSign
	CapCommit
)

// Requirement describes what an action demands of the acting identity.
type Requirement struct {
	Signer     SignerMode
	Capability Capability
	// SkipExpiry omits the delegation expiry check. Used by actions that only
	// prove ownership (cancel, fulfill, close).
	SkipExpiry bool
}

var (
	// SignAgreements is the requirement for proposing and signing.
	SignAgreements = Requirement{Signer: SignerAgent, Capability: CapSign}
	// CommitFunds is the requirement for committing escrow.
	CommitFunds = Requirement{Signer: SignerAgent, Capability: CapCommit}
)

// CheckSigner verifies signer against the identity's keys for the given mode.
func CheckSigner(id model.AgentIdentity, signer model.Key, mode SignerMode) error {
	ok := false
	switch mode {
	case SignerAgent:
		ok = signer == id.AgentKey
	case SignerAgentOrAuthority:
		ok = signer == id.AgentKey || signer == id.Authority
	case SignerAuthority:
		ok = signer == id.Authority
	}
	if !ok {
		return model.Fail(model.CodeUnauthorized, "signer %s may not act for identity %s", signer, id.AgentKey)
	}
	return nil
}

// Authorize is the shared check every agreement operation runs: signer match,
// then delegation expiry, then the capability flag.
func Authorize(id model.AgentIdentity, signer model.Key, req Requirement, now int64) error {
	if err := CheckSigner(id, signer, req.Signer); err != nil {
		return err
	}
	if !req.SkipExpiry && id.Scope.ExpiredAt(now) {
		return model.Fail(model.CodeDelegationExpired, "delegation for %s expired at %d", id.AgentKey, id.Scope.ExpiresAt)
	}
	switch req.Capability {
	case CapSign:
		if !id.Scope.CanSignAgreements {
			return model.Fail(model.CodeCannotSignAgreements, "identity %s", id.AgentKey)
		}
	case CapCommit:
		if !id.Scope.CanCommitFunds {
			return model.Fail(model.CodeCannotCommitFunds, "identity %s", id.AgentKey)
		}
	}
	return nil
}
