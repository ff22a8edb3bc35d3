// Package identity implements agent identities and the two-level delegation
// rule. Every function is pure: callers pass the current records and the
// current time and persist whatever comes back.
package identity

import "github.com/ppiankov/pactwatch/internal/model"

// Options carries deployment-level delegation policy.
type Options struct {
	// RequireDistinctAgentKey rejects root registrations where the agent key
	// equals the authority (no direct human signing).
	RequireDistinctAgentKey bool `yaml:"require_distinct_agent_key"`
	// RevalidateSubAgentScope re-applies the narrowing rule against the parent
	// when a sub-agent's scope is updated.
	RevalidateSubAgentScope bool `yaml:"revalidate_sub_agent_scope"`
}

// Register creates a root identity owned by authority.
func Register(authority, agentKey model.Key, metadata model.Digest, scope model.DelegationScope, now int64, opts Options) (model.AgentIdentity, error) {
	if opts.RequireDistinctAgentKey && agentKey == authority {
		return model.AgentIdentity{}, model.Fail(model.CodeAgentKeyEqualsAuthority, "agent key %s equals authority", agentKey)
	}
	if scope.ExpiredAt(now) {
		return model.AgentIdentity{}, model.Fail(model.CodeScopeExpired, "scope expires_at %d is not after %d", scope.ExpiresAt, now)
	}
	return model.AgentIdentity{
		Authority:    authority,
		AgentKey:     agentKey,
		MetadataHash: metadata,
		Scope:        scope,
		CreatedAt:    now,
	}, nil
}

// RegisterSubAgent creates a child identity under parent. The child inherits
// the parent's authority, never the caller's.
//
// Checks run in a fixed order: signer, depth, parent expiry, narrowing, child expiry.
func RegisterSubAgent(parent model.AgentIdentity, signer, subKey model.Key, metadata model.Digest, scope model.DelegationScope, now int64) (model.AgentIdentity, error) {
	if signer != parent.AgentKey {
		return model.AgentIdentity{}, model.Fail(model.CodeUnauthorized, "signer %s is not the parent agent key", signer)
	}
	if parent.IsSubAgent() {
		return model.AgentIdentity{}, model.Fail(model.CodeMaxDelegationDepth, "parent %s is already a sub-agent", parent.AgentKey)
	}
	if parent.Scope.ExpiredAt(now) {
		return model.AgentIdentity{}, model.Fail(model.CodeDelegationExpired, "parent delegation expired at %d", parent.Scope.ExpiresAt)
	}
	if err := Narrows(parent.Scope, scope); err != nil {
		return model.AgentIdentity{}, err
	}
	if scope.ExpiredAt(now) {
		return model.AgentIdentity{}, model.Fail(model.CodeScopeExpired, "scope expires_at %d is not after %d", scope.ExpiresAt, now)
	}
	return model.AgentIdentity{
		Authority:    parent.Authority,
		AgentKey:     subKey,
		MetadataHash: metadata,
		Scope:        scope,
		Parent:       parent.AgentKey,
		CreatedAt:    now,
	}, nil
}

// Narrows checks that child grants nothing the parent lacks.
// A parent ceiling of zero means unlimited, so any child ceiling fits under it.
func Narrows(parent, child model.DelegationScope) error {
	if !parent.CanSignAgreements && child.CanSignAgreements {
		return model.Fail(model.CodeSubAgentScopeExceedsParent, "parent cannot sign agreements")
	}
	if parent.CanCommitFunds {
		if parent.MaxCommitLamports > 0 && child.MaxCommitLamports > parent.MaxCommitLamports {
			return model.Fail(model.CodeSubAgentScopeExceedsParent,
				"max_commit_lamports %d exceeds parent ceiling %d", child.MaxCommitLamports, parent.MaxCommitLamports)
		}
	} else if child.CanCommitFunds {
		return model.Fail(model.CodeSubAgentScopeExceedsParent, "parent cannot commit funds")
	}
	return nil
}

// UpdateDelegation replaces the identity's scope wholesale. Only the authority
// may do this. Narrowing against a parent is not re-applied here; callers that
// want it use RevalidateAgainstParent.
func UpdateDelegation(id model.AgentIdentity, signer model.Key, scope model.DelegationScope, now int64) (model.AgentIdentity, error) {
	if signer != id.Authority {
		return model.AgentIdentity{}, model.Fail(model.CodeUnauthorized, "signer %s is not the authority", signer)
	}
	if scope.ExpiredAt(now) {
		return model.AgentIdentity{}, model.Fail(model.CodeScopeExpired, "scope expires_at %d is not after %d", scope.ExpiresAt, now)
	}
	id.Scope = scope
	return id, nil
}

// RevalidateAgainstParent applies the sub-agent narrowing rule to a proposed
// scope update.
func RevalidateAgainstParent(parent model.AgentIdentity, scope model.DelegationScope) error {
	return Narrows(parent.Scope, scope)
}

// Revoke authorizes destruction of the identity. It does not cascade to
// sub-agents or to agreements the identity is party to.
func Revoke(id model.AgentIdentity, signer model.Key) error {
	if signer != id.Authority {
		return model.Fail(model.CodeUnauthorized, "signer %s is not the authority", signer)
	}
	return nil
}
