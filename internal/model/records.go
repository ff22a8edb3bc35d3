package model

import "fmt"

// DelegationScope is the permission set granted to an identity.
type DelegationScope struct {
	CanSignAgreements bool   `json:"can_sign_agreements" yaml:"can_sign_agreements"`
	CanCommitFunds    bool   `json:"can_commit_funds" yaml:"can_commit_funds"`
	MaxCommitLamports uint64 `json:"max_commit_lamports" yaml:"max_commit_lamports"` // 0 = unlimited
	ExpiresAt         int64  `json:"expires_at" yaml:"expires_at"`                   // unix seconds, 0 = never
}

// ExpiredAt reports whether the scope has a deadline at or before now.
func (s DelegationScope) ExpiredAt(now int64) bool {
	return s.ExpiresAt != 0 && s.ExpiresAt <= now
}

// AgentIdentity is one actor that can act in the protocol.
// Its record id is AgentKey.
type AgentIdentity struct {
	Authority    Key             `json:"authority"`
	AgentKey     Key             `json:"agent_key"`
	MetadataHash Digest          `json:"metadata_hash"`
	Scope        DelegationScope `json:"scope"`
	Parent       Key             `json:"parent"`
	CreatedAt    int64           `json:"created_at"`
}

// IsSubAgent reports whether the identity was delegated by another identity.
func (a AgentIdentity) IsSubAgent() bool { return !a.Parent.IsZero() }

// Agreement is one contract among 2 to MaxParties parties.
type Agreement struct {
	ID            AgreementID   `json:"agreement_id"`
	Type          AgreementType `json:"agreement_type"`
	Visibility    Visibility    `json:"visibility"`
	Status        Status        `json:"status"`
	Proposer      Key           `json:"proposer"`
	TermsHash     Digest        `json:"terms_hash"`
	TermsURI      string        `json:"terms_uri"`
	EscrowTotal   uint64        `json:"escrow_total"`
	NumParties    uint8         `json:"num_parties"`
	NumSigned     uint8         `json:"num_signed"`
	PartiesAdded  uint8         `json:"parties_added"`
	PartiesClosed uint8         `json:"parties_closed"`
	CreatedAt     int64         `json:"created_at"`
	ExpiresAt     int64         `json:"expires_at"`
}

const (
	MinParties = 2
	MaxParties = 8
)

// CheckCounters verifies the cardinality invariants that must hold at every
// observed state.
func (a Agreement) CheckCounters() error {
	if a.PartiesAdded > a.NumParties {
		return fmt.Errorf("parties_added %d exceeds num_parties %d", a.PartiesAdded, a.NumParties)
	}
	if a.NumSigned > a.PartiesAdded {
		return fmt.Errorf("num_signed %d exceeds parties_added %d", a.NumSigned, a.PartiesAdded)
	}
	if a.PartiesClosed > a.PartiesAdded {
		return fmt.Errorf("parties_closed %d exceeds parties_added %d", a.PartiesClosed, a.PartiesAdded)
	}
	return nil
}

// RefKind distinguishes identity-backed parties from bare-key parties.
type RefKind string

const (
	RefIdentity RefKind = "identity"
	RefDirect   RefKind = "direct"
)

// PartyRef names who a party is: a registered identity (by its agent key) or a
// raw signing key with no registered identity.
type PartyRef struct {
	Kind RefKind `json:"kind"`
	Key  Key     `json:"key"`
}

// IdentityRef references a registered identity.
func IdentityRef(agentKey Key) PartyRef { return PartyRef{Kind: RefIdentity, Key: agentKey} }

// DirectRef references a bare signing key.
func DirectRef(key Key) PartyRef { return PartyRef{Kind: RefDirect, Key: key} }

func (r PartyRef) IsDirect() bool { return r.Kind == RefDirect }

func (r PartyRef) String() string { return string(r.Kind) + ":" + r.Key.String() }

// AgreementParty is one party's membership and signature in one agreement.
type AgreementParty struct {
	Agreement       AgreementID `json:"agreement"`
	Ref             PartyRef    `json:"ref"`
	Role            Role        `json:"role"`
	Signed          bool        `json:"signed"`
	SignedAt        int64       `json:"signed_at"`
	EscrowDeposited uint64      `json:"escrow_deposited"`
}

// Vault is the per-identity commitment ledger. Counters only; no funds move.
type Vault struct {
	Identity       Key    `json:"identity"`
	Authority      Key    `json:"authority"`
	TotalDeposited uint64 `json:"total_deposited"`
	TotalWithdrawn uint64 `json:"total_withdrawn"`
	TotalCommitted uint64 `json:"total_committed"`
}

// Available is deposited minus withdrawn minus committed, floored at zero.
func (v Vault) Available() uint64 {
	return satSub(satSub(v.TotalDeposited, v.TotalWithdrawn), v.TotalCommitted)
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
