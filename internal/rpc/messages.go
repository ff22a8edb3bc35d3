package rpc

import (
	"github.com/ppiankov/pactwatch/internal/engine"
	"github.com/ppiankov/pactwatch/internal/lifecycle"
	"github.com/ppiankov/pactwatch/internal/model"
)

// Requests. The signer never travels in a message; it rides in the
// x-pactwatch-signer metadata header.

type RegisterIdentityRequest struct {
	AgentKey model.Key             `json:"agent_key"`
	Metadata model.Digest          `json:"metadata_hash"`
	Scope    model.DelegationScope `json:"scope"`
}

type RegisterSubAgentRequest struct {
	ParentKey model.Key             `json:"parent_key"`
	SubKey    model.Key             `json:"sub_agent_key"`
	Metadata  model.Digest          `json:"metadata_hash"`
	Scope     model.DelegationScope `json:"scope"`
}

type UpdateDelegationRequest struct {
	AgentKey model.Key             `json:"agent_key"`
	Scope    model.DelegationScope `json:"scope"`
}

type AgentRequest struct {
	AgentKey model.Key `json:"agent_key"`
}

type ProposeRequest lifecycle.ProposeParams

type AddPartyRequest struct {
	AgreementID model.AgreementID `json:"agreement_id"`
	Party       model.PartyRef    `json:"party"`
	Role        model.Role        `json:"role"`
}

// PartyRequest names the party a sign, fulfill, or close acts for.
type PartyRequest struct {
	AgreementID model.AgreementID `json:"agreement_id"`
	Party       model.PartyRef    `json:"party"`
}

type AgreementRequest struct {
	AgreementID model.AgreementID `json:"agreement_id"`
}

type CommitEscrowRequest struct {
	AgreementID model.AgreementID `json:"agreement_id"`
	AgentKey    model.Key         `json:"agent_key"`
	Amount      uint64            `json:"amount"`
}

type VaultRequest struct {
	AgentKey model.Key `json:"agent_key"`
	Amount   uint64    `json:"amount"`
}

type ListAgreementsRequest struct {
	Status     *model.Status        `json:"status,omitempty"`
	Type       *model.AgreementType `json:"agreement_type,omitempty"`
	Visibility *model.Visibility    `json:"visibility,omitempty"`
	Party      *model.Key           `json:"party,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
	Offset     int                  `json:"offset,omitempty"`
}

// Filter converts the request to an engine filter.
func (r *ListAgreementsRequest) Filter() engine.AgreementFilter {
	return engine.AgreementFilter{
		Status:     r.Status,
		Type:       r.Type,
		Visibility: r.Visibility,
		Party:      r.Party,
		Limit:      r.Limit,
		Offset:     r.Offset,
	}
}

type ListIdentitiesRequest struct {
	Authority *model.Key `json:"authority,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// Filter converts the request to an engine filter.
func (r *ListIdentitiesRequest) Filter() engine.IdentityFilter {
	return engine.IdentityFilter{Authority: r.Authority, Limit: r.Limit, Offset: r.Offset}
}

// Responses.

type Empty struct{}

type IdentityResponse struct {
	Identity model.AgentIdentity `json:"identity"`
}

type AgreementResponse struct {
	Agreement model.Agreement `json:"agreement"`
}

type PartyResponse struct {
	Party model.AgreementParty `json:"party"`
}

type SignResponse struct {
	Agreement model.Agreement      `json:"agreement"`
	Party     model.AgreementParty `json:"party"`
	Activated bool                 `json:"activated"`
}

type CloseResponse struct {
	AgreementDeleted bool   `json:"agreement_deleted"`
	Released         uint64 `json:"released"`
}

type VaultResponse struct {
	Vault model.Vault `json:"vault"`
}

type AgreementViewResponse engine.AgreementView

type ListAgreementsResponse struct {
	Agreements []model.Agreement `json:"agreements"`
	Total      int               `json:"total"`
}

type ListIdentitiesResponse struct {
	Identities []model.AgentIdentity `json:"identities"`
	Total      int                   `json:"total"`
}

type AgentStatsResponse engine.AgentStats
