package mcp

import (
	"context"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/pactwatch/internal/engine"
	"github.com/ppiankov/pactwatch/internal/lifecycle"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/rpc"
)

// --- Input/Output types ---

// Outputs flatten records to strings and numbers so the inferred schemas
// match what goes over the wire.

// AgreementView is one agreement as tools report it.
type AgreementView struct {
	ID            string `json:"agreement_id"`
	Type          string `json:"agreement_type"`
	Visibility    string `json:"visibility"`
	Status        string `json:"status"`
	Proposer      string `json:"proposer"`
	TermsHash     string `json:"terms_hash"`
	TermsURI      string `json:"terms_uri"`
	EscrowTotal   uint64 `json:"escrow_total"`
	NumParties    int    `json:"num_parties"`
	NumSigned     int    `json:"num_signed"`
	PartiesAdded  int    `json:"parties_added"`
	PartiesClosed int    `json:"parties_closed"`
	CreatedAt     int64  `json:"created_at"`
	ExpiresAt     int64  `json:"expires_at"`
}

// PartyView is one party record.
type PartyView struct {
	Party           string `json:"party"`
	Role            string `json:"role"`
	Signed          bool   `json:"signed"`
	SignedAt        int64  `json:"signed_at,omitempty"`
	EscrowDeposited uint64 `json:"escrow_deposited,omitempty"`
}

// AgentView is one identity with its scope.
type AgentView struct {
	AgentKey          string `json:"agent_key"`
	Authority         string `json:"authority"`
	Parent            string `json:"parent,omitempty"`
	CanSignAgreements bool   `json:"can_sign_agreements"`
	CanCommitFunds    bool   `json:"can_commit_funds"`
	MaxCommitLamports uint64 `json:"max_commit_lamports"`
	ExpiresAt         int64  `json:"expires_at"`
	CreatedAt         int64  `json:"created_at"`
}

// AgreementInput names one agreement.
type AgreementInput struct {
	AgreementID string `json:"agreement_id" jsonschema:"agreement id, 32 hex characters"`
}

// AgreementOutput is an agreement, optionally with parties.
type AgreementOutput struct {
	Code      string         `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
	Agreement *AgreementView `json:"agreement,omitempty"`
	Parties   []PartyView    `json:"parties,omitempty"`
	Activated bool           `json:"activated,omitempty"`
}

// ListInput filters pact_list_agreements.
type ListInput struct {
	Status     string `json:"status,omitempty" jsonschema:"proposed, active, fulfilled, breached, disputed, or cancelled"`
	Type       string `json:"type,omitempty" jsonschema:"safe, service, revenue_share, joint_venture, or custom"`
	Visibility string `json:"visibility,omitempty" jsonschema:"public or private"`
	Mine       bool   `json:"mine,omitempty" jsonschema:"only agreements where you hold a party record"`
	Limit      int    `json:"limit,omitempty" jsonschema:"page size, default 50, max 200"`
	Offset     int    `json:"offset,omitempty" jsonschema:"records to skip"`
}

// ListOutput is a page of agreements.
type ListOutput struct {
	Code       string          `json:"code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Agreements []AgreementView `json:"agreements,omitempty"`
	Total      int             `json:"total"`
}

// AgentInput names an identity.
type AgentInput struct {
	AgentKey string `json:"agent_key,omitempty" jsonschema:"agent key, 64 hex characters; defaults to your own"`
}

// AgentOutput is an identity lookup result.
type AgentOutput struct {
	Code  string     `json:"code,omitempty"`
	Error string     `json:"error,omitempty"`
	Agent *AgentView `json:"agent,omitempty"`
}

// ProposeInput defines a new agreement.
type ProposeInput struct {
	AgreementID string `json:"agreement_id,omitempty" jsonschema:"agreement id, 32 hex characters; generated when omitted"`
	Type        string `json:"type,omitempty" jsonschema:"safe, service, revenue_share, joint_venture, or custom (default safe)"`
	Visibility  string `json:"visibility,omitempty" jsonschema:"public or private (default public)"`
	TermsHash   string `json:"terms_hash,omitempty" jsonschema:"sha-256 of the terms document, 64 hex characters"`
	TermsURI    string `json:"terms_uri,omitempty" jsonschema:"where the terms live; truncated to 64 bytes"`
	NumParties  int    `json:"num_parties" jsonschema:"total parties including you, 2 to 8"`
	ExpiresAt   int64  `json:"expires_at,omitempty" jsonschema:"unix seconds after which signing fails; 0 for never"`
}

// AddPartyInput admits a party.
type AddPartyInput struct {
	AgreementID string `json:"agreement_id" jsonschema:"agreement id, 32 hex characters"`
	PartyKey    string `json:"party_key" jsonschema:"agent key of the party, 64 hex characters"`
	Direct      bool   `json:"direct,omitempty" jsonschema:"add a bare key with no registered identity"`
	Role        string `json:"role,omitempty" jsonschema:"counterparty, witness, or arbitrator (default counterparty)"`
}

// PartyOutput is an added party record.
type PartyOutput struct {
	Code  string     `json:"code,omitempty"`
	Error string     `json:"error,omitempty"`
	Party *PartyView `json:"party,omitempty"`
}

// ActInput acts as the bound key on an agreement.
type ActInput struct {
	AgreementID string `json:"agreement_id" jsonschema:"agreement id, 32 hex characters"`
	Direct      bool   `json:"direct,omitempty" jsonschema:"act as a direct party rather than your registered identity"`
}

// --- Handlers ---

func (s *Server) handleGetAgreement(ctx context.Context, req *mcpsdk.CallToolRequest, input AgreementInput) (*mcpsdk.CallToolResult, AgreementOutput, error) {
	id, err := model.ParseAgreementID(input.AgreementID)
	if err != nil {
		return badInput[AgreementOutput](err)
	}
	view, err := s.pact.GetAgreement(ctx, id)
	if err != nil {
		return refuse[AgreementOutput](err)
	}
	av := agreementView(view.Agreement)
	out := AgreementOutput{Agreement: &av}
	for _, p := range view.Parties {
		out.Parties = append(out.Parties, partyView(p))
	}
	return nil, out, nil
}

func (s *Server) handleListAgreements(ctx context.Context, req *mcpsdk.CallToolRequest, input ListInput) (*mcpsdk.CallToolResult, ListOutput, error) {
	q := rpc.ListAgreementsRequest{Limit: input.Limit, Offset: input.Offset}
	if input.Status != "" {
		st, err := model.ParseStatus(input.Status)
		if err != nil {
			return badInput[ListOutput](err)
		}
		q.Status = &st
	}
	if input.Type != "" {
		var t model.AgreementType
		if err := t.UnmarshalText([]byte(input.Type)); err != nil {
			return badInput[ListOutput](err)
		}
		q.Type = &t
	}
	if input.Visibility != "" {
		var v model.Visibility
		if err := v.UnmarshalText([]byte(input.Visibility)); err != nil {
			return badInput[ListOutput](err)
		}
		q.Visibility = &v
	}
	if input.Mine {
		me := s.pact.Signer()
		q.Party = &me
	}

	resp, err := s.pact.ListAgreements(ctx, q)
	if err != nil {
		return refuse[ListOutput](err)
	}
	out := ListOutput{Agreements: make([]AgreementView, 0, len(resp.Agreements)), Total: resp.Total}
	for _, a := range resp.Agreements {
		out.Agreements = append(out.Agreements, agreementView(a))
	}
	return nil, out, nil
}

func (s *Server) handleGetAgent(ctx context.Context, req *mcpsdk.CallToolRequest, input AgentInput) (*mcpsdk.CallToolResult, AgentOutput, error) {
	key := s.pact.Signer()
	if input.AgentKey != "" {
		k, err := model.ParseKey(input.AgentKey)
		if err != nil {
			return badInput[AgentOutput](err)
		}
		key = k
	}
	id, err := s.pact.GetIdentity(ctx, key)
	if err != nil {
		return refuse[AgentOutput](err)
	}
	return nil, AgentOutput{Agent: &AgentView{
		AgentKey:          id.AgentKey.String(),
		Authority:         id.Authority.String(),
		Parent:            optionalKey(id.Parent),
		CanSignAgreements: id.Scope.CanSignAgreements,
		CanCommitFunds:    id.Scope.CanCommitFunds,
		MaxCommitLamports: id.Scope.MaxCommitLamports,
		ExpiresAt:         id.Scope.ExpiresAt,
		CreatedAt:         id.CreatedAt,
	}}, nil
}

func (s *Server) handlePropose(ctx context.Context, req *mcpsdk.CallToolRequest, input ProposeInput) (*mcpsdk.CallToolResult, AgreementOutput, error) {
	p := lifecycle.ProposeParams{
		ID:         model.AgreementID(uuid.New()),
		TermsURI:   input.TermsURI,
		NumParties: clampUint8(input.NumParties),
		ExpiresAt:  input.ExpiresAt,
	}
	if input.AgreementID != "" {
		id, err := model.ParseAgreementID(input.AgreementID)
		if err != nil {
			return badInput[AgreementOutput](err)
		}
		p.ID = id
	}
	if input.Type != "" {
		if err := p.Type.UnmarshalText([]byte(input.Type)); err != nil {
			return badInput[AgreementOutput](err)
		}
	}
	if input.Visibility != "" {
		if err := p.Visibility.UnmarshalText([]byte(input.Visibility)); err != nil {
			return badInput[AgreementOutput](err)
		}
	}
	if input.TermsHash != "" {
		d, err := model.ParseDigest(input.TermsHash)
		if err != nil {
			return badInput[AgreementOutput](err)
		}
		p.TermsHash = d
	}

	a, err := s.pact.Propose(ctx, p)
	if err != nil {
		return refuse[AgreementOutput](err)
	}
	av := agreementView(a)
	return nil, AgreementOutput{Agreement: &av}, nil
}

func (s *Server) handleAddParty(ctx context.Context, req *mcpsdk.CallToolRequest, input AddPartyInput) (*mcpsdk.CallToolResult, PartyOutput, error) {
	id, err := model.ParseAgreementID(input.AgreementID)
	if err != nil {
		return badInput[PartyOutput](err)
	}
	key, err := model.ParseKey(input.PartyKey)
	if err != nil {
		return badInput[PartyOutput](err)
	}
	role := model.RoleCounterparty
	if input.Role != "" {
		if role, err = model.ParseRole(input.Role); err != nil {
			return badInput[PartyOutput](err)
		}
	}
	ref := model.IdentityRef(key)
	if input.Direct {
		ref = model.DirectRef(key)
	}

	p, err := s.pact.AddParty(ctx, id, ref, role)
	if err != nil {
		return refuse[PartyOutput](err)
	}
	pv := partyView(p)
	return nil, PartyOutput{Party: &pv}, nil
}

func (s *Server) handleSign(ctx context.Context, req *mcpsdk.CallToolRequest, input ActInput) (*mcpsdk.CallToolResult, AgreementOutput, error) {
	id, ref, err := s.act(input)
	if err != nil {
		return badInput[AgreementOutput](err)
	}
	res, err := s.pact.Sign(ctx, id, ref)
	if err != nil {
		return refuse[AgreementOutput](err)
	}
	av := agreementView(res.Agreement)
	return nil, AgreementOutput{
		Agreement: &av,
		Parties:   []PartyView{partyView(res.Party)},
		Activated: res.Activated,
	}, nil
}

func (s *Server) handleFulfill(ctx context.Context, req *mcpsdk.CallToolRequest, input ActInput) (*mcpsdk.CallToolResult, AgreementOutput, error) {
	id, ref, err := s.act(input)
	if err != nil {
		return badInput[AgreementOutput](err)
	}
	a, err := s.pact.Fulfill(ctx, id, ref)
	if err != nil {
		return refuse[AgreementOutput](err)
	}
	av := agreementView(a)
	return nil, AgreementOutput{Agreement: &av}, nil
}

func (s *Server) handleCancel(ctx context.Context, req *mcpsdk.CallToolRequest, input AgreementInput) (*mcpsdk.CallToolResult, AgreementOutput, error) {
	id, err := model.ParseAgreementID(input.AgreementID)
	if err != nil {
		return badInput[AgreementOutput](err)
	}
	a, err := s.pact.Cancel(ctx, id)
	if err != nil {
		return refuse[AgreementOutput](err)
	}
	av := agreementView(a)
	return nil, AgreementOutput{Agreement: &av}, nil
}

// --- Helpers ---

func (s *Server) act(input ActInput) (model.AgreementID, model.PartyRef, error) {
	id, err := model.ParseAgreementID(input.AgreementID)
	if err != nil {
		return id, model.PartyRef{}, err
	}
	if input.Direct {
		return id, model.DirectRef(s.pact.Signer()), nil
	}
	return id, model.IdentityRef(s.pact.Signer()), nil
}

// outcome is implemented by every output type.
type outcome interface {
	reject(code, msg string)
}

func (o *AgreementOutput) reject(code, msg string) { o.Code, o.Error = code, msg }
func (o *ListOutput) reject(code, msg string)      { o.Code, o.Error = code, msg }
func (o *AgentOutput) reject(code, msg string)     { o.Code, o.Error = code, msg }
func (o *PartyOutput) reject(code, msg string)     { o.Code, o.Error = code, msg }

// refuse reports protocol and lookup failures as tool errors the model can
// read. Transport failures abort the call.
func refuse[T any, PT interface {
	*T
	outcome
}](err error) (*mcpsdk.CallToolResult, T, error) {
	var out T
	switch {
	case model.CodeOf(err) != "":
		PT(&out).reject(string(model.CodeOf(err)), err.Error())
	case engine.IsNotFound(err):
		PT(&out).reject("NotFound", err.Error())
	case engine.IsExists(err):
		PT(&out).reject("AlreadyExists", err.Error())
	default:
		return nil, out, err
	}
	return &mcpsdk.CallToolResult{IsError: true}, out, nil
}

func badInput[T any, PT interface {
	*T
	outcome
}](err error) (*mcpsdk.CallToolResult, T, error) {
	var out T
	PT(&out).reject("BadInput", err.Error())
	return &mcpsdk.CallToolResult{IsError: true}, out, nil
}

func agreementView(a model.Agreement) AgreementView {
	return AgreementView{
		ID:            a.ID.String(),
		Type:          a.Type.String(),
		Visibility:    a.Visibility.String(),
		Status:        a.Status.String(),
		Proposer:      a.Proposer.String(),
		TermsHash:     a.TermsHash.String(),
		TermsURI:      a.TermsURI,
		EscrowTotal:   a.EscrowTotal,
		NumParties:    int(a.NumParties),
		NumSigned:     int(a.NumSigned),
		PartiesAdded:  int(a.PartiesAdded),
		PartiesClosed: int(a.PartiesClosed),
		CreatedAt:     a.CreatedAt,
		ExpiresAt:     a.ExpiresAt,
	}
}

func partyView(p model.AgreementParty) PartyView {
	return PartyView{
		Party:           p.Ref.String(),
		Role:            p.Role.String(),
		Signed:          p.Signed,
		SignedAt:        p.SignedAt,
		EscrowDeposited: p.EscrowDeposited,
	}
}

func optionalKey(k model.Key) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}

// clampUint8 keeps out-of-range counts out of range after conversion, so the
// protocol rejects them instead of wrapping to a valid value.
func clampUint8(n int) uint8 {
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}
