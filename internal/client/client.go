package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/ppiankov/pactwatch/internal/engine"
	"github.com/ppiankov/pactwatch/internal/lifecycle"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/rpc"
)

// DefaultTimeout bounds each call whose context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client connects to a pactwatch gRPC server and acts as one signer.
// Errors come back as *model.Error or wrapped store sentinels, the same
// values the engine returns in-process.
type Client struct {
	conn   *grpc.ClientConn
	signer model.Key
}

// New creates a gRPC client connected to addr. The connection is lazy; an
// unreachable server surfaces on the first call.
func New(addr string, signer model.Key) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pactwatch server: %w", err)
	}
	return &Client{conn: conn, signer: signer}, nil
}

// Signer returns the key sent with every call.
func (c *Client) Signer() model.Key { return c.signer }

// Health asks the server's health service whether ProtocolService is
// serving.
func (c *Client) Health(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx,
		&healthpb.HealthCheckRequest{Service: rpc.ServiceName}, rpc.CallOption())
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if s := resp.GetStatus(); s != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server is %s", s)
	}
	return nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func call[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	if !c.signer.IsZero() {
		ctx = metadata.AppendToOutgoingContext(ctx, rpc.SignerHeader, c.signer.String())
	}
	if id := engine.RequestID(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, rpc.RequestIDHeader, id)
	}
	resp, err := rpc.Invoke[Resp](ctx, c.conn, method, req)
	if err != nil {
		return nil, rpc.FromStatus(err)
	}
	return resp, nil
}

func (c *Client) RegisterIdentity(ctx context.Context, agentKey model.Key, metadataHash model.Digest, scope model.DelegationScope) (model.AgentIdentity, error) {
	resp, err := call[rpc.IdentityResponse](ctx, c, rpc.MethodRegisterIdentity,
		&rpc.RegisterIdentityRequest{AgentKey: agentKey, Metadata: metadataHash, Scope: scope})
	if err != nil {
		return model.AgentIdentity{}, err
	}
	return resp.Identity, nil
}

func (c *Client) RegisterSubAgent(ctx context.Context, parentKey, subKey model.Key, metadataHash model.Digest, scope model.DelegationScope) (model.AgentIdentity, error) {
	resp, err := call[rpc.IdentityResponse](ctx, c, rpc.MethodRegisterSubAgent,
		&rpc.RegisterSubAgentRequest{ParentKey: parentKey, SubKey: subKey, Metadata: metadataHash, Scope: scope})
	if err != nil {
		return model.AgentIdentity{}, err
	}
	return resp.Identity, nil
}

func (c *Client) UpdateDelegation(ctx context.Context, agentKey model.Key, scope model.DelegationScope) (model.AgentIdentity, error) {
	resp, err := call[rpc.IdentityResponse](ctx, c, rpc.MethodUpdateDelegation,
		&rpc.UpdateDelegationRequest{AgentKey: agentKey, Scope: scope})
	if err != nil {
		return model.AgentIdentity{}, err
	}
	return resp.Identity, nil
}

func (c *Client) RevokeIdentity(ctx context.Context, agentKey model.Key) error {
	_, err := call[rpc.Empty](ctx, c, rpc.MethodRevokeIdentity, &rpc.AgentRequest{AgentKey: agentKey})
	return err
}

func (c *Client) Propose(ctx context.Context, p lifecycle.ProposeParams) (model.Agreement, error) {
	resp, err := call[rpc.AgreementResponse](ctx, c, rpc.MethodPropose, (*rpc.ProposeRequest)(&p))
	if err != nil {
		return model.Agreement{}, err
	}
	return resp.Agreement, nil
}

func (c *Client) AddParty(ctx context.Context, id model.AgreementID, ref model.PartyRef, role model.Role) (model.AgreementParty, error) {
	resp, err := call[rpc.PartyResponse](ctx, c, rpc.MethodAddParty,
		&rpc.AddPartyRequest{AgreementID: id, Party: ref, Role: role})
	if err != nil {
		return model.AgreementParty{}, err
	}
	return resp.Party, nil
}

func (c *Client) Sign(ctx context.Context, id model.AgreementID, ref model.PartyRef) (*rpc.SignResponse, error) {
	return call[rpc.SignResponse](ctx, c, rpc.MethodSign, &rpc.PartyRequest{AgreementID: id, Party: ref})
}

func (c *Client) Cancel(ctx context.Context, id model.AgreementID) (model.Agreement, error) {
	resp, err := call[rpc.AgreementResponse](ctx, c, rpc.MethodCancel, &rpc.AgreementRequest{AgreementID: id})
	if err != nil {
		return model.Agreement{}, err
	}
	return resp.Agreement, nil
}

func (c *Client) Fulfill(ctx context.Context, id model.AgreementID, ref model.PartyRef) (model.Agreement, error) {
	resp, err := call[rpc.AgreementResponse](ctx, c, rpc.MethodFulfill, &rpc.PartyRequest{AgreementID: id, Party: ref})
	if err != nil {
		return model.Agreement{}, err
	}
	return resp.Agreement, nil
}

func (c *Client) CloseParty(ctx context.Context, id model.AgreementID, ref model.PartyRef) (*rpc.CloseResponse, error) {
	return call[rpc.CloseResponse](ctx, c, rpc.MethodClose, &rpc.PartyRequest{AgreementID: id, Party: ref})
}

func (c *Client) CommitEscrow(ctx context.Context, id model.AgreementID, agentKey model.Key, amount uint64) (model.AgreementParty, error) {
	resp, err := call[rpc.PartyResponse](ctx, c, rpc.MethodCommitEscrow,
		&rpc.CommitEscrowRequest{AgreementID: id, AgentKey: agentKey, Amount: amount})
	if err != nil {
		return model.AgreementParty{}, err
	}
	return resp.Party, nil
}

func (c *Client) Deposit(ctx context.Context, agentKey model.Key, amount uint64) (model.Vault, error) {
	return c.vaultCall(ctx, rpc.MethodDeposit, agentKey, amount)
}

func (c *Client) Withdraw(ctx context.Context, agentKey model.Key, amount uint64) (model.Vault, error) {
	return c.vaultCall(ctx, rpc.MethodWithdraw, agentKey, amount)
}

func (c *Client) vaultCall(ctx context.Context, method string, agentKey model.Key, amount uint64) (model.Vault, error) {
	resp, err := call[rpc.VaultResponse](ctx, c, method, &rpc.VaultRequest{AgentKey: agentKey, Amount: amount})
	if err != nil {
		return model.Vault{}, err
	}
	return resp.Vault, nil
}

func (c *Client) GetIdentity(ctx context.Context, agentKey model.Key) (model.AgentIdentity, error) {
	resp, err := call[rpc.IdentityResponse](ctx, c, rpc.MethodGetIdentity, &rpc.AgentRequest{AgentKey: agentKey})
	if err != nil {
		return model.AgentIdentity{}, err
	}
	return resp.Identity, nil
}

func (c *Client) GetAgreement(ctx context.Context, id model.AgreementID) (engine.AgreementView, error) {
	resp, err := call[rpc.AgreementViewResponse](ctx, c, rpc.MethodGetAgreement, &rpc.AgreementRequest{AgreementID: id})
	if err != nil {
		return engine.AgreementView{}, err
	}
	return engine.AgreementView(*resp), nil
}

func (c *Client) GetVault(ctx context.Context, agentKey model.Key) (model.Vault, error) {
	resp, err := call[rpc.VaultResponse](ctx, c, rpc.MethodGetVault, &rpc.AgentRequest{AgentKey: agentKey})
	if err != nil {
		return model.Vault{}, err
	}
	return resp.Vault, nil
}

func (c *Client) ListAgreements(ctx context.Context, req rpc.ListAgreementsRequest) (*rpc.ListAgreementsResponse, error) {
	return call[rpc.ListAgreementsResponse](ctx, c, rpc.MethodListAgreements, &req)
}

func (c *Client) ListIdentities(ctx context.Context, req rpc.ListIdentitiesRequest) (*rpc.ListIdentitiesResponse, error) {
	return call[rpc.ListIdentitiesResponse](ctx, c, rpc.MethodListIdentities, &req)
}

func (c *Client) AgentStats(ctx context.Context, agentKey model.Key) (*rpc.AgentStatsResponse, error) {
	return call[rpc.AgentStatsResponse](ctx, c, rpc.MethodGetAgentStats, &rpc.AgentRequest{AgentKey: agentKey})
}
