package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/pactwatch/internal/alert"
	"github.com/ppiankov/pactwatch/internal/config"
	"github.com/ppiankov/pactwatch/internal/engine"
	"github.com/ppiankov/pactwatch/internal/lifecycle"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/ratelimit"
	"github.com/ppiankov/pactwatch/internal/rpc"
)

// Config holds gRPC server configuration.
type Config struct {
	Port int
	// ConfigPath is re-read on Reload. Empty means the default location.
	ConfigPath string
	// RateLimits caps mutating calls per signer. Replaced on Reload.
	RateLimits ratelimit.Config
}

// Server implements the ProtocolService gRPC server on top of an engine.
type Server struct {
	eng        *engine.Engine
	dispatcher *alert.Dispatcher
	limiter    *ratelimit.Enforcer
	cfg        Config

	grpcServer *grpc.Server
	health     *health.Server
}

var _ rpc.ProtocolServer = (*Server)(nil)

// New creates a gRPC server for eng. dispatcher may be nil when no webhooks
// are configured; Reload then only refreshes delegation options.
func New(cfg Config, eng *engine.Engine, dispatcher *alert.Dispatcher) *Server {
	s := &Server{
		eng:        eng,
		dispatcher: dispatcher,
		limiter:    ratelimit.NewEnforcer(cfg.RateLimits),
		cfg:        cfg,
	}
	s.grpcServer = grpc.NewServer(rpc.ServerOption(), grpc.ChainUnaryInterceptor(requestInterceptor, s.limitInterceptor))
	rpc.RegisterProtocolServer(s.grpcServer, s)
	s.health = health.NewServer()
	s.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s
}

// Serve starts the gRPC server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop reports NOT_SERVING to health checks, then gracefully shuts
// down the gRPC server.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Reload re-reads the config file and swaps delegation options, rate limits
// and webhook destinations. Store, ports and audit path need a restart.
func (s *Server) Reload() error {
	cfg, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	s.eng.SetDelegation(cfg.Delegation, hash)
	s.limiter.SetConfig(cfg.RateLimits)
	if s.dispatcher != nil {
		s.dispatcher.SetSubscriptions(cfg.Webhooks)
	}
	return nil
}

// requestInterceptor tags each call with a request id, echoes it back in
// the response header, and converts engine errors to status errors.
func requestInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	reqID := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(rpc.RequestIDHeader); len(v) > 0 {
			reqID = v[0]
		}
	}
	if reqID == "" {
		reqID = "req_" + uuid.NewString()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(rpc.RequestIDHeader, reqID))

	resp, err := handler(engine.WithRequestID(ctx, reqID), req)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return resp, nil
}

// limitCategories maps mutating methods to their rate limit category.
var limitCategories = map[string]string{
	rpc.FullMethod(rpc.MethodRegisterIdentity): ratelimit.CategoryIdentity,
	rpc.FullMethod(rpc.MethodRegisterSubAgent): ratelimit.CategoryIdentity,
	rpc.FullMethod(rpc.MethodUpdateDelegation): ratelimit.CategoryIdentity,
	rpc.FullMethod(rpc.MethodRevokeIdentity):   ratelimit.CategoryIdentity,
	rpc.FullMethod(rpc.MethodPropose):          ratelimit.CategoryAgreement,
	rpc.FullMethod(rpc.MethodAddParty):         ratelimit.CategoryAgreement,
	rpc.FullMethod(rpc.MethodSign):             ratelimit.CategoryAgreement,
	rpc.FullMethod(rpc.MethodCancel):           ratelimit.CategoryAgreement,
	rpc.FullMethod(rpc.MethodFulfill):          ratelimit.CategoryAgreement,
	rpc.FullMethod(rpc.MethodClose):            ratelimit.CategoryAgreement,
	rpc.FullMethod(rpc.MethodCommitEscrow):     ratelimit.CategoryVault,
	rpc.FullMethod(rpc.MethodDeposit):          ratelimit.CategoryVault,
	rpc.FullMethod(rpc.MethodWithdraw):         ratelimit.CategoryVault,
}

// limitInterceptor refuses mutating calls over the signer's rate limit.
// Reads and calls without a valid signer pass through; the handler rejects
// the latter.
func (s *Server) limitInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	category, ok := limitCategories[info.FullMethod]
	if !ok {
		return handler(ctx, req)
	}
	k, err := signer(ctx)
	if err != nil {
		return handler(ctx, req)
	}
	if r := s.limiter.Allow(k.String(), category, time.Now()); r.Exceeded {
		return nil, rpc.RateLimited(r.Reason)
	}
	return handler(ctx, req)
}

// signer reads the acting key from call metadata.
func signer(ctx context.Context) (model.Key, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	v := md.Get(rpc.SignerHeader)
	if len(v) == 0 || v[0] == "" {
		return model.Key{}, status.Errorf(codes.InvalidArgument, "missing %s metadata", rpc.SignerHeader)
	}
	k, err := model.ParseKey(v[0])
	if err != nil {
		return model.Key{}, status.Errorf(codes.InvalidArgument, "%s: %v", rpc.SignerHeader, err)
	}
	return k, nil
}

func (s *Server) RegisterIdentity(ctx context.Context, req *rpc.RegisterIdentityRequest) (*rpc.IdentityResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.eng.RegisterIdentity(ctx, who, req.AgentKey, req.Metadata, req.Scope)
	if err != nil {
		return nil, err
	}
	return &rpc.IdentityResponse{Identity: id}, nil
}

func (s *Server) RegisterSubAgent(ctx context.Context, req *rpc.RegisterSubAgentRequest) (*rpc.IdentityResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.eng.RegisterSubAgent(ctx, who, req.ParentKey, req.SubKey, req.Metadata, req.Scope)
	if err != nil {
		return nil, err
	}
	return &rpc.IdentityResponse{Identity: id}, nil
}

func (s *Server) UpdateDelegation(ctx context.Context, req *rpc.UpdateDelegationRequest) (*rpc.IdentityResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.eng.UpdateDelegation(ctx, who, req.AgentKey, req.Scope)
	if err != nil {
		return nil, err
	}
	return &rpc.IdentityResponse{Identity: id}, nil
}

func (s *Server) RevokeIdentity(ctx context.Context, req *rpc.AgentRequest) (*rpc.Empty, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.eng.RevokeIdentity(ctx, who, req.AgentKey); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func (s *Server) Propose(ctx context.Context, req *rpc.ProposeRequest) (*rpc.AgreementResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.eng.Propose(ctx, who, lifecycle.ProposeParams(*req))
	if err != nil {
		return nil, err
	}
	return &rpc.AgreementResponse{Agreement: a}, nil
}

func (s *Server) AddParty(ctx context.Context, req *rpc.AddPartyRequest) (*rpc.PartyResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.eng.AddParty(ctx, who, req.AgreementID, req.Party, req.Role)
	if err != nil {
		return nil, err
	}
	return &rpc.PartyResponse{Party: p}, nil
}

func (s *Server) Sign(ctx context.Context, req *rpc.PartyRequest) (*rpc.SignResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.eng.Sign(ctx, who, req.AgreementID, req.Party)
	if err != nil {
		return nil, err
	}
	return &rpc.SignResponse{Agreement: out.Agreement, Party: out.Party, Activated: out.Activated}, nil
}

func (s *Server) Cancel(ctx context.Context, req *rpc.AgreementRequest) (*rpc.AgreementResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.eng.Cancel(ctx, who, req.AgreementID)
	if err != nil {
		return nil, err
	}
	return &rpc.AgreementResponse{Agreement: a}, nil
}

func (s *Server) Fulfill(ctx context.Context, req *rpc.PartyRequest) (*rpc.AgreementResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.eng.Fulfill(ctx, who, req.AgreementID, req.Party)
	if err != nil {
		return nil, err
	}
	return &rpc.AgreementResponse{Agreement: a}, nil
}

func (s *Server) Close(ctx context.Context, req *rpc.PartyRequest) (*rpc.CloseResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.eng.Close(ctx, who, req.AgreementID, req.Party)
	if err != nil {
		return nil, err
	}
	return &rpc.CloseResponse{AgreementDeleted: out.AgreementDeleted, Released: out.Released}, nil
}

func (s *Server) CommitEscrow(ctx context.Context, req *rpc.CommitEscrowRequest) (*rpc.PartyResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.eng.CommitEscrow(ctx, who, req.AgreementID, req.AgentKey, req.Amount)
	if err != nil {
		return nil, err
	}
	return &rpc.PartyResponse{Party: p}, nil
}

func (s *Server) Deposit(ctx context.Context, req *rpc.VaultRequest) (*rpc.VaultResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.eng.Deposit(ctx, who, req.AgentKey, req.Amount)
	if err != nil {
		return nil, err
	}
	return &rpc.VaultResponse{Vault: v}, nil
}

func (s *Server) Withdraw(ctx context.Context, req *rpc.VaultRequest) (*rpc.VaultResponse, error) {
	who, err := signer(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.eng.Withdraw(ctx, who, req.AgentKey, req.Amount)
	if err != nil {
		return nil, err
	}
	return &rpc.VaultResponse{Vault: v}, nil
}

// Reads need no signer.

func (s *Server) GetIdentity(ctx context.Context, req *rpc.AgentRequest) (*rpc.IdentityResponse, error) {
	id, err := s.eng.GetIdentity(ctx, req.AgentKey)
	if err != nil {
		return nil, err
	}
	return &rpc.IdentityResponse{Identity: id}, nil
}

func (s *Server) GetAgreement(ctx context.Context, req *rpc.AgreementRequest) (*rpc.AgreementViewResponse, error) {
	view, err := s.eng.GetAgreement(ctx, req.AgreementID)
	if err != nil {
		return nil, err
	}
	resp := rpc.AgreementViewResponse(view)
	return &resp, nil
}

func (s *Server) GetVault(ctx context.Context, req *rpc.AgentRequest) (*rpc.VaultResponse, error) {
	v, err := s.eng.GetVault(ctx, req.AgentKey)
	if err != nil {
		return nil, err
	}
	return &rpc.VaultResponse{Vault: v}, nil
}

func (s *Server) ListAgreements(ctx context.Context, req *rpc.ListAgreementsRequest) (*rpc.ListAgreementsResponse, error) {
	list, total, err := s.eng.ListAgreements(ctx, req.Filter())
	if err != nil {
		return nil, err
	}
	return &rpc.ListAgreementsResponse{Agreements: list, Total: total}, nil
}

func (s *Server) ListIdentities(ctx context.Context, req *rpc.ListIdentitiesRequest) (*rpc.ListIdentitiesResponse, error) {
	list, total, err := s.eng.ListIdentities(ctx, req.Filter())
	if err != nil {
		return nil, err
	}
	return &rpc.ListIdentitiesResponse{Identities: list, Total: total}, nil
}

func (s *Server) GetAgentStats(ctx context.Context, req *rpc.AgentRequest) (*rpc.AgentStatsResponse, error) {
	stats, err := s.eng.AgentStats(ctx, req.AgentKey)
	if err != nil {
		return nil, err
	}
	resp := rpc.AgentStatsResponse(stats)
	return &resp, nil
}
