package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pactwatch.v1.ProtocolService"

// Metadata keys.
const (
	SignerHeader    = "x-pactwatch-signer"
	RequestIDHeader = "x-request-id"
)

// Method names.
const (
	MethodRegisterIdentity = "RegisterIdentity"
	MethodRegisterSubAgent = "RegisterSubAgent"
	MethodUpdateDelegation = "UpdateDelegation"
	MethodRevokeIdentity   = "RevokeIdentity"
	MethodPropose          = "Propose"
	MethodAddParty         = "AddParty"
	MethodSign             = "Sign"
	MethodCancel           = "Cancel"
	MethodFulfill          = "Fulfill"
	MethodClose            = "Close"
	MethodCommitEscrow     = "CommitEscrow"
	MethodDeposit          = "Deposit"
	MethodWithdraw         = "Withdraw"
	MethodGetIdentity      = "GetIdentity"
	MethodGetAgreement     = "GetAgreement"
	MethodGetVault         = "GetVault"
	MethodListAgreements   = "ListAgreements"
	MethodListIdentities   = "ListIdentities"
	MethodGetAgentStats    = "GetAgentStats"
)

// FullMethod returns the /service/method path for name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ProtocolServer is implemented by the gRPC server.
type ProtocolServer interface {
	RegisterIdentity(context.Context, *RegisterIdentityRequest) (*IdentityResponse, error)
	RegisterSubAgent(context.Context, *RegisterSubAgentRequest) (*IdentityResponse, error)
	UpdateDelegation(context.Context, *UpdateDelegationRequest) (*IdentityResponse, error)
	RevokeIdentity(context.Context, *AgentRequest) (*Empty, error)
	Propose(context.Context, *ProposeRequest) (*AgreementResponse, error)
	AddParty(context.Context, *AddPartyRequest) (*PartyResponse, error)
	Sign(context.Context, *PartyRequest) (*SignResponse, error)
	Cancel(context.Context, *AgreementRequest) (*AgreementResponse, error)
	Fulfill(context.Context, *PartyRequest) (*AgreementResponse, error)
	Close(context.Context, *PartyRequest) (*CloseResponse, error)
	CommitEscrow(context.Context, *CommitEscrowRequest) (*PartyResponse, error)
	Deposit(context.Context, *VaultRequest) (*VaultResponse, error)
	Withdraw(context.Context, *VaultRequest) (*VaultResponse, error)
	GetIdentity(context.Context, *AgentRequest) (*IdentityResponse, error)
	GetAgreement(context.Context, *AgreementRequest) (*AgreementViewResponse, error)
	GetVault(context.Context, *AgentRequest) (*VaultResponse, error)
	ListAgreements(context.Context, *ListAgreementsRequest) (*ListAgreementsResponse, error)
	ListIdentities(context.Context, *ListIdentitiesRequest) (*ListIdentitiesResponse, error)
	GetAgentStats(context.Context, *AgentRequest) (*AgentStatsResponse, error)
}

// ServiceDesc describes ProtocolService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProtocolServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRegisterIdentity, ProtocolServer.RegisterIdentity),
		unary(MethodRegisterSubAgent, ProtocolServer.RegisterSubAgent),
		unary(MethodUpdateDelegation, ProtocolServer.UpdateDelegation),
		unary(MethodRevokeIdentity, ProtocolServer.RevokeIdentity),
		unary(MethodPropose, ProtocolServer.Propose),
		unary(MethodAddParty, ProtocolServer.AddParty),
		unary(MethodSign, ProtocolServer.Sign),
		unary(MethodCancel, ProtocolServer.Cancel),
		unary(MethodFulfill, ProtocolServer.Fulfill),
		unary(MethodClose, ProtocolServer.Close),
		unary(MethodCommitEscrow, ProtocolServer.CommitEscrow),
		unary(MethodDeposit, ProtocolServer.Deposit),
		unary(MethodWithdraw, ProtocolServer.Withdraw),
		unary(MethodGetIdentity, ProtocolServer.GetIdentity),
		unary(MethodGetAgreement, ProtocolServer.GetAgreement),
		unary(MethodGetVault, ProtocolServer.GetVault),
		unary(MethodListAgreements, ProtocolServer.ListAgreements),
		unary(MethodListIdentities, ProtocolServer.ListIdentities),
		unary(MethodGetAgentStats, ProtocolServer.GetAgentStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pactwatch/v1/protocol.proto",
}

// RegisterProtocolServer attaches srv to s.
func RegisterProtocolServer(s grpc.ServiceRegistrar, srv ProtocolServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds the method descriptor for one request/response call,
// running the server's interceptor chain the same way generated code does.
func unary[Req, Resp any](name string, call func(ProtocolServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ProtocolServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ProtocolServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Invoke calls one method on cc with the protobuf wire codec.
func Invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
