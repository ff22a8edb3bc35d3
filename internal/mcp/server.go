package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/pactwatch/internal/engine"
	"github.com/ppiankov/pactwatch/internal/lifecycle"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/rpc"
)

// Protocol is the subset of the pactwatch client the tools call. Every call
// acts as Signer(). *client.Client satisfies it.
type Protocol interface {
	Signer() model.Key
	GetIdentity(ctx context.Context, agentKey model.Key) (model.AgentIdentity, error)
	GetAgreement(ctx context.Context, id model.AgreementID) (engine.AgreementView, error)
	ListAgreements(ctx context.Context, req rpc.ListAgreementsRequest) (*rpc.ListAgreementsResponse, error)
	Propose(ctx context.Context, p lifecycle.ProposeParams) (model.Agreement, error)
	AddParty(ctx context.Context, id model.AgreementID, ref model.PartyRef, role model.Role) (model.AgreementParty, error)
	Sign(ctx context.Context, id model.AgreementID, ref model.PartyRef) (*rpc.SignResponse, error)
	Fulfill(ctx context.Context, id model.AgreementID, ref model.PartyRef) (model.Agreement, error)
	Cancel(ctx context.Context, id model.AgreementID) (model.Agreement, error)
}

// Version is reported in the MCP handshake.
var Version = "0.1.0"

// Server exposes agreement tools to an MCP client on behalf of one agent
// key.
type Server struct {
	mcpServer *mcpsdk.Server
	pact      Protocol
}

// New creates an MCP server whose tools call p.
func New(p Protocol) *Server {
	s := &Server{pact: p}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "pactwatch",
			Version: Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all pactwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pact_get_agreement",
		Description: "Fetch an agreement and its remaining party records by 32-character hex id.",
	}, s.handleGetAgreement)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pact_list_agreements",
		Description: "List agreements, newest first. Filter by status, type, visibility, or only those you are a party to.",
	}, s.handleListAgreements)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pact_get_agent",
		Description: "Show an agent identity and its delegation scope. Omit agent_key to inspect your own.",
	}, s.handleGetAgent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pact_propose",
		Description: "Propose a new agreement with you as proposer. Your signature is recorded immediately.",
	}, s.handlePropose)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pact_add_party",
		Description: "Add a party to an agreement you proposed. Only valid while the agreement is proposed.",
	}, s.handleAddParty)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pact_sign",
		Description: "Sign an agreement you are a party to. The final signature activates it.",
	}, s.handleSign)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pact_fulfill",
		Description: "Mark an active agreement you are a party to as fulfilled.",
	}, s.handleFulfill)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "pact_cancel",
		Description: "Cancel a proposed agreement you proposed.",
	}, s.handleCancel)
}
