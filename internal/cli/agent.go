package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pactwatch/internal/client"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/rpc"
)

// scopeFlags collects a delegation scope from the command line.
type scopeFlags struct {
	sign      bool
	commit    bool
	maxCommit uint64
	expiresIn time.Duration
	expiresAt int64
	metadata  string
}

func (f *scopeFlags) register(cmd *cobra.Command, withMetadata bool) {
	cmd.Flags().BoolVar(&f.sign, "sign", true, "Allow signing agreements")
	cmd.Flags().BoolVar(&f.commit, "commit", false, "Allow committing vault funds to escrow")
	cmd.Flags().Uint64Var(&f.maxCommit, "max-commit", 0, "Largest single escrow commitment (0 = unlimited)")
	cmd.Flags().DurationVar(&f.expiresIn, "expires-in", 0, "Scope lifetime from now (e.g. 720h)")
	cmd.Flags().Int64Var(&f.expiresAt, "expires-at", 0, "Scope expiry as unix seconds (0 = never)")
	if withMetadata {
		cmd.Flags().StringVar(&f.metadata, "metadata", "", "SHA-256 of the agent metadata document (64 hex)")
	}
}

func (f *scopeFlags) scope() (model.DelegationScope, error) {
	if f.expiresIn != 0 && f.expiresAt != 0 {
		return model.DelegationScope{}, fmt.Errorf("--expires-in and --expires-at are mutually exclusive")
	}
	s := model.DelegationScope{
		CanSignAgreements: f.sign,
		CanCommitFunds:    f.commit,
		MaxCommitLamports: f.maxCommit,
		ExpiresAt:         f.expiresAt,
	}
	if f.expiresIn > 0 {
		s.ExpiresAt = time.Now().Add(f.expiresIn).Unix()
	}
	return s, nil
}

func (f *scopeFlags) metadataHash() (model.Digest, error) {
	if f.metadata == "" {
		return model.Digest{}, nil
	}
	return model.ParseDigest(f.metadata)
}

var (
	registerScope scopeFlags
	subScope      scopeFlags
	updateScope   scopeFlags

	agentListAuthority string
	agentListLimit     int
	agentListOffset    int
)

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentRegisterCmd, agentSubCmd, agentUpdateCmd, agentRevokeCmd, agentShowCmd, agentListCmd, agentStatsCmd)
	agentListCmd.Flags().StringVar(&agentListAuthority, "authority", "", "Only identities owned by this authority key")
	agentListCmd.Flags().IntVar(&agentListLimit, "limit", 0, "Page size (default 50, max 200)")
	agentListCmd.Flags().IntVar(&agentListOffset, "offset", 0, "Skip this many identities")
	registerScope.register(agentRegisterCmd, true)
	subScope.register(agentSubCmd, true)
	updateScope.register(agentUpdateCmd, false)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Agent identities and delegation",
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register <agent-key>",
	Short: "Register an agent identity with the signer as authority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentKey, err := model.ParseKey(args[0])
		if err != nil {
			return err
		}
		scope, err := registerScope.scope()
		if err != nil {
			return err
		}
		meta, err := registerScope.metadataHash()
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			id, err := c.RegisterIdentity(ctx, agentKey, meta, scope)
			if err != nil {
				return err
			}
			return showIdentity(cmd, id)
		})
	},
}

var agentSubCmd = &cobra.Command{
	Use:   "sub <parent-key> <sub-key>",
	Short: "Delegate a sub-agent from a root identity",
	Long:  "The signer must be the parent's agent key. The sub-agent's scope must\nnarrow the parent's: no new capabilities, no larger commit ceiling, no later expiry.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, err := model.ParseKey(args[0])
		if err != nil {
			return err
		}
		sub, err := model.ParseKey(args[1])
		if err != nil {
			return err
		}
		scope, err := subScope.scope()
		if err != nil {
			return err
		}
		meta, err := subScope.metadataHash()
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			id, err := c.RegisterSubAgent(ctx, parent, sub, meta, scope)
			if err != nil {
				return err
			}
			return showIdentity(cmd, id)
		})
	},
}

var agentUpdateCmd = &cobra.Command{
	Use:   "update <agent-key>",
	Short: "Replace an identity's delegation scope (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentKey, err := model.ParseKey(args[0])
		if err != nil {
			return err
		}
		scope, err := updateScope.scope()
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			id, err := c.UpdateDelegation(ctx, agentKey, scope)
			if err != nil {
				return err
			}
			return showIdentity(cmd, id)
		})
	},
}

var agentRevokeCmd = &cobra.Command{
	Use:   "revoke <agent-key>",
	Short: "Delete an identity (authority only)",
	Long:  "Sub-agents of the revoked identity are not removed. Vault funds stay\nwithdrawable by the authority.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentKey, err := model.ParseKey(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.RevokeIdentity(ctx, agentKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s revoked %s\n", okMark("OK"), agentKey)
			return nil
		})
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agent-key>",
	Short: "Show an identity and its delegation scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentKey, err := model.ParseKey(args[0])
		if err != nil {
			return err
		}
		return withReader(func(ctx context.Context, c *client.Client) error {
			id, err := c.GetIdentity(ctx, agentKey)
			if err != nil {
				return err
			}
			return showIdentity(cmd, id)
		})
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := rpc.ListIdentitiesRequest{Limit: agentListLimit, Offset: agentListOffset}
		if agentListAuthority != "" {
			k, err := model.ParseKey(agentListAuthority)
			if err != nil {
				return err
			}
			req.Authority = &k
		}
		return withReader(func(ctx context.Context, c *client.Client) error {
			resp, err := c.ListIdentities(ctx, req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			w := cmd.OutOrStdout()
			for _, id := range resp.Identities {
				fmt.Fprintf(w, "%s  %s  %s\n", id.AgentKey, dim("authority"), id.Authority)
			}
			fmt.Fprintf(w, "%s\n", dim(fmt.Sprintf("%d of %d", len(resp.Identities), resp.Total)))
			return nil
		})
	},
}

var agentStatsCmd = &cobra.Command{
	Use:   "stats <agent-key>",
	Short: "Count the agreements and escrow an agent holds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentKey, err := model.ParseKey(args[0])
		if err != nil {
			return err
		}
		return withReader(func(ctx context.Context, c *client.Client) error {
			stats, err := c.AgentStats(ctx, agentKey)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Agent:       %s\n", stats.AgentKey)
			fmt.Fprintf(w, "Agreements:  %d\n", stats.TotalAgreements)
			fmt.Fprintf(w, "Active:      %d\n", stats.ActiveCount)
			fmt.Fprintf(w, "Fulfilled:   %d\n", stats.FulfilledCount)
			fmt.Fprintf(w, "Escrow:      %d\n", stats.EscrowVolume)
			return nil
		})
	},
}

func showIdentity(cmd *cobra.Command, id model.AgentIdentity) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), id)
	}
	printIdentity(cmd.OutOrStdout(), id)
	return nil
}
