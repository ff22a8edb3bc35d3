package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pactwatch/internal/client"
	"github.com/ppiankov/pactwatch/internal/model"
)

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.AddCommand(depositCmd, withdrawCmd, vaultShowCmd)
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Agent vault balances",
	Long:  "Each identity has one vault. Deposits and withdrawals are signed by the\nidentity's authority; committed escrow is not withdrawable until released.",
}

var depositCmd = &cobra.Command{
	Use:   "deposit <agent-key> <amount>",
	Short: "Deposit into an agent's vault (authority only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vaultOp(cmd, args, (*client.Client).Deposit)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <agent-key> <amount>",
	Short: "Withdraw uncommitted funds from an agent's vault (authority only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vaultOp(cmd, args, (*client.Client).Withdraw)
	},
}

func vaultOp(cmd *cobra.Command, args []string, call func(*client.Client, context.Context, model.Key, uint64) (model.Vault, error)) error {
	agentKey, err := model.ParseKey(args[0])
	if err != nil {
		return err
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *client.Client) error {
		v, err := call(c, ctx, agentKey, amount)
		if err != nil {
			return err
		}
		return showVault(cmd, v)
	})
}

var vaultShowCmd = &cobra.Command{
	Use:   "show <agent-key>",
	Short: "Show an agent's vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentKey, err := model.ParseKey(args[0])
		if err != nil {
			return err
		}
		return withReader(func(ctx context.Context, c *client.Client) error {
			v, err := c.GetVault(ctx, agentKey)
			if err != nil {
				return err
			}
			return showVault(cmd, v)
		})
	},
}

func showVault(cmd *cobra.Command, v model.Vault) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"vault": v, "available": v.Available()})
	}
	printVault(cmd.OutOrStdout(), v)
	return nil
}

func parseAmount(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return n, nil
}
