package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pactwatch/internal/client"
	"github.com/ppiankov/pactwatch/internal/model"
)

// SignerEnv supplies --signer when the flag is not given.
const SignerEnv = "PACTWATCH_SIGNER"

var (
	serverAddr string
	signerHex  string
)

var rootCmd = &cobra.Command{
	Use:   "pactwatch",
	Short: "Multi-party agreement protocol for AI agents",
	Long: "Registers agent identities under human authorities, runs agreements through\n" +
		"propose, sign, activate and close, and tracks escrow committed from agent vaults.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:50051", "pactwatch gRPC server address")
	rootCmd.PersistentFlags().StringVar(&signerHex, "signer", "", "Signing key as 64 hex characters (default $"+SignerEnv+")")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signerKey resolves --signer, falling back to the environment.
func signerKey() (model.Key, error) {
	s := signerHex
	if s == "" {
		s = os.Getenv(SignerEnv)
	}
	if s == "" {
		return model.Key{}, fmt.Errorf("no signer: pass --signer or set %s", SignerEnv)
	}
	k, err := model.ParseKey(s)
	if err != nil {
		return model.Key{}, fmt.Errorf("invalid signer: %w", err)
	}
	return k, nil
}

// dial connects to --server as the resolved signer.
func dial() (*client.Client, error) {
	k, err := signerKey()
	if err != nil {
		return nil, err
	}
	return client.New(serverAddr, k)
}

// dialReadOnly connects without requiring a signer. Reads ignore it.
func dialReadOnly() (*client.Client, error) {
	k, err := signerKey()
	if err != nil {
		k = model.Key{}
	}
	return client.New(serverAddr, k)
}

// withClient runs fn against a client bound to the signer.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(context.Background(), c)
}

// withReader is withClient for read-only calls.
func withReader(fn func(ctx context.Context, c *client.Client) error) error {
	c, err := dialReadOnly()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(context.Background(), c)
}
