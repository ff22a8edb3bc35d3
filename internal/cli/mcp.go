package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pactmcp "github.com/ppiankov/pactwatch/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs pactwatch as an MCP (Model Context Protocol) server over stdio.\n" +
		"Tools act as --signer against the server at --server: get, list, propose,\n" +
		"add-party, sign, fulfill, cancel.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "pactwatch MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Signer: %s\n", c.Signer())
	fmt.Fprintf(os.Stderr, "Server: %s\n\n", serverAddr)

	return pactmcp.New(c).Run(ctx)
}
