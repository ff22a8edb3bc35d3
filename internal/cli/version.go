package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	pactmcp "github.com/ppiankov/pactwatch/internal/mcp"
)

const version = "0.1.0"

func init() {
	rootCmd.AddCommand(versionCmd)
	pactmcp.Version = version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := map[string]string{
			"version": version,
			"name":    "pactwatch",
		}
		out, _ := json.MarshalIndent(info, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	},
}
