package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pactwatch/internal/config"
)

var (
	initMode  string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.pactwatch) or system (/etc/pactwatch)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap pactwatch configuration",
	Long: `Creates the config directory and a commented config.yaml.

User mode (default):  writes to ~/.pactwatch/
System mode:          writes to /etc/pactwatch/ (requires root)`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, "config.yaml")
	wrote, err := writeIfMissing(configPath, config.DefaultConfigYAML())
	if err != nil {
		return err
	}

	fmt.Println("pactwatch init complete.")
	fmt.Println()
	if wrote {
		fmt.Println("Created:")
		fmt.Printf("  %s\n", configPath)
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
	}
	fmt.Println()

	fmt.Println("Start the server:")
	if initMode == "system" {
		fmt.Printf("  pactwatch serve --config %s\n", configPath)
	} else {
		fmt.Println("  pactwatch serve")
	}
	fmt.Println()
	fmt.Println("Register an agent under your key:")
	fmt.Println("  pactwatch --signer <authority-hex> agent register <agent-hex>")
	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/pactwatch", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".pactwatch"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
