package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pactwatch/internal/audit"
)

var (
	tailLines int

	queryOp      string
	querySigner  string
	querySubject string
	queryFrom    string
	queryTo      string
	queryLast    int
	queryFormat  string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd, auditQueryCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")

	auditQueryCmd.Flags().StringVar(&queryOp, "op", "", "Operation name (e.g. sign, commit_escrow)")
	auditQueryCmd.Flags().StringVar(&querySigner, "by", "", "Signer key that made the call (hex)")
	auditQueryCmd.Flags().StringVar(&querySubject, "subject", "", "Agreement id or agent key (hex)")
	auditQueryCmd.Flags().StringVar(&queryFrom, "from", "", "Start time filter (RFC3339)")
	auditQueryCmd.Flags().StringVar(&queryTo, "to", "", "End time filter (RFC3339)")
	auditQueryCmd.Flags().IntVar(&queryLast, "last", 0, "Keep only the most recent N matches")
	auditQueryCmd.Flags().StringVarP(&queryFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent audit log entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query <path>",
	Short: "Filter the audit log and render a timeline",
	Long:  "Selects entries by operation, signer, subject and time range and renders\na timeline with an outcome summary.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditQuery,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries verified\n", okMark("OK"), result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s at line %d: %s\n", failMark("FAILED"), result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	result, err := audit.Query(args[0], audit.Filter{Last: tailLines})
	if err != nil {
		return err
	}
	for _, e := range result.Entries {
		if err := printJSON(cmd.OutOrStdout(), e); err != nil {
			return err
		}
	}
	return nil
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	filter := audit.Filter{
		Op:      queryOp,
		Signer:  querySigner,
		Subject: querySubject,
		Last:    queryLast,
	}
	if queryFrom != "" {
		from, err := time.Parse(time.RFC3339, queryFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", queryFrom, err)
		}
		filter.From = from
	}
	if queryTo != "" {
		to, err := time.Parse(time.RFC3339, queryTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", queryTo, err)
		}
		filter.To = to
	}

	result, err := audit.Query(args[0], filter)
	if err != nil {
		return err
	}

	if queryFormat == "json" || jsonOutput {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	return nil
}
