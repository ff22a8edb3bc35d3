package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"

	"github.com/ppiankov/pactwatch/internal/model"
)

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// statusLabel colors an agreement status for terminal output.
func statusLabel(s model.Status) string {
	switch s {
	case model.StatusActive, model.StatusFulfilled:
		return okMark(s.String())
	case model.StatusProposed:
		return warnMark(s.String())
	default:
		return failMark(s.String())
	}
}

func printAgreement(w io.Writer, a model.Agreement) {
	fmt.Fprintf(w, "%s %s\n", dim("agreement"), a.ID)
	fmt.Fprintf(w, "  status:     %s\n", statusLabel(a.Status))
	fmt.Fprintf(w, "  type:       %s (%s)\n", a.Type, a.Visibility)
	fmt.Fprintf(w, "  proposer:   %s\n", a.Proposer)
	fmt.Fprintf(w, "  signed:     %d/%d (added %d, closed %d)\n", a.NumSigned, a.NumParties, a.PartiesAdded, a.PartiesClosed)
	if a.EscrowTotal > 0 {
		fmt.Fprintf(w, "  escrow:     %d\n", a.EscrowTotal)
	}
	if a.TermsURI != "" {
		fmt.Fprintf(w, "  terms:      %s\n", a.TermsURI)
	}
	if a.ExpiresAt != 0 {
		fmt.Fprintf(w, "  expires_at: %d\n", a.ExpiresAt)
	}
}

func printParty(w io.Writer, p model.AgreementParty) {
	mark := warnMark("pending")
	if p.Signed {
		mark = okMark("signed")
	}
	fmt.Fprintf(w, "  %-12s %s %s", p.Role, p.Ref, mark)
	if p.EscrowDeposited > 0 {
		fmt.Fprintf(w, " escrow=%d", p.EscrowDeposited)
	}
	fmt.Fprintln(w)
}

func printIdentity(w io.Writer, id model.AgentIdentity) {
	fmt.Fprintf(w, "%s %s\n", dim("agent"), id.AgentKey)
	fmt.Fprintf(w, "  authority:  %s\n", id.Authority)
	if id.IsSubAgent() {
		fmt.Fprintf(w, "  parent:     %s\n", id.Parent)
	}
	fmt.Fprintf(w, "  sign:       %s\n", yesNo(id.Scope.CanSignAgreements))
	fmt.Fprintf(w, "  commit:     %s", yesNo(id.Scope.CanCommitFunds))
	if id.Scope.CanCommitFunds {
		if id.Scope.MaxCommitLamports == 0 {
			fmt.Fprint(w, " (unlimited)")
		} else {
			fmt.Fprintf(w, " (max %d)", id.Scope.MaxCommitLamports)
		}
	}
	fmt.Fprintln(w)
	if id.Scope.ExpiresAt != 0 {
		fmt.Fprintf(w, "  expires_at: %d\n", id.Scope.ExpiresAt)
	}
}

func printVault(w io.Writer, v model.Vault) {
	fmt.Fprintf(w, "%s %s\n", dim("vault"), v.Identity)
	fmt.Fprintf(w, "  deposited:  %d\n", v.TotalDeposited)
	fmt.Fprintf(w, "  withdrawn:  %d\n", v.TotalWithdrawn)
	fmt.Fprintf(w, "  committed:  %d\n", v.TotalCommitted)
	fmt.Fprintf(w, "  available:  %s\n", okMark(strconv.FormatUint(v.Available(), 10)))
}

func yesNo(b bool) string {
	if b {
		return okMark("yes")
	}
	return failMark("no")
}
