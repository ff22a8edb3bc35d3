package cli

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/pactwatch/internal/client"
	"github.com/ppiankov/pactwatch/internal/lifecycle"
	"github.com/ppiankov/pactwatch/internal/model"
	"github.com/ppiankov/pactwatch/internal/rpc"
)

var (
	proposeID         string
	proposeType       string
	proposeVisibility string
	proposeParties    int
	proposeTermsFile  string
	proposeTermsHash  string
	proposeTermsURI   string
	proposeExpiresIn  time.Duration

	addPartyRole   string
	addPartyDirect bool

	// Party selection for sign, fulfill and close.
	actParty  string
	actDirect bool

	listStatus     string
	listType       string
	listVisibility string
	listParty      string
	listMine       bool
	listLimit      int
	listOffset     int
)

func init() {
	rootCmd.AddCommand(agreementCmd)
	agreementCmd.AddCommand(
		proposeCmd, addPartyCmd, signCmd, cancelCmd, fulfillCmd, closeCmd,
		escrowCmd, agreementShowCmd, agreementListCmd,
	)

	proposeCmd.Flags().StringVar(&proposeID, "id", "", "Agreement id as 32 hex characters (default random)")
	proposeCmd.Flags().StringVar(&proposeType, "type", "safe", "safe | service | revenue_share | joint_venture | custom")
	proposeCmd.Flags().StringVar(&proposeVisibility, "visibility", "public", "public | private")
	proposeCmd.Flags().IntVarP(&proposeParties, "parties", "n", 2, "Total parties including the proposer (2-8)")
	proposeCmd.Flags().StringVar(&proposeTermsFile, "terms-file", "", "Hash this file as the terms document")
	proposeCmd.Flags().StringVar(&proposeTermsHash, "terms-hash", "", "SHA-256 of the terms document (64 hex)")
	proposeCmd.Flags().StringVar(&proposeTermsURI, "terms-uri", "", "Where the terms live (truncated to 64 bytes)")
	proposeCmd.Flags().DurationVar(&proposeExpiresIn, "expires-in", 0, "Signing deadline from now (0 = never)")

	addPartyCmd.Flags().StringVar(&addPartyRole, "role", "counterparty", "counterparty | witness | arbitrator")
	addPartyCmd.Flags().BoolVar(&addPartyDirect, "direct", false, "Add a bare key with no registered identity")

	for _, c := range []*cobra.Command{signCmd, fulfillCmd, closeCmd} {
		c.Flags().StringVar(&actParty, "party", "", "Party key to act for (default the signer)")
		c.Flags().BoolVar(&actDirect, "direct", false, "The party is a direct key, not an identity")
	}

	agreementListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	agreementListCmd.Flags().StringVar(&listType, "type", "", "Filter by agreement type")
	agreementListCmd.Flags().StringVar(&listVisibility, "visibility", "", "Filter by visibility")
	agreementListCmd.Flags().StringVar(&listParty, "party", "", "Only agreements where this key holds a party record")
	agreementListCmd.Flags().BoolVar(&listMine, "mine", false, "Only agreements where the signer holds a party record")
	agreementListCmd.Flags().IntVar(&listLimit, "limit", 0, "Page size (default 50, max 200)")
	agreementListCmd.Flags().IntVar(&listOffset, "offset", 0, "Records to skip")
}

var agreementCmd = &cobra.Command{
	Use:     "agreement",
	Aliases: []string{"pact"},
	Short:   "Propose, sign and close agreements",
}

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose an agreement with the signer's identity as proposer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := proposeParams()
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			a, err := c.Propose(ctx, p)
			if err != nil {
				return err
			}
			return showAgreement(cmd, a, nil)
		})
	},
}

func proposeParams() (lifecycle.ProposeParams, error) {
	if proposeParties < 0 || proposeParties > 255 {
		return lifecycle.ProposeParams{}, fmt.Errorf("--parties %d out of range", proposeParties)
	}
	p := lifecycle.ProposeParams{
		ID:         model.AgreementID(uuid.New()),
		TermsURI:   proposeTermsURI,
		NumParties: uint8(proposeParties),
	}
	if proposeID != "" {
		id, err := model.ParseAgreementID(proposeID)
		if err != nil {
			return p, err
		}
		p.ID = id
	}
	if err := p.Type.UnmarshalText([]byte(proposeType)); err != nil {
		return p, err
	}
	if err := p.Visibility.UnmarshalText([]byte(proposeVisibility)); err != nil {
		return p, err
	}
	switch {
	case proposeTermsFile != "" && proposeTermsHash != "":
		return p, fmt.Errorf("--terms-file and --terms-hash are mutually exclusive")
	case proposeTermsFile != "":
		data, err := os.ReadFile(proposeTermsFile)
		if err != nil {
			return p, fmt.Errorf("read terms: %w", err)
		}
		p.TermsHash = model.Digest(sha256.Sum256(data))
	case proposeTermsHash != "":
		d, err := model.ParseDigest(proposeTermsHash)
		if err != nil {
			return p, err
		}
		p.TermsHash = d
	}
	if proposeExpiresIn > 0 {
		p.ExpiresAt = time.Now().Add(proposeExpiresIn).Unix()
	}
	return p, nil
}

var addPartyCmd = &cobra.Command{
	Use:   "add-party <agreement-id> <party-key>",
	Short: "Add a party to a proposed agreement (proposer only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseAgreementID(args[0])
		if err != nil {
			return err
		}
		key, err := model.ParseKey(args[1])
		if err != nil {
			return err
		}
		role, err := model.ParseRole(addPartyRole)
		if err != nil {
			return err
		}
		ref := model.IdentityRef(key)
		if addPartyDirect {
			ref = model.DirectRef(key)
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			p, err := c.AddParty(ctx, id, ref, role)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), p)
			}
			printParty(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

// partyRef picks the party an act command works on.
func partyRef(signer model.Key) (model.PartyRef, error) {
	key := signer
	if actParty != "" {
		k, err := model.ParseKey(actParty)
		if err != nil {
			return model.PartyRef{}, err
		}
		key = k
	}
	if actDirect {
		return model.DirectRef(key), nil
	}
	return model.IdentityRef(key), nil
}

var signCmd = &cobra.Command{
	Use:   "sign <agreement-id>",
	Short: "Sign as a party; the last signature activates the agreement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseAgreementID(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			ref, err := partyRef(c.Signer())
			if err != nil {
				return err
			}
			res, err := c.Sign(ctx, id, ref)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printAgreement(cmd.OutOrStdout(), res.Agreement)
			if res.Activated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s all parties signed; agreement is active\n", okMark("ACTIVE"))
			}
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <agreement-id>",
	Short: "Cancel a proposed agreement (proposer or its authority)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseAgreementID(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			a, err := c.Cancel(ctx, id)
			if err != nil {
				return err
			}
			return showAgreement(cmd, a, nil)
		})
	},
}

var fulfillCmd = &cobra.Command{
	Use:   "fulfill <agreement-id>",
	Short: "Mark an active agreement fulfilled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseAgreementID(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			ref, err := partyRef(c.Signer())
			if err != nil {
				return err
			}
			a, err := c.Fulfill(ctx, id, ref)
			if err != nil {
				return err
			}
			return showAgreement(cmd, a, nil)
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <agreement-id>",
	Short: "Close a party record on a finished agreement and release its escrow",
	Long: "Removes the party's record from a fulfilled or cancelled agreement and\n" +
		"returns any escrow it committed to the owning vault. The agreement itself\n" +
		"is deleted when its last party closes.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseAgreementID(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			ref, err := partyRef(c.Signer())
			if err != nil {
				return err
			}
			res, err := c.CloseParty(ctx, id, ref)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s closed %s on %s", okMark("OK"), ref, id)
			if res.Released > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", released %d", res.Released)
			}
			if res.AgreementDeleted {
				fmt.Fprint(cmd.OutOrStdout(), ", agreement removed")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		})
	},
}

var escrowCmd = &cobra.Command{
	Use:   "escrow <agreement-id> <agent-key> <amount>",
	Short: "Commit vault funds to an agreement's escrow",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseAgreementID(args[0])
		if err != nil {
			return err
		}
		agentKey, err := model.ParseKey(args[1])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[2])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			p, err := c.CommitEscrow(ctx, id, agentKey, amount)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), p)
			}
			printParty(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

var agreementShowCmd = &cobra.Command{
	Use:   "show <agreement-id>",
	Short: "Show an agreement and its party records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseAgreementID(args[0])
		if err != nil {
			return err
		}
		return withReader(func(ctx context.Context, c *client.Client) error {
			view, err := c.GetAgreement(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), view)
			}
			return showAgreement(cmd, view.Agreement, view.Parties)
		})
	},
}

var agreementListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agreements, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := listRequest()
		if err != nil {
			return err
		}
		dialer := withReader
		if listMine {
			dialer = withClient
		}
		return dialer(func(ctx context.Context, c *client.Client) error {
			if listMine {
				me := c.Signer()
				req.Party = &me
			}
			resp, err := c.ListAgreements(ctx, req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			w := cmd.OutOrStdout()
			for _, a := range resp.Agreements {
				fmt.Fprintf(w, "%s  %-10s %-13s %d/%d  %s\n",
					a.ID, statusLabel(a.Status), a.Type, a.NumSigned, a.NumParties, dim(a.Visibility.String()))
			}
			fmt.Fprintf(w, "%s\n", dim(fmt.Sprintf("%d of %d", len(resp.Agreements), resp.Total)))
			return nil
		})
	},
}

func listRequest() (rpc.ListAgreementsRequest, error) {
	req := rpc.ListAgreementsRequest{Limit: listLimit, Offset: listOffset}
	if listStatus != "" {
		st, err := model.ParseStatus(listStatus)
		if err != nil {
			return req, err
		}
		req.Status = &st
	}
	if listType != "" {
		var t model.AgreementType
		if err := t.UnmarshalText([]byte(listType)); err != nil {
			return req, err
		}
		req.Type = &t
	}
	if listVisibility != "" {
		var v model.Visibility
		if err := v.UnmarshalText([]byte(listVisibility)); err != nil {
			return req, err
		}
		req.Visibility = &v
	}
	if listParty != "" {
		if listMine {
			return req, fmt.Errorf("--party and --mine are mutually exclusive")
		}
		k, err := model.ParseKey(listParty)
		if err != nil {
			return req, err
		}
		req.Party = &k
	}
	return req, nil
}

func showAgreement(cmd *cobra.Command, a model.Agreement, parties []model.AgreementParty) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), a)
	}
	printAgreement(cmd.OutOrStdout(), a)
	for _, p := range parties {
		printParty(cmd.OutOrStdout(), p)
	}
	return nil
}
