package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitvault/internal/client"
	"github.com/alfredjeanlab/splitvault/internal/model"
)

// parseRecipient parses "id:address:percent:asset". The address may itself
// contain colons, so id is cut from the left and percent and asset from the
// right.
func parseRecipient(s string) (model.Recipient, error) {
	id, rest, ok := strings.Cut(s, ":")
	if !ok {
		return model.Recipient{}, fmt.Errorf("recipient %q: want id:address:percent:asset", s)
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return model.Recipient{}, fmt.Errorf("recipient %q: want id:address:percent:asset", s)
	}
	asset := rest[i+1:]
	rest = rest[:i]
	j := strings.LastIndex(rest, ":")
	if j < 0 {
		return model.Recipient{}, fmt.Errorf("recipient %q: want id:address:percent:asset", s)
	}
	address, pctStr := rest[:j], rest[j+1:]

	pct, err := decimal.NewFromString(strings.TrimSuffix(pctStr, "%"))
	if err != nil {
		return model.Recipient{}, fmt.Errorf("recipient %q: invalid percentage %q", s, pctStr)
	}
	if id == "" || address == "" || asset == "" {
		return model.Recipient{}, fmt.Errorf("recipient %q: id, address and asset are required", s)
	}
	return model.Recipient{ID: id, Address: address, Percentage: pct, TargetAsset: strings.ToLower(asset)}, nil
}

var proposeCmd = &cobra.Command{
	Use:     "propose <vault-id>",
	Short:   "Propose how a vault's funds are split on unlock",
	GroupID: "unlock",
	Example: `  sv propose vlt-abc --to r1:bc1qxyz:60:btc --to r2:0xdef:40:eth`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetStringArray("to")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		req := &client.CreateProposalRequest{CreatedBy: actor}
		for _, arg := range to {
			r, err := parseRecipient(arg)
			if err != nil {
				return err
			}
			req.Recipients = append(req.Recipients, r)
		}
		if ttl > 0 {
			req.TTL = ttl.String()
		}

		p, err := svClient.CreateProposal(context.Background(), args[0], req)
		if err != nil {
			return fmt.Errorf("creating proposal: %w", err)
		}
		return emit(cmd.OutOrStdout(), p, func(w io.Writer) { printProposal(w, p) })
	},
}

var proposalCmd = &cobra.Command{
	Use:     "proposal <proposal-id>",
	Short:   "Show an unlock proposal",
	GroupID: "unlock",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := svClient.GetProposal(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting proposal %s: %w", args[0], err)
		}
		return emit(cmd.OutOrStdout(), p, func(w io.Writer) { printProposal(w, p) })
	},
}

var approveCmd = &cobra.Command{
	Use:     "approve <proposal-id>",
	Short:   "Approve an unlock proposal as a key holder",
	GroupID: "unlock",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		holder, _ := cmd.Flags().GetString("holder")
		if holder == "" {
			holder = actor
		}
		res, err := svClient.Approve(context.Background(), args[0], holder)
		if err != nil {
			return fmt.Errorf("approving %s: %w", args[0], err)
		}
		return emit(cmd.OutOrStdout(), res, func(w io.Writer) { printApproval(w, res) })
	},
}

var cancelCmd = &cobra.Command{
	Use:     "cancel <proposal-id>",
	Short:   "Withdraw an unlock proposal",
	GroupID: "unlock",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := svClient.CancelProposal(context.Background(), args[0], actor); err != nil {
			return fmt.Errorf("cancelling %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"cancelled": args[0]})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
		return nil
	},
}

func init() {
	proposeCmd.Flags().StringArray("to", nil, "recipient as id:address:percent:asset (repeatable, required)")
	proposeCmd.Flags().Duration("ttl", 0, "approval window (server default when unset)")
	_ = proposeCmd.MarkFlagRequired("to")

	approveCmd.Flags().String("holder", "", "key holder id (defaults to --actor)")
}
