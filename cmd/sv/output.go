package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/splitvault/internal/client"
	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/swap"
	"github.com/alfredjeanlab/splitvault/internal/sweeper"
	"github.com/alfredjeanlab/splitvault/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// emit prints v as JSON when --json is set and otherwise calls human.
func emit(w io.Writer, v any, human func(io.Writer)) error {
	if jsonOutput {
		return printJSON(w, v)
	}
	human(w)
	return nil
}

func printVault(w io.Writer, v *model.Vault) {
	fmt.Fprintf(w, "ID:          %s\n", v.ID)
	fmt.Fprintf(w, "Status:      %s\n", ui.RenderStatus(string(v.Status)))
	fmt.Fprintf(w, "Asset:       %s\n", v.SourceAsset)
	fmt.Fprintf(w, "Deposits:    %s\n", v.TotalDeposits)
	if v.DepositAddress != "" {
		fmt.Fprintf(w, "Address:     %s\n", v.DepositAddress)
	}
	if v.RefundAddress != "" {
		fmt.Fprintf(w, "Refund To:   %s\n", v.RefundAddress)
	}
	fmt.Fprintf(w, "Quorum:      %d of %d (%s)\n", v.Threshold, len(v.KeyHolders), strings.Join(v.KeyHolders, ", "))
	if v.ActiveProposalID != "" {
		fmt.Fprintf(w, "Proposal:    %s\n", v.ActiveProposalID)
	}
	if v.CreatedBy != "" {
		fmt.Fprintf(w, "Created By:  %s\n", v.CreatedBy)
	}
	fmt.Fprintf(w, "Created At:  %s\n", v.CreatedAt.Format(timeLayout))
	fmt.Fprintf(w, "Expires At:  %s\n", v.ExpiresAt.Format(timeLayout))
	if v.DestroyedAt != nil {
		fmt.Fprintf(w, "Destroyed:   %s\n", v.DestroyedAt.Format(timeLayout))
	}
	if v.Run != nil {
		fmt.Fprintf(w, "\nUnlock run %d (%s):\n", v.Run.Generation, v.Run.Reason)
		printRecords(w, v.Run.Records)
	}
	if v.Summary != nil {
		fmt.Fprintf(w, "\nRouted %s %s (%s)\n", v.Summary.TotalRouted, v.Summary.SourceAsset, v.Summary.Reason)
		if len(v.Summary.FailedRecipients) > 0 {
			fmt.Fprintf(w, "%s %s\n", ui.RenderFail("Failed:"), strings.Join(v.Summary.FailedRecipients, ", "))
		}
	}
}

func printRecords(w io.Writer, records []model.RecipientRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  RECIPIENT\tAMOUNT\tASSET\tKIND\tSTATUS\tATTEMPTS\tSHIFT")
	for _, r := range records {
		status := ui.RenderStatus(string(r.Status))
		if r.Degraded {
			status += " " + ui.RenderWarn("(degraded)")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RecipientID, r.Amount, r.TargetAsset, r.Kind, status, r.Attempts, r.ShiftID)
	}
	tw.Flush()
}

func printVaultList(w io.Writer, vaults []*model.Vault) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tASSET\tDEPOSITS\tQUORUM\tEXPIRES")
	for _, v := range vaults {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			v.ID,
			ui.RenderStatus(string(v.Status)),
			v.SourceAsset,
			v.TotalDeposits,
			v.Threshold,
			len(v.KeyHolders),
			v.ExpiresAt.Format(timeLayout),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d vaults\n", len(vaults))
}

func printProposal(w io.Writer, p *model.Proposal) {
	fmt.Fprintf(w, "ID:          %s\n", p.ID)
	fmt.Fprintf(w, "Vault:       %s\n", p.VaultID)
	fmt.Fprintf(w, "Approvals:   %d of %d", len(p.Approvals), p.Threshold)
	if len(p.Approvals) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(p.Approvals, ", "))
	}
	fmt.Fprintln(w)
	if p.HasQuorum() {
		fmt.Fprintf(w, "Quorum:      %s at %s\n", ui.RenderPass("reached"), p.QuorumReachedAt.Format(timeLayout))
	}
	fmt.Fprintf(w, "Expires At:  %s\n", p.ExpiresAt.Format(timeLayout))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\n  RECIPIENT\tSHARE\tASSET\tADDRESS")
	for _, r := range p.Recipients {
		fmt.Fprintf(tw, "  %s\t%s%%\t%s\t%s\n", r.ID, r.Percentage, r.TargetAsset, r.Address)
	}
	tw.Flush()
}

func printApproval(w io.Writer, res *client.ApprovalResult) {
	fmt.Fprintf(w, "Approved %s: %d of %d\n", res.Proposal.ID, res.Count, res.Threshold)
	if res.QuorumJustMet {
		fmt.Fprintf(w, "%s vault %s is ready to unlock\n", ui.RenderPass("Quorum reached:"), res.Proposal.VaultID)
	}
}

func printDeposits(w io.Writer, deposits []*model.Deposit) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAMOUNT\tTOTAL\tDEPOSITOR\tREFUND TO\tAT")
	for _, d := range deposits {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Amount, d.Total, d.Depositor, d.RefundAddress, d.CreatedAt.Format(timeLayout))
	}
	tw.Flush()
}

func printEvents(w io.Writer, evts []*model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tTOPIC\tACTOR")
	for _, e := range evts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			e.CreatedAt.Format(timeLayout),
			strings.TrimPrefix(e.Topic, "splitvault."),
			e.Actor,
		)
	}
	tw.Flush()
}

func printShift(w io.Writer, sh *swap.Shift) {
	fmt.Fprintf(w, "ID:          %s\n", sh.ID)
	fmt.Fprintf(w, "Status:      %s\n", sh.Status)
	fmt.Fprintf(w, "Deposit:     %s to %s\n", sh.DepositAmount, sh.DepositAddress)
	fmt.Fprintf(w, "Settle:      %s\n", sh.SettleAmount)
	if sh.Degraded {
		fmt.Fprintf(w, "Mode:        %s\n", ui.RenderWarn("degraded"))
	}
}

func printSweepReport(w io.Writer, r *sweeper.Report) {
	fmt.Fprintf(w, "Proposals expired:  %d (skipped %d)\n", r.ProposalsExpired, r.ProposalsSkipped)
	fmt.Fprintf(w, "Vaults destroyed:   %d\n", r.VaultsDestroyed)
	fmt.Fprintf(w, "Vaults unlocking:   %d (skipped %d)\n", r.VaultsUnlocking, r.VaultsSkipped)
	if r.RunsResumed > 0 {
		fmt.Fprintf(w, "Runs resumed:       %d\n", r.RunsResumed)
	}
	if r.Errors > 0 {
		fmt.Fprintf(w, "%s %d\n", ui.RenderFail("Errors:"), r.Errors)
	}
}
