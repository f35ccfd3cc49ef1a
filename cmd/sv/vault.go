package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitvault/internal/client"
)

var vaultCmd = &cobra.Command{
	Use:     "vault",
	Short:   "Create and inspect vaults",
	GroupID: "vaults",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a vault",
	Example: `  sv vault create --asset btc --holder alice --holder bob --holder carol --threshold 2
  sv vault create --asset eth --holder alice --threshold 1 --ttl 48h --refund 0xabc`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, _ := cmd.Flags().GetString("asset")
		holders, _ := cmd.Flags().GetStringArray("holder")
		threshold, _ := cmd.Flags().GetInt("threshold")
		refund, _ := cmd.Flags().GetString("refund")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		req := &client.CreateVaultRequest{
			SourceAsset:   asset,
			KeyHolders:    holders,
			Threshold:     threshold,
			RefundAddress: refund,
			CreatedBy:     actor,
		}
		if ttl > 0 {
			req.TTL = ttl.String()
		}
		v, err := svClient.CreateVault(context.Background(), req)
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		return emit(cmd.OutOrStdout(), v, func(w io.Writer) { printVault(w, v) })
	},
}

var vaultShowCmd = &cobra.Command{
	Use:   "show <vault-id>",
	Short: "Show a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := svClient.GetVault(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting vault %s: %w", args[0], err)
		}
		return emit(cmd.OutOrStdout(), v, func(w io.Writer) { printVault(w, v) })
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		vaults, err := svClient.ListVaults(context.Background(), &client.ListVaultsRequest{
			Status: statuses,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("listing vaults: %w", err)
		}
		return emit(cmd.OutOrStdout(), vaults, func(w io.Writer) { printVaultList(w, vaults) })
	},
}

var vaultActivateCmd = &cobra.Command{
	Use:   "activate <vault-id> <deposit-address>",
	Short: "Attach the deposit address to a vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := svClient.ActivateVault(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("activating vault %s: %w", args[0], err)
		}
		return emit(cmd.OutOrStdout(), v, func(w io.Writer) { printVault(w, v) })
	},
}

var vaultDepositCmd = &cobra.Command{
	Use:   "deposit <vault-id> <total>",
	Short: "Report the cumulative amount deposited to a vault",
	Long: `Report the cumulative amount observed at the vault's deposit address.

The total replaces the vault's recorded total when it is higher; reports at
or below the current total are ignored.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		total, err := decimal.NewFromString(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("invalid total %q: %w", args[1], err)
		}
		depositor, _ := cmd.Flags().GetString("depositor")
		refund, _ := cmd.Flags().GetString("refund")

		v, err := svClient.ReportDeposit(context.Background(), args[0], &client.DepositReport{
			Total:         total,
			Depositor:     depositor,
			RefundAddress: refund,
		})
		if err != nil {
			return fmt.Errorf("reporting deposit: %w", err)
		}
		return emit(cmd.OutOrStdout(), v, func(w io.Writer) { printVault(w, v) })
	},
}

var vaultDepositsCmd = &cobra.Command{
	Use:   "deposits <vault-id>",
	Short: "List deposits recorded for a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deposits, err := svClient.GetDeposits(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting deposits: %w", err)
		}
		return emit(cmd.OutOrStdout(), deposits, func(w io.Writer) { printDeposits(w, deposits) })
	},
}

var vaultEventsCmd = &cobra.Command{
	Use:   "events <vault-id>",
	Short: "Show the audit trail of a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evts, err := svClient.GetEvents(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting events: %w", err)
		}
		return emit(cmd.OutOrStdout(), evts, func(w io.Writer) { printEvents(w, evts) })
	},
}

func init() {
	vaultCreateCmd.Flags().String("asset", "", "source asset symbol (required)")
	vaultCreateCmd.Flags().StringArray("holder", nil, "key holder id (repeatable, required)")
	vaultCreateCmd.Flags().Int("threshold", 0, "approvals required to unlock (required)")
	vaultCreateCmd.Flags().String("refund", "", "refund address used if the vault expires")
	vaultCreateCmd.Flags().Duration("ttl", 0, "vault lifetime (server default when unset)")
	_ = vaultCreateCmd.MarkFlagRequired("asset")
	_ = vaultCreateCmd.MarkFlagRequired("holder")
	_ = vaultCreateCmd.MarkFlagRequired("threshold")

	vaultListCmd.Flags().StringSlice("status", nil, "filter by status (created, funding, ready, unlocking, destroyed)")
	vaultListCmd.Flags().Int("limit", 0, "maximum number of vaults")
	vaultListCmd.Flags().Int("offset", 0, "number of vaults to skip")

	vaultDepositCmd.Flags().String("depositor", "", "who made the deposit")
	vaultDepositCmd.Flags().String("refund", "", "where to refund this depositor's share on expiry")

	vaultCmd.AddCommand(vaultCreateCmd)
	vaultCmd.AddCommand(vaultShowCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultActivateCmd)
	vaultCmd.AddCommand(vaultDepositCmd)
	vaultCmd.AddCommand(vaultDepositsCmd)
	vaultCmd.AddCommand(vaultEventsCmd)
}
