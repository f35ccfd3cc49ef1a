package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitvault/internal/model"
)

var unlockCmd = &cobra.Command{
	Use:     "unlock <vault-id>",
	Short:   "Route a ready vault's funds to its recipients",
	GroupID: "unlock",
	Long: `Route the funds of a ready vault according to its approved proposal.

With --resume, retry the recipients that are still pending after an
interrupted run. The vault is destroyed once every recipient reaches a final state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetBool("resume")

		var (
			v   *model.Vault
			err error
		)
		if resume {
			v, err = svClient.ResumeUnlock(context.Background(), args[0])
		} else {
			v, err = svClient.ExecuteUnlock(context.Background(), args[0])
		}
		if err != nil {
			return fmt.Errorf("unlocking %s: %w", args[0], err)
		}
		return emit(cmd.OutOrStdout(), v, func(w io.Writer) { printVault(w, v) })
	},
}

var shiftCmd = &cobra.Command{
	Use:     "shift <shift-id>",
	Short:   "Show the status of a swap shift",
	GroupID: "unlock",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sh, err := svClient.GetShift(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting shift %s: %w", args[0], err)
		}
		return emit(cmd.OutOrStdout(), sh, func(w io.Writer) { printShift(w, sh) })
	},
}

func init() {
	unlockCmd.Flags().Bool("resume", false, "resume an interrupted unlock")
}
