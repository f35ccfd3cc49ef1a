package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	Short:   "Run one expiry sweep on the server now",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := svClient.Sweep(context.Background())
		if err != nil {
			return fmt.Errorf("sweeping: %w", err)
		}
		return emit(cmd.OutOrStdout(), r, func(w io.Writer) { printSweepReport(w, r) })
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the splitvault service",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := svClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		}

		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}
