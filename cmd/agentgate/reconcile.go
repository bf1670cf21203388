package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one orphan sweep and print its report",
		Long: `Rejects approvals left pending past the reconciler TTL, reverts the applied
diffs of their sessions and clears diff content that is no longer needed.
Run it while the server is stopped, or as a cron job next to it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			svc, err := buildServices(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer svc.close()

			report, err := svc.reconciler.RunOnce(cmd.Context())
			if report != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
}
