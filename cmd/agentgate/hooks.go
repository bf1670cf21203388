package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kandev/agentgate/internal/hooks"
)

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage hooks declared in a hooks file",
	}
	cmd.AddCommand(newHooksSyncCmd(), newHooksValidateCmd())
	return cmd
}

func newHooksSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [file]",
		Short: "Create, update and disable hooks to match a hooks file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			path := cfg.Hooks.SyncFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no hooks file given and hooks.syncFile is not set")
			}

			st, closeStore, err := provideStore(cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			result, err := hooks.NewService(st, log).SyncFile(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d, disabled %d\n",
				result.Created, result.Updated, result.Disabled)
			return nil
		},
	}
}

func newHooksValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a hooks file without touching the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := hooks.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d hooks ok\n", args[0], len(f.Hooks))
			return nil
		},
	}
}
