// Package main is the agentgate binary: the governance server plus one-shot
// maintenance commands that share its configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentgate",
	Short: "Session and tool governance for coding agents",
	Long: `agentgate supervises coding agent processes, gates their tool calls behind
human approval, runs configured hooks and cleans up after abandoned sessions.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "directory containing config.yaml")
	rootCmd.AddCommand(newServeCmd(), newReconcileCmd(), newHooksCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and installs the process-wide logger.
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadWithPath(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return cfg, log, nil
}
