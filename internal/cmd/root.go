// Package cmd implements the helmsman CLI: planning dry-runs and
// observability over the durable knowledge store.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/logger"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand creates the root helmsman command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "helmsman",
		Short: "Adaptive agent orchestration engine",
		Long: `Helmsman plans and adapts multi-agent executions by learning from
history: pattern similarity, predictive per-agent scoring, calibrated
confidence, conflict prediction, and recovery strategies.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", ".helmsman/config.yaml", "config file path")
	cmd.PersistentFlags().String("db", "", "knowledge database path (overrides config)")
	cmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")

	cmd.AddCommand(NewPlanCommand())
	cmd.AddCommand(NewHistoryCommand())
	cmd.AddCommand(NewConflictsCommand())
	cmd.AddCommand(NewRecoveryCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig reads the configured file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Knowledge.DBPath = db
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// newLogger builds the stderr console logger for a command run.
func newLogger(cfg *config.Config) logger.Logger {
	return logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)
}
