package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/helmsman/internal/knowledge"
)

// NewHistoryCommand creates the 'helmsman history' command.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded execution patterns",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().Int("days", 0, "history window in days (default: configured retention)")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Knowledge.DBPath); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "no knowledge database at %s\n", cfg.Knowledge.DBPath)
		return nil
	}

	store, err := knowledge.NewStore(cfg.Knowledge.DBPath)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer store.Close()

	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		days = cfg.Pattern.RetentionDays
	}
	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	patterns, err := store.LoadPatterns(cmd.Context(), since)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	if len(patterns) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no executions in the last %d days\n", days)
		return nil
	}

	out := cmd.OutOrStdout()
	successes := 0
	for _, p := range patterns {
		marker := color.GreenString("ok  ")
		if !p.Success {
			marker = color.RedString("fail")
		} else {
			successes++
		}
		fmt.Fprintf(out, "%s  %s  %-10s  %-48s  agents=%d  tokens=%d\n",
			p.Timestamp.Local().Format("2006-01-02 15:04"), marker, p.ObjectiveType,
			truncate(p.Objective, 48), len(p.AgentsUsed), p.TokensUsed)
	}
	fmt.Fprintf(out, "\n%d executions, %.0f%% success\n",
		len(patterns), 100*float64(successes)/float64(len(patterns)))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
