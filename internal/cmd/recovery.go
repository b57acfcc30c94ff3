package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/harrison/helmsman/internal/knowledge"
	"github.com/harrison/helmsman/internal/models"
)

// NewRecoveryCommand creates the 'helmsman recovery' command.
func NewRecoveryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recovery",
		Short: "Show learned recovery strategies",
		Args:  cobra.NoArgs,
		RunE:  runRecovery,
	}
}

func runRecovery(cmd *cobra.Command, args []string) error {
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

	strategies, err := store.LoadRecoveryStrategies(cmd.Context())
	if err != nil {
		return fmt.Errorf("load recovery strategies: %w", err)
	}
	if len(strategies) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no learned recovery strategies")
		return nil
	}

	// Group by failing agent, highest confidence first within a group.
	byAgent := make(map[string][]models.RecoveryStrategy)
	for _, s := range strategies {
		byAgent[s.FailedAgent] = append(byAgent[s.FailedAgent], s)
	}
	agents := make([]string, 0, len(byAgent))
	for a := range byAgent {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	out := cmd.OutOrStdout()
	for _, agent := range agents {
		list := byAgent[agent]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Confidence > list[j].Confidence })
		fmt.Fprintf(out, "%s:\n", agent)
		for _, s := range list {
			fmt.Fprintf(out, "  %-20s %-18s conf %.2f", s.Category, s.Kind, s.Confidence)
			if len(s.Replacements) > 0 {
				fmt.Fprintf(out, "  -> %v", s.Replacements)
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}
