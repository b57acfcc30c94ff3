package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/helmsman/internal/conflict"
	"github.com/harrison/helmsman/internal/knowledge"
)

// NewConflictsCommand creates the 'helmsman conflicts' command.
func NewConflictsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Show learned agent conflict patterns",
		Args:  cobra.NoArgs,
		RunE:  runConflicts,
	}
}

func runConflicts(cmd *cobra.Command, args []string) error {
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

	patterns, err := store.LoadConflicts(cmd.Context())
	if err != nil {
		return fmt.Errorf("load conflict patterns: %w", err)
	}
	if len(patterns) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no learned conflicts")
		return nil
	}

	now := time.Now()
	sort.Slice(patterns, func(i, j int) bool {
		return conflict.Decay(patterns[i].Probability, now.Sub(patterns[i].LastObserved), cfg.Conflict.DecayHalfLife) >
			conflict.Decay(patterns[j].Probability, now.Sub(patterns[j].LastObserved), cfg.Conflict.DecayHalfLife)
	})

	out := cmd.OutOrStdout()
	for _, cp := range patterns {
		decayed := conflict.Decay(cp.Probability, now.Sub(cp.LastObserved), cfg.Conflict.DecayHalfLife)
		paint := color.New(color.FgGreen)
		switch {
		case decayed >= cfg.Conflict.HighRiskThreshold:
			paint = color.New(color.FgRed)
		case decayed >= cfg.Conflict.MediumRiskThreshold:
			paint = color.New(color.FgYellow)
		}
		paint.Fprintf(out, "%s + %s", cp.AgentA, cp.AgentB)
		fmt.Fprintf(out, "  %s  p=%.2f (decayed %.2f)  obs=%d  last=%s",
			cp.Type, cp.Probability, decayed, cp.Observations,
			cp.LastObserved.Local().Format("2006-01-02"))
		if cp.AFirstSamples > 0 {
			fmt.Fprintf(out, "  %s-first success %.0f%% (%d samples)",
				cp.AgentA, cp.AFirstSuccessRate*100, cp.AFirstSamples)
		}
		fmt.Fprintln(out)
	}
	return nil
}
