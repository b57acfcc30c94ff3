package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/helmsman/internal/brief"
	"github.com/harrison/helmsman/internal/conflict"
	"github.com/harrison/helmsman/internal/engine"
	"github.com/harrison/helmsman/internal/filelock"
	"github.com/harrison/helmsman/internal/knowledge"
)

// NewPlanCommand creates the 'helmsman plan' command.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <brief.md>",
		Short: "Produce a dry-run plan for an objective brief",
		Long: `Parse a markdown objective brief, rank its candidate agents by
predicted success, predict conflicts, and report calibrated confidence.
Nothing is executed.`,
		Args: cobra.ExactArgs(1),
		RunE: runPlan,
	}
	cmd.Flags().Bool("json", false, "emit the report as JSON")
	cmd.Flags().String("output", "", "write the JSON report to this file")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open brief: %w", err)
	}
	defer f.Close()

	parsed, err := brief.NewParser().Parse(f)
	if err != nil {
		return fmt.Errorf("parse brief: %w", err)
	}

	catalog := engine.NewStaticCatalog(parsed.Agents...)

	var kstore *knowledge.Store
	if cfg.Knowledge.Enabled {
		kstore, err = knowledge.NewStore(cfg.Knowledge.DBPath)
		if err != nil {
			// Planning still works without history.
			log.Warnf("knowledge store unavailable, planning without history: %v", err)
			kstore = nil
		}
	}

	eng := engine.New(engine.Options{
		Config:     cfg,
		Catalog:    catalog,
		Classifier: engine.KeywordClassifier{ProjectType: parsed.Project},
		Knowledge:  kstore,
		Log:        log,
	})
	defer eng.Close()

	report := eng.Plan(parsed.Objective, nil)

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		if err := filelock.LockAndWrite(path, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", path)
		return nil
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printPlanReport(cmd.OutOrStdout(), parsed.Objective, report)
	return nil
}

func printPlanReport(w io.Writer, objective string, report engine.PlanReport) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Objective: %s\n", objective)
	fmt.Fprintf(w, "Type: %s", report.Profile.Type)
	if len(report.Profile.Tags) > 0 {
		fmt.Fprintf(w, "  Tags: %v", report.Profile.Tags)
	}
	fmt.Fprintf(w, "  Complexity: %.2f\n\n", report.Profile.Complexity)

	bold.Fprintln(w, "Agents (ranked):")
	for i, s := range report.Scores {
		fmt.Fprintf(w, "  %d. %-24s rate %.2f  confidence %.2f  samples %d\n",
			i+1, s.AgentID, s.PredictedRate, s.Confidence, s.SampleCount)
	}

	c := report.Confidence
	fmt.Fprintf(w, "\nConfidence: %.2f  [%.2f, %.2f]  uncertainty %.2f  (history: %d)\n",
		c.Confidence, c.Lower, c.Upper, c.Uncertainty, c.SampleSize)
	for _, warning := range c.Warnings {
		color.New(color.FgYellow).Fprintf(w, "  warning: %s\n", warning)
	}

	fmt.Fprintf(w, "\nConflict-free probability: %.2f\n", report.Conflicts.ConflictFreeProbability)
	for _, pair := range report.Conflicts.Pairs {
		paint := color.New(color.FgYellow)
		if pair.Risk == conflict.RiskHigh {
			paint = color.New(color.FgRed)
		}
		paint.Fprintf(w, "  %s risk: %s + %s (%.2f, %s)\n",
			pair.Risk, pair.AgentA, pair.AgentB, pair.Probability, pair.Source)
	}
	for _, prop := range report.Conflicts.Proposals {
		fmt.Fprintf(w, "  proposal (%s): %s\n", prop.Kind, prop.Reason)
	}
}
