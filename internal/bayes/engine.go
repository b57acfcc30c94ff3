// Package bayes combines independent evidence sources into a calibrated
// confidence interval for a candidate plan.
//
// The combination rule is weighted evidence pooling: each source's
// posterior is computed against its own prior and the results are
// averaged by weight from a neutral baseline. This is deliberately not
// sequential Bayesian updating; the pooled behavior is the contract.
package bayes

import (
	"fmt"
	"math"
	"sync"

	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
)

// Evidence source weights.
const (
	weightAgentHistory  = 0.35
	weightObjectiveSim  = 0.30
	weightContextSim    = 0.20
	weightSynergy       = 0.15
	neutralBaseline     = 0.5
	maxUncertainty      = 0.5
	ciZ                 = 1.96
)

// EvidenceSource is one input to the pooled confidence computation.
type EvidenceSource struct {
	Name       string  `json:"name"`
	Likelihood float64 `json:"likelihood"`
	Prior      float64 `json:"prior"`
	Posterior  float64 `json:"posterior"`
	Weight     float64 `json:"weight"`
}

// Report is a calibrated confidence interval plus the evidence and any
// advisory warnings behind it.
type Report struct {
	Confidence    float64          `json:"confidence"`
	RawConfidence float64          `json:"raw_confidence"`
	Uncertainty   float64          `json:"uncertainty"`
	Lower         float64          `json:"lower"`
	Upper         float64          `json:"upper"`
	Evidence      []EvidenceSource `json:"evidence"`
	Warnings      []string         `json:"warnings,omitempty"`
	SampleSize    int              `json:"sample_size"`
}

// Engine computes confidence reports from the pattern store's history.
type Engine struct {
	mu    sync.Mutex
	store *pattern.Store
	curve *Curve
	cfg   config.ConfidenceConfig
}

// NewEngine creates an Engine over the given store.
func NewEngine(store *pattern.Store, cfg config.ConfidenceConfig) *Engine {
	return &Engine{
		store: store,
		curve: NewCurve(cfg.CalibrationWindow, cfg.RebuildThreshold),
		cfg:   cfg,
	}
}

// Curve exposes the calibration curve for warmup and observability.
func (e *Engine) Curve() *Curve { return e.curve }

// RecordOutcome feeds an execution result back into calibration.
func (e *Engine) RecordOutcome(predicted float64, success bool) {
	e.curve.Observe(predicted, success)
}

// CalculateConfidence gathers the evidence sources for a candidate
// agent set and pools them into a calibrated confidence interval.
func (e *Engine) CalculateConfidence(agents []string, q pattern.Query) Report {
	stats := e.store.Snapshot()
	globalPrior := neutralBaseline
	if stats.WindowPatterns > 0 {
		globalPrior = float64(stats.WindowSuccesses) / float64(stats.WindowPatterns)
	}

	var evidence []EvidenceSource

	if src, ok := e.agentHistoryEvidence(agents, globalPrior); ok {
		evidence = append(evidence, src)
	}
	matches := e.store.FindSimilar(q, 10)
	if src, ok := objectiveEvidence(matches, globalPrior); ok {
		evidence = append(evidence, src)
	}
	if src, ok := contextEvidence(matches, q, globalPrior); ok {
		evidence = append(evidence, src)
	}
	if len(agents) >= 2 {
		if src, ok := e.synergyEvidence(agents, globalPrior); ok {
			evidence = append(evidence, src)
		}
	}

	// Weighted pooling from the neutral baseline.
	raw := neutralBaseline
	var weightSum, weighted float64
	for i := range evidence {
		evidence[i].Posterior = posterior(evidence[i].Likelihood, evidence[i].Prior)
		weighted += evidence[i].Posterior * evidence[i].Weight
		weightSum += evidence[i].Weight
	}
	if weightSum > 0 {
		raw = weighted / weightSum
	}

	calibrated := e.curve.Calibrate(raw)
	uncertainty := e.uncertainty(evidence, stats, globalPrior)

	report := Report{
		Confidence:    calibrated,
		RawConfidence: raw,
		Uncertainty:   uncertainty,
		Lower:         clamp01(calibrated - ciZ*uncertainty),
		Upper:         clamp01(calibrated + ciZ*uncertainty),
		Evidence:      evidence,
		SampleSize:    stats.WindowPatterns,
	}

	if report.Confidence < e.cfg.LowConfidenceWarn {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("low confidence %.2f (threshold %.2f)", report.Confidence, e.cfg.LowConfidenceWarn))
	}
	if report.Uncertainty > e.cfg.HighUncertaintyWarn {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("high uncertainty %.2f (threshold %.2f)", report.Uncertainty, e.cfg.HighUncertaintyWarn))
	}
	if q := e.curve.Quality(); q < e.cfg.CalibrationQualityWarn {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("calibration quality %.2f below %.2f", q, e.cfg.CalibrationQualityWarn))
	}
	if stats.WindowPatterns < e.cfg.MinHistoryWarn {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("sparse history: %d records (want %d)", stats.WindowPatterns, e.cfg.MinHistoryWarn))
	}
	return report
}

// posterior applies Bayes' rule for one binary evidence source:
// P(success|evidence) = l*p / (l*p + (1-l)*(1-p)).
func posterior(likelihood, prior float64) float64 {
	num := likelihood * prior
	den := num + (1-likelihood)*(1-prior)
	if den == 0 {
		return prior
	}
	return num / den
}

func (e *Engine) agentHistoryEvidence(agents []string, prior float64) (EvidenceSource, bool) {
	var total, successes int
	for _, agent := range agents {
		if st, ok := e.store.AgentStatsFor(agent); ok {
			total += st.Uses
			successes += st.Successes
		}
	}
	if total == 0 {
		return EvidenceSource{}, false
	}
	return EvidenceSource{
		Name:       "agent_history",
		Likelihood: float64(successes) / float64(total),
		Prior:      prior,
		Weight:     weightAgentHistory,
	}, true
}

func objectiveEvidence(matches []models.PatternMatch, prior float64) (EvidenceSource, bool) {
	var simSum, successSim float64
	for _, m := range matches {
		simSum += m.Similarity
		if m.Pattern.Success {
			successSim += m.Similarity
		}
	}
	if simSum == 0 {
		return EvidenceSource{}, false
	}
	return EvidenceSource{
		Name:       "objective_similarity",
		Likelihood: successSim / simSum,
		Prior:      prior,
		Weight:     weightObjectiveSim,
	}, true
}

func contextEvidence(matches []models.PatternMatch, q pattern.Query, prior float64) (EvidenceSource, bool) {
	if q.ProjectType == "" {
		return EvidenceSource{}, false
	}
	var total, successes int
	for _, m := range matches {
		if m.Pattern.ProjectType == q.ProjectType {
			total++
			if m.Pattern.Success {
				successes++
			}
		}
	}
	if total == 0 {
		return EvidenceSource{}, false
	}
	return EvidenceSource{
		Name:       "context_similarity",
		Likelihood: float64(successes) / float64(total),
		Prior:      prior,
		Weight:     weightContextSim,
	}, true
}

// synergyEvidence measures how often executions containing at least two
// of the candidate agents succeeded together.
func (e *Engine) synergyEvidence(agents []string, prior float64) (EvidenceSource, bool) {
	want := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		want[a] = struct{}{}
	}

	var total, successes int
	for _, p := range e.store.Patterns() {
		hits := 0
		for _, a := range p.AgentsUsed {
			if _, ok := want[a]; ok {
				hits++
			}
		}
		if hits >= 2 {
			total++
			if p.Success {
				successes++
			}
		}
	}
	if total == 0 {
		return EvidenceSource{}, false
	}
	return EvidenceSource{
		Name:       "multi_agent_synergy",
		Likelihood: float64(successes) / float64(total),
		Prior:      prior,
		Weight:     weightSynergy,
	}, true
}

// uncertainty blends inverse sample-size scaling, disagreement among
// evidence posteriors, and historical outcome variance, capped at 0.5.
func (e *Engine) uncertainty(evidence []EvidenceSource, stats pattern.Stats, globalPrior float64) float64 {
	sample := 1.0 / math.Sqrt(float64(stats.WindowPatterns)+1)

	var disagreement float64
	if len(evidence) > 1 {
		var mean float64
		for _, src := range evidence {
			mean += src.Posterior
		}
		mean /= float64(len(evidence))
		for _, src := range evidence {
			d := src.Posterior - mean
			disagreement += d * d
		}
		disagreement = math.Sqrt(disagreement / float64(len(evidence)))
	}

	outcomeVar := globalPrior * (1 - globalPrior) // Bernoulli variance

	u := 0.5*sample + 0.3*disagreement + 0.2*outcomeVar
	if u > maxUncertainty {
		u = maxUncertainty
	}
	return u
}
