// Package refiner produces revised agent plans after a failure. It
// escalates through three tiers by refinement confidence: direct
// substitution, candidate-plan generation, and cross-domain
// hybridization flagged as exploratory.
package refiner

import (
	"fmt"
	"sort"

	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
)

// Tier boundaries for escalation.
const (
	highConfidence   = 0.7
	mediumConfidence = 0.4
)

// exploratoryPenalty lowers confidence on hybridized plans.
const exploratoryPenalty = 0.8

// AgentScorer is the one-directional dependency on predictive scoring.
// The refiner evaluates candidate plans through it; the scorer never
// calls back.
type AgentScorer interface {
	Score(agents []string, q pattern.Query) []models.PredictiveScore
}

// Request carries everything needed to refine a plan after a failure.
type Request struct {
	// Pending is the not-yet-executed tail of the plan, failed agent
	// first.
	Pending []string

	// Completed lists agents that already ran; refinement never touches
	// them.
	Completed []string

	// Failure is the analyzed failure driving this refinement.
	Failure *models.FailureContext

	// Query describes the objective for similarity lookups and scoring.
	Query pattern.Query

	// Alternatives are candidate replacements for the failed agent, best
	// first.
	Alternatives []string

	// Dependencies maps a pending agent to the agents whose output it
	// declared as inputs.
	Dependencies map[string][]string
}

// Result is a refined pending plan plus the reasoning behind it.
type Result struct {
	Pending     []string            `json:"pending"`
	Strategy    models.StrategyKind `json:"strategy"`
	Confidence  float64             `json:"confidence"`
	Exploratory bool                `json:"exploratory"`
	Reasoning   string              `json:"reasoning"`
}

// Refiner computes plan refinements from the pattern store's evidence.
type Refiner struct {
	store  *pattern.Store
	scorer AgentScorer
}

// New creates a Refiner. The scorer dependency is one-directional by
// construction.
func New(store *pattern.Store, scorer AgentScorer) *Refiner {
	return &Refiner{store: store, scorer: scorer}
}

// Refine determines the plan diff implied by the failure category and
// escalates through the confidence tiers.
func (r *Refiner) Refine(req Request) Result {
	if req.Failure == nil || len(req.Pending) == 0 {
		return Result{Pending: req.Pending, Strategy: models.StrategySkip, Confidence: 0.1,
			Reasoning: "nothing to refine"}
	}

	strategy := strategyFor(req.Failure.Category)
	confidence := r.evidenceConfidence(req)

	switch {
	case confidence >= highConfidence:
		return r.direct(req, strategy, confidence)
	case confidence >= mediumConfidence:
		return r.candidates(req, strategy, confidence)
	default:
		return r.hybridize(req, strategy, confidence)
	}
}

// strategyFor maps a failure category to its default recovery class.
func strategyFor(cat models.ErrorCategory) models.StrategyKind {
	switch cat {
	case models.ErrorTimeout, models.ErrorTransientNetwork:
		return models.StrategyRetry
	case models.ErrorNotFound, models.ErrorCapabilityMismatch:
		return models.StrategySubstitute
	case models.ErrorValidation, models.ErrorLogicalUnknown:
		return models.StrategyAlternativePath
	default:
		return models.StrategyRetry
	}
}

// evidenceConfidence measures how strongly history supports a
// straightforward refinement: matching similar patterns, prior failures
// of the same pair, and available alternatives all raise it.
func (r *Refiner) evidenceConfidence(req Request) float64 {
	conf := req.Failure.Confidence

	matches := r.store.FindSimilar(req.Query, 5)
	var topSim float64
	successes := 0
	for _, m := range matches {
		if m.Similarity > topSim {
			topSim = m.Similarity
		}
		if m.Pattern.Success {
			successes++
		}
	}
	conf = 0.6*conf + 0.4*topSim
	if successes >= 3 {
		conf += 0.1
	}
	if len(req.Alternatives) == 0 {
		conf -= 0.15
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// direct applies the straightforward substitution, retry, or skip.
func (r *Refiner) direct(req Request, strategy models.StrategyKind, confidence float64) Result {
	failed := req.Failure.AgentID

	var pending []string
	switch strategy {
	case models.StrategyRetry:
		pending = append([]string(nil), req.Pending...)
	case models.StrategySubstitute, models.StrategyAlternativePath:
		if len(req.Alternatives) > 0 {
			pending = replaceAgent(req.Pending, failed, req.Alternatives[0])
		} else {
			pending = r.removeWithDependents(req.Pending, failed, req.Dependencies)
			strategy = models.StrategySkip
		}
	default:
		pending = r.removeWithDependents(req.Pending, failed, req.Dependencies)
	}

	return Result{
		Pending:    pending,
		Strategy:   strategy,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("strong history for %s after %s failure", strategy, req.Failure.Category),
	}
}

// candidates generates alternative plans for each substitution and
// keeps the one with the best blended accuracy/cost trade-off.
func (r *Refiner) candidates(req Request, strategy models.StrategyKind, confidence float64) Result {
	failed := req.Failure.AgentID

	type candidate struct {
		pending []string
		label   string
	}
	var cands []candidate
	for _, alt := range req.Alternatives {
		cands = append(cands, candidate{replaceAgent(req.Pending, failed, alt), "substitute " + alt})
	}
	cands = append(cands, candidate{
		pending: r.removeWithDependents(req.Pending, failed, req.Dependencies),
		label:   "skip " + failed,
	})
	if strategy == models.StrategyRetry {
		cands = append(cands, candidate{append([]string(nil), req.Pending...), "retry " + failed})
	}

	best := cands[0]
	bestValue := -1.0
	for _, c := range cands {
		v := r.planValue(c.pending, req.Query)
		if v > bestValue {
			best, bestValue = c, v
		}
	}

	return Result{
		Pending:    best.pending,
		Strategy:   strategy,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("best of %d candidate plans: %s (value %.2f)", len(cands), best.label, bestValue),
	}
}

// planValue blends predicted accuracy against token cost so cheaper
// plans win ties.
func (r *Refiner) planValue(pending []string, q pattern.Query) float64 {
	if len(pending) == 0 {
		return 0
	}
	scores := r.scorer.Score(pending, q)
	var rate float64
	var tokens int
	for _, s := range scores {
		rate += s.PredictedRate
		tokens += s.AvgTokens
	}
	rate /= float64(len(scores))
	cost := float64(tokens) / float64(len(scores)) / 100000.0 // normalize to typical budget
	if cost > 0.3 {
		cost = 0.3
	}
	return rate - cost
}

// hybridize cross-pollinates agent combinations from loosely related
// objective domains to escape a purely local search. Results are
// explicitly exploratory with lowered confidence.
func (r *Refiner) hybridize(req Request, strategy models.StrategyKind, confidence float64) Result {
	failed := req.Failure.AgentID
	inPlan := make(map[string]struct{}, len(req.Pending)+len(req.Completed))
	for _, a := range req.Pending {
		inPlan[a] = struct{}{}
	}
	for _, a := range req.Completed {
		inPlan[a] = struct{}{}
	}

	// Loosely related: shares a tag but belongs to a different objective
	// type, and succeeded.
	var donors []string
	counts := make(map[string]int)
	for _, p := range r.store.Patterns() {
		if !p.Success || p.ObjectiveType == req.Query.ObjectiveType {
			continue
		}
		if shared := sharedTag(p.Tags, req.Query.Tags); shared == "" {
			continue
		}
		for _, a := range p.AgentsUsed {
			if _, used := inPlan[a]; used || a == failed {
				continue
			}
			if counts[a] == 0 {
				donors = append(donors, a)
			}
			counts[a]++
		}
	}
	sort.SliceStable(donors, func(i, j int) bool {
		if counts[donors[i]] != counts[donors[j]] {
			return counts[donors[i]] > counts[donors[j]]
		}
		return donors[i] < donors[j]
	})

	pending := r.removeWithDependents(req.Pending, failed, req.Dependencies)
	reasoning := "no cross-domain donors found; skipping failed agent"
	if len(donors) > 0 {
		pending = append([]string{donors[0]}, pending...)
		reasoning = fmt.Sprintf("hybridized %s from a related domain (%d sightings)", donors[0], counts[donors[0]])
	} else if len(req.Alternatives) > 0 {
		pending = append([]string{req.Alternatives[0]}, pending...)
		reasoning = "no donors; falling back to declared alternative"
	}

	return Result{
		Pending:     pending,
		Strategy:    strategy,
		Confidence:  confidence * exploratoryPenalty,
		Exploratory: true,
		Reasoning:   reasoning,
	}
}

// replaceAgent swaps the failed agent for its replacement in place.
func replaceAgent(pending []string, failed, replacement string) []string {
	out := make([]string, 0, len(pending))
	for _, a := range pending {
		if a == failed {
			out = append(out, replacement)
			continue
		}
		out = append(out, a)
	}
	return out
}

// removeWithDependents drops the failed agent and any pending agent
// that declared a dependency on its output, transitively, so no pending
// agent is left waiting on a removed producer.
func (r *Refiner) removeWithDependents(pending []string, failed string, deps map[string][]string) []string {
	removed := map[string]struct{}{failed: {}}
	changed := true
	for changed {
		changed = false
		for _, a := range pending {
			if _, gone := removed[a]; gone {
				continue
			}
			for _, dep := range deps[a] {
				if _, gone := removed[dep]; gone {
					removed[a] = struct{}{}
					changed = true
					break
				}
			}
		}
	}

	out := make([]string, 0, len(pending))
	for _, a := range pending {
		if _, gone := removed[a]; !gone {
			out = append(out, a)
		}
	}
	return out
}

func sharedTag(a, b []string) string {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return t
		}
	}
	return ""
}
