// Package engine is the facade over the orchestration core: it wires
// the pattern store, scorer, confidence engine, conflict detector,
// executor, and persistence together and exposes the host-facing
// operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harrison/helmsman/internal/bayes"
	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/conflict"
	"github.com/harrison/helmsman/internal/executor"
	"github.com/harrison/helmsman/internal/failure"
	"github.com/harrison/helmsman/internal/knowledge"
	"github.com/harrison/helmsman/internal/logger"
	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
	"github.com/harrison/helmsman/internal/refiner"
	"github.com/harrison/helmsman/internal/retry"
	"github.com/harrison/helmsman/internal/scorer"
)

// ErrNoActiveExecution is returned when a result references an unknown
// execution id. This is a caller contract violation, not an agent
// failure.
var ErrNoActiveExecution = errors.New("no active execution")

// pruneInterval is how often the background maintenance pass runs.
const pruneInterval = time.Hour

// AgentCatalog supplies declared agent profiles. The engine reads them
// as input signals and never mutates them.
type AgentCatalog interface {
	Profiles() []models.AgentProfile
	Profile(id string) (models.AgentProfile, bool)
}

// StaticCatalog is a map-backed AgentCatalog for hosts that declare
// agents up front.
type StaticCatalog struct {
	mu       sync.RWMutex
	profiles map[string]models.AgentProfile
	order    []string
}

// NewStaticCatalog creates a catalog from the given profiles.
func NewStaticCatalog(profiles ...models.AgentProfile) *StaticCatalog {
	c := &StaticCatalog{profiles: make(map[string]models.AgentProfile)}
	for _, p := range profiles {
		c.Add(p)
	}
	return c
}

// Add inserts or replaces a profile.
func (c *StaticCatalog) Add(p models.AgentProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.profiles[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.profiles[p.ID] = p
}

// Profiles returns every profile in declaration order.
func (c *StaticCatalog) Profiles() []models.AgentProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.AgentProfile, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.profiles[id])
	}
	return out
}

// Profile returns one profile by id.
func (c *StaticCatalog) Profile(id string) (models.AgentProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	return p, ok
}

// catalogInfo adapts an AgentCatalog to the executor's AgentInfo.
type catalogInfo struct {
	catalog AgentCatalog
}

func (ci catalogInfo) Alternatives(agentID string) []string {
	if p, ok := ci.catalog.Profile(agentID); ok {
		return append([]string(nil), p.Alternatives...)
	}
	return nil
}

func (ci catalogInfo) IsCritical(agentID string) bool {
	p, ok := ci.catalog.Profile(agentID)
	return ok && p.Critical
}

// PlanReport is the dry-run planning output: the proposed agent order
// with the predictions behind it.
type PlanReport struct {
	Profile    models.ObjectiveProfile  `json:"profile"`
	Agents     []string                 `json:"agents"`
	Scores     []models.PredictiveScore `json:"scores"`
	Confidence bayes.Report             `json:"confidence"`
	Conflicts  conflict.Prediction      `json:"conflicts"`
}

// Options configures engine construction. Knowledge may be nil; the
// engine then runs in-memory only.
type Options struct {
	Config     *config.Config
	Catalog    AgentCatalog
	Classifier ObjectiveClassifier
	Knowledge  *knowledge.Store
	Log        logger.Logger
}

// Engine owns the orchestration core. One Engine serves all concurrent
// executions of a process.
type Engine struct {
	cfg        *config.Config
	log        logger.Logger
	catalog    AgentCatalog
	classifier ObjectiveClassifier

	pstore   *pattern.Store
	scorer   *scorer.Scorer
	bayes    *bayes.Engine
	detector *conflict.Detector
	analyzer *failure.Analyzer
	chains   *failure.ChainDetector
	exec     *executor.Executor

	kstore *knowledge.Store
	writer *retry.Writer

	mu         sync.RWMutex
	executions map[string]*executor.ExecutionState
	// history is the append-only global adaptation trail. Entries are
	// copied out of each ExecutionState as they appear so the trail
	// survives execution retirement.
	history  []models.Adaptation
	captured map[string]int

	stopMaint chan struct{}
	maintDone chan struct{}
}

// New wires the engine. When a knowledge store is supplied, persisted
// history is warmed into the in-memory components before the engine is
// returned.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop{}
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = NewStaticCatalog()
	}

	retention := time.Duration(cfg.Pattern.RetentionDays) * 24 * time.Hour
	pstore := pattern.NewStore(retention, cfg.Pattern.MaxTagSlots, cfg.Pattern.RebuildDepthFactor)
	sc := scorer.New(pstore)
	analyzer := failure.NewAnalyzer(pstore)
	chains := failure.NewChainDetector(cfg.Chain.Window, nil)
	ref := refiner.New(pstore, sc)
	detector := conflict.NewDetector(cfg.Conflict)
	info := catalogInfo{catalog: catalog}
	exec := executor.New(cfg.Executor, pstore, analyzer, ref, chains, info, log)
	bayesEngine := bayes.NewEngine(pstore, cfg.Confidence)

	e := &Engine{
		cfg:        cfg,
		log:        log,
		catalog:    catalog,
		classifier: classifier,
		pstore:     pstore,
		scorer:     sc,
		bayes:      bayesEngine,
		detector:   detector,
		analyzer:   analyzer,
		chains:     chains,
		exec:       exec,
		kstore:     opts.Knowledge,
		executions: make(map[string]*executor.ExecutionState),
		captured:   make(map[string]int),
		stopMaint:  make(chan struct{}),
		maintDone:  make(chan struct{}),
	}

	for _, p := range catalog.Profiles() {
		detector.RegisterAgent(p)
	}

	if e.kstore != nil {
		e.writer = retry.NewWriter(cfg.Sync, e.kstore, log)
		knowledge.Warmup(context.Background(), e.kstore, pstore, detector, bayesEngine.Curve(), retention, log)
	}

	go e.maintainLoop()
	return e
}

// RegisterAgent adds an agent to the catalog-facing components at
// runtime.
func (e *Engine) RegisterAgent(p models.AgentProfile) {
	if c, ok := e.catalog.(*StaticCatalog); ok {
		c.Add(p)
	}
	e.detector.RegisterAgent(p)
}

// Plan produces a dry-run plan for the objective: candidates ranked by
// predicted success, conflict proposals applied, confidence attached.
// An empty candidate list draws from the full catalog.
func (e *Engine) Plan(objective string, candidates []string) PlanReport {
	profile := e.classifier.Classify(objective)
	q := pattern.Query{
		Objective:     objective,
		ObjectiveType: profile.Type,
		ProjectType:   profile.ProjectType,
		Tags:          profile.Tags,
	}

	if len(candidates) == 0 {
		for _, p := range e.catalog.Profiles() {
			candidates = append(candidates, p.ID)
		}
	}

	scores := e.scorer.Score(candidates, q)
	agents := make([]string, 0, len(scores))
	for _, s := range scores {
		agents = append(agents, s.AgentID)
	}

	agents = e.applyConflictProposals(agents)
	prediction := e.detector.PredictConflicts(agents)
	report := PlanReport{
		Profile:    profile,
		Agents:     agents,
		Scores:     scores,
		Confidence: e.bayes.CalculateConfidence(agents, q),
		Conflicts:  prediction,
	}

	e.log.Debugf("plan %q: %d agents, confidence %.2f, conflict-free %.2f",
		objective, len(agents), report.Confidence.Confidence, prediction.ConflictFreeProbability)
	return report
}

// applyConflictProposals mutates the candidate order per the detector's
// proposals: reorders when ordering evidence exists, removals
// otherwise.
func (e *Engine) applyConflictProposals(agents []string) []string {
	prediction := e.detector.PredictConflicts(agents)
	out := append([]string(nil), agents...)
	for _, prop := range prediction.Proposals {
		switch prop.Kind {
		case "reorder":
			if len(prop.Order) == len(out) {
				out = append([]string(nil), prop.Order...)
			}
		case "remove":
			kept := out[:0]
			for _, a := range out {
				if a != prop.Remove {
					kept = append(kept, a)
				}
			}
			out = kept
			e.log.Infof("plan: removed %s (%s)", prop.Remove, prop.Reason)
		}
	}
	return out
}

// StartExecution opens an ExecutionState for the plan. Estimates come
// from the rolling-window averages scaled to plan length.
func (e *Engine) StartExecution(objective string, plan []string) *executor.ExecutionState {
	profile := e.classifier.Classify(objective)
	stats := e.pstore.Snapshot()
	estDuration := stats.AvgDuration * time.Duration(len(plan))
	estTokens := stats.AvgTokens * len(plan)

	st := e.exec.Start(objective, profile, plan, estDuration, estTokens)

	e.mu.Lock()
	e.executions[st.ID] = st
	e.mu.Unlock()
	return st
}

// ProcessResult routes an agent result to its execution's state
// machine. An unknown execution id is a hard error.
func (e *Engine) ProcessResult(executionID string, res models.AgentResult) (*executor.ExecutionState, error) {
	e.mu.RLock()
	st, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveExecution, executionID)
	}

	if err := e.exec.ProcessResult(st, res); err != nil {
		return st, err
	}

	e.mu.Lock()
	e.captureAdaptationsLocked(st)
	e.mu.Unlock()

	if st.Status.Terminal() {
		e.persistRecoveryStrategies()
	}
	return st, nil
}

// captureAdaptationsLocked appends any adaptations not yet copied into
// the global trail. Caller holds e.mu.
func (e *Engine) captureAdaptationsLocked(st *executor.ExecutionState) {
	n := e.captured[st.ID]
	if len(st.Adaptations) > n {
		e.history = append(e.history, st.Adaptations[n:]...)
		e.captured[st.ID] = len(st.Adaptations)
	}
}

// Execution returns a tracked execution by id.
func (e *Engine) Execution(executionID string) (*executor.ExecutionState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.executions[executionID]
	return st, ok
}

// RecordFeedback closes the learning loop after an execution: the
// outcome becomes an ExecutionPattern, feeds calibration, and updates
// learned conflicts. Persistence is hybrid-sync and never blocks the
// caller past the real-time deadline.
func (e *Engine) RecordFeedback(outcome models.ExecutionOutcome) {
	results := outcome.Results
	gaps := outcome.Gaps
	if len(results) == 0 || len(gaps) == 0 {
		// Fill per-agent detail from the tracked execution when the
		// host did not report it.
		e.mu.RLock()
		if st, ok := e.executions[outcome.ExecutionID]; ok {
			if len(results) == 0 {
				results = append(append([]models.AgentResult(nil), st.Completed...), st.Failures...)
			}
			if len(gaps) == 0 {
				gaps = append([]string(nil), st.Gaps...)
			}
		}
		e.mu.RUnlock()
	}

	p := &models.ExecutionPattern{
		ID:            outcome.ExecutionID,
		Objective:     outcome.Objective,
		ObjectiveType: outcome.Profile.Type,
		ProjectType:   outcome.Profile.ProjectType,
		Tags:          outcome.Profile.Tags,
		AgentsUsed:    outcome.AgentsUsed,
		AgentResults:  results,
		Conflicts:     outcome.Conflicts,
		Gaps:          gaps,
		Success:       outcome.Success,
		Duration:      outcome.Duration,
		TokensUsed:    outcome.TokensUsed,
		Timestamp:     time.Now(),
	}
	e.pstore.Record(p)
	if e.writer != nil {
		e.writer.Write(retry.Record{Kind: retry.RecordPattern, Key: p.ID, Payload: p})
	}

	if outcome.PredictedConfidence > 0 {
		e.bayes.RecordOutcome(outcome.PredictedConfidence, outcome.Success)
		if e.writer != nil {
			e.writer.Write(retry.Record{
				Kind:    retry.RecordPattern,
				Key:     p.ID + ":calibration",
				Payload: knowledge.CalibrationPoint{Predicted: outcome.PredictedConfidence, Success: outcome.Success},
			})
		}
	}

	for _, obs := range outcome.Conflicts {
		e.detector.LearnConflict(obs.AgentA, obs.AgentB, obs.Type, obs.Conflicted, obs.AFirst, obs.AFirstSucceeded)
		if cp, ok := e.detector.Pattern(obs.AgentA, obs.AgentB); ok && e.writer != nil {
			e.writer.Write(retry.Record{Kind: retry.RecordPattern, Key: models.PairKey(cp.AgentA, cp.AgentB), Payload: cp})
		}
	}

	e.mu.Lock()
	if st, ok := e.executions[outcome.ExecutionID]; ok {
		e.captureAdaptationsLocked(st)
	}
	delete(e.executions, outcome.ExecutionID)
	delete(e.captured, outcome.ExecutionID)
	e.mu.Unlock()
}

// persistRecoveryStrategies upserts the learned strategy cache.
func (e *Engine) persistRecoveryStrategies() {
	if e.writer == nil {
		return
	}
	for _, strategies := range e.exec.RecoveryPatterns() {
		for _, s := range strategies {
			e.writer.Write(retry.Record{
				Kind:    retry.RecordPattern,
				Key:     s.FailedAgent + "|" + string(s.Category) + "|" + string(s.Kind),
				Payload: s,
			})
		}
	}
}

// AdaptationHistory returns the global adaptation trail, oldest first.
// The trail is append-only and outlives the executions it came from.
func (e *Engine) AdaptationHistory() []models.Adaptation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := append([]models.Adaptation(nil), e.history...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// RecoveryPatterns exposes the learned strategy cache.
func (e *Engine) RecoveryPatterns() map[string][]models.RecoveryStrategy {
	return e.exec.RecoveryPatterns()
}

// ConflictPatterns exposes the learned conflict map.
func (e *Engine) ConflictPatterns() []models.ConflictPattern {
	return e.detector.Patterns()
}

// PatternStats exposes the rolling-window aggregates.
func (e *Engine) PatternStats() pattern.Stats {
	return e.pstore.Snapshot()
}

// UnresolvedChains exposes failure chains awaiting attention.
func (e *Engine) UnresolvedChains() []*failure.Chain {
	return e.chains.Unresolved()
}

// maintainLoop prunes aged history periodically, independent of
// request handling.
func (e *Engine) maintainLoop() {
	defer close(e.maintDone)
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := e.pstore.PruneOld(); removed > 0 {
				e.log.Debugf("maintenance: pruned %d aged patterns", removed)
			}
		case <-e.stopMaint:
			return
		}
	}
}

// Close stops background work and flushes queued persistence.
func (e *Engine) Close() error {
	close(e.stopMaint)
	<-e.maintDone
	if e.writer != nil {
		e.writer.Close()
	}
	if e.kstore != nil {
		return e.kstore.Close()
	}
	return nil
}
