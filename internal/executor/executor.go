package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/failure"
	"github.com/harrison/helmsman/internal/logger"
	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
	"github.com/harrison/helmsman/internal/refiner"
)

// ErrTerminalState is returned when a result arrives for an execution
// that already completed or failed. This is a caller contract violation,
// not a domain failure.
var ErrTerminalState = errors.New("execution already terminal")

// ErrUnknownAgent is returned when a result names an agent that is not
// pending in the execution.
var ErrUnknownAgent = errors.New("agent not pending in execution")

// Executor drives ExecutionStates through the state machine. One
// Executor serves many concurrent executions; each ExecutionState is
// owned by a single caller at a time.
type Executor struct {
	cfg      config.ExecutorConfig
	store    *pattern.Store
	analyzer *failure.Analyzer
	refiner  *refiner.Refiner
	chains   *failure.ChainDetector
	info     AgentInfo
	cache    *strategyCache
	log      logger.Logger
}

// New creates an Executor wired to the failure analyzer, plan refiner,
// and chain detector.
func New(cfg config.ExecutorConfig, store *pattern.Store, analyzer *failure.Analyzer,
	ref *refiner.Refiner, chains *failure.ChainDetector, info AgentInfo, log logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop{}
	}
	return &Executor{
		cfg:      cfg,
		store:    store,
		analyzer: analyzer,
		refiner:  ref,
		chains:   chains,
		info:     info,
		cache:    newStrategyCache(cfg.StrategyCachePerKey),
		log:      log,
	}
}

// Start creates a running ExecutionState for the given plan.
func (e *Executor) Start(objective string, profile models.ObjectiveProfile, plan []string,
	estDuration time.Duration, estTokens int) *ExecutionState {
	st := &ExecutionState{
		ID:                uuid.NewString(),
		Objective:         objective,
		Profile:           profile,
		OriginalPlan:      append([]string(nil), plan...),
		CurrentPlan:       append([]string(nil), plan...),
		Pending:           append([]string(nil), plan...),
		Status:            StatusRunning,
		EstimatedDuration: estDuration,
		EstimatedTokens:   estTokens,
		StartedAt:         time.Now(),
	}
	e.log.Debugf("execution %s started: %d agents for %q", st.ID, len(plan), objective)
	return st
}

// ProcessResult feeds one agent result through the state machine. The
// pending/completed partition of the current plan is restored before
// the call returns.
func (e *Executor) ProcessResult(st *ExecutionState, res models.AgentResult) error {
	if st == nil {
		return errors.New("nil execution state")
	}
	if st.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, st.ID, st.Status)
	}
	if !removePending(st, res.AgentID) {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, res.AgentID)
	}

	st.attempts++
	st.DurationUsed += res.Duration
	st.TokensUsed += res.TokensUsed

	if res.Success {
		st.Completed = append(st.Completed, res)
		st.resolveWith(res.AgentID)
		e.maybeOptimize(st)
	} else {
		st.Failures = append(st.Failures, res)
		e.recover(st, res)
	}

	// Safety bound against runaway retry/substitute loops.
	if limit := e.cfg.SafetyFactor * len(st.OriginalPlan); st.attempts >= limit && len(st.Pending) > 0 {
		st.Pending = nil
		st.Status = StatusFailed
		st.FinalError = fmt.Sprintf("safety bound hit after %d attempts (limit %d): %s",
			st.attempts, limit, e.summarizeFailures(st))
		e.log.Warnf("execution %s: %s", st.ID, st.FinalError)
		syncPlan(st)
		return nil
	}

	if len(st.Pending) == 0 {
		e.finish(st)
	}
	syncPlan(st)
	return nil
}

// removePending drops the first occurrence of agentID from pending.
func removePending(st *ExecutionState, agentID string) bool {
	for i, a := range st.Pending {
		if a == agentID {
			st.Pending = append(st.Pending[:i], st.Pending[i+1:]...)
			return true
		}
	}
	return false
}

// syncPlan rebuilds CurrentPlan as completed successes followed by
// pending work, restoring the partition invariant.
func syncPlan(st *ExecutionState) {
	plan := make([]string, 0, len(st.Completed)+len(st.Pending))
	plan = append(plan, st.CompletedAgentIDs()...)
	plan = append(plan, st.Pending...)
	st.CurrentPlan = plan
}

// maybeOptimize moves to adapting and collapses redundant pending
// agents when actual resource usage overruns the estimate.
func (e *Executor) maybeOptimize(st *ExecutionState) {
	overDuration := st.EstimatedDuration > 0 &&
		float64(st.DurationUsed) > e.cfg.OverrunMultiplier*float64(st.EstimatedDuration)
	overTokens := st.EstimatedTokens > 0 &&
		float64(st.TokensUsed) > e.cfg.OverrunMultiplier*float64(st.EstimatedTokens)
	if !overDuration && !overTokens {
		return
	}

	st.Status = StatusAdapting
	before := append([]string(nil), st.Pending...)

	seen := make(map[string]struct{})
	for _, r := range st.Completed {
		seen[agentType(r.AgentID)] = struct{}{}
	}
	kept := st.Pending[:0]
	for _, a := range st.Pending {
		t := agentType(a)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		kept = append(kept, a)
	}
	st.Pending = kept

	if len(before) != len(st.Pending) {
		st.Adaptations = append(st.Adaptations, models.Adaptation{
			ID:          uuid.NewString(),
			ExecutionID: st.ID,
			Type:        models.AdaptOptimization,
			Reason:      fmt.Sprintf("resource overrun (%.1fx budget); collapsed redundant agent types", e.cfg.OverrunMultiplier),
			Before:      before,
			After:       append([]string(nil), st.Pending...),
			Confidence:  0.6,
			Timestamp:   time.Now(),
		})
		e.log.Infof("execution %s: collapsed %d redundant agents after overrun", st.ID, len(before)-len(st.Pending))
	}
	st.Status = StatusRunning
}

// agentType infers an agent's functional type from its id suffix.
func agentType(agentID string) string {
	if i := strings.LastIndex(agentID, "-"); i >= 0 && i < len(agentID)-1 {
		return agentID[i+1:]
	}
	return agentID
}

// recover classifies the failure, selects a cached or fresh recovery
// strategy, and applies it by mutating pending.
func (e *Executor) recover(st *ExecutionState, res models.AgentResult) {
	st.Status = StatusRecovering

	fc := e.analyzer.Analyze(res.AgentID, res.Error, st.CompletedAgentIDs(), st.Profile)
	e.store.RecordFailure(fc)
	if chain := e.chains.Observe(fc); chain != nil {
		e.log.Warnf("execution %s: failure joined chain %s (%s)", st.ID, chain.ID, chain.Pattern)
	}

	strategy := e.cache.best(res.AgentID, fc.Category)
	if strategy == nil {
		strategy = freshStrategy(fc, e.info)
	}

	before := append([]string(nil), st.Pending...)
	e.apply(st, strategy, fc)

	st.Adaptations = append(st.Adaptations, models.Adaptation{
		ID:          uuid.NewString(),
		ExecutionID: st.ID,
		Type:        models.AdaptRecovery,
		Reason:      fmt.Sprintf("%s failed (%s): %s", res.AgentID, fc.Category, strategy.Reasoning),
		Before:      before,
		After:       append([]string(nil), st.Pending...),
		Confidence:  strategy.Confidence,
		Timestamp:   time.Now(),
	})

	e.cache.learn(strategy)
	st.Status = StatusRunning
}

// apply mutates pending per the strategy: retry, substitute, and
// alternative-path prepend agents; skip removes only.
func (e *Executor) apply(st *ExecutionState, s *models.RecoveryStrategy, fc *models.FailureContext) {
	rec := &openRecovery{
		failedAgent: s.FailedAgent,
		strategy:    s,
		candidates:  map[string]struct{}{},
	}

	switch s.Kind {
	case models.StrategyRetry:
		st.Pending = append([]string{s.FailedAgent}, st.Pending...)
		rec.candidates[s.FailedAgent] = struct{}{}

	case models.StrategySubstitute, models.StrategyAlternativePath:
		// An agent that already succeeded never re-enters pending, so
		// replacements are filtered against completed work first.
		replacements := withoutCompleted(st, s.Replacements)
		if len(replacements) == 0 {
			// Delegate the diff to the refiner when the strategy carries
			// no usable replacement.
			result := e.refiner.Refine(refiner.Request{
				Pending:      append([]string{s.FailedAgent}, st.Pending...),
				Completed:    st.CompletedAgentIDs(),
				Failure:      fc,
				Query:        queryFor(st),
				Alternatives: withoutCompleted(st, e.info.Alternatives(s.FailedAgent)),
			})
			st.Pending = result.Pending
			for _, a := range result.Pending {
				rec.candidates[a] = struct{}{}
			}
			break
		}
		st.Pending = append(append([]string(nil), replacements...), st.Pending...)
		for _, a := range replacements {
			rec.candidates[a] = struct{}{}
		}

	case models.StrategySkip:
		st.Gaps = append(st.Gaps, s.FailedAgent)
		rec = nil // skip absorbs the failure

	case models.StrategyRollback:
		// Roll pending back to the original tail after the failed agent.
		st.Pending = remainingOriginal(st)
		for _, a := range st.Pending {
			rec.candidates[a] = struct{}{}
		}

	default:
		st.Pending = append([]string{s.FailedAgent}, st.Pending...)
		rec.candidates[s.FailedAgent] = struct{}{}
	}

	if rec != nil {
		st.recoveries = append(st.recoveries, rec)
	}
}

// withoutCompleted filters out agents that already succeeded in this
// execution, preserving order.
func withoutCompleted(st *ExecutionState, agents []string) []string {
	done := make(map[string]struct{}, len(st.Completed))
	for _, r := range st.Completed {
		done[r.AgentID] = struct{}{}
	}
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		if _, ok := done[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// remainingOriginal returns original-plan agents that have not yet
// succeeded.
func remainingOriginal(st *ExecutionState) []string {
	done := make(map[string]struct{})
	for _, r := range st.Completed {
		done[r.AgentID] = struct{}{}
	}
	var out []string
	for _, a := range st.OriginalPlan {
		if _, ok := done[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

func queryFor(st *ExecutionState) pattern.Query {
	return pattern.Query{
		Objective:     st.Objective,
		ObjectiveType: st.Profile.Type,
		ProjectType:   st.Profile.ProjectType,
		Tags:          st.Profile.Tags,
	}
}

// finish resolves the terminal state once pending drains.
func (e *Executor) finish(st *ExecutionState) {
	unresolved := st.unresolvedRecoveries()
	if len(unresolved) == 0 {
		st.Status = StatusCompleted
		e.adjustCacheOutcomes(st)
		e.log.Infof("execution %s completed: %d agents, %d adaptations", st.ID, len(st.Completed), len(st.Adaptations))
		return
	}

	st.Status = StatusFailed
	st.FinalError = e.summarizeFailures(st)
	e.adjustCacheOutcomes(st)
	e.log.Warnf("execution %s failed: %s", st.ID, st.FinalError)
}

// adjustCacheOutcomes feeds each recovery's resolution back into the
// learned strategy cache.
func (e *Executor) adjustCacheOutcomes(st *ExecutionState) {
	seen := make(map[string]struct{})
	for _, rec := range st.recoveries {
		s := rec.strategy
		if s == nil {
			continue
		}
		key := strategyKey(s.FailedAgent, s.Category) + "|" + string(s.Kind)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		e.cache.adjust(s.FailedAgent, s.Category, s.Kind, rec.resolved)
	}
}

// summarizeFailures builds the final error: the last unrecoverable
// failure plus the recovery strategies that were attempted.
func (e *Executor) summarizeFailures(st *ExecutionState) string {
	if len(st.Failures) == 0 {
		return "no recorded failures"
	}
	last := st.Failures[len(st.Failures)-1]

	var attempted []string
	for _, a := range st.Adaptations {
		if a.Type == models.AdaptRecovery {
			attempted = append(attempted, a.Reason)
		}
	}
	msg := fmt.Sprintf("%s failed: %s", last.AgentID, last.Error)
	if len(attempted) > 0 {
		msg += "; attempted recovery: " + strings.Join(attempted, "; ")
	}
	return msg
}

// RecoveryPatterns exposes the learned strategy cache for
// observability.
func (e *Executor) RecoveryPatterns() map[string][]models.RecoveryStrategy {
	return e.cache.snapshot()
}
