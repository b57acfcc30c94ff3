package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/failure"
	"github.com/harrison/helmsman/internal/logger"
	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
)

// ErrNoCandidates is returned when every candidate agent is excluded
// before any attempt could run.
var ErrNoCandidates = errors.New("no candidate agents available")

// ErrAttemptsExhausted is returned when the attempt bound is hit
// without a success.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// ErrLowQualityFallback is returned when the best remaining fallback
// scores below the quality threshold; the orchestrator gives up rather
// than trying it.
var ErrLowQualityFallback = errors.New("fallback quality below threshold")

// TaskExecutor runs one task on one agent. Implementations should honor
// ctx; the orchestrator additionally races each attempt against its
// deadline.
type TaskExecutor interface {
	Execute(ctx context.Context, agentID string, task Task) models.AgentResult
}

// AgentScorer ranks candidate agents for a task, best first.
type AgentScorer interface {
	Score(agents []string, q pattern.Query) []models.PredictiveScore
}

// Task is one unit of work to execute with fallback.
type Task struct {
	ID          string
	Description string
	Query       pattern.Query
	// Candidates are the agents allowed to attempt this task.
	Candidates []string
}

// Attempt records one try within a task.
type Attempt struct {
	AgentID string             `json:"agent_id"`
	Score   float64            `json:"score"`
	Result  models.AgentResult `json:"result"`
}

// Outcome is the final result of ExecuteWithRetry.
type Outcome struct {
	Success       bool               `json:"success"`
	Result        models.AgentResult `json:"result"`
	Attempts      []Attempt          `json:"attempts"`
	Excluded      []string           `json:"excluded,omitempty"`
	FallbackChain []string           `json:"fallback_chain,omitempty"`
}

// fallbackChainRecord is persisted when a task succeeds after at least
// one failed attempt, so the working fallback is reusable.
type fallbackChainRecord struct {
	TaskID        string   `json:"task_id"`
	ObjectiveType string   `json:"objective_type"`
	FailedAgents  []string `json:"failed_agents"`
	SuccessAgent  string   `json:"success_agent"`
}

// Orchestrator executes tasks with sequential agent fallback. Failed
// agents join an exclusion set for the remainder of the task and are
// never re-selected.
type Orchestrator struct {
	cfg      config.RetryConfig
	exec     TaskExecutor
	scorer   AgentScorer
	analyzer *failure.Analyzer
	store    *pattern.Store
	writer   *Writer
	log      logger.Logger
}

// NewOrchestrator creates an Orchestrator. The writer may be nil, in
// which case nothing is persisted.
func NewOrchestrator(cfg config.RetryConfig, exec TaskExecutor, scorer AgentScorer,
	analyzer *failure.Analyzer, store *pattern.Store, writer *Writer, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop{}
	}
	return &Orchestrator{
		cfg:      cfg,
		exec:     exec,
		scorer:   scorer,
		analyzer: analyzer,
		store:    store,
		writer:   writer,
		log:      log,
	}
}

// ExecuteWithRetry runs the task with sequential fallback. Each attempt
// picks the best-ranked non-excluded candidate; attempts after the
// first must meet the minimum quality threshold or the orchestrator
// gives up immediately. The returned Outcome always carries the full
// attempt trail.
func (o *Orchestrator) ExecuteWithRetry(ctx context.Context, task Task) (Outcome, error) {
	var out Outcome
	excluded := make(map[string]struct{})
	var failedChain []string

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		agentID, score, ok := o.selectAgent(task, excluded)
		if !ok {
			if attempt == 0 {
				return out, ErrNoCandidates
			}
			return out, fmt.Errorf("%w after %d attempts", ErrNoCandidates, attempt)
		}
		if attempt > 0 && score < o.cfg.MinFallbackQuality {
			o.log.Infof("task %s: best fallback %s scores %.2f, below %.2f; giving up",
				task.ID, agentID, score, o.cfg.MinFallbackQuality)
			return out, fmt.Errorf("%w: %s at %.2f", ErrLowQualityFallback, agentID, score)
		}

		res := o.attempt(ctx, agentID, task)
		out.Attempts = append(out.Attempts, Attempt{AgentID: agentID, Score: score, Result: res})

		if res.Success {
			out.Success = true
			out.Result = res
			if len(failedChain) > 0 {
				out.FallbackChain = append(append([]string(nil), failedChain...), agentID)
				o.persistFallbackChain(task, failedChain, agentID)
			}
			return out, nil
		}

		excluded[agentID] = struct{}{}
		out.Excluded = append(out.Excluded, agentID)
		failedChain = append(failedChain, agentID)
		o.learnFromFailure(task, agentID, res)
	}

	return out, fmt.Errorf("%w: %d attempts for task %s", ErrAttemptsExhausted, o.cfg.MaxAttempts, task.ID)
}

// selectAgent returns the best-ranked candidate not yet excluded.
func (o *Orchestrator) selectAgent(task Task, excluded map[string]struct{}) (string, float64, bool) {
	remaining := make([]string, 0, len(task.Candidates))
	for _, a := range task.Candidates {
		if _, skip := excluded[a]; !skip {
			remaining = append(remaining, a)
		}
	}
	if len(remaining) == 0 {
		return "", 0, false
	}
	scores := o.scorer.Score(remaining, task.Query)
	if len(scores) == 0 {
		return "", 0, false
	}
	return scores[0].AgentID, scores[0].PredictedRate, true
}

// attempt races one execution against the per-attempt deadline. A slow
// executor keeps running in its goroutine; the orchestrator records a
// timeout failure and moves on.
func (o *Orchestrator) attempt(ctx context.Context, agentID string, task Task) models.AgentResult {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	resc := make(chan models.AgentResult, 1)
	go func() { resc <- o.exec.Execute(attemptCtx, agentID, task) }()

	select {
	case res := <-resc:
		return res
	case <-attemptCtx.Done():
		return models.AgentResult{
			AgentID:  agentID,
			Success:  false,
			Error:    fmt.Sprintf("attempt timed out after %s", time.Since(start).Round(time.Millisecond)),
			Duration: time.Since(start),
		}
	}
}

// learnFromFailure analyzes and persists a failed attempt when enabled.
func (o *Orchestrator) learnFromFailure(task Task, agentID string, res models.AgentResult) {
	if !o.cfg.LearnFromFailure || o.analyzer == nil {
		return
	}
	profile := models.ObjectiveProfile{
		Type:        task.Query.ObjectiveType,
		ProjectType: task.Query.ProjectType,
		Tags:        task.Query.Tags,
	}
	fc := o.analyzer.Analyze(agentID, res.Error, nil, profile)
	if o.store != nil {
		o.store.RecordFailure(fc)
	}
	if o.writer != nil {
		o.writer.Write(Record{Kind: RecordFailure, Key: fc.ID, Payload: fc})
	}
}

// persistFallbackChain records a working failed-agents-to-success chain
// as a reusable pattern.
func (o *Orchestrator) persistFallbackChain(task Task, failed []string, successAgent string) {
	if o.writer == nil {
		return
	}
	o.writer.Write(Record{
		Kind: RecordFallbackChain,
		Key:  task.ID,
		Payload: fallbackChainRecord{
			TaskID:        task.ID,
			ObjectiveType: task.Query.ObjectiveType,
			FailedAgents:  append([]string(nil), failed...),
			SuccessAgent:  successAgent,
		},
	})
	o.log.Infof("task %s: fallback chain %v -> %s persisted", task.ID, failed, successAgent)
}
