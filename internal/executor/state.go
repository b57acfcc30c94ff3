// Package executor drives a single orchestration as a state machine,
// invoking failure analysis, plan refinement, and learned recovery
// strategies while the plan is executing.
package executor

import (
	"time"

	"github.com/harrison/helmsman/internal/models"
)

// Status is the execution state machine's state.
type Status string

const (
	StatusRunning    Status = "running"
	StatusAdapting   Status = "adapting"
	StatusRecovering Status = "recovering"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the execution.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// openRecovery tracks a failure whose corrective action has not yet
// produced a successful result.
type openRecovery struct {
	failedAgent string
	strategy    *models.RecoveryStrategy
	resolved    bool
	// candidates are agents whose later success resolves this failure.
	candidates map[string]struct{}
}

// ExecutionState is the live, mutable state of one in-flight
// orchestration. It is owned exclusively by one Executor for the
// lifetime of one execution.
type ExecutionState struct {
	ID           string                  `json:"id"`
	Objective    string                  `json:"objective"`
	Profile      models.ObjectiveProfile `json:"profile"`
	OriginalPlan []string                `json:"original_plan"`
	CurrentPlan  []string                `json:"current_plan"`

	// Pending and Completed partition CurrentPlan at all times outside
	// the window of applying a mutation. Failed attempts live in
	// Failures, not Completed.
	Pending   []string             `json:"pending"`
	Completed []models.AgentResult `json:"completed"`
	Failures  []models.AgentResult `json:"failures,omitempty"`

	Status      Status              `json:"status"`
	Adaptations []models.Adaptation `json:"adaptations,omitempty"`
	Gaps        []string            `json:"gaps,omitempty"`

	DurationUsed      time.Duration `json:"duration_used"`
	TokensUsed        int           `json:"tokens_used"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	EstimatedTokens   int           `json:"estimated_tokens,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinalError string    `json:"final_error,omitempty"`

	attempts   int
	recoveries []*openRecovery
}

// CompletedAgentIDs returns the ids of agents with recorded successful
// results.
func (st *ExecutionState) CompletedAgentIDs() []string {
	out := make([]string, 0, len(st.Completed))
	for _, r := range st.Completed {
		out = append(out, r.AgentID)
	}
	return out
}

// unresolvedRecoveries returns failures whose corrective action never
// produced a success.
func (st *ExecutionState) unresolvedRecoveries() []*openRecovery {
	var out []*openRecovery
	for _, rec := range st.recoveries {
		if !rec.resolved {
			out = append(out, rec)
		}
	}
	return out
}

// resolveWith marks recoveries resolved by a successful result from one
// of their candidate agents.
func (st *ExecutionState) resolveWith(agentID string) {
	for _, rec := range st.recoveries {
		if rec.resolved {
			continue
		}
		if _, ok := rec.candidates[agentID]; ok {
			rec.resolved = true
		}
	}
}
