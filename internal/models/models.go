// Package models defines the shared domain types flowing between the
// engine's components: execution history, failure analysis, predictive
// scores, conflicts, adaptations, and recovery strategies. Keeping them
// here keeps the component packages free of cross-imports.
package models

import "time"

// ErrorCategory is the closed taxonomy used everywhere a failure is
// classified. The set is ordered; classification rules are checked in
// this order and the first match wins.
type ErrorCategory string

const (
	ErrorTimeout            ErrorCategory = "timeout"
	ErrorNotFound           ErrorCategory = "not_found"
	ErrorCapabilityMismatch ErrorCategory = "capability_mismatch"
	ErrorValidation         ErrorCategory = "validation"
	ErrorTransientNetwork   ErrorCategory = "transient_network"
	ErrorLogicalUnknown     ErrorCategory = "logical_unknown"
)

// Categories returns the taxonomy in classification order.
func Categories() []ErrorCategory {
	return []ErrorCategory{
		ErrorTimeout,
		ErrorNotFound,
		ErrorCapabilityMismatch,
		ErrorValidation,
		ErrorTransientNetwork,
		ErrorLogicalUnknown,
	}
}

// AgentResult is the outcome of one agent invocation, reported by the
// host's task executor.
type AgentResult struct {
	AgentID    string        `json:"agent_id"`
	Success    bool          `json:"success"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	TokensUsed int           `json:"tokens_used"`
}

// ExecutionPattern is the stored record of one completed orchestration,
// the unit of similarity-based learning. Beyond the aggregate outcome
// it keeps the per-agent results, observed conflicts, and skipped gaps
// so later analysis can see inside the execution.
type ExecutionPattern struct {
	ID            string                `json:"id"`
	Objective     string                `json:"objective"`
	ObjectiveType string                `json:"objective_type"`
	ProjectType   string                `json:"project_type,omitempty"`
	Tags          []string              `json:"tags,omitempty"`
	AgentsUsed    []string              `json:"agents_used"`
	AgentResults  []AgentResult         `json:"agent_results,omitempty"`
	Conflicts     []ConflictObservation `json:"conflicts,omitempty"`
	Gaps          []string              `json:"gaps,omitempty"`
	Success       bool                  `json:"success"`
	Duration      time.Duration         `json:"duration"`
	TokensUsed    int                   `json:"tokens_used"`
	Timestamp     time.Time             `json:"timestamp"`
}

// FailureContext is an analyzed failure: the classification plus the
// avoidance guidance derived from history.
type FailureContext struct {
	ID              string        `json:"id"`
	AgentID         string        `json:"agent_id"`
	ErrorText       string        `json:"error_text"`
	Category        ErrorCategory `json:"category"`
	ObjectiveType   string        `json:"objective_type,omitempty"`
	Tags            []string      `json:"tags,omitempty"`
	PrecedingAgents []string      `json:"preceding_agents,omitempty"`
	AvoidanceRule   string        `json:"avoidance_rule,omitempty"`
	SuggestedFix    string        `json:"suggested_fix,omitempty"`
	Confidence      float64       `json:"confidence"`
	Timestamp       time.Time     `json:"timestamp"`
}

// MatchFactors breaks a similarity score into its contributing signals.
type MatchFactors struct {
	ObjectiveTypeMatch bool    `json:"objective_type_match"`
	ProjectMatch       bool    `json:"project_match"`
	TagOverlap         float64 `json:"tag_overlap"`
	TextOverlap        float64 `json:"text_overlap"`
	RecencyBonus       float64 `json:"recency_bonus"`
}

// PatternMatch is one similarity-search hit with its blended score.
type PatternMatch struct {
	Pattern    *ExecutionPattern `json:"pattern"`
	Similarity float64           `json:"similarity"`
	Factors    MatchFactors      `json:"factors"`
}

// PredictiveScore is a per-agent success prediction for a candidate
// objective.
type PredictiveScore struct {
	AgentID       string  `json:"agent_id"`
	PredictedRate float64 `json:"predicted_rate"`
	Confidence    float64 `json:"confidence"`
	SampleCount   int     `json:"sample_count"`
	SuccessCount  int     `json:"success_count"`
	AvgTokens     int     `json:"avg_tokens"`
}

// ConflictType classifies how two agents interfere with each other.
type ConflictType string

const (
	ConflictToolOverlap ConflictType = "tool_overlap"
	ConflictResource    ConflictType = "resource"
	ConflictSemantic    ConflictType = "semantic"
	ConflictOrdering    ConflictType = "ordering"
)

// ConflictPattern is the learned conflict history for one agent pair.
// AgentA is always the lexicographically first of the pair so the
// A-before-B ordering statistic is well defined.
type ConflictPattern struct {
	AgentA       string       `json:"agent_a"`
	AgentB       string       `json:"agent_b"`
	Type         ConflictType `json:"type"`
	Probability  float64      `json:"probability"`
	Observations int          `json:"observations"`
	LastObserved time.Time    `json:"last_observed"`

	// AFirstSuccessRate is the observed success rate when AgentA ran
	// before AgentB, over AFirstSamples orderings.
	AFirstSuccessRate float64 `json:"a_first_success_rate"`
	AFirstSamples     int     `json:"a_first_samples"`
}

// PairKey builds the order-independent map key for an agent pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// AdaptationType distinguishes why a plan was mutated mid-flight.
type AdaptationType string

const (
	AdaptRecovery     AdaptationType = "recovery"
	AdaptOptimization AdaptationType = "optimization"
)

// Adaptation records one mid-flight plan mutation for the audit trail.
type Adaptation struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Type        AdaptationType `json:"type"`
	Reason      string         `json:"reason"`
	Before      []string       `json:"before"`
	After       []string       `json:"after"`
	Confidence  float64        `json:"confidence"`
	Timestamp   time.Time      `json:"timestamp"`
}

// StrategyKind is the corrective action class after an agent failure.
type StrategyKind string

const (
	StrategyRetry           StrategyKind = "retry"
	StrategySubstitute      StrategyKind = "substitute"
	StrategySkip            StrategyKind = "skip"
	StrategyRollback        StrategyKind = "rollback"
	StrategyAlternativePath StrategyKind = "alternative_path"
)

// RecoveryStrategy is a chosen corrective action for one failure,
// cached and re-ranked by observed effectiveness.
type RecoveryStrategy struct {
	FailedAgent  string        `json:"failed_agent"`
	Category     ErrorCategory `json:"category"`
	Kind         StrategyKind  `json:"kind"`
	Replacements []string      `json:"replacements,omitempty"`
	Confidence   float64       `json:"confidence"`
	Reasoning    string        `json:"reasoning"`
}

// AgentProfile is the host-declared description of an agent. The engine
// reads it as an input signal and never mutates it.
type AgentProfile struct {
	ID             string   `json:"id"`
	Specialization string   `json:"specialization,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	Alternatives   []string `json:"alternatives,omitempty"`
	Critical       bool     `json:"critical"`
	SuccessRate    float64  `json:"success_rate"`
}

// ObjectiveProfile is the classifier's view of an objective: its type,
// weighted intent tags, and a complexity estimate.
type ObjectiveProfile struct {
	Type        string   `json:"type"`
	ProjectType string   `json:"project_type,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Complexity  float64  `json:"complexity"`
}

// ConflictObservation reports whether a pair of agents conflicted
// during one execution, with ordering evidence when both ran.
type ConflictObservation struct {
	AgentA          string       `json:"agent_a"`
	AgentB          string       `json:"agent_b"`
	Type            ConflictType `json:"type"`
	Conflicted      bool         `json:"conflicted"`
	AFirst          bool         `json:"a_first"`
	AFirstSucceeded bool         `json:"a_first_succeeded"`
}

// ExecutionOutcome is the feedback record closing the learning loop
// after an execution finishes.
type ExecutionOutcome struct {
	ExecutionID         string                `json:"execution_id"`
	Objective           string                `json:"objective"`
	Profile             ObjectiveProfile      `json:"profile"`
	AgentsUsed          []string              `json:"agents_used"`
	Success             bool                  `json:"success"`
	Duration            time.Duration         `json:"duration"`
	TokensUsed          int                   `json:"tokens_used"`
	PredictedConfidence float64               `json:"predicted_confidence"`
	Results             []AgentResult         `json:"results,omitempty"`
	Gaps                []string              `json:"gaps,omitempty"`
	Conflicts           []ConflictObservation `json:"conflicts,omitempty"`
}
