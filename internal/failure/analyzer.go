package failure

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
)

// avoidanceRules are the default per-category avoidance rules, refined
// when matching historical failures exist.
var avoidanceRules = map[models.ErrorCategory]string{
	models.ErrorTimeout:            "Allow a longer deadline or split the task before reusing this agent.",
	models.ErrorNotFound:           "Verify the referenced resource exists before dispatching this agent.",
	models.ErrorCapabilityMismatch: "Route this objective type to an agent whose declared capabilities cover it.",
	models.ErrorValidation:         "Validate task inputs against the agent's expected schema before dispatch.",
	models.ErrorTransientNetwork:   "Retry after backoff; treat repeated occurrences as an outage.",
	models.ErrorLogicalUnknown:     "Inspect the output manually; no known avoidance rule applies.",
}

var suggestedFixes = map[models.ErrorCategory]string{
	models.ErrorTimeout:            "retry with extended deadline",
	models.ErrorNotFound:           "substitute an agent that can provision the missing resource",
	models.ErrorCapabilityMismatch: "substitute a better-matched agent",
	models.ErrorValidation:         "reshape the task input and take an alternative path",
	models.ErrorTransientNetwork:   "retry the same agent",
	models.ErrorLogicalUnknown:     "retry once, then escalate",
}

// Analyzer builds FailureContexts, consulting the pattern store for
// prior failures of the same (agent, category) pair.
type Analyzer struct {
	store *pattern.Store
}

// NewAnalyzer creates an Analyzer over the given store. A nil store is
// valid; analysis then runs without historical refinement.
func NewAnalyzer(store *pattern.Store) *Analyzer {
	return &Analyzer{store: store}
}

// Analyze classifies the error and assembles a FailureContext. Prior
// failures with the same (agent, category) pair raise confidence and
// surface the most common agent sequence that preceded this failure.
func (a *Analyzer) Analyze(agentID, errText string, preceding []string, profile models.ObjectiveProfile) *models.FailureContext {
	category := Classify(errText)

	fc := &models.FailureContext{
		ID:              uuid.NewString(),
		AgentID:         agentID,
		ErrorText:       errText,
		Category:        category,
		ObjectiveType:   profile.Type,
		Tags:            append([]string(nil), profile.Tags...),
		PrecedingAgents: append([]string(nil), preceding...),
		AvoidanceRule:   avoidanceRules[category],
		SuggestedFix:    suggestedFixes[category],
		Confidence:      0.5,
		Timestamp:       time.Now(),
	}

	if a.store == nil {
		return fc
	}

	prior := a.store.FailuresFor(agentID, category)
	if len(prior) == 0 {
		return fc
	}

	// Repeated failures of the same pair are strong evidence; confidence
	// grows with each recurrence up to 0.95.
	fc.Confidence = 0.5 + 0.1*float64(len(prior))
	if fc.Confidence > 0.95 {
		fc.Confidence = 0.95
	}
	fc.AvoidanceRule = fmt.Sprintf("%s Seen %d times before for %s.",
		avoidanceRules[category], len(prior), agentID)

	if seq := commonPrecedingSequence(prior); seq != "" {
		fc.AvoidanceRule += fmt.Sprintf(" Most common preceding sequence: %s.", seq)
	}
	return fc
}

// commonPrecedingSequence finds the most frequent preceding-agent
// sequence among prior failures.
func commonPrecedingSequence(prior []*models.FailureContext) string {
	counts := make(map[string]int)
	for _, fc := range prior {
		if len(fc.PrecedingAgents) == 0 {
			continue
		}
		counts[strings.Join(fc.PrecedingAgents, " -> ")]++
	}
	var best string
	var bestCount int
	for seq, n := range counts {
		if n > bestCount || (n == bestCount && seq < best) {
			best, bestCount = seq, n
		}
	}
	return best
}
