package bayes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
)

func newEngineWithHistory(t *testing.T, executions int, successRate float64) *Engine {
	t.Helper()
	store := pattern.NewStore(30*24*time.Hour, 24, 2.0)
	for i := 0; i < executions; i++ {
		store.Record(&models.ExecutionPattern{
			Objective:     "fix the login flow",
			ObjectiveType: "bugfix",
			ProjectType:   "webapp",
			Tags:          []string{"auth"},
			AgentsUsed:    []string{"impl", "verify"},
			Success:       float64(i) < successRate*float64(executions),
		})
	}
	return NewEngine(store, config.DefaultConfig().Confidence)
}

func TestConfidenceIntervalBounds(t *testing.T) {
	cases := []struct {
		name       string
		executions int
		rate       float64
	}{
		{"no history", 0, 0},
		{"small mixed", 5, 0.6},
		{"large successful", 50, 0.9},
		{"large failing", 50, 0.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngineWithHistory(t, tc.executions, tc.rate)
			r := e.CalculateConfidence([]string{"impl", "verify"}, pattern.Query{
				Objective: "fix the login flow", ObjectiveType: "bugfix", ProjectType: "webapp",
			})

			assert.GreaterOrEqual(t, r.Lower, 0.0)
			assert.LessOrEqual(t, r.Lower, r.Confidence)
			assert.LessOrEqual(t, r.Confidence, r.Upper)
			assert.LessOrEqual(t, r.Upper, 1.0)
			assert.LessOrEqual(t, r.Uncertainty, 0.5)
		})
	}
}

func TestNoHistoryStaysNeutral(t *testing.T) {
	e := newEngineWithHistory(t, 0, 0)
	r := e.CalculateConfidence([]string{"impl"}, pattern.Query{Objective: "anything"})

	assert.Equal(t, 0.5, r.RawConfidence, "no evidence keeps the neutral baseline")
	assert.Empty(t, r.Evidence)
	assert.NotEmpty(t, r.Warnings, "sparse history must warn")
}

func TestStrongHistoryRaisesConfidence(t *testing.T) {
	e := newEngineWithHistory(t, 40, 0.9)
	r := e.CalculateConfidence([]string{"impl", "verify"}, pattern.Query{
		Objective: "fix the login flow", ObjectiveType: "bugfix", ProjectType: "webapp",
		Tags: []string{"auth"},
	})

	assert.Greater(t, r.RawConfidence, 0.6)
	require.NotEmpty(t, r.Evidence)
	names := make(map[string]bool)
	for _, src := range r.Evidence {
		names[src.Name] = true
		assert.GreaterOrEqual(t, src.Posterior, 0.0)
		assert.LessOrEqual(t, src.Posterior, 1.0)
	}
	assert.True(t, names["agent_history"])
	assert.True(t, names["objective_similarity"])
	assert.True(t, names["context_similarity"])
	assert.True(t, names["multi_agent_synergy"])
}

func TestFailingHistoryLowersConfidenceAndWarns(t *testing.T) {
	e := newEngineWithHistory(t, 40, 0.05)
	r := e.CalculateConfidence([]string{"impl", "verify"}, pattern.Query{
		Objective: "fix the login flow", ObjectiveType: "bugfix", ProjectType: "webapp",
	})

	assert.Less(t, r.RawConfidence, 0.3)
	found := false
	for _, w := range r.Warnings {
		if len(w) >= 14 && w[:14] == "low confidence" {
			found = true
		}
	}
	assert.True(t, found, "expected a low confidence warning, got %v", r.Warnings)
}

func TestPosterior(t *testing.T) {
	// Neutral prior leaves the likelihood unchanged.
	assert.InDelta(t, 0.8, posterior(0.8, 0.5), 1e-9)
	// Strong prior amplifies agreeing evidence.
	assert.Greater(t, posterior(0.8, 0.8), 0.9)
	// Zero likelihood forces the posterior to zero.
	assert.Equal(t, 0.0, posterior(0.0, 0.5))
	// Degenerate denominator falls back to the prior.
	assert.Equal(t, 1.0, posterior(0.0, 1.0))
}

func TestRecordOutcomeFeedsCalibration(t *testing.T) {
	e := newEngineWithHistory(t, 0, 0)
	for i := 0; i < 20; i++ {
		e.RecordOutcome(0.9, false)
	}
	assert.Less(t, e.Curve().Calibrate(0.9), 0.5, "calibration must learn the overconfidence")
}
