package refiner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
)

// stubScorer returns canned scores, defaulting to a neutral prediction.
type stubScorer map[string]models.PredictiveScore

func (s stubScorer) Score(agents []string, q pattern.Query) []models.PredictiveScore {
	out := make([]models.PredictiveScore, 0, len(agents))
	for _, a := range agents {
		sc, ok := s[a]
		if !ok {
			sc = models.PredictiveScore{AgentID: a, PredictedRate: 0.5}
		}
		out = append(out, sc)
	}
	return out
}

func newTestStore() *pattern.Store {
	return pattern.NewStore(30*24*time.Hour, 24, 2.0)
}

func seedSuccesses(store *pattern.Store, n int, objType string, tags, agents []string) {
	for i := 0; i < n; i++ {
		store.Record(&models.ExecutionPattern{
			Objective:     "harden the auth token refresh",
			ObjectiveType: objType,
			ProjectType:   "webapp",
			Tags:          tags,
			AgentsUsed:    agents,
			Success:       true,
		})
	}
}

func baseRequest(cat models.ErrorCategory, conf float64, alternatives ...string) Request {
	return Request{
		Pending:   []string{"impl", "verify", "docs"},
		Completed: []string{"research"},
		Failure: &models.FailureContext{
			AgentID:    "impl",
			Category:   cat,
			Confidence: conf,
		},
		Query: pattern.Query{
			Objective:     "harden the auth token refresh",
			ObjectiveType: "bugfix",
			ProjectType:   "webapp",
			Tags:          []string{"auth"},
		},
		Alternatives: alternatives,
	}
}

func TestRefineNilFailure(t *testing.T) {
	r := New(newTestStore(), stubScorer{})
	res := r.Refine(Request{Pending: []string{"impl"}})
	assert.Equal(t, models.StrategySkip, res.Strategy)
	assert.Equal(t, []string{"impl"}, res.Pending)
}

func TestRefineHighConfidenceSubstitutes(t *testing.T) {
	store := newTestStore()
	seedSuccesses(store, 4, "bugfix", []string{"auth"}, []string{"impl", "verify"})
	r := New(store, stubScorer{})

	res := r.Refine(baseRequest(models.ErrorCapabilityMismatch, 0.9, "impl-senior"))

	assert.Equal(t, models.StrategySubstitute, res.Strategy)
	assert.Equal(t, []string{"impl-senior", "verify", "docs"}, res.Pending)
	assert.GreaterOrEqual(t, res.Confidence, 0.7)
	assert.False(t, res.Exploratory)
}

func TestRefineHighConfidenceRetryKeepsPlan(t *testing.T) {
	store := newTestStore()
	seedSuccesses(store, 4, "bugfix", []string{"auth"}, []string{"impl", "verify"})
	r := New(store, stubScorer{})

	res := r.Refine(baseRequest(models.ErrorTimeout, 0.9, "impl-senior"))

	assert.Equal(t, models.StrategyRetry, res.Strategy)
	assert.Equal(t, []string{"impl", "verify", "docs"}, res.Pending)
}

func TestRefineHighConfidenceNoAlternativesSkips(t *testing.T) {
	store := newTestStore()
	seedSuccesses(store, 4, "bugfix", []string{"auth"}, []string{"impl", "verify"})
	r := New(store, stubScorer{})

	req := baseRequest(models.ErrorNotFound, 1.0)
	req.Dependencies = map[string][]string{"verify": {"impl"}}
	res := r.Refine(req)

	assert.Equal(t, models.StrategySkip, res.Strategy)
	assert.Equal(t, []string{"docs"}, res.Pending, "verify depends on the removed agent")
}

func TestRefineMediumConfidencePicksBestCandidate(t *testing.T) {
	// Empty store keeps evidence in the middle tier: 0.6 * 0.7 = 0.42.
	scorer := stubScorer{
		"impl-alt-a": {AgentID: "impl-alt-a", PredictedRate: 0.95},
		"impl-alt-b": {AgentID: "impl-alt-b", PredictedRate: 0.3},
	}
	r := New(newTestStore(), scorer)

	res := r.Refine(baseRequest(models.ErrorCapabilityMismatch, 0.7, "impl-alt-b", "impl-alt-a"))

	assert.Equal(t, models.StrategySubstitute, res.Strategy)
	assert.Equal(t, []string{"impl-alt-a", "verify", "docs"}, res.Pending,
		"the higher-scoring substitute wins even when listed second")
	assert.False(t, res.Exploratory)
}

func TestRefineLowConfidenceHybridizes(t *testing.T) {
	store := newTestStore()
	// A successful run in a different objective domain sharing the auth
	// tag contributes its agents as donors.
	store.Record(&models.ExecutionPattern{
		Objective:     "ship oauth login",
		ObjectiveType: "feature",
		ProjectType:   "webapp",
		Tags:          []string{"auth"},
		AgentsUsed:    []string{"oauth-specialist"},
		Success:       true,
	})
	store.Record(&models.ExecutionPattern{
		Objective:     "rotate signing keys",
		ObjectiveType: "feature",
		ProjectType:   "webapp",
		Tags:          []string{"auth"},
		AgentsUsed:    []string{"oauth-specialist", "impl"},
		Success:       true,
	})
	r := New(store, stubScorer{})

	res := r.Refine(baseRequest(models.ErrorLogicalUnknown, 0.1))

	assert.True(t, res.Exploratory)
	assert.Less(t, res.Confidence, 0.4)
	require.NotEmpty(t, res.Pending)
	assert.Equal(t, "oauth-specialist", res.Pending[0])
	assert.NotContains(t, res.Pending, "impl", "the failed agent never returns")
}

func TestHybridizeWithoutDonorsFallsBackToAlternative(t *testing.T) {
	r := New(newTestStore(), stubScorer{})

	res := r.Refine(baseRequest(models.ErrorLogicalUnknown, 0.1, "impl-backup"))

	assert.True(t, res.Exploratory)
	assert.Equal(t, []string{"impl-backup", "verify", "docs"}, res.Pending)
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		cat  models.ErrorCategory
		want models.StrategyKind
	}{
		{models.ErrorTimeout, models.StrategyRetry},
		{models.ErrorTransientNetwork, models.StrategyRetry},
		{models.ErrorNotFound, models.StrategySubstitute},
		{models.ErrorCapabilityMismatch, models.StrategySubstitute},
		{models.ErrorValidation, models.StrategyAlternativePath},
		{models.ErrorLogicalUnknown, models.StrategyAlternativePath},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, strategyFor(tt.cat), "category %s", tt.cat)
	}
}

func TestRemoveWithDependentsTransitive(t *testing.T) {
	r := New(newTestStore(), stubScorer{})
	pending := []string{"a", "b", "c", "d"}
	deps := map[string][]string{
		"b": {"a"},
		"c": {"b"},
		"d": {"research"}, // completed producer, unaffected
	}

	got := r.removeWithDependents(pending, "a", deps)
	assert.Equal(t, []string{"d"}, got, "removal cascades through b and c")
}

func TestReplaceAgent(t *testing.T) {
	assert.Equal(t, []string{"x", "b"}, replaceAgent([]string{"a", "b"}, "a", "x"))
	assert.Equal(t, []string{"a", "b"}, replaceAgent([]string{"a", "b"}, "zz", "x"))
}
