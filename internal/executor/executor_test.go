package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/failure"
	"github.com/harrison/helmsman/internal/logger"
	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
	"github.com/harrison/helmsman/internal/refiner"
	"github.com/harrison/helmsman/internal/scorer"
)

type stubInfo struct {
	alts     map[string][]string
	critical map[string]bool
}

func (s stubInfo) Alternatives(id string) []string { return s.alts[id] }
func (s stubInfo) IsCritical(id string) bool       { return s.critical[id] }

func newTestExecutor(cfg config.ExecutorConfig, info AgentInfo) *Executor {
	store := pattern.NewStore(30*24*time.Hour, 24, 2.0)
	analyzer := failure.NewAnalyzer(store)
	chains := failure.NewChainDetector(5*time.Minute, nil)
	ref := refiner.New(store, scorer.New(store))
	return New(cfg, store, analyzer, ref, chains, info, logger.Nop{})
}

func ok(id string) models.AgentResult {
	return models.AgentResult{AgentID: id, Success: true, Duration: time.Second, TokensUsed: 10}
}

func fail(id, errText string) models.AgentResult {
	return models.AgentResult{AgentID: id, Error: errText, Duration: time.Second, TokensUsed: 10}
}

// assertPartition checks that completed successes and pending work
// partition the current plan.
func assertPartition(t *testing.T, st *ExecutionState) {
	t.Helper()
	want := make([]string, 0, len(st.Completed)+len(st.Pending))
	want = append(want, st.CompletedAgentIDs()...)
	want = append(want, st.Pending...)
	assert.Equal(t, want, st.CurrentPlan)

	done := make(map[string]struct{})
	for _, id := range st.CompletedAgentIDs() {
		done[id] = struct{}{}
	}
	for _, p := range st.Pending {
		_, overlap := done[p]
		assert.False(t, overlap, "agent %s is both pending and completed", p)
	}
}

func TestHappyPathCompletes(t *testing.T) {
	e := newTestExecutor(config.DefaultConfig().Executor, stubInfo{})
	st := e.Start("ship it", models.ObjectiveProfile{Type: "feature"}, []string{"research", "impl"}, 0, 0)

	require.NotEmpty(t, st.ID)
	assert.Equal(t, StatusRunning, st.Status)

	require.NoError(t, e.ProcessResult(st, ok("research")))
	assertPartition(t, st)
	assert.Equal(t, StatusRunning, st.Status)

	require.NoError(t, e.ProcessResult(st, ok("impl")))
	assertPartition(t, st)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Empty(t, st.Adaptations)
	assert.Empty(t, st.FinalError)
}

func TestTimeoutRetriesThenResolves(t *testing.T) {
	e := newTestExecutor(config.DefaultConfig().Executor, stubInfo{})
	st := e.Start("fix flaky build", models.ObjectiveProfile{Type: "bugfix"}, []string{"impl", "verify"}, 0, 0)

	require.NoError(t, e.ProcessResult(st, fail("impl", "operation timed out")))
	assertPartition(t, st)

	// Transient failures prepend the same agent for a retry.
	assert.Equal(t, []string{"impl", "verify"}, st.Pending)
	assert.Equal(t, StatusRunning, st.Status)
	require.Len(t, st.Adaptations, 1)
	assert.Equal(t, models.AdaptRecovery, st.Adaptations[0].Type)
	assert.Len(t, st.Failures, 1)

	require.NoError(t, e.ProcessResult(st, ok("impl")))
	assertPartition(t, st)
	require.NoError(t, e.ProcessResult(st, ok("verify")))
	assert.Equal(t, StatusCompleted, st.Status)
}

func TestSubstituteAfterCapabilityMismatch(t *testing.T) {
	info := stubInfo{alts: map[string][]string{"impl": {"impl-senior"}}}
	e := newTestExecutor(config.DefaultConfig().Executor, info)
	st := e.Start("migrate schema", models.ObjectiveProfile{}, []string{"impl", "verify"}, 0, 0)

	require.NoError(t, e.ProcessResult(st, fail("impl", "agent lacks required capability: db")))
	assertPartition(t, st)
	assert.Equal(t, []string{"impl-senior", "verify"}, st.Pending)

	require.NoError(t, e.ProcessResult(st, ok("impl-senior")))
	require.NoError(t, e.ProcessResult(st, ok("verify")))
	assert.Equal(t, StatusCompleted, st.Status, "substitute success resolves the failure")
}

func TestSkipNonCriticalLeavesGap(t *testing.T) {
	e := newTestExecutor(config.DefaultConfig().Executor, stubInfo{})
	st := e.Start("write docs", models.ObjectiveProfile{}, []string{"docs", "verify"}, 0, 0)

	require.NoError(t, e.ProcessResult(st, fail("docs", "no suitable agent for objective")))
	assertPartition(t, st)
	assert.Equal(t, []string{"docs"}, st.Gaps)
	assert.Equal(t, []string{"verify"}, st.Pending)

	require.NoError(t, e.ProcessResult(st, ok("verify")))
	assert.Equal(t, StatusCompleted, st.Status, "a skipped gap does not fail the execution")
}

func TestUnresolvedRecoveryFailsExecution(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	cfg.SafetyFactor = 10
	info := stubInfo{alts: map[string][]string{"impl": {"impl-backup"}}}
	e := newTestExecutor(cfg, info)
	st := e.Start("risky change", models.ObjectiveProfile{}, []string{"impl"}, 0, 0)

	require.NoError(t, e.ProcessResult(st, fail("impl", "resource not found")))
	assert.Equal(t, []string{"impl-backup"}, st.Pending)

	// The substitute itself fails and gets skipped, so the original
	// failure never resolves.
	require.NoError(t, e.ProcessResult(st, fail("impl-backup", "validation failed: bad patch")))
	assertPartition(t, st)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.FinalError, "impl-backup failed")
	assert.Contains(t, st.FinalError, "attempted recovery")
}

func TestSafetyBoundStopsRetryLoop(t *testing.T) {
	cfg := config.DefaultConfig().Executor
	cfg.SafetyFactor = 2
	e := newTestExecutor(cfg, stubInfo{critical: map[string]bool{"solo": true}})
	st := e.Start("stubborn task", models.ObjectiveProfile{}, []string{"solo"}, 0, 0)

	require.NoError(t, e.ProcessResult(st, fail("solo", "connection refused by upstream")))
	assert.Equal(t, []string{"solo"}, st.Pending)
	assert.Equal(t, StatusRunning, st.Status)

	require.NoError(t, e.ProcessResult(st, fail("solo", "connection refused by upstream")))
	assertPartition(t, st)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Empty(t, st.Pending)
	assert.Contains(t, st.FinalError, "safety bound")
}

func TestOverrunCollapsesRedundantTypes(t *testing.T) {
	e := newTestExecutor(config.DefaultConfig().Executor, stubInfo{})
	st := e.Start("big refactor", models.ObjectiveProfile{},
		[]string{"alpha-coder", "beta-coder", "gamma-docs"}, 0, 100)

	res := ok("alpha-coder")
	res.TokensUsed = 200 // past 1.5x of the 100-token estimate
	require.NoError(t, e.ProcessResult(st, res))
	assertPartition(t, st)

	assert.Equal(t, []string{"gamma-docs"}, st.Pending, "redundant coder collapsed after overrun")
	require.Len(t, st.Adaptations, 1)
	assert.Equal(t, models.AdaptOptimization, st.Adaptations[0].Type)

	require.NoError(t, e.ProcessResult(st, ok("gamma-docs")))
	assert.Equal(t, StatusCompleted, st.Status)
}

func TestTerminalStateRejectsResults(t *testing.T) {
	e := newTestExecutor(config.DefaultConfig().Executor, stubInfo{})
	st := e.Start("done deal", models.ObjectiveProfile{}, []string{"impl"}, 0, 0)

	require.NoError(t, e.ProcessResult(st, ok("impl")))
	require.Equal(t, StatusCompleted, st.Status)

	err := e.ProcessResult(st, ok("impl"))
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestUnknownAgentRejected(t *testing.T) {
	e := newTestExecutor(config.DefaultConfig().Executor, stubInfo{})
	st := e.Start("small task", models.ObjectiveProfile{}, []string{"impl"}, 0, 0)

	err := e.ProcessResult(st, ok("stranger"))
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.Equal(t, []string{"impl"}, st.Pending, "a rejected result leaves state untouched")
}

func TestCompletedAgentNeverReentersPending(t *testing.T) {
	// The declared alternative for the failing agent already succeeded
	// earlier in the plan.
	info := stubInfo{alts: map[string][]string{"impl": {"prep"}}}
	e := newTestExecutor(config.DefaultConfig().Executor, info)
	st := e.Start("reuse hazard", models.ObjectiveProfile{}, []string{"prep", "impl"}, 0, 0)

	require.NoError(t, e.ProcessResult(st, ok("prep")))
	require.NoError(t, e.ProcessResult(st, fail("impl", "resource not found")))
	assertPartition(t, st)

	assert.NotContains(t, st.Pending, "prep")
	assert.Equal(t, StatusFailed, st.Status, "no usable substitute leaves the failure unresolved")
}

func TestRecoveryOutcomeAdjustsCache(t *testing.T) {
	info := stubInfo{alts: map[string][]string{"impl": {"impl-backup"}}}
	e := newTestExecutor(config.DefaultConfig().Executor, info)
	st := e.Start("first run", models.ObjectiveProfile{}, []string{"impl", "verify"}, 0, 0)

	require.NoError(t, e.ProcessResult(st, fail("impl", "resource not found")))
	require.NoError(t, e.ProcessResult(st, ok("impl-backup")))
	require.NoError(t, e.ProcessResult(st, ok("verify")))
	require.Equal(t, StatusCompleted, st.Status)

	patterns := e.RecoveryPatterns()
	key := "impl|" + string(models.ErrorNotFound)
	require.Len(t, patterns[key], 1)
	s := patterns[key][0]
	assert.Equal(t, models.StrategySubstitute, s.Kind)
	assert.InDelta(t, 0.75, s.Confidence, 1e-9, "a resolved recovery raises the cached confidence")
}

func TestAgentType(t *testing.T) {
	assert.Equal(t, "coder", agentType("alpha-coder"))
	assert.Equal(t, "solo", agentType("solo"))
	assert.Equal(t, "trailing-", agentType("trailing-"))
}
