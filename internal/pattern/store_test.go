package pattern

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/helmsman/internal/models"
)

func newTestStore() *Store {
	return NewStore(30*24*time.Hour, 24, 2.0)
}

func recordPattern(s *Store, objType string, tags []string, agents []string, success bool) *models.ExecutionPattern {
	p := &models.ExecutionPattern{
		Objective:     "do " + objType + " work",
		ObjectiveType: objType,
		Tags:          tags,
		AgentsUsed:    agents,
		Success:       success,
		Duration:      time.Minute,
		TokensUsed:    1000,
	}
	s.Record(p)
	return p
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore()
	p := recordPattern(s, "bugfix", nil, []string{"impl"}, true)

	require.NotEmpty(t, p.ID)
	require.False(t, p.Timestamp.IsZero())
	assert.Equal(t, 1, s.Snapshot().TotalPatterns)
}

func TestFindSimilarRanksTypeMatchFirst(t *testing.T) {
	s := newTestStore()
	recordPattern(s, "bugfix", []string{"auth"}, []string{"impl"}, true)
	recordPattern(s, "feature", []string{"ui"}, []string{"impl"}, true)
	recordPattern(s, "bugfix", []string{"auth", "api"}, []string{"impl", "verify"}, false)

	matches := s.FindSimilar(Query{
		Objective:     "fix the auth bug",
		ObjectiveType: "bugfix",
		Tags:          []string{"auth"},
	}, 3)

	require.NotEmpty(t, matches)
	assert.Equal(t, "bugfix", matches[0].Pattern.ObjectiveType)
	assert.True(t, matches[0].Factors.ObjectiveTypeMatch)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity, "matches must be sorted")
	}
}

// A query with a never-seen objective type must not score a type match
// against any stored pattern.
func TestFindSimilarUnknownTypeNeverMatches(t *testing.T) {
	s := newTestStore()
	recordPattern(s, "bugfix", []string{"auth"}, []string{"impl"}, true)

	matches := s.FindSimilar(Query{Objective: "something new", ObjectiveType: "never-seen"}, 5)
	for _, m := range matches {
		assert.False(t, m.Factors.ObjectiveTypeMatch,
			"unknown type must not match stored type %q", m.Pattern.ObjectiveType)
	}
}

func TestFindSimilarLimit(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 10; i++ {
		recordPattern(s, "bugfix", nil, []string{fmt.Sprintf("agent-%d", i)}, true)
	}
	matches := s.FindSimilar(Query{ObjectiveType: "bugfix"}, 3)
	assert.Len(t, matches, 3)
}

func TestAgentStats(t *testing.T) {
	s := newTestStore()
	recordPattern(s, "bugfix", nil, []string{"impl"}, true)
	recordPattern(s, "bugfix", nil, []string{"impl"}, true)
	recordPattern(s, "bugfix", nil, []string{"impl", "verify"}, false)

	st, ok := s.AgentStatsFor("impl")
	require.True(t, ok)
	assert.Equal(t, 3, st.Uses)
	assert.Equal(t, 2, st.Successes)

	_, ok = s.AgentStatsFor("ghost")
	assert.False(t, ok)
}

func TestFailuresFor(t *testing.T) {
	s := newTestStore()
	s.RecordFailure(&models.FailureContext{AgentID: "impl", Category: models.ErrorTimeout})
	s.RecordFailure(&models.FailureContext{AgentID: "impl", Category: models.ErrorTimeout})
	s.RecordFailure(&models.FailureContext{AgentID: "impl", Category: models.ErrorValidation})

	assert.Len(t, s.FailuresFor("impl", models.ErrorTimeout), 2)
	assert.Len(t, s.FailuresFor("impl", models.ErrorValidation), 1)
	assert.Empty(t, s.FailuresFor("other", models.ErrorTimeout))
}

func TestPruneOldRemovesAgedHistory(t *testing.T) {
	s := NewStore(time.Hour, 24, 2.0)

	old := &models.ExecutionPattern{
		Objective:     "ancient work",
		ObjectiveType: "bugfix",
		AgentsUsed:    []string{"impl"},
		Success:       true,
		Timestamp:     time.Now().Add(-2 * time.Hour),
	}
	s.Record(old)
	fresh := recordPattern(s, "bugfix", nil, []string{"impl"}, true)

	removed := s.PruneOld()
	assert.Equal(t, 1, removed)

	stats := s.Snapshot()
	assert.Equal(t, 1, stats.TotalPatterns)

	// Aggregates must reflect only the kept pattern.
	st, ok := s.AgentStatsFor("impl")
	require.True(t, ok)
	assert.Equal(t, 1, st.Uses)

	matches := s.FindSimilar(Query{ObjectiveType: "bugfix"}, 5)
	require.Len(t, matches, 1)
	assert.Equal(t, fresh.ID, matches[0].Pattern.ID)
}

func TestSnapshotAverages(t *testing.T) {
	s := newTestStore()
	recordPattern(s, "bugfix", nil, []string{"impl"}, true)
	recordPattern(s, "bugfix", nil, []string{"impl"}, false)

	stats := s.Snapshot()
	assert.Equal(t, 2, stats.WindowPatterns)
	assert.Equal(t, 1, stats.WindowSuccesses)
	assert.Equal(t, time.Minute, stats.AvgDuration)
	assert.Equal(t, 1000, stats.AvgTokens)
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1},
		{"disjoint", []string{"a"}, []string{"b"}, 0},
		{"half", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
		{"empty", nil, []string{"a"}, 0},
		{"case insensitive", []string{"Auth"}, []string{"auth"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, jaccard(tt.a, tt.b), 1e-9)
		})
	}
}
