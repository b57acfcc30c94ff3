// Package pattern holds the in-memory execution history: every completed
// orchestration and every analyzed failure, indexed for similarity
// queries and aggregated over a rolling window.
package pattern

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/helmsman/internal/feature"
	"github.com/harrison/helmsman/internal/models"
)

// Similarity blend weights. Tag overlap and type match dominate; textual
// overlap is a fallback for objectives outside the tag vocabulary.
const (
	weightTypeMatch    = 0.40
	weightTagOverlap   = 0.30
	weightProjectMatch = 0.15
	weightTextOverlap  = 0.15
	maxRecencyBonus    = 0.05
)

// Query describes a similarity lookup.
type Query struct {
	Objective     string
	ObjectiveType string
	ProjectType   string
	Tags          []string
}

// AgentStats summarizes one agent's history inside the rolling window.
type AgentStats struct {
	Uses      int
	Successes int
	Tokens    int
}

// Stats is the rolling-window aggregate view of the store.
type Stats struct {
	WindowPatterns  int
	WindowSuccesses int
	AvgDuration     time.Duration
	AvgTokens       int
	TotalPatterns   int
	TotalFailures   int
	ErrorHistogram  map[models.ErrorCategory]int
}

// Store owns all ExecutionPatterns and FailureContexts along with the
// feature index over patterns. Reads and writes are mutex-guarded; one
// store is shared by all concurrent executions.
type Store struct {
	mu        sync.RWMutex
	patterns  map[string]*models.ExecutionPattern
	order     []string // insertion order, oldest first
	failures  []*models.FailureContext
	extractor *feature.Extractor
	tree      *feature.Tree

	retention    time.Duration
	rebuildDepth float64

	// Rolling-window aggregates, maintained incrementally. The window
	// head advances on every write instead of rescanning history.
	windowHead      int // index into order of the oldest in-window pattern
	windowSuccesses int
	windowDuration  time.Duration
	windowTokens    int
	agentStats      map[string]*AgentStats
	errorHistogram  map[models.ErrorCategory]int
}

// NewStore creates an empty store with the given retention window, tag
// vocabulary cap, and index rebuild threshold.
func NewStore(retention time.Duration, maxTagSlots int, rebuildDepthFactor float64) *Store {
	ex := feature.NewExtractor(maxTagSlots)
	return &Store{
		patterns:       make(map[string]*models.ExecutionPattern),
		extractor:      ex,
		tree:           feature.NewTree(ex.Dimensions()),
		retention:      retention,
		rebuildDepth:   rebuildDepthFactor,
		agentStats:     make(map[string]*AgentStats),
		errorHistogram: make(map[models.ErrorCategory]int),
	}
}

// Record appends an execution pattern, indexes it, and folds it into the
// rolling aggregates. A missing id is assigned.
func (s *Store) Record(p *models.ExecutionPattern) {
	if p == nil {
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns[p.ID] = p
	s.order = append(s.order, p.ID)

	vec := s.extractor.Extract(p.ObjectiveType, p.ProjectType, p.Tags)
	s.tree.Insert(feature.Point{ID: p.ID, Vector: vec})
	if s.tree.NeedsRebuild(s.rebuildDepth) {
		s.rebuildIndexLocked()
	}

	if p.Success {
		s.windowSuccesses++
	}
	s.windowDuration += p.Duration
	s.windowTokens += p.TokensUsed
	for _, agent := range p.AgentsUsed {
		st := s.agentStats[agent]
		if st == nil {
			st = &AgentStats{}
			s.agentStats[agent] = st
		}
		st.Uses++
		if p.Success {
			st.Successes++
		}
		st.Tokens += p.TokensUsed
	}
	s.advanceWindowLocked(time.Now())
}

// RecordFailure appends an analyzed failure context.
func (s *Store) RecordFailure(fc *models.FailureContext) {
	if fc == nil {
		return
	}
	if fc.ID == "" {
		fc.ID = uuid.NewString()
	}
	if fc.Timestamp.IsZero() {
		fc.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, fc)
	s.errorHistogram[fc.Category]++
}

// advanceWindowLocked subtracts patterns that have aged out of the
// rolling window from the aggregate counters.
func (s *Store) advanceWindowLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	for s.windowHead < len(s.order) {
		p, ok := s.patterns[s.order[s.windowHead]]
		if !ok { // pruned earlier
			s.windowHead++
			continue
		}
		if !p.Timestamp.Before(cutoff) {
			break
		}
		if p.Success {
			s.windowSuccesses--
		}
		s.windowDuration -= p.Duration
		s.windowTokens -= p.TokensUsed
		for _, agent := range p.AgentsUsed {
			if st := s.agentStats[agent]; st != nil {
				st.Uses--
				if p.Success {
					st.Successes--
				}
				st.Tokens -= p.TokensUsed
				if st.Uses <= 0 {
					delete(s.agentStats, agent)
				}
			}
		}
		s.windowHead++
	}
}

// FindSimilar performs a k-NN search for the query and re-ranks the raw
// spatial neighbors by the blended similarity score.
func (s *Store) FindSimilar(q Query, limit int) []models.PatternMatch {
	if limit <= 0 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	vec := s.extractor.ExtractQuery(q.ObjectiveType, q.ProjectType, q.Tags)

	// Over-fetch raw neighbors so re-ranking has room to reorder.
	neighbors := s.tree.Nearest(vec, limit*3)
	now := time.Now()

	matches := make([]models.PatternMatch, 0, len(neighbors))
	for _, n := range neighbors {
		p, ok := s.patterns[n.ID]
		if !ok {
			continue
		}
		matches = append(matches, s.scoreLocked(q, p, now))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Pattern.Timestamp.After(matches[j].Pattern.Timestamp)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// scoreLocked computes the blended similarity of a stored pattern
// against a query.
func (s *Store) scoreLocked(q Query, p *models.ExecutionPattern, now time.Time) models.PatternMatch {
	factors := models.MatchFactors{
		ObjectiveTypeMatch: q.ObjectiveType != "" && q.ObjectiveType == p.ObjectiveType,
		ProjectMatch:       q.ProjectType != "" && q.ProjectType == p.ProjectType,
		TagOverlap:         jaccard(q.Tags, p.Tags),
		TextOverlap:        textOverlap(q.Objective, p.Objective),
	}

	age := now.Sub(p.Timestamp)
	if age < s.retention && age >= 0 {
		factors.RecencyBonus = maxRecencyBonus * (1 - float64(age)/float64(s.retention))
	}

	score := factors.TagOverlap*weightTagOverlap +
		factors.TextOverlap*weightTextOverlap +
		factors.RecencyBonus
	if factors.ObjectiveTypeMatch {
		score += weightTypeMatch
	}
	if factors.ProjectMatch {
		score += weightProjectMatch
	}
	if score > 1 {
		score = 1
	}

	return models.PatternMatch{Pattern: p, Similarity: score, Factors: factors}
}

// FailuresFor returns failure contexts recorded for the given agent and
// category, newest first.
func (s *Store) FailuresFor(agentID string, category models.ErrorCategory) []*models.FailureContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.FailureContext
	for i := len(s.failures) - 1; i >= 0; i-- {
		fc := s.failures[i]
		if fc.AgentID == agentID && fc.Category == category {
			out = append(out, fc)
		}
	}
	return out
}

// Patterns returns all stored patterns, oldest first.
func (s *Store) Patterns() []*models.ExecutionPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ExecutionPattern, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.patterns[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// PatternsForAgent returns patterns that used the given agent.
func (s *Store) PatternsForAgent(agentID string) []*models.ExecutionPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ExecutionPattern
	for _, id := range s.order {
		p, ok := s.patterns[id]
		if !ok {
			continue
		}
		for _, a := range p.AgentsUsed {
			if a == agentID {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// AgentStatsFor returns the rolling-window stats for an agent. The
// second return is false when the agent has no in-window history.
func (s *Store) AgentStatsFor(agentID string) (AgentStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.agentStats[agentID]
	if !ok {
		return AgentStats{}, false
	}
	return *st, true
}

// Snapshot returns the current aggregate statistics.
func (s *Store) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inWindow := len(s.order) - s.windowHead
	st := Stats{
		WindowPatterns:  inWindow,
		WindowSuccesses: s.windowSuccesses,
		TotalPatterns:   len(s.patterns),
		TotalFailures:   len(s.failures),
		ErrorHistogram:  make(map[models.ErrorCategory]int, len(s.errorHistogram)),
	}
	if inWindow > 0 {
		st.AvgDuration = s.windowDuration / time.Duration(inWindow)
		st.AvgTokens = s.windowTokens / inWindow
	}
	for k, v := range s.errorHistogram {
		st.ErrorHistogram[k] = v
	}
	return st
}

// PruneOld removes patterns and failures older than the retention
// window and rebuilds the index. Returns how many patterns were removed.
func (s *Store) PruneOld() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	removed := 0

	kept := s.order[:0]
	for _, id := range s.order {
		p, ok := s.patterns[id]
		if !ok {
			continue
		}
		if p.Timestamp.Before(cutoff) {
			delete(s.patterns, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	s.resetAggregatesLocked()

	keptFailures := s.failures[:0]
	for _, fc := range s.failures {
		if fc.Timestamp.Before(cutoff) {
			s.errorHistogram[fc.Category]--
			if s.errorHistogram[fc.Category] <= 0 {
				delete(s.errorHistogram, fc.Category)
			}
			continue
		}
		keptFailures = append(keptFailures, fc)
	}
	s.failures = keptFailures

	s.rebuildIndexLocked()
	return removed
}

// resetAggregatesLocked recomputes the rolling counters from the kept
// patterns. Only called on prune; steady-state updates stay incremental.
func (s *Store) resetAggregatesLocked() {
	s.windowHead = 0
	s.windowSuccesses = 0
	s.windowDuration = 0
	s.windowTokens = 0
	s.agentStats = make(map[string]*AgentStats)

	for _, id := range s.order {
		p, ok := s.patterns[id]
		if !ok {
			continue
		}
		if p.Success {
			s.windowSuccesses++
		}
		s.windowDuration += p.Duration
		s.windowTokens += p.TokensUsed
		for _, agent := range p.AgentsUsed {
			st := s.agentStats[agent]
			if st == nil {
				st = &AgentStats{}
				s.agentStats[agent] = st
			}
			st.Uses++
			if p.Success {
				st.Successes++
			}
			st.Tokens += p.TokensUsed
		}
	}
}

func (s *Store) rebuildIndexLocked() {
	points := make([]feature.Point, 0, len(s.order))
	for _, id := range s.order {
		p, ok := s.patterns[id]
		if !ok {
			continue
		}
		points = append(points, feature.Point{
			ID:     id,
			Vector: s.extractor.Extract(p.ObjectiveType, p.ProjectType, p.Tags),
		})
	}
	s.tree.Rebuild(points)
}

// jaccard computes set overlap of two tag lists.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[strings.ToLower(t)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[strings.ToLower(t)] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// textOverlap is the word-set Jaccard of two free-text objectives, the
// fallback signal for objectives outside the tag vocabulary.
func textOverlap(a, b string) float64 {
	return jaccard(strings.Fields(strings.ToLower(a)), strings.Fields(strings.ToLower(b)))
}
