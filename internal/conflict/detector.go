// Package conflict predicts pairwise agent conflicts from a static
// tool-conflict table and a learned, temporally-decayed conflict map,
// and proposes reordering or removal when a pairing looks unsafe.
package conflict

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/models"
)

// Risk buckets a pair's conflict probability.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// knownToolProbability is the deterministic probability assigned when
// two agents share a tool from the known-conflict table.
const knownToolProbability = 0.8

// conflictFreeFloor keeps the set-level probability from collapsing to
// zero on large plans.
const conflictFreeFloor = 0.05

// PairPrediction is the predicted conflict for one agent pair.
type PairPrediction struct {
	AgentA      string              `json:"agent_a"`
	AgentB      string              `json:"agent_b"`
	Type        models.ConflictType `json:"type"`
	Probability float64             `json:"probability"`
	Risk        Risk                `json:"risk"`
	Source      string              `json:"source"` // "known_tools" or "learned"
	SharedTools []string            `json:"shared_tools,omitempty"`
}

// Proposal is a suggested plan mutation to defuse predicted conflicts.
type Proposal struct {
	Kind   string   `json:"kind"` // "reorder" or "remove"
	Order  []string `json:"order,omitempty"`
	Remove string   `json:"remove,omitempty"`
	Reason string   `json:"reason"`
}

// Prediction is the full conflict analysis for a candidate agent set.
type Prediction struct {
	Pairs                   []PairPrediction `json:"pairs"`
	ConflictFreeProbability float64          `json:"conflict_free_probability"`
	Proposals               []Proposal       `json:"proposals,omitempty"`
}

// knownToolConflicts lists tools that cannot safely run concurrently.
// A tool paired with itself means two agents sharing it conflict.
var knownToolConflicts = map[string]string{
	pairKey("file_write", "file_write"):         "workspace writes collide",
	pairKey("git_commit", "git_commit"):         "concurrent commits race",
	pairKey("git_commit", "git_rebase"):         "rebase invalidates concurrent commits",
	pairKey("schema_migrate", "schema_migrate"): "migrations must serialize",
	pairKey("schema_migrate", "db_write"):       "writes during migration are unsafe",
	pairKey("deploy", "deploy"):                 "concurrent deploys race",
	pairKey("package_install", "package_install"): "package manager holds a global lock",
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Detector holds the static tool table, per-agent tool usage, and the
// learned conflict map. LearnConflict is the only mutation path for
// learned patterns; reads apply exponential temporal decay.
type Detector struct {
	mu         sync.RWMutex
	cfg        config.ConflictConfig
	agentTools map[string][]string
	profiles   map[string]models.AgentProfile
	learned    map[string]*models.ConflictPattern
	now        func() time.Time
}

// NewDetector creates a Detector with the given thresholds and decay.
func NewDetector(cfg config.ConflictConfig) *Detector {
	return &Detector{
		cfg:        cfg,
		agentTools: make(map[string][]string),
		profiles:   make(map[string]models.AgentProfile),
		learned:    make(map[string]*models.ConflictPattern),
		now:        time.Now,
	}
}

// RegisterAgent records an agent's declared tools for overlap checks.
func (d *Detector) RegisterAgent(profile models.AgentProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.ID] = profile
	d.agentTools[profile.ID] = append([]string(nil), profile.Tools...)
}

// Decay returns the observed probability faded by age:
// observed * 2^(-age/halfLife). Stale evidence trends toward unknown.
func Decay(observed float64, age, halfLife time.Duration) float64 {
	if halfLife <= 0 || age <= 0 {
		return observed
	}
	return observed * math.Exp2(-float64(age)/float64(halfLife))
}

// PredictConflicts analyzes every pair in the candidate set. Tool
// overlap against the known-conflict table is deterministic and checked
// first; the learned map contributes its decayed probability after.
func (d *Detector) PredictConflicts(agents []string) Prediction {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pred := Prediction{ConflictFreeProbability: 1.0}
	now := d.now()

	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			pair := d.predictPairLocked(agents[i], agents[j], now)
			pred.ConflictFreeProbability *= 1 - pair.Probability
			if pair.Risk == RiskLow {
				continue
			}
			pred.Pairs = append(pred.Pairs, pair)
		}
	}
	if pred.ConflictFreeProbability < conflictFreeFloor {
		pred.ConflictFreeProbability = conflictFreeFloor
	}

	pred.Proposals = d.proposeLocked(agents, pred.Pairs)
	return pred
}

func (d *Detector) predictPairLocked(a, b string, now time.Time) PairPrediction {
	pair := PairPrediction{AgentA: a, AgentB: b, Risk: RiskLow}

	// Deterministic tool-overlap check.
	if shared := d.sharedFlaggedToolsLocked(a, b); len(shared) > 0 {
		pair.Type = models.ConflictToolOverlap
		pair.Probability = knownToolProbability
		pair.Source = "known_tools"
		pair.SharedTools = shared
	}

	// Learned conflicts, decayed by age.
	if cp, ok := d.learned[models.PairKey(a, b)]; ok {
		decayed := Decay(cp.Probability, now.Sub(cp.LastObserved), d.cfg.DecayHalfLife)
		if decayed > pair.Probability {
			pair.Type = cp.Type
			pair.Probability = decayed
			pair.Source = "learned"
		}
	}

	pair.Risk = d.bucket(pair.Probability)
	return pair
}

func (d *Detector) sharedFlaggedToolsLocked(a, b string) []string {
	var shared []string
	for _, ta := range d.agentTools[a] {
		for _, tb := range d.agentTools[b] {
			if _, ok := knownToolConflicts[pairKey(ta, tb)]; ok {
				shared = append(shared, ta+"+"+tb)
			}
		}
	}
	sort.Strings(shared)
	return shared
}

func (d *Detector) bucket(p float64) Risk {
	switch {
	case p >= d.cfg.HighRiskThreshold:
		return RiskHigh
	case p >= d.cfg.MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// proposeLocked suggests a reordering when the learned history shows an
// empirically better ordering for a risky pair, or removal of the
// lower-value agent when it does not.
func (d *Detector) proposeLocked(agents []string, pairs []PairPrediction) []Proposal {
	var proposals []Proposal
	var edges [][2]string

	for _, pair := range pairs {
		if pair.Risk == RiskLow {
			continue
		}

		cp := d.learned[models.PairKey(pair.AgentA, pair.AgentB)]
		if cp != nil && cp.AFirstSamples > 0 {
			first, second := cp.AgentA, cp.AgentB
			rate := cp.AFirstSuccessRate
			if rate < 0.5 {
				first, second = second, first
				rate = 1 - rate
			}
			edges = append(edges, [2]string{first, second})
			proposals = append(proposals, Proposal{
				Kind:   "reorder",
				Reason: fmt.Sprintf("%s before %s succeeds at %.0f%%", first, second, rate*100),
			})
			continue
		}

		victim := d.lowerValueLocked(pair.AgentA, pair.AgentB)
		if victim == "" {
			continue // both critical, nothing safe to cut
		}
		proposals = append(proposals, Proposal{
			Kind:   "remove",
			Remove: victim,
			Reason: fmt.Sprintf("%s risk between %s and %s with no ordering evidence", pair.Risk, pair.AgentA, pair.AgentB),
		})
	}

	if len(edges) > 0 {
		if order, ok := reorder(agents, edges); ok {
			for i := range proposals {
				if proposals[i].Kind == "reorder" && proposals[i].Order == nil {
					proposals[i].Order = order
				}
			}
		}
	}
	return proposals
}

// lowerValueLocked picks which of two agents to drop: never a critical
// agent, otherwise the one with the lower declared success rate.
func (d *Detector) lowerValueLocked(a, b string) string {
	pa, pb := d.profiles[a], d.profiles[b]
	switch {
	case pa.Critical && pb.Critical:
		return ""
	case pa.Critical:
		return b
	case pb.Critical:
		return a
	case pa.SuccessRate < pb.SuccessRate:
		return a
	default:
		return b
	}
}

// reorder performs a stable topological sort of agents honoring the
// preferred-order edges. Returns false when the edges are cyclic.
func reorder(agents []string, edges [][2]string) ([]string, bool) {
	index := make(map[string]int, len(agents))
	for i, a := range agents {
		index[a] = i
	}
	indeg := make(map[string]int, len(agents))
	succ := make(map[string][]string)
	for _, e := range edges {
		if _, ok := index[e[0]]; !ok {
			continue
		}
		if _, ok := index[e[1]]; !ok {
			continue
		}
		succ[e[0]] = append(succ[e[0]], e[1])
		indeg[e[1]]++
	}

	// Ready set ordered by original plan position for stability.
	var ready []string
	for _, a := range agents {
		if indeg[a] == 0 {
			ready = append(ready, a)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, s := range succ[next] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	if len(order) != len(agents) {
		return nil, false
	}
	return order, true
}

// LearnConflict updates the learned pattern for a pair after an
// execution, whether or not the conflict materialized. This is the only
// mutation path for ConflictPatterns.
func (d *Detector) LearnConflict(a, b string, typ models.ConflictType, conflicted bool, aFirst, aFirstSucceeded bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := models.PairKey(a, b)
	cp, ok := d.learned[key]
	if !ok {
		// Normalize so AgentA is the lexicographically first of the pair
		// and the A-before-B statistic stays well defined.
		first, second := a, b
		if first > second {
			first, second = second, first
			aFirst = !aFirst
		}
		cp = &models.ConflictPattern{AgentA: first, AgentB: second, Type: typ}
		d.learned[key] = cp
	} else if a != cp.AgentA {
		aFirst = !aFirst
	}

	observed := 0.0
	if conflicted {
		observed = 1.0
	}
	cp.Observations++
	cp.Probability += (observed - cp.Probability) / float64(cp.Observations)
	cp.LastObserved = d.now()
	if typ != "" {
		cp.Type = typ
	}

	if aFirst {
		success := 0.0
		if aFirstSucceeded {
			success = 1.0
		}
		cp.AFirstSamples++
		cp.AFirstSuccessRate += (success - cp.AFirstSuccessRate) / float64(cp.AFirstSamples)
	}
}

// Pattern returns the learned pattern for a pair, if any.
func (d *Detector) Pattern(a, b string) (models.ConflictPattern, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cp, ok := d.learned[models.PairKey(a, b)]
	if !ok {
		return models.ConflictPattern{}, false
	}
	return *cp, true
}

// Patterns returns a copy of every learned conflict pattern.
func (d *Detector) Patterns() []models.ConflictPattern {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.ConflictPattern, 0, len(d.learned))
	for _, cp := range d.learned {
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return models.PairKey(out[i].AgentA, out[i].AgentB) < models.PairKey(out[j].AgentA, out[j].AgentB)
	})
	return out
}

// Restore reinstalls a previously persisted pattern, used on warmup.
func (d *Detector) Restore(cp models.ConflictPattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := cp
	d.learned[models.PairKey(cp.AgentA, cp.AgentB)] = &copied
}
