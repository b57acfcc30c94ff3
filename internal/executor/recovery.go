package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harrison/helmsman/internal/failure"
	"github.com/harrison/helmsman/internal/models"
)

// AgentInfo supplies the executor with declared agent facts: who can
// stand in for a failed agent, and whether an agent is too important to
// skip.
type AgentInfo interface {
	Alternatives(agentID string) []string
	IsCritical(agentID string) bool
}

// strategyCache holds learned recovery strategies keyed by
// (failed agent, error category), ranked by confidence and capped per
// key.
type strategyCache struct {
	mu     sync.RWMutex
	perKey int
	cache  map[string][]*models.RecoveryStrategy
}

func newStrategyCache(perKey int) *strategyCache {
	if perKey <= 0 {
		perKey = 5
	}
	return &strategyCache{perKey: perKey, cache: make(map[string][]*models.RecoveryStrategy)}
}

func strategyKey(agentID string, cat models.ErrorCategory) string {
	return agentID + "|" + string(cat)
}

// best returns the highest-confidence cached strategy for the key.
func (c *strategyCache) best(agentID string, cat models.ErrorCategory) *models.RecoveryStrategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.cache[strategyKey(agentID, cat)]
	if len(list) == 0 {
		return nil
	}
	copied := *list[0]
	return &copied
}

// learn inserts or re-ranks a strategy, keeping the top entries by
// confidence per key.
func (c *strategyCache) learn(s *models.RecoveryStrategy) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strategyKey(s.FailedAgent, s.Category)
	list := c.cache[key]

	// Same-kind entries are updated in place rather than duplicated.
	replaced := false
	for i, existing := range list {
		if existing.Kind == s.Kind {
			list[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, s)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Confidence > list[j].Confidence })
	if len(list) > c.perKey {
		list = list[:c.perKey]
	}
	c.cache[key] = list
}

// adjust shifts a cached strategy's confidence after observing whether
// it worked.
func (c *strategyCache) adjust(agentID string, cat models.ErrorCategory, kind models.StrategyKind, succeeded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.cache[strategyKey(agentID, cat)]
	for _, s := range list {
		if s.Kind != kind {
			continue
		}
		if succeeded {
			s.Confidence += 0.1
			if s.Confidence > 0.99 {
				s.Confidence = 0.99
			}
		} else {
			s.Confidence -= 0.1
			if s.Confidence < 0.05 {
				s.Confidence = 0.05
			}
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Confidence > list[j].Confidence })
}

// snapshot returns a copy of the cache for observability.
func (c *strategyCache) snapshot() map[string][]models.RecoveryStrategy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]models.RecoveryStrategy, len(c.cache))
	for k, list := range c.cache {
		copied := make([]models.RecoveryStrategy, len(list))
		for i, s := range list {
			copied[i] = *s
		}
		out[k] = copied
	}
	return out
}

// freshStrategy generates a recovery strategy from the fixed
// per-category rules when nothing has been learned yet.
func freshStrategy(fc *models.FailureContext, info AgentInfo) *models.RecoveryStrategy {
	s := &models.RecoveryStrategy{
		FailedAgent: fc.AgentID,
		Category:    fc.Category,
	}

	alternatives := info.Alternatives(fc.AgentID)
	critical := info.IsCritical(fc.AgentID)

	switch fc.Category {
	case models.ErrorTimeout, models.ErrorTransientNetwork:
		s.Kind = models.StrategyRetry
		s.Confidence = 0.7
		s.Reasoning = fmt.Sprintf("%s errors are usually transient; retrying %s", fc.Category, fc.AgentID)
	case models.ErrorNotFound, models.ErrorCapabilityMismatch:
		if len(alternatives) > 0 {
			s.Kind = models.StrategySubstitute
			s.Replacements = alternatives[:1]
			s.Confidence = 0.65
			s.Reasoning = fmt.Sprintf("substituting %s for %s after %s", alternatives[0], fc.AgentID, fc.Category)
		} else if !critical {
			s.Kind = models.StrategySkip
			s.Confidence = 0.5
			s.Reasoning = fmt.Sprintf("no substitute for non-critical %s; skipping", fc.AgentID)
		} else {
			s.Kind = models.StrategyRetry
			s.Confidence = 0.3
			s.Reasoning = fmt.Sprintf("critical %s has no substitute; retrying despite %s", fc.AgentID, fc.Category)
		}
	case models.ErrorValidation, models.ErrorLogicalUnknown:
		if len(alternatives) > 0 {
			s.Kind = models.StrategyAlternativePath
			s.Replacements = alternatives
			if len(s.Replacements) > 2 {
				s.Replacements = s.Replacements[:2]
			}
			s.Confidence = 0.55
			s.Reasoning = fmt.Sprintf("routing around %s via alternative path after %s", fc.AgentID, fc.Category)
		} else if !critical {
			s.Kind = models.StrategySkip
			s.Confidence = 0.45
			s.Reasoning = fmt.Sprintf("no alternative path for non-critical %s; skipping", fc.AgentID)
		} else {
			s.Kind = models.StrategyRetry
			s.Confidence = 0.25
			s.Reasoning = fmt.Sprintf("critical %s with %s; low-confidence retry", fc.AgentID, fc.Category)
		}
	default:
		s.Kind = models.StrategyRetry
		s.Confidence = 0.2
		s.Reasoning = "unmatched failure category; low-confidence retry"
	}

	if failure.Transient(fc.Category) && s.Kind != models.StrategyRetry {
		// Transient classifications always retry first.
		s.Kind = models.StrategyRetry
		s.Replacements = nil
	}
	return s
}
