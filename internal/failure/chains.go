package failure

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/helmsman/internal/models"
)

// Chain is a set of related failures that occurred inside the detection
// window. Chains open lazily on detection and stay in history after
// falling out of the active window.
type Chain struct {
	ID         string                   `json:"id"`
	Pattern    string                   `json:"pattern"`
	Failures   []*models.FailureContext `json:"failures"`
	Open       bool                     `json:"open"`
	Resolution string                   `json:"resolution,omitempty"`
	OpenedAt   time.Time                `json:"opened_at"`
	LastAdded  time.Time                `json:"last_added"`
}

// Relatedness decides whether two failures belong to the same chain.
// The default uses fixed rules; broader discovery can be plugged in.
type Relatedness interface {
	Related(a, b *models.FailureContext) (bool, string)
}

// cascadeTable lists known cascading-error signatures: a failure of the
// key category commonly triggers failures of the listed categories.
var cascadeTable = map[models.ErrorCategory][]models.ErrorCategory{
	models.ErrorNotFound:           {models.ErrorValidation, models.ErrorLogicalUnknown},
	models.ErrorTransientNetwork:   {models.ErrorTimeout, models.ErrorTransientNetwork},
	models.ErrorTimeout:            {models.ErrorTransientNetwork},
	models.ErrorCapabilityMismatch: {models.ErrorValidation},
}

// FixedRules is the default Relatedness: same objective type, shared
// tags, or a known cascading-error signature.
type FixedRules struct{}

// Related implements Relatedness.
func (FixedRules) Related(a, b *models.FailureContext) (bool, string) {
	if a.ObjectiveType != "" && a.ObjectiveType == b.ObjectiveType {
		return true, "objective_type:" + a.ObjectiveType
	}
	if tag := sharedTag(a.Tags, b.Tags); tag != "" {
		return true, "tag:" + tag
	}
	for _, next := range cascadeTable[a.Category] {
		if b.Category == next {
			return true, fmt.Sprintf("cascade:%s->%s", a.Category, b.Category)
		}
	}
	return false, ""
}

func sharedTag(a, b []string) string {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return t
		}
	}
	return ""
}

// ChainDetector maintains the sliding window of recent failures and the
// set of active chains. Safe for concurrent use.
type ChainDetector struct {
	mu      sync.Mutex
	window  time.Duration
	rules   Relatedness
	recent  []*models.FailureContext
	active  []*Chain
	history []*Chain

	// chainOf maps a failure id to the chain it belongs to.
	chainOf map[string]*Chain
}

// NewChainDetector creates a detector with the given window and
// relatedness strategy. A nil strategy uses FixedRules.
func NewChainDetector(window time.Duration, rules Relatedness) *ChainDetector {
	if rules == nil {
		rules = FixedRules{}
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ChainDetector{
		window:  window,
		rules:   rules,
		chainOf: make(map[string]*Chain),
	}
}

// Observe records a new failure and links it into a chain when it is
// related to a failure still inside the window. Returns the chain the
// failure joined, or nil.
func (d *ChainDetector) Observe(fc *models.FailureContext) *Chain {
	if fc == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := fc.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	d.evictLocked(now)

	var joined *Chain
	for _, prev := range d.recent {
		related, why := d.rules.Related(prev, fc)
		if !related {
			continue
		}
		if chain, ok := d.chainOf[prev.ID]; ok && chain.Open {
			chain.Failures = append(chain.Failures, fc)
			chain.LastAdded = now
			d.chainOf[fc.ID] = chain
			joined = chain
		} else {
			joined = &Chain{
				ID:        uuid.NewString(),
				Pattern:   why,
				Failures:  []*models.FailureContext{prev, fc},
				Open:      true,
				OpenedAt:  now,
				LastAdded: now,
			}
			d.active = append(d.active, joined)
			d.history = append(d.history, joined)
			d.chainOf[prev.ID] = joined
			d.chainOf[fc.ID] = joined
		}
		break
	}

	d.recent = append(d.recent, fc)
	return joined
}

// evictLocked drops failures and chains that fell outside the window.
// Evicted chains remain in history.
func (d *ChainDetector) evictLocked(now time.Time) {
	cutoff := now.Add(-d.window)

	kept := d.recent[:0]
	for _, fc := range d.recent {
		if fc.Timestamp.After(cutoff) {
			kept = append(kept, fc)
		} else {
			delete(d.chainOf, fc.ID)
		}
	}
	d.recent = kept

	keptChains := d.active[:0]
	for _, c := range d.active {
		if c.LastAdded.After(cutoff) {
			keptChains = append(keptChains, c)
		}
	}
	d.active = keptChains
}

// Resolve marks a chain resolved with an operator note. Returns false
// when the chain id is unknown.
func (d *ChainDetector) Resolve(chainID, note string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range d.history {
		if c.ID == chainID {
			c.Open = false
			c.Resolution = note
			return true
		}
	}
	return false
}

// Unresolved returns chains still awaiting attention, oldest first.
func (d *ChainDetector) Unresolved() []*Chain {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Chain
	for _, c := range d.history {
		if c.Open {
			out = append(out, c)
		}
	}
	return out
}

// History returns every chain ever detected, oldest first.
func (d *ChainDetector) History() []*Chain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Chain(nil), d.history...)
}
