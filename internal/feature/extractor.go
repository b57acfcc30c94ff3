// Package feature converts execution records into fixed-length numeric
// vectors and answers nearest-neighbor queries over them via a balanced
// spatial tree.
package feature

import (
	"sync"
)

// Sentinel marks a category unseen at query time. It never equals any
// assigned categorical id, so unknown categories cannot spuriously match
// stored values.
const Sentinel = -1.0

// Extractor maps (objective type, project type, tags) triples to
// fixed-length vectors. Slot 0 is the categorical id of the objective
// type, slot 1 the project type, slots 2..N a multi-hot encoding of the
// first N-2 distinct tags ever seen. Ids are assigned on first sighting.
type Extractor struct {
	mu             sync.RWMutex
	objectiveTypes map[string]int
	projectTypes   map[string]int
	tagSlots       map[string]int
	maxTagSlots    int
}

// NewExtractor creates an Extractor with a tag vocabulary capped at
// maxTagSlots. Non-positive caps fall back to 24.
func NewExtractor(maxTagSlots int) *Extractor {
	if maxTagSlots <= 0 {
		maxTagSlots = 24
	}
	return &Extractor{
		objectiveTypes: make(map[string]int),
		projectTypes:   make(map[string]int),
		tagSlots:       make(map[string]int),
		maxTagSlots:    maxTagSlots,
	}
}

// Dimensions returns the fixed vector length.
func (e *Extractor) Dimensions() int {
	return 2 + e.maxTagSlots
}

// Extract builds a vector for a stored record, assigning fresh
// categorical ids and tag slots on first sighting.
func (e *Extractor) Extract(objectiveType, projectType string, tags []string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec := make([]float64, e.Dimensions())
	vec[0] = float64(assignID(e.objectiveTypes, objectiveType))
	vec[1] = float64(assignID(e.projectTypes, projectType))

	for _, tag := range tags {
		slot, ok := e.tagSlots[tag]
		if !ok {
			if len(e.tagSlots) >= e.maxTagSlots {
				continue // vocabulary full, tag dropped
			}
			slot = len(e.tagSlots)
			e.tagSlots[tag] = slot
		}
		vec[2+slot] = 1.0
	}
	return vec
}

// ExtractQuery builds a vector for a query without mutating the learned
// vocabulary. Unknown categories map to the sentinel; unknown tags are
// ignored.
func (e *Extractor) ExtractQuery(objectiveType, projectType string, tags []string) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vec := make([]float64, e.Dimensions())
	vec[0] = lookupID(e.objectiveTypes, objectiveType)
	vec[1] = lookupID(e.projectTypes, projectType)

	for _, tag := range tags {
		if slot, ok := e.tagSlots[tag]; ok {
			vec[2+slot] = 1.0
		}
	}
	return vec
}

func assignID(m map[string]int, key string) int {
	if key == "" {
		return int(Sentinel)
	}
	if id, ok := m[key]; ok {
		return id
	}
	id := len(m)
	m[key] = id
	return id
}

func lookupID(m map[string]int, key string) float64 {
	if key == "" {
		return Sentinel
	}
	if id, ok := m[key]; ok {
		return float64(id)
	}
	return Sentinel
}
