package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAssignsStableIDs(t *testing.T) {
	e := NewExtractor(4)

	v1 := e.Extract("bugfix", "webapp", []string{"auth"})
	v2 := e.Extract("feature", "webapp", []string{"auth", "api"})
	v3 := e.Extract("bugfix", "cli", nil)

	assert.Equal(t, 0.0, v1[0], "first objective type gets id 0")
	assert.Equal(t, 1.0, v2[0], "second objective type gets id 1")
	assert.Equal(t, 0.0, v3[0], "repeat objective type keeps its id")
	assert.Equal(t, v1[1], v2[1], "same project type, same id")
	assert.Equal(t, 1.0, v1[2], "first tag occupies slot 0")
	assert.Equal(t, 1.0, v2[2])
	assert.Equal(t, 1.0, v2[3], "second tag occupies slot 1")
}

func TestExtractQueryUsesSentinelWithoutLearning(t *testing.T) {
	e := NewExtractor(4)
	e.Extract("bugfix", "webapp", []string{"auth"})

	q := e.ExtractQuery("never-seen", "also-new", []string{"unknown-tag"})
	assert.Equal(t, Sentinel, q[0], "unknown objective type maps to sentinel")
	assert.Equal(t, Sentinel, q[1], "unknown project type maps to sentinel")
	for _, slot := range q[2:] {
		assert.Zero(t, slot, "unknown tags set no slots")
	}

	// The query must not have grown the vocabulary.
	again := e.ExtractQuery("never-seen", "also-new", nil)
	assert.Equal(t, Sentinel, again[0])

	known := e.ExtractQuery("bugfix", "webapp", []string{"auth"})
	assert.Equal(t, 0.0, known[0])
	assert.Equal(t, 0.0, known[1])
	assert.Equal(t, 1.0, known[2])
}

// A sentinel dimension must never compare equal to a stored id, so an
// unknown category always contributes distance instead of a match.
func TestSentinelNeverEqualsAssignedID(t *testing.T) {
	e := NewExtractor(4)
	stored := e.Extract("bugfix", "", nil)
	query := e.ExtractQuery("unknown", "", nil)

	assert.NotEqual(t, stored[0], query[0])
	assert.Less(t, query[0], 0.0, "sentinel is negative, ids start at 0")
}

func TestTagVocabularyCap(t *testing.T) {
	e := NewExtractor(2)
	v := e.Extract("t", "", []string{"a", "b", "c"})

	assert.Len(t, v, e.Dimensions())
	assert.Equal(t, 1.0, v[2])
	assert.Equal(t, 1.0, v[3])

	// "c" arrived after the vocabulary filled; it must be dropped, not
	// grow the vector.
	v2 := e.Extract("t", "", []string{"c"})
	for _, slot := range v2[2:] {
		assert.Zero(t, slot)
	}
}

func TestEmptyCategoryIsSentinelOnBothPaths(t *testing.T) {
	e := NewExtractor(2)
	assert.Equal(t, Sentinel, e.Extract("", "", nil)[0])
	assert.Equal(t, Sentinel, e.ExtractQuery("", "", nil)[0])
}
