package engine

import (
	"sort"
	"strings"

	"github.com/harrison/helmsman/internal/models"
)

// ObjectiveClassifier turns free objective text into a typed profile.
// The engine ships a keyword default; hosts with a richer classifier
// inject their own.
type ObjectiveClassifier interface {
	Classify(objective string) models.ObjectiveProfile
}

// typeKeywords maps objective types to their trigger words, checked in
// a fixed order so overlapping matches resolve deterministically.
var typeKeywords = []struct {
	objType  string
	keywords []string
}{
	{"bugfix", []string{"fix", "bug", "crash", "broken", "regression", "error"}},
	{"refactor", []string{"refactor", "restructure", "cleanup", "simplify"}},
	{"testing", []string{"test", "verify", "coverage", "validate"}},
	{"docs", []string{"document", "docs", "readme", "changelog"}},
	{"research", []string{"research", "investigate", "explore", "analyze", "compare"}},
	{"feature", []string{"implement", "add", "create", "build", "support", "introduce"}},
}

// tagKeywords maps domain tags to their trigger words.
var tagKeywords = map[string][]string{
	"auth":     {"auth", "login", "session", "oauth", "password", "token"},
	"api":      {"api", "endpoint", "rest", "grpc", "handler"},
	"database": {"database", "db", "sql", "schema", "migration", "query"},
	"ui":       {"ui", "frontend", "page", "button", "render", "css"},
	"network":  {"network", "http", "socket", "request", "proxy"},
	"deploy":   {"deploy", "release", "pipeline", "docker", "kubernetes"},
	"perf":     {"slow", "performance", "latency", "memory", "optimize"},
	"security": {"security", "vulnerability", "injection", "xss", "cve"},
}

// KeywordClassifier is the default ObjectiveClassifier: ordered keyword
// rules for the type, domain keyword hits for tags, and a length-based
// complexity estimate.
type KeywordClassifier struct {
	// ProjectType is attached to every profile; typically the host's
	// repository kind.
	ProjectType string
}

// Classify implements ObjectiveClassifier.
func (c KeywordClassifier) Classify(objective string) models.ObjectiveProfile {
	words := strings.Fields(strings.ToLower(objective))
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[strings.Trim(w, ".,:;!?()'\"")] = struct{}{}
	}

	profile := models.ObjectiveProfile{
		Type:        "general",
		ProjectType: c.ProjectType,
		Complexity:  complexity(words),
	}

	for _, rule := range typeKeywords {
		if hasAny(wordSet, rule.keywords) {
			profile.Type = rule.objType
			break
		}
	}

	for tag, keywords := range tagKeywords {
		if hasAny(wordSet, keywords) {
			profile.Tags = append(profile.Tags, tag)
		}
	}
	sort.Strings(profile.Tags)
	return profile
}

func hasAny(words map[string]struct{}, keywords []string) bool {
	for _, k := range keywords {
		if _, ok := words[k]; ok {
			return true
		}
	}
	return false
}

// complexity estimates objective complexity in [0,1] from length and
// conjunction count.
func complexity(words []string) float64 {
	steps := 0
	for _, w := range words {
		if w == "and" || w == "then" || w == "also" {
			steps++
		}
	}
	c := float64(len(words))/40 + float64(steps)*0.15
	if c > 1 {
		c = 1
	}
	if c < 0.05 {
		c = 0.05
	}
	return c
}
