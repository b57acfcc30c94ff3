// Package failure classifies agent errors into the closed taxonomy,
// builds failure contexts enriched with historical evidence, and links
// related failures into chains.
package failure

import (
	"regexp"

	"github.com/harrison/helmsman/internal/models"
)

// classifierRule maps an error-text pattern to a category. Rules are
// evaluated in order, most specific first; the first match wins.
type classifierRule struct {
	pattern  *regexp.Regexp
	category models.ErrorCategory
}

// classifierRules is the ordered rule table. Unmatched text defaults to
// logical_unknown.
var classifierRules = []classifierRule{
	{regexp.MustCompile(`(?i)timed?[ _-]?out|deadline exceeded|execution timeout|request timeout`), models.ErrorTimeout},
	{regexp.MustCompile(`(?i)not found|no such (file|agent|tool|resource)|does not exist|404|unable to locate|missing (package|module|dependency)`), models.ErrorNotFound},
	{regexp.MustCompile(`(?i)capabilit|unsupported operation|cannot handle|not equipped|no suitable agent|wrong specialization`), models.ErrorCapabilityMismatch},
	{regexp.MustCompile(`(?i)validation|invalid (input|argument|format|schema)|schema mismatch|assertion fail|malformed|constraint violat`), models.ErrorValidation},
	{regexp.MustCompile(`(?i)connection (refused|reset)|network|temporar(il)?y unavailable|rate limit|503|502|unexpected EOF|broken pipe`), models.ErrorTransientNetwork},
}

// Classify maps free-text error output to an error category.
func Classify(errText string) models.ErrorCategory {
	if errText == "" {
		return models.ErrorLogicalUnknown
	}
	for _, rule := range classifierRules {
		if rule.pattern.MatchString(errText) {
			return rule.category
		}
	}
	return models.ErrorLogicalUnknown
}

// Transient reports whether a category is worth retrying with the same
// agent rather than substituting.
func Transient(cat models.ErrorCategory) bool {
	return cat == models.ErrorTimeout || cat == models.ErrorTransientNetwork
}
