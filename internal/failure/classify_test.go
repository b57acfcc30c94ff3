package failure

import (
	"testing"

	"github.com/harrison/helmsman/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		errText string
		want    models.ErrorCategory
	}{
		{"operation timed out after 30s", models.ErrorTimeout},
		{"context deadline exceeded", models.ErrorTimeout},
		{"request timeout while calling agent", models.ErrorTimeout},
		{"resource not found", models.ErrorNotFound},
		{"no such file or directory", models.ErrorNotFound},
		{"server returned 404", models.ErrorNotFound},
		{"missing package github.com/foo/bar", models.ErrorNotFound},
		{"agent lacks required capability: browser", models.ErrorCapabilityMismatch},
		{"unsupported operation for this agent", models.ErrorCapabilityMismatch},
		{"no suitable agent for objective", models.ErrorCapabilityMismatch},
		{"validation failed: field name is required", models.ErrorValidation},
		{"invalid input for task schema", models.ErrorValidation},
		{"malformed JSON in response", models.ErrorValidation},
		{"connection refused by upstream", models.ErrorTransientNetwork},
		{"rate limit exceeded, retry later", models.ErrorTransientNetwork},
		{"got 503 from service", models.ErrorTransientNetwork},
		{"unexpected EOF while streaming", models.ErrorTransientNetwork},
		{"the output was simply wrong", models.ErrorLogicalUnknown},
		{"", models.ErrorLogicalUnknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.errText); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.errText, got, tt.want)
		}
	}
}

// Rule order matters: text matching several rules takes the first.
func TestClassifyOrderedFirstMatchWins(t *testing.T) {
	got := Classify("request timeout: resource not found")
	if got != models.ErrorTimeout {
		t.Errorf("Classify = %s, want %s (timeout rule precedes not_found)", got, models.ErrorTimeout)
	}
}

func TestTransient(t *testing.T) {
	transient := map[models.ErrorCategory]bool{
		models.ErrorTimeout:          true,
		models.ErrorTransientNetwork: true,
	}
	for _, cat := range models.Categories() {
		if got := Transient(cat); got != transient[cat] {
			t.Errorf("Transient(%s) = %v, want %v", cat, got, transient[cat])
		}
	}
}
