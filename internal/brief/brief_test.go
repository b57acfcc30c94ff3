package brief

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/helmsman/internal/models"
)

const sampleBrief = `# Harden the auth token refresh

Project: webapp
Tags: Auth, security

Some descriptive prose that the parser ignores.

## Agents

- research-agent tools: web_search
- impl-coder [critical] tools: file_write, git_commit
- docs-writer

## Notes

- this list is not an agent list
`

func TestParseFullBrief(t *testing.T) {
	b, err := NewParser().Parse(strings.NewReader(sampleBrief))
	require.NoError(t, err)

	assert.Equal(t, "Harden the auth token refresh", b.Objective)
	assert.Equal(t, "webapp", b.Project)
	assert.Equal(t, []string{"auth", "security"}, b.Tags, "tags are lowercased")

	require.Len(t, b.Agents, 3)
	assert.Equal(t, models.AgentProfile{
		ID:    "research-agent",
		Tools: []string{"web_search"},
	}, b.Agents[0])
	assert.Equal(t, models.AgentProfile{
		ID:       "impl-coder",
		Tools:    []string{"file_write", "git_commit"},
		Critical: true,
	}, b.Agents[1])
	assert.Equal(t, "docs-writer", b.Agents[2].ID)
	assert.Empty(t, b.Agents[2].Tools)
}

func TestParseRequiresTitle(t *testing.T) {
	_, err := NewParser().Parse(strings.NewReader("just some prose\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no title")
}

func TestParseMinimalBrief(t *testing.T) {
	b, err := NewParser().Parse(strings.NewReader("# Fix the build\n"))
	require.NoError(t, err)
	assert.Equal(t, "Fix the build", b.Objective)
	assert.Empty(t, b.Project)
	assert.Empty(t, b.Tags)
	assert.Empty(t, b.Agents)
}

func TestParseKeepsFirstTitle(t *testing.T) {
	src := "# First objective\n\n# Second heading\n"
	b, err := NewParser().Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "First objective", b.Objective)
}

func TestParseMetadataCaseInsensitive(t *testing.T) {
	src := "# Objective\n\nPROJECT: cli\ntags: network\n"
	b, err := NewParser().Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "cli", b.Project)
	assert.Equal(t, []string{"network"}, b.Tags)
}

func TestParseAgentItem(t *testing.T) {
	tests := []struct {
		item string
		want models.AgentProfile
	}{
		{"impl-coder [critical] tools: file_write, git_commit",
			models.AgentProfile{ID: "impl-coder", Critical: true, Tools: []string{"file_write", "git_commit"}}},
		{"verify-agent", models.AgentProfile{ID: "verify-agent"}},
		{"solo Tools: deploy", models.AgentProfile{ID: "solo", Tools: []string{"deploy"}}},
		{"   ", models.AgentProfile{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseAgentItem(tt.item), "item %q", tt.item)
	}
}
