// Package brief parses markdown objective briefs: the title is the
// objective, metadata lines declare project and tags, and an Agents
// section lists the candidate agents with their declared tools.
package brief

import (
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/harrison/helmsman/internal/models"
)

// Brief is a parsed objective brief.
type Brief struct {
	Objective string
	Project   string
	Tags      []string
	Agents    []models.AgentProfile
}

// Parser parses brief markdown through a goldmark AST walk.
type Parser struct {
	markdown goldmark.Markdown
}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{markdown: goldmark.New()}
}

// Parse reads a brief from r. The first level-1 heading becomes the
// objective; a missing title is an error since nothing can be planned
// without one.
func (p *Parser) Parse(r io.Reader) (*Brief, error) {
	source, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read brief: %w", err)
	}

	doc := p.markdown.Parser().Parse(text.NewReader(source))

	b := &Brief{}
	inAgents := false

	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			heading := extractText(node, source)
			switch {
			case node.Level == 1 && b.Objective == "":
				b.Objective = heading
			case node.Level == 2:
				inAgents = strings.EqualFold(heading, "agents")
			}

		case *ast.Paragraph:
			if inAgents {
				break
			}
			for _, line := range strings.Split(extractText(node, source), "\n") {
				parseMetadataLine(b, line)
			}

		case *ast.ListItem:
			if !inAgents {
				break
			}
			if item := extractText(node, source); item != "" {
				if a := parseAgentItem(item); a.ID != "" {
					b.Agents = append(b.Agents, a)
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk brief: %w", err)
	}

	if b.Objective == "" {
		return nil, fmt.Errorf("brief has no title heading")
	}
	return b, nil
}

// parseMetadataLine recognizes "Project:" and "Tags:" lines; everything
// else is descriptive prose and ignored.
func parseMetadataLine(b *Brief, line string) {
	line = strings.TrimSpace(line)
	switch {
	case hasPrefixFold(line, "project:"):
		b.Project = strings.TrimSpace(line[len("project:"):])
	case hasPrefixFold(line, "tags:"):
		for _, tag := range strings.Split(line[len("tags:"):], ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				b.Tags = append(b.Tags, strings.ToLower(tag))
			}
		}
	}
}

// parseAgentItem parses one Agents list entry:
//
//	impl-coder [critical] tools: file_write, git_commit
func parseAgentItem(item string) models.AgentProfile {
	profile := models.AgentProfile{}

	if i := indexFold(item, "tools:"); i >= 0 {
		for _, tool := range strings.Split(item[i+len("tools:"):], ",") {
			if tool = strings.TrimSpace(tool); tool != "" {
				profile.Tools = append(profile.Tools, tool)
			}
		}
		item = item[:i]
	}
	if strings.Contains(item, "[critical]") {
		profile.Critical = true
		item = strings.ReplaceAll(item, "[critical]", "")
	}
	if fields := strings.Fields(item); len(fields) > 0 {
		profile.ID = fields[0]
	}
	return profile
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func indexFold(s, sub string) int {
	return strings.Index(strings.ToLower(s), sub)
}

// extractText concatenates the text segments under a node.
func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := child.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.CodeSpan:
			for c := t.FirstChild(); c != nil; c = c.NextSibling() {
				if txt, ok := c.(*ast.Text); ok {
					sb.Write(txt.Segment.Value(source))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
