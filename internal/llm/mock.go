package llm

import (
	"context"
	"strings"
)

// mockClient returns canned completions for local development runs.
type mockClient struct{}

func (m *mockClient) Complete(_ context.Context, messages []Message, opts Options) (string, error) {
	if opts.JSONObject {
		return `{"matched": false, "reason": "mock classifier"}`, nil
	}

	var topics []string
	for _, msg := range messages {
		if msg.Role == RoleUser && msg.Content != "" {
			topics = append(topics, firstLine(msg.Content))
		}
	}

	var sb strings.Builder
	sb.WriteString("# Mock Digest\n\n## Key Developments\n")

	for _, t := range topics {
		sb.WriteString("- ")
		sb.WriteString(t)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}

	if len(s) > 80 {
		s = s[:80]
	}

	return strings.TrimSpace(s)
}
