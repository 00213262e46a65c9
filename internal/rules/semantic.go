package rules

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/llm"
)

const (
	classifierMaxTokens = 200
	semanticMinPattern  = 5
	semanticMaxPattern  = 50
)

// semanticIndicators mark patterns that describe intent rather than
// literal text, where a keyword or regex match is unreliable.
var semanticIndicators = []string{
	"sentiment", "positive", "negative", "crisis", "emergency",
	"important", "urgent", "breaking", "developing", "analysis",
}

// Verdict is the classifier's decision for one post.
type Verdict struct {
	Matched bool   `json:"matched"`
	Reason  string `json:"reason"`
}

// Classifier asks the model whether a post matches a rule's intent.
type Classifier struct {
	client llm.Client
	logger *zerolog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(client llm.Client, logger *zerolog.Logger) *Classifier {
	return &Classifier{client: client, logger: logger}
}

// ShouldUseSemantic reports whether a rule's pattern warrants the LLM
// backstop: intent-like wording, or a regex too short or too long to be
// a trustworthy literal match.
func ShouldUseSemantic(rule Rule) bool {
	lower := strings.ToLower(rule.PatternSrc)

	for _, ind := range semanticIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}

	if _, ok := rule.Pattern.(Regex); ok {
		return len(rule.PatternSrc) < semanticMinPattern || len(rule.PatternSrc) > semanticMaxPattern
	}

	return false
}

// Classify returns the model's verdict, or nil when the model is
// unavailable or answers with something unparseable. Ambiguity degrades
// to non-match, never to an error.
func (c *Classifier) Classify(ctx context.Context, text, pattern string) *Verdict {
	out, err := c.client.Complete(ctx, llm.ClassifierMessages(pattern, text), llm.Options{
		MaxTokens:   classifierMaxTokens,
		Temperature: 0,
		JSONObject:  true,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("pattern", pattern).Msg("semantic classification failed")

		return nil
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(out), &verdict); err != nil {
		c.logger.Warn().Err(err).Str("response", out).Msg("semantic classifier returned malformed JSON")

		return nil
	}

	return &verdict
}
