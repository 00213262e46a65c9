// Package llm provides chat completion clients used for digest
// summarization and semantic alert classification.
package llm

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/config"
)

var (
	// ErrEmptyCompletion is returned when the provider answers with no choices.
	ErrEmptyCompletion = errors.New("llm: empty completion")
	// ErrMissingAPIKey is returned by the unconfigured client on every call.
	ErrMissingAPIKey = errors.New("llm: api key is not configured")
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is a single chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// Options tune a single completion request.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
	JSONObject  bool
}

// Client produces chat completions.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// New selects a client implementation from the configuration.
// An empty key yields a client that fails fast, "mock" yields a canned
// responder for local runs.
func New(cfg *config.Config, logger *zerolog.Logger) Client {
	switch cfg.LLMAPIKey {
	case "":
		logger.Warn().Msg("llm api key is empty, completions disabled")
		return unconfiguredClient{}
	case "mock":
		return &mockClient{}
	default:
		return newOpenAI(cfg, logger)
	}
}

type unconfiguredClient struct{}

func (unconfiguredClient) Complete(context.Context, []Message, Options) (string, error) {
	return "", ErrMissingAPIKey
}
