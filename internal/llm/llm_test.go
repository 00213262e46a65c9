package llm

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliseevk/tgsentry/internal/config"
)

func TestNewSelectsImplementation(t *testing.T) {
	logger := zerolog.Nop()

	c := New(&config.Config{}, &logger)
	_, err := c.Complete(context.Background(), nil, Options{})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	c = New(&config.Config{LLMAPIKey: "mock"}, &logger)
	_, ok := c.(*mockClient)
	assert.True(t, ok)

	c = New(&config.Config{LLMAPIKey: "sk-test", RateLimitRPS: 1}, &logger)
	_, ok = c.(*openaiClient)
	assert.True(t, ok)
}

func TestMockClientJSONMode(t *testing.T) {
	c := &mockClient{}

	out, err := c.Complete(context.Background(), ClassifierMessages("crisis coverage", "some post"), Options{JSONObject: true})
	require.NoError(t, err)
	assert.Contains(t, out, `"matched"`)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(ErrEmptyCompletion))
	assert.False(t, isTransient(ErrCircuitBreakerOpen))
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.True(t, isTransient(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}))
	assert.True(t, isTransient(&openai.APIError{HTTPStatusCode: http.StatusBadGateway}))
	assert.False(t, isTransient(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}))
}

func TestClassifierMessagesShape(t *testing.T) {
	msgs := ClassifierMessages("breaking news about outages", "power is out downtown")
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "breaking news about outages")
	assert.Contains(t, msgs[1].Content, "power is out downtown")
}
