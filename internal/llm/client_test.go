package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/pkg/anthropic"
)

// fakeAPI is a scripted anthropic.Client.
type fakeAPI struct {
	responses []*anthropic.MessageResponse
	errs      []error
	requests  []anthropic.MessageRequest
}

func (f *fakeAPI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	call := len(f.requests)
	f.requests = append(f.requests, req)
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	if call < len(f.responses) {
		return f.responses[call], nil
	}
	return &anthropic.MessageResponse{Text: "[]"}, nil
}

func TestAnthropicClientPassesModelParameters(t *testing.T) {
	api := &fakeAPI{responses: []*anthropic.MessageResponse{{
		Text:  `[{"number": "+49123", "type": "Main Line", "classification": "Primary"}]`,
		Usage: anthropic.TokenUsage{InputTokens: 42, OutputTokens: 7},
	}}}

	client := NewAnthropicClient(api, config.LLMConfig{
		ModelName:   "claude-haiku-4-5-20251001",
		Temperature: 0.5,
		MaxTokens:   8192,
	})

	text, usage, err := client.Complete(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Contains(t, text, "+49123")
	assert.Equal(t, int64(42), usage.PromptTokens)
	assert.Equal(t, int64(7), usage.CompletionTokens)
	assert.Equal(t, int64(49), usage.TotalTokens)

	require.Len(t, api.requests, 1)
	req := api.requests[0]
	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	assert.Equal(t, int64(8192), req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.5, *req.Temperature)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "classify this", req.Messages[0].Content)
}

func TestAnthropicClientRetriesTransient(t *testing.T) {
	api := &fakeAPI{
		errs: []error{errors.New("api error: 529 overloaded"), nil},
		responses: []*anthropic.MessageResponse{
			nil,
			{Text: "[]"},
		},
	}

	client := NewAnthropicClient(api, config.LLMConfig{ModelName: "m", MaxTokens: 100})

	text, _, err := client.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "[]", text)
	assert.Len(t, api.requests, 2)
}

func TestAnthropicClientPermanentErrorSurfaces(t *testing.T) {
	api := &fakeAPI{errs: []error{errors.New("401 invalid api key")}}

	client := NewAnthropicClient(api, config.LLMConfig{ModelName: "m", MaxTokens: 100})

	_, _, err := client.Complete(context.Background(), "p")
	assert.Error(t, err)
	assert.Len(t, api.requests, 1)
}
