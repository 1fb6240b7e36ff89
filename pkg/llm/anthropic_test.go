package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicServer(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewAnthropicProvider("test-api-key", server.URL+"/v1", "claude-3-5-sonnet", 0.1, 1000)
	require.NoError(t, err)
	return provider
}

func TestAnthropicProviderAnalyze(t *testing.T) {
	provider := newAnthropicServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-sonnet", req.Model)
		assert.Equal(t, systemPrompt, req.System)
		assert.Equal(t, 1000, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "Test prompt", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type":"message","content":[
			{"type":"text","text":"The query is slow "},
			{"type":"tool_use","text":"ignored"},
			{"type":"text","text":"because it scans the table."}],"stop_reason":"end_turn"}`))
	})

	result, err := provider.Analyze(context.Background(), "Test prompt")
	require.NoError(t, err)
	assert.Equal(t, "The query is slow because it scans the table.", result)
}

func TestAnthropicProviderAnalyzeError(t *testing.T) {
	provider := newAnthropicServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"Invalid API key"}}`))
	})

	_, err := provider.Analyze(context.Background(), "Test prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "authentication_error: Invalid API key")
}

func TestAnthropicProviderUnstructuredError(t *testing.T) {
	provider := newAnthropicServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable\n"))
	})

	_, err := provider.Analyze(context.Background(), "Test prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Anthropic API error (status 502): upstream unavailable")
}

func TestAnthropicProviderNoContent(t *testing.T) {
	provider := newAnthropicServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type":"message","content":[]}`))
	})

	_, err := provider.Analyze(context.Background(), "Test prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content")
}

func TestAnthropicProviderName(t *testing.T) {
	provider, err := NewAnthropicProvider("test-key", "", "claude-3-5-sonnet", 0.1, 1000)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", provider.Name())
	assert.Equal(t, "claude-3-5-sonnet", provider.GetModel())
}

func TestNewAnthropicProviderMissingKey(t *testing.T) {
	_, err := NewAnthropicProvider("", "", "claude-3-5-sonnet", 0.1, 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestAnthropicProviderDefaults(t *testing.T) {
	provider, err := NewAnthropicProvider("test-key", "", "", 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, provider.GetModel())
	assert.Equal(t, anthropicBaseURL, provider.baseURL)
	assert.Equal(t, 1024, provider.maxTokens)
}

func TestAnthropicProviderFromConfig(t *testing.T) {
	cfg := configFor("anthropic")
	cfg.APIKey = "test-key"
	cfg.Model = "claude-3-haiku"
	cfg.MaxTokens = 256

	provider, err := NewAnthropicProviderFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "claude-3-haiku", provider.GetModel())
	assert.Equal(t, 256, provider.maxTokens)
	assert.Equal(t, anthropicBaseURL, provider.baseURL)
}
