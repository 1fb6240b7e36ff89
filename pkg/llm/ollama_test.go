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

func TestOllamaProviderAnalyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req["model"])
		assert.Equal(t, "Test prompt", req["prompt"])
		assert.Equal(t, false, req["stream"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":    "llama3",
			"response": "local analysis",
			"done":     true,
		})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(server.URL+"/", "", 0.2)
	require.NoError(t, err)

	result, err := provider.Analyze(context.Background(), "Test prompt")
	require.NoError(t, err)
	assert.Equal(t, "local analysis", result)
	assert.Equal(t, "ollama", provider.Name())
	assert.Equal(t, "llama3", provider.GetModel())
}

func TestOllamaProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "model 'nope' not found"}`))
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(server.URL, "nope", 0)
	require.NoError(t, err)

	_, err = provider.Analyze(context.Background(), "Test prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ollama API error")
}

func TestOllamaListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models": [{"name": "llama3:latest"}, {"name": "mistral:7b"}]}`))
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(server.URL, "", 0)
	require.NoError(t, err)

	models, err := provider.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:latest", "mistral:7b"}, models)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(configFor("ollama"))
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	_, err = NewProvider(configFor("openai"))
	assert.Error(t, err)

	_, err = NewProvider(configFor("bard"))
	assert.Error(t, err)
}
