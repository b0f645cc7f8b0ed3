package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/beyanname/internal/ai/openai"
	"github.com/kiranshivaraju/beyanname/internal/ai/vllm"
	"github.com/kiranshivaraju/beyanname/internal/config"
	"github.com/kiranshivaraju/beyanname/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionJSON = `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-test",
 "choices":[{"index":0,"message":{"role":"assistant","content":"KDV beyani dogru."},"finish_reason":"stop"}]}`

func chatServer(t *testing.T, path string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, "/chat/completions", &body)

	p := openai.NewProvider(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL + "/"})
	out, err := p.Generate(context.Background(), models.GenerateRequest{
		Prompt: "beyanname", System: "vergi danismani", MaxOutputTokens: 300, Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "KDV beyani dogru.", out)
	assert.Equal(t, "gpt-test", body["model"])
	assert.EqualValues(t, 300, body["max_completion_tokens"])

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestGenerate_ErrorStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	}))
	t.Cleanup(srv.Close)

	p := openai.NewProvider(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL + "/"})
	_, err := p.Generate(context.Background(), models.GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai chat completion")
	assert.Equal(t, 1, calls)
}

func TestVLLM_UsesV1Prefix(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, "/v1/chat/completions", &body)

	p := vllm.NewProvider(config.VLLMConfig{BaseURL: srv.URL, Model: "mistral-7b"})
	out, err := p.Generate(context.Background(), models.GenerateRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "KDV beyani dogru.", out)
	assert.Equal(t, "vllm", p.Name())
	assert.Equal(t, "mistral-7b", body["model"])
}
