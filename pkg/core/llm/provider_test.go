package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsAdapter(t *testing.T) {
	tests := []struct {
		provider string
		want     Provider
	}{
		{"openai", &OpenAICompatibleProvider{}},
		{"DeepSeek", &OpenAICompatibleProvider{}},
		{"openrouter", &OpenAICompatibleProvider{}},
		{"anthropic", &AnthropicProvider{}},
		{"ollama", &OllamaProvider{}},
		{"gemini", &GeminiProvider{}},
		{"qwen", &QwenProvider{}},
	}
	for _, tt := range tests {
		p, err := New(Config{Provider: tt.provider})
		require.NoError(t, err, tt.provider)
		assert.IsType(t, tt.want, p, tt.provider)
	}

	_, err := New(Config{Provider: "custom"})
	assert.Error(t, err, "custom without base_url")
	_, err = New(Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestOpenAICompatibleProvider(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	p, err := New(Config{Provider: "custom", BaseURL: srv.URL + "/", Model: "m1"})
	require.NoError(t, err)
	out, err := p.GenerateResponse(context.Background(), "user", "system", map[string]interface{}{"api_key": "sk-test", "json": true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, "m1", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestOpenAICompatibleProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	p, _ := New(Config{Provider: "custom", BaseURL: srv.URL})
	_, err := p.GenerateResponse(context.Background(), "u", "s", map[string]interface{}{"api_key": "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_ERROR: status=429")
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("FINTABLE_TEST_EMPTY_KEY", "")
	p, _ := New(Config{Provider: "custom", BaseURL: "http://127.0.0.1:1", APIKeyEnv: "FINTABLE_TEST_EMPTY_KEY"})
	_, err := p.GenerateResponse(context.Background(), "u", "s", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY_MISSING")
}

func TestAnthropicProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "sys", req.System)
		assert.Len(t, req.Messages, 1)
		w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}`))
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "ak")
	p, _ := New(Config{Provider: "anthropic", BaseURL: srv.URL})
	out, err := p.GenerateResponse(context.Background(), "u", "sys", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		w.Write([]byte(`{"message":{"role":"assistant","content":"{}"}}`))
	}))
	defer srv.Close()

	p, _ := New(Config{Provider: "ollama", BaseURL: srv.URL})
	out, err := p.GenerateResponse(context.Background(), "u", "s", map[string]interface{}{"json": true})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestQwenProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/text-generation/generation"), r.URL.Path)
		w.Write([]byte(`{"output":{"choices":[{"message":{"content":"qwen says hi"}}]}}`))
	}))
	defer srv.Close()

	p, _ := New(Config{Provider: "qwen", BaseURL: srv.URL})
	out, err := p.GenerateResponse(context.Background(), "u", "s", map[string]interface{}{"api_key": "q"})
	require.NoError(t, err)
	assert.Equal(t, "qwen says hi", out)
}
