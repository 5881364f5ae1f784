package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Provider is the interface for all LLM providers.
type Provider interface {
	GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error)
	// AdaptInstructions transforms raw instructions into model-specific formats
	AdaptInstructions(rawInstructions string) string
}

// Config selects and parameterises a provider adapter.
type Config struct {
	Provider    string        `yaml:"provider"`     // openai, deepseek, openrouter, custom, anthropic, ollama, gemini, qwen
	BaseURL     string        `yaml:"base_url"`     // overrides the provider default endpoint
	Model       string        `yaml:"model"`        // provider-specific model name
	APIKeyEnv   string        `yaml:"api_key_env"`  // name of the env var holding the key
	MaxTokens   int           `yaml:"max_tokens"`   // 1..8192
	Temperature float64       `yaml:"temperature"`  // 0..1
	Timeout     time.Duration `yaml:"timeout"`      // per HTTP request
	HTTPClient  *http.Client  `yaml:"-"`
}

// Defaults per provider: endpoint, model and API key variable.
var presets = map[string]Config{
	"openai":     {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
	"deepseek":   {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat", APIKeyEnv: "DEEPSEEK_API_KEY"},
	"openrouter": {BaseURL: "https://openrouter.ai/api/v1", Model: "anthropic/claude-3.5-sonnet", APIKeyEnv: "OPENROUTER_API_KEY"},
	"custom":     {APIKeyEnv: "LLM_API_KEY"},
	"anthropic":  {BaseURL: "https://api.anthropic.com", Model: "claude-3-5-sonnet-latest", APIKeyEnv: "ANTHROPIC_API_KEY"},
	"ollama":     {BaseURL: "http://localhost:11434", Model: "qwen2.5:7b"},
	"gemini":     {Model: "gemini-2.0-flash", APIKeyEnv: "GEMINI_API_KEY"},
	"qwen":       {BaseURL: "https://dashscope.aliyuncs.com", Model: "qwen-max", APIKeyEnv: "DASHSCOPE_API_KEY"},
}

// WithDefaults fills unset fields from the provider preset.
func (c Config) WithDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	p := presets[c.Provider]
	if c.BaseURL == "" {
		c.BaseURL = p.BaseURL
	}
	if c.Model == "" {
		c.Model = p.Model
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = p.APIKeyEnv
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// New builds the adapter named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Provider {
	case "openai", "deepseek", "openrouter", "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("LLM_CONFIG_ERROR: provider %q needs base_url", cfg.Provider)
		}
		return &OpenAICompatibleProvider{cfg: cfg}, nil
	case "anthropic":
		return &AnthropicProvider{cfg: cfg}, nil
	case "ollama":
		return &OllamaProvider{cfg: cfg}, nil
	case "gemini":
		return &GeminiProvider{Model: cfg.Model, cfg: cfg}, nil
	case "qwen":
		return &QwenProvider{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("LLM_CONFIG_ERROR: unknown provider %q", cfg.Provider)
}

// resolveAPIKey prefers an explicit options["api_key"], then the configured env var.
func resolveAPIKey(cfg Config, options map[string]interface{}) string {
	if val, ok := options["api_key"].(string); ok && val != "" {
		return val
	}
	if cfg.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(cfg.APIKeyEnv)
}

func resolveModel(cfg Config, options map[string]interface{}) string {
	if val, ok := options["model"].(string); ok && val != "" {
		return val
	}
	return cfg.Model
}

func httpClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{Timeout: cfg.Timeout}
}

// wantsJSON reports whether the caller asked for a JSON-only reply.
func wantsJSON(options map[string]interface{}) bool {
	v, ok := options["json"].(bool)
	return ok && v
}

// postJSON sends in as a JSON POST and decodes a 200 reply into out. Errors
// carry code as their prefix, e.g. OPENAI_API_ERROR.
func postJSON(ctx context.Context, cfg Config, code, url string, header http.Header, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s_MARSHAL_ERROR: %v", code, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s_REQ_CREATE_ERROR: %v", code, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := httpClient(cfg).Do(req)
	if err != nil {
		return fmt.Errorf("%s_API_CALL_ERROR: %w", code, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%s_READ_BODY_ERROR: %v", code, err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s_API_ERROR: status=%d found=%s", code, res.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s_UNMARSHAL_ERROR: %v", code, err)
	}
	return nil
}

func bearer(key string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	return h
}
