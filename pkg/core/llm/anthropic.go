package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider calls the Messages API.
type AnthropicProvider struct {
	cfg Config
}

var _ Provider = (*AnthropicProvider)(nil)

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	apiKey := resolveAPIKey(p.cfg, options)
	if apiKey == "" {
		return "", fmt.Errorf("ANTHROPIC_API_KEY_MISSING: set %s", p.cfg.APIKeyEnv)
	}

	reqBody := anthropicRequest{
		Model:       resolveModel(p.cfg, options),
		System:      systemPrompt,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
	h := http.Header{}
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicVersion)
	var response anthropicResponse
	if err := postJSON(ctx, p.cfg, "ANTHROPIC", p.cfg.BaseURL+"/v1/messages", h, reqBody, &response); err != nil {
		return "", err
	}
	if response.Error != nil {
		return "", fmt.Errorf("ANTHROPIC_API_ERROR: %s: %s", response.Error.Type, response.Error.Message)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("ANTHROPIC_EMPTY_CONTENT")
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) AdaptInstructions(raw string) string {
	return raw
}
