package llm

import (
	"context"
	"fmt"
)

// OpenAICompatibleProvider talks to any /chat/completions endpoint
// (OpenAI, DeepSeek, OpenRouter, self-hosted gateways).
type OpenAICompatibleProvider struct {
	cfg Config
}

var _ Provider = (*OpenAICompatibleProvider)(nil)

type ChatRequest struct {
	Messages       []Message       `json:"messages"`
	Model          string          `json:"model"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
}

type Message struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAICompatibleProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	apiKey := resolveAPIKey(p.cfg, options)
	if apiKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY_MISSING: set %s", p.cfg.APIKeyEnv)
	}

	reqBody := ChatRequest{
		Messages: []Message{
			{Content: systemPrompt, Role: "system"},
			{Content: prompt, Role: "user"},
		},
		Model:       resolveModel(p.cfg, options),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Stream:      false,
	}
	if wantsJSON(options) {
		reqBody.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	h := bearer(apiKey)
	h.Set("Accept", "application/json")
	var response ChatResponse
	if err := postJSON(ctx, p.cfg, "OPENAI", p.cfg.BaseURL+"/chat/completions", h, reqBody, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("OPENAI_NO_CHOICES")
	}
	return response.Choices[0].Message.Content, nil
}

func (p *OpenAICompatibleProvider) AdaptInstructions(raw string) string {
	return raw
}
