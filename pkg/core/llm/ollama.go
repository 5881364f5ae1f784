package llm

import (
	"context"
	"fmt"
)

// OllamaProvider calls a local Ollama server's /api/chat endpoint.
type OllamaProvider struct {
	cfg Config
}

var _ Provider = (*OllamaProvider)(nil)

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

func (p *OllamaProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	reqBody := ollamaRequest{
		Model: resolveModel(p.cfg, options),
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream: false,
		Options: map[string]interface{}{
			"temperature": p.cfg.Temperature,
			"num_predict": p.cfg.MaxTokens,
		},
	}
	if wantsJSON(options) {
		reqBody.Format = "json"
	}

	var response ollamaResponse
	if err := postJSON(ctx, p.cfg, "OLLAMA", p.cfg.BaseURL+"/api/chat", nil, reqBody, &response); err != nil {
		return "", err
	}
	if response.Error != "" {
		return "", fmt.Errorf("OLLAMA_API_ERROR: %s", response.Error)
	}
	return response.Message.Content, nil
}

func (p *OllamaProvider) AdaptInstructions(raw string) string {
	return raw
}
