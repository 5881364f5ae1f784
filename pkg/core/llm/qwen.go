package llm

import (
	"context"
	"fmt"
	"os"
)

// QwenProvider uses the native DashScope text-generation API.
type QwenProvider struct {
	cfg Config
}

var _ Provider = (*QwenProvider)(nil)

type qwenRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []Message `json:"messages"`
	} `json:"input"`
	Parameters qwenParameters `json:"parameters"`
}

type qwenParameters struct {
	ResultFormat   string          `json:"result_format"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type qwenResponse struct {
	Output struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
		Text string `json:"text"` // older endpoints reply with plain text
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *QwenProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	key := resolveAPIKey(p.cfg, options)
	if key == "" {
		key = os.Getenv("QWEN_API_KEY")
	}
	if key == "" {
		return "", fmt.Errorf("QWEN_API_KEY_MISSING: set %s or QWEN_API_KEY", p.cfg.APIKeyEnv)
	}

	var req qwenRequest
	req.Model = resolveModel(p.cfg, options)
	req.Input.Messages = []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	req.Parameters = qwenParameters{
		ResultFormat: "message",
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
	}
	if wantsJSON(options) {
		req.Parameters.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	var res qwenResponse
	url := p.cfg.BaseURL + "/api/v1/services/aigc/text-generation/generation"
	if err := postJSON(ctx, p.cfg, "QWEN", url, bearer(key), req, &res); err != nil {
		return "", err
	}
	switch {
	case res.Code != "":
		return "", fmt.Errorf("QWEN_API_ERROR: %s - %s", res.Code, res.Message)
	case len(res.Output.Choices) > 0:
		return res.Output.Choices[0].Message.Content, nil
	case res.Output.Text != "":
		return res.Output.Text, nil
	}
	return "", fmt.Errorf("QWEN_EMPTY_RESPONSE")
}

func (p *QwenProvider) AdaptInstructions(raw string) string { return raw }
