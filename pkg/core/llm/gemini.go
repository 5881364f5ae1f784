package llm

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider calls Gemini through the GenAI SDK. The client is created
// on first use and reused; it is keyed by the API key it was built with.
type GeminiProvider struct {
	Model string
	cfg   Config

	mu     sync.Mutex
	client *genai.Client
	key    string
}

var _ Provider = (*GeminiProvider)(nil)

func (p *GeminiProvider) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.key == key {
		return p.client, nil
	}
	cc := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI, HTTPClient: p.cfg.HTTPClient}
	if p.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("GEMINI_CLIENT_ERROR: %w", err)
	}
	p.client, p.key = c, key
	return c, nil
}

func (p *GeminiProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	key := resolveAPIKey(p.cfg, options)
	if key == "" {
		return "", fmt.Errorf("GEMINI_API_KEY_MISSING: set %s", p.cfg.APIKeyEnv)
	}
	client, err := p.clientFor(ctx, key)
	if err != nil {
		return "", err
	}

	model := resolveModel(Config{Model: p.Model}, options)
	if model == "" {
		model = presets["gemini"].Model
	}
	gc := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(p.cfg.Temperature))}
	if p.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(p.cfg.MaxTokens)
	}
	if wantsJSON(options) {
		gc.ResponseMIMEType = "application/json"
	}
	if systemPrompt != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}

	res, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), gc)
	if err != nil {
		return "", fmt.Errorf("GEMINI_GENERATION_ERROR: %w", err)
	}
	if text := res.Text(); text != "" {
		return text, nil
	}
	return "", fmt.Errorf("GEMINI_EMPTY_RESPONSE")
}

func (p *GeminiProvider) AdaptInstructions(raw string) string { return raw }
