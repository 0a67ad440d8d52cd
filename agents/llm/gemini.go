package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through genai.
type GeminiProvider struct {
	client *genai.Client
	config Config
}

func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client, config: cfg}, nil
}

func (p *GeminiProvider) Name() string {
	return string(ProviderTypeGoogle)
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req, p.config)),
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	result, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, gc)
	if err != nil {
		return "", fmt.Errorf("gemini complete: %w", err)
	}
	return result.Text(), nil
}
