// Package llm adapts hosted language models to the single call shape the
// pipeline agents need: one system prompt, one user prompt, one text answer.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProviderType identifies a backend.
type ProviderType string

const (
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeGoogle    ProviderType = "google"
)

// Request is one completion call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Provider completes a prompt. Implementations must honour ctx cancellation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string        `yaml:"provider" json:"provider"`
	APIKey    string        `yaml:"api_key" json:"-"`
	Model     string        `yaml:"model" json:"model"`
	BaseURL   string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxTokens int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

const (
	DefaultMaxTokens = 1024
	DefaultTimeout   = 60 * time.Second
)

var defaultModels = map[ProviderType]string{
	ProviderTypeAnthropic: "claude-haiku-4-5-20251001",
	ProviderTypeOpenAI:    "gpt-5.2-codex",
	ProviderTypeGoogle:    "gemini-2.5-flash",
}

func (c Config) withDefaults() (Config, ProviderType, error) {
	pt := ProviderType(strings.ToLower(strings.TrimSpace(c.Provider)))
	switch pt {
	case "":
		pt = ProviderTypeAnthropic
	case "gemini":
		pt = ProviderTypeGoogle
	}
	model, known := defaultModels[pt]
	if !known {
		return c, pt, fmt.Errorf("llm: unknown provider %q", c.Provider)
	}
	if c.APIKey == "" {
		return c, pt, fmt.Errorf("llm: %s: api_key is required", pt)
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c, pt, nil
}

// New builds the provider named by cfg.Provider (anthropic when empty).
func New(ctx context.Context, cfg Config) (Provider, error) {
	cfg, pt, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	switch pt {
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg), nil
	case ProviderTypeGoogle:
		return NewGeminiProvider(ctx, cfg)
	default:
		return NewAnthropicProvider(cfg), nil
	}
}

func maxTokens(req Request, cfg Config) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return cfg.MaxTokens
}
