// Package llm is a minimal prompt-in, text-out client for hosted language
// models. Streaming and tool calls are not supported.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Request is a single-turn completion request.
type Request struct {
	System string
	Prompt string
	// Label names the call in logs and metrics, e.g. "exam_analysis".
	Label string
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        TokenUsage
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config selects and tunes a provider.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// New returns the client for cfg.Provider: "openai" (any OpenAI-compatible
// /chat/completions endpoint), "anthropic" or "mock".
func New(cfg Config) (Client, error) {
	var p provider
	switch cfg.Provider {
	case "openai":
		p = openAIProvider{}
	case "anthropic":
		p = anthropicProvider{}
	case "mock":
		return NewStub(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for provider %q", cfg.Provider)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &httpClient{
		provider: p,
		cfg:      cfg,
		url:      p.BuildURL(cfg.BaseURL),
		http:     &http.Client{Timeout: timeout},
	}, nil
}
