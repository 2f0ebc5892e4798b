// Package llm drafts free text (patient advisories) through Gemini or
// OpenAI. It is advisory only: nothing an LLM returns reaches a patient
// without passing the gate.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/rohankatakam/careops/internal/config"
)

// Provider represents the LLM provider
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderNone   Provider = "none" // templates only
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	defaultOpenAIModel = "gpt-4o-mini"

	// Advisories are short; a small cap keeps latency and cost down
	maxOutputTokens = 300
)

// Completer is the text completion surface the drafter depends on
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client provides a multi-provider completion interface
type Client struct {
	provider     Provider
	openaiClient *openai.Client
	geminiClient *GeminiClient
	model        string
	quota        *Quota
	logger       *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithQuota makes every completion take a slot from a shared quota first
func WithQuota(q *Quota) ClientOption {
	return func(c *Client) { c.quota = q }
}

// NewClient creates a client for the configured provider. A missing provider
// or key yields a disabled client, not an error, so callers fall back to
// templates.
func NewClient(ctx context.Context, cfg config.LLMConfig, opts ...ClientOption) (*Client, error) {
	logger := slog.Default().With("component", "llm")

	var (
		c   *Client
		err error
	)
	switch Provider(strings.ToLower(cfg.Provider)) {
	case ProviderGemini:
		c, err = newGeminiProvider(ctx, cfg, logger)
	case ProviderOpenAI:
		c = newOpenAIProvider(cfg, logger)
	case "", ProviderNone:
		logger.Info("no llm provider configured, advisories use templates")
		c = disabled(logger)
	default:
		logger.Warn("unknown llm provider, advisories use templates", "provider", cfg.Provider)
		c = disabled(logger)
	}
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func disabled(logger *slog.Logger) *Client {
	return &Client{provider: ProviderNone, logger: logger}
}

func newGeminiProvider(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.GeminiKey == "" {
		logger.Warn("gemini selected but no api key configured")
		return disabled(logger), nil
	}
	model := cfg.GeminiModel
	if model == "" {
		model = defaultGeminiModel
	}
	gc, err := NewGeminiClient(ctx, cfg.GeminiKey, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	logger.Info("gemini client initialized", "model", model)
	return &Client{provider: ProviderGemini, geminiClient: gc, model: model, logger: logger}, nil
}

func newOpenAIProvider(cfg config.LLMConfig, logger *slog.Logger) *Client {
	if cfg.OpenAIKey == "" {
		logger.Warn("openai selected but no api key configured")
		return disabled(logger)
	}
	return NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel, "")
}

// NewOpenAIClient builds an OpenAI-backed client. baseURL overrides the API
// endpoint for compatible gateways; empty uses the public API.
func NewOpenAIClient(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = defaultOpenAIModel
	}
	ocfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		ocfg.BaseURL = baseURL
	}
	logger := slog.Default().With("component", "llm")
	logger.Info("openai client initialized", "model", model)
	return &Client{
		provider:     ProviderOpenAI,
		openaiClient: openai.NewClientWithConfig(ocfg),
		model:        model,
		logger:       logger,
	}
}

// IsEnabled returns true if a provider is configured and ready
func (c *Client) IsEnabled() bool {
	return c != nil && c.provider != ProviderNone
}

// GetProvider returns the active LLM provider
func (c *Client) GetProvider() Provider {
	return c.provider
}

// Complete sends a prompt to the LLM and returns the response
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !c.IsEnabled() {
		return "", fmt.Errorf("llm client not enabled (check llm.provider and api key)")
	}
	if c.quota != nil {
		if err := c.quota.Take(ctx, estimateTokens(systemPrompt, userPrompt)); err != nil {
			return "", err
		}
	}

	switch c.provider {
	case ProviderGemini:
		return c.geminiClient.Complete(ctx, systemPrompt, userPrompt)
	case ProviderOpenAI:
		return c.completeOpenAI(ctx, systemPrompt, userPrompt)
	default:
		return "", fmt.Errorf("no provider configured")
	}
}

func (c *Client) completeOpenAI(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.openaiClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.2,
		MaxTokens:   maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	text := resp.Choices[0].Message.Content
	c.logger.Debug("openai completion",
		"model", c.model,
		"prompt_length", len(userPrompt),
		"response_length", len(text),
		"tokens_used", resp.Usage.TotalTokens,
	)
	return text, nil
}

// estimateTokens uses the usual four characters per token plus the output cap
func estimateTokens(prompts ...string) int64 {
	n := 0
	for _, p := range prompts {
		n += len(p)
	}
	return int64(n/4 + maxOutputTokens)
}
