// Package openai adapts OpenAI-compatible chat completion APIs to the
// provider interface.
package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zombar/newsranker/internal/provider"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 120 * time.Second
	ProviderName   = "openai"
)

// Settings is the configuration needed to reach an OpenAI-compatible API
type Settings struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Pricing provider.Pricing
}

// Client implements provider.Provider on the official openai-go SDK
type Client struct {
	client  sdk.Client
	model   string
	pricing provider.Pricing
	logger  *slog.Logger
}

var _ provider.Provider = (*Client)(nil)

// New builds a client. The SDK's own retry loop is disabled; fallback between
// providers is handled by provider.Chain.
func New(cfg Settings, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}

	return &Client{
		client:  sdk.NewClient(opts...),
		model:   cfg.Model,
		pricing: cfg.Pricing,
		logger:  logger,
	}, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return ProviderName
}

// Model returns the configured model
func (c *Client) Model() string {
	return c.model
}

// Complete sends a system + user chat completion
func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(req.SystemPrompt),
			sdk.UserMessage(req.UserPrompt),
		},
		Temperature: sdk.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.Warn("openai completion failed", "model", c.model, "error", err)
		return nil, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &provider.ProviderError{
			Provider: ProviderName,
			Model:    c.model,
			Kind:     provider.KindOther,
			Err:      errors.New("empty choices"),
		}
	}

	usage := provider.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}

	return &provider.Response{
		Text:     strings.TrimSpace(resp.Choices[0].Message.Content),
		Provider: ProviderName,
		Model:    model,
		Usage:    usage,
		Cost:     c.pricing.Cost(usage),
	}, nil
}

func (c *Client) wrapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	pErr := &provider.ProviderError{
		Provider: ProviderName,
		Model:    c.model,
		Err:      err,
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pErr.StatusCode = apiErr.StatusCode
		pErr.Kind = provider.KindForStatus(apiErr.StatusCode)
		return pErr
	}

	pErr.Kind = provider.KindForTransport(err)
	return pErr
}
