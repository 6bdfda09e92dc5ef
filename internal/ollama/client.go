package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/zombar/newsranker/internal/provider"
)

const (
	DefaultURL     = "http://localhost:11434"
	DefaultModel   = "gpt-oss:20b"
	DefaultTimeout = 360 * time.Second
	ProviderName   = "ollama"
)

// Client wraps the Ollama API client as a provider.Provider
type Client struct {
	client  *api.Client
	model   string
	timeout time.Duration
	pricing provider.Pricing
	logger  *slog.Logger
}

var _ provider.Provider = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithTimeout overrides the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPricing sets the token prices used for cost accounting
func WithPricing(p provider.Pricing) Option {
	return func(c *Client) {
		c.pricing = p
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a new Ollama client
func New(ollamaURL, model string, opts ...Option) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}

	baseURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	c := &Client{
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   model,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return ProviderName
}

// Model returns the configured model
func (c *Client) Model() string {
	return c.model
}

// Complete sends a non-streaming generate request with the system prompt
// attached and returns the full response text with token usage.
func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	c.logger.Debug("ollama request", "model", c.model, "timeout", c.timeout)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	options := map[string]any{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	genReq := &api.GenerateRequest{
		Model:   c.model,
		System:  req.SystemPrompt,
		Prompt:  req.UserPrompt,
		Stream:  new(bool), // false
		Options: options,
	}

	var (
		text  strings.Builder
		usage provider.Usage
	)
	err := c.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		if resp.Done {
			usage.InputTokens = resp.PromptEvalCount
			usage.OutputTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("ollama generation failed", "model", c.model, "error", err)
		return nil, c.wrapError(err)
	}

	result := strings.TrimSpace(text.String())
	c.logger.Debug("ollama response received",
		"model", c.model,
		"chars", len(result),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)

	return &provider.Response{
		Text:     result,
		Provider: ProviderName,
		Model:    c.model,
		Usage:    usage,
		Cost:     c.pricing.Cost(usage),
	}, nil
}

// wrapError classifies a generate failure. Cancellation of the caller's
// context is passed through untouched.
func (c *Client) wrapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	pErr := &provider.ProviderError{
		Provider: ProviderName,
		Model:    c.model,
		Err:      err,
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		pErr.StatusCode = statusErr.StatusCode
		pErr.Kind = provider.KindForStatus(statusErr.StatusCode)
		if pErr.Kind == provider.KindOther {
			pErr.Kind = provider.KindForTransport(err)
		}
		return pErr
	}

	pErr.Kind = provider.KindForTransport(err)
	return pErr
}
