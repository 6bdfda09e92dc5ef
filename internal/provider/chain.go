package provider

import (
	"context"
	"errors"
	"log/slog"
)

// Chain is an ordered list of providers sharing one interface. Complete
// tries each in turn and moves on only when a provider fails with a
// connectivity, auth or rate-limit error.
type Chain struct {
	providers  []Provider
	logger     *slog.Logger
	onFallback func(from, to string, err error)
}

var _ Provider = (*Chain)(nil)

// ChainOption configures a Chain
type ChainOption func(*Chain)

// WithLogger sets the logger used for fallback warnings
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithFallbackHook registers a callback invoked each time the chain switches
// from one provider to the next.
func WithFallbackHook(fn func(from, to string, err error)) ChainOption {
	return func(c *Chain) {
		c.onFallback = fn
	}
}

// NewChain creates a chain over providers in priority order
func NewChain(providers []Provider, opts ...ChainOption) (*Chain, error) {
	if len(providers) == 0 {
		return nil, errors.New("provider chain requires at least one provider")
	}
	c := &Chain{
		providers: append([]Provider(nil), providers...),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the name of the primary provider
func (c *Chain) Name() string {
	return c.providers[0].Name()
}

// Model returns the model of the primary provider
func (c *Chain) Model() string {
	return c.providers[0].Model()
}

// Primary returns the first provider of the chain
func (c *Chain) Primary() Provider {
	return c.providers[0]
}

// Len returns the number of providers in the chain
func (c *Chain) Len() int {
	return len(c.providers)
}

// Names lists the provider names in fallback order
func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Complete runs req against each provider until one succeeds. With a single
// provider its error is returned unchanged; otherwise a *ChainError naming
// every provider tried is returned.
func (c *Chain) Complete(ctx context.Context, req Request) (*Response, error) {
	var (
		names []string
		errs  []error
	)

	for i, p := range c.providers {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		names = append(names, p.Name())
		errs = append(errs, err)

		if ctx.Err() != nil || !IsFallbackable(err) || i == len(c.providers)-1 {
			break
		}

		next := c.providers[i+1]
		c.logger.Warn("provider failed, falling back",
			"provider", p.Name(),
			"model", p.Model(),
			"fallback_provider", next.Name(),
			"fallback_model", next.Model(),
			"error", err,
		)
		if c.onFallback != nil {
			c.onFallback(p.Name(), next.Name(), err)
		}
	}

	if len(errs) == 1 {
		return nil, errs[0]
	}
	return nil, &ChainError{Providers: names, Errs: errs}
}
