package provider

import (
	"context"
	"sync"
)

// Mock is an in-process provider for local runs and tests. It never calls a
// real backend.
type Mock struct {
	ProviderName string
	ModelName    string
	Pricing      Pricing
	// Respond produces the text for a request; an error is returned as-is.
	Respond func(req Request) (string, error)

	mu    sync.Mutex
	calls []Request
}

var _ Provider = (*Mock)(nil)

// Name returns the provider name
func (m *Mock) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Model returns the model name
func (m *Mock) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Complete records the request and answers it through Respond. Token usage
// is approximated as one token per four characters.
func (m *Mock) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := ""
	if m.Respond != nil {
		var err error
		text, err = m.Respond(req)
		if err != nil {
			return nil, err
		}
	}

	usage := Usage{
		InputTokens:  (len(req.SystemPrompt) + len(req.UserPrompt)) / 4,
		OutputTokens: len(text) / 4,
	}
	return &Response{
		Text:     text,
		Provider: m.Name(),
		Model:    m.Model(),
		Usage:    usage,
		Cost:     m.Pricing.Cost(usage),
	}, nil
}

// Calls returns a copy of every request received so far
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
