// Package provider defines the uniform chat-completion capability every LLM
// backend implements, together with its error kinds and an ordered fallback
// chain over several backends.
package provider

import (
	"context"
	"strings"
)

// Request is a single chat-completion call
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Usage reports token counts for one call
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the text returned by a provider plus accounting data
type Response struct {
	Text     string
	Provider string
	Model    string
	Usage    Usage
	Cost     float64 // USD, computed from the provider's Pricing
}

// Provider is implemented once per LLM backend. Implementations must be safe
// for concurrent use.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Pricing holds per-million-token prices in USD
type Pricing struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// Cost returns input_tokens*price_in + output_tokens*price_out
func (p Pricing) Cost(u Usage) float64 {
	priceIn := p.InputPerMillion / 1_000_000
	priceOut := p.OutputPerMillion / 1_000_000
	return float64(u.InputTokens)*priceIn + float64(u.OutputTokens)*priceOut
}

// StripCodeFence removes a surrounding triple-backtick fence (optionally
// tagged, e.g. ```json) from a model response.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop the language tag on the opening line
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
