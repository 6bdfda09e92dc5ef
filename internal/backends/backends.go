// Package backends builds the provider chain described by the configuration.
package backends

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombar/newsranker/internal/config"
	"github.com/zombar/newsranker/internal/metrics"
	"github.com/zombar/newsranker/internal/ollama"
	"github.com/zombar/newsranker/internal/openai"
	"github.com/zombar/newsranker/internal/provider"
)

// Build creates one provider per entry, in order, and joins them into a
// fallback chain. Fallbacks are logged and counted on m, which may be nil.
func Build(cfgs []config.ProviderConfig, logger *slog.Logger, m *metrics.Metrics) (*provider.Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}

	providers := make([]provider.Provider, 0, len(cfgs))
	for i, pc := range cfgs {
		p, err := build(pc, logger)
		if err != nil {
			return nil, fmt.Errorf("providers[%d] (%s): %w", i, pc.Type, err)
		}
		logger.Info("provider configured", "position", i, "provider", p.Name(), "model", p.Model())
		providers = append(providers, p)
	}

	return provider.NewChain(providers,
		provider.WithLogger(logger),
		provider.WithFallbackHook(func(from, to string, _ error) {
			m.IncFallback(from, to)
		}),
	)
}

func build(pc config.ProviderConfig, logger *slog.Logger) (provider.Provider, error) {
	switch pc.Type {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithPricing(pc.Pricing), ollama.WithLogger(logger)}
		if pc.Timeout > 0 {
			opts = append(opts, ollama.WithTimeout(pc.Timeout))
		}
		return ollama.New(pc.URL, pc.Model, opts...)
	case config.ProviderOpenAI:
		return openai.New(openai.Settings{
			APIKey:  pc.ResolvedAPIKey(),
			Model:   pc.Model,
			BaseURL: pc.URL,
			Timeout: pc.Timeout,
			Pricing: pc.Pricing,
		}, logger)
	case config.ProviderMock:
		return NewCannedMock(pc.Model), nil
	}
	return nil, fmt.Errorf("unknown provider type %q", pc.Type)
}

const cannedScoring = `{
  "score": 72,
  "score_reasoning": "Canned assessment produced without a model.",
  "category": "software_engineering",
  "sub_categories": [],
  "confidence": 0.5,
  "key_points": ["Offline run", "No model was called", "Scores are placeholders"],
  "keywords": ["offline", "placeholder", "mock", "dry-run"],
  "entities": {"companies": [], "technologies": [], "people": []},
  "impact_analysis": "None; this output exists to exercise the pipeline."
}`

// NewCannedMock returns a mock provider that answers every scoring and
// summary prompt with fixed, valid output. It backs dry runs.
func NewCannedMock(model string) *provider.Mock {
	summary := `{"summary": "` + strings.Repeat("Placeholder summary produced by the offline provider. ", 3) + `"}`
	return &provider.Mock{
		ProviderName: "mock",
		ModelName:    model,
		Respond: func(req provider.Request) (string, error) {
			if strings.Contains(req.SystemPrompt, `{"summary"`) {
				return summary, nil
			}
			return cannedScoring, nil
		},
	}
}
