// Package scorer turns one collected document into a validated score,
// classification and four summaries using LLM providers.
package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zombar/newsranker/internal/metrics"
	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/provider"
)

// Config tunes the prompts sent to providers
type Config struct {
	PrimaryLanguage    string  // Language of the two non-English summaries
	ScoringTemperature float64
	ScoringMaxTokens   int
	SummaryTemperature float64
	SummaryMaxTokens   int
	MaxBodyRunes       int // Article text budget for the scoring prompt
	ExcerptRunes       int // Article text budget for summary prompts
}

// DefaultConfig returns the settings used when none are supplied
func DefaultConfig() Config {
	return Config{
		PrimaryLanguage:    "Korean",
		ScoringTemperature: 0.3,
		ScoringMaxTokens:   1500,
		SummaryTemperature: 0.5,
		SummaryMaxTokens:   800,
		MaxBodyRunes:       6000,
		ExcerptRunes:       2000,
	}
}

// Outcome is everything produced by scoring one document
type Outcome struct {
	Document     models.Document           `json:"document"`
	Result       models.ScoringResult      `json:"result"`
	Summaries    models.SummarySet         `json:"summaries"`
	Metadata     models.ProcessingMetadata `json:"metadata"`
	QualityScore float64                   `json:"quality_score"`
}

// Scored converts the outcome into an unversioned ScoredDocument ready to be
// persisted
func (o *Outcome) Scored() *models.ScoredDocument {
	return &models.ScoredDocument{
		Document:     o.Document,
		Result:       o.Result,
		Summaries:    o.Summaries,
		Metadata:     o.Metadata,
		QualityScore: o.QualityScore,
	}
}

// Scorer is the scoring orchestrator. It is safe for concurrent use.
type Scorer struct {
	scoring   provider.Provider
	summaries provider.Provider
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Scorer
type Option func(*Scorer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scorer) {
		s.metrics = m
	}
}

// New creates a scorer. scoring answers the scoring call and is usually a
// *provider.Chain; summaries answers the four summary calls and receives no
// fallback.
func New(scoring, summaries provider.Provider, cfg Config, opts ...Option) *Scorer {
	if summaries == nil {
		summaries = scoring
	}
	s := &Scorer{
		scoring:   scoring,
		summaries: summaries,
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    otel.Tracer("newsranker/scorer"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score runs the scoring call, then the four summary calls concurrently, and
// returns the combined outcome. Summary failures degrade individual variants
// and never fail the call; cancellation discards everything.
func (s *Scorer) Score(ctx context.Context, doc models.Document) (*Outcome, error) {
	start := s.now()

	ctx, span := s.tracer.Start(ctx, "scorer.score", trace.WithAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.source", doc.Source),
	))
	defer span.End()

	outcome, err := s.score(ctx, doc, start)
	elapsed := s.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveScoring("failed", elapsed)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("scoring.score", outcome.Result.Score),
		attribute.String("scoring.category", string(outcome.Result.Category)),
		attribute.Float64("scoring.cost_usd", outcome.Metadata.TotalCost),
	)
	s.metrics.ObserveScoring("success", elapsed)
	return outcome, nil
}

func (s *Scorer) score(ctx context.Context, doc models.Document, start time.Time) (*Outcome, error) {
	if strings.TrimSpace(doc.Title) == "" && strings.TrimSpace(doc.Body) == "" {
		return nil, &models.ValidationError{Field: "document", Reason: "title and body are both empty"}
	}

	body := PlainText(doc.Body, s.cfg.MaxBodyRunes)

	result, scoringResp, err := s.runScoring(ctx, doc, body)
	if err != nil {
		return nil, fmt.Errorf("score document %s: %w", doc.ID, err)
	}

	summaries, summaryMeta, err := s.generateSummaries(ctx, doc, result, truncateRunes(body, s.cfg.ExcerptRunes))
	if err != nil {
		return nil, fmt.Errorf("summarize document %s: %w", doc.ID, err)
	}

	costs := map[string]float64{models.CostKeyScoring: scoringResp.Cost}
	modelsUsed := []string{scoringResp.Model}
	total := scoringResp.Cost
	for i, v := range models.SummaryVariants {
		meta := summaryMeta[i]
		costs[models.SummaryCostKey(v)] = meta.cost
		total += meta.cost
		if meta.model != "" && !contains(modelsUsed, meta.model) {
			modelsUsed = append(modelsUsed, meta.model)
		}
	}

	for op, cost := range costs {
		s.metrics.AddCost(op, cost)
	}

	finished := s.now()
	outcome := &Outcome{
		Document:  doc,
		Result:    result,
		Summaries: summaries,
		Metadata: models.ProcessingMetadata{
			ModelsUsed:        modelsUsed,
			ScoringProvider:   scoringResp.Provider,
			ProcessingSeconds: finished.Sub(start).Seconds(),
			TotalCost:         total,
			CostBreakdown:     costs,
			ScoredAt:          finished,
		},
		QualityScore: models.QualityScore(result),
	}

	s.logger.Info("document scored",
		"document_id", doc.ID,
		"source", doc.Source,
		"score", result.Score,
		"category", result.Category,
		"provider", scoringResp.Provider,
		"model", scoringResp.Model,
		"degraded_summaries", len(summaries.Degraded),
		"cost_usd", total,
		"seconds", outcome.Metadata.ProcessingSeconds,
	)
	return outcome, nil
}

// runScoring performs the scoring call and fail-closed parsing
func (s *Scorer) runScoring(ctx context.Context, doc models.Document, body string) (models.ScoringResult, *provider.Response, error) {
	ctx, span := s.tracer.Start(ctx, "scorer.scoring_call")
	defer span.End()

	resp, err := s.scoring.Complete(ctx, provider.Request{
		SystemPrompt: scoringSystemPrompt(),
		UserPrompt:   scoringUserPrompt(doc.Title, body),
		Temperature:  s.cfg.ScoringTemperature,
		MaxTokens:    s.cfg.ScoringMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return models.ScoringResult{}, nil, err
	}
	span.SetAttributes(
		attribute.String("llm.provider", resp.Provider),
		attribute.String("llm.model", resp.Model),
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
	)

	result, err := ParseScoringResponse(resp.Text)
	if err != nil {
		span.RecordError(err)
		return models.ScoringResult{}, nil, err
	}
	return result, resp, nil
}

// ParseScoringResponse strips any code fence from a scoring response and
// decodes it. Empty or non-JSON text yields *ResponseFormatError; schema
// violations yield *models.ValidationError.
func ParseScoringResponse(text string) (models.ScoringResult, error) {
	body := provider.StripCodeFence(text)
	if body == "" {
		return models.ScoringResult{}, &ResponseFormatError{Operation: "scoring", Raw: text, Err: ErrEmptyResponse}
	}

	result, err := models.ParseScoringResult([]byte(body))
	if err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			return models.ScoringResult{}, err
		}
		return models.ScoringResult{}, &ResponseFormatError{Operation: "scoring", Raw: text, Err: err}
	}
	return result, nil
}

type summaryMeta struct {
	cost  float64
	model string
}

// generateSummaries fans out one call per variant and waits for all of them.
// Only cancellation is returned as an error.
func (s *Scorer) generateSummaries(ctx context.Context, doc models.Document, result models.ScoringResult, excerpt string) (models.SummarySet, []summaryMeta, error) {
	texts := make([]string, len(models.SummaryVariants))
	degraded := make([]bool, len(models.SummaryVariants))
	metas := make([]summaryMeta, len(models.SummaryVariants))

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range models.SummaryVariants {
		g.Go(func() error {
			text, ok, meta, err := s.generateSummary(gctx, doc, result, excerpt, variant)
			if err != nil {
				return err
			}
			texts[i], degraded[i], metas[i] = text, !ok, meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.SummarySet{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return models.SummarySet{}, nil, err
	}

	set := models.SummarySet{Language: s.cfg.PrimaryLanguage}
	for i, v := range models.SummaryVariants {
		set.Set(v, texts[i])
		if degraded[i] {
			set.Degraded = append(set.Degraded, v)
			s.metrics.IncSummaryDegraded(string(v))
		}
	}
	return set, metas, nil
}

// generateSummary returns the text for one variant and whether it is
// well-formed. Provider and parse failures produce degraded text; an error is
// returned only when ctx was cancelled.
func (s *Scorer) generateSummary(ctx context.Context, doc models.Document, result models.ScoringResult, excerpt string, variant models.SummaryVariant) (string, bool, summaryMeta, error) {
	ctx, span := s.tracer.Start(ctx, "scorer.summary", trace.WithAttributes(
		attribute.String("summary.variant", string(variant)),
	))
	defer span.End()

	resp, err := s.summaries.Complete(ctx, provider.Request{
		SystemPrompt: summarySystemPrompt(variant, s.cfg.PrimaryLanguage),
		UserPrompt:   summaryUserPrompt(doc, result, excerpt),
		Temperature:  s.cfg.SummaryTemperature,
		MaxTokens:    s.cfg.SummaryMaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", false, summaryMeta{}, ctx.Err()
		}
		span.RecordError(err)
		s.logger.Warn("summary generation failed",
			"document_id", doc.ID,
			"variant", variant,
			"error", err,
		)
		return models.SummaryFailedPlaceholder, false, summaryMeta{}, nil
	}

	meta := summaryMeta{cost: resp.Cost, model: resp.Model}
	text, ok := parseSummary(resp.Text)
	if !ok {
		s.logger.Warn("summary response malformed, using degraded text",
			"document_id", doc.ID,
			"variant", variant,
			"model", resp.Model,
		)
	}
	return text, ok, meta, nil
}

// parseSummary extracts {"summary": "..."} from a response. When the JSON is
// missing or malformed the trimmed raw output is used instead; when that is
// empty too the failure placeholder is returned. Output is always cut to
// MaxSummaryLength characters.
func parseSummary(raw string) (string, bool) {
	body := provider.StripCodeFence(raw)

	var payload struct {
		Summary *string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil || payload.Summary == nil {
		return degradedText(body), false
	}

	summary := strings.TrimSpace(*payload.Summary)
	n := utf8.RuneCountInString(summary)
	if n == 0 {
		return models.SummaryFailedPlaceholder, false
	}
	if n < models.MinSummaryLength || n > models.MaxSummaryLength {
		return truncateRunes(summary, models.MaxSummaryLength), false
	}
	return summary, true
}

func degradedText(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return models.SummaryFailedPlaceholder
	}
	return truncateRunes(text, models.MaxSummaryLength)
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
