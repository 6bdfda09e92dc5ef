// Package selector picks a ranked top-K list from a pool of scored documents,
// normalizing scores per source and penalizing repeated sources.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombar/newsranker/internal/metrics"
	"github.com/zombar/newsranker/internal/models"
)

// ArticleCandidate is the selection-time view of a scored document. It is
// created fresh for every run and never persisted.
type ArticleCandidate struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Source          string          `json:"source"`
	Category        models.Category `json:"category,omitempty"`
	PublishedAt     time.Time       `json:"published_at,omitempty"`
	RawScore        float64         `json:"raw_score"`
	NormalizedScore float64         `json:"normalized_score"`
	FinalScore      float64         `json:"final_score"`
	SourceRank      int             `json:"source_rank"` // 1-based rank by normalized score within its source
	DiversityFactor float64         `json:"diversity_factor"`
	SelectionReason string          `json:"selection_reason,omitempty"`

	Scored *models.ScoredDocument `json:"-"`
}

// NewCandidate builds a candidate from a persisted scoring
func NewCandidate(sd *models.ScoredDocument) ArticleCandidate {
	return ArticleCandidate{
		ID:          sd.Document.ID,
		Title:       sd.Document.Title,
		Source:      sd.Document.Source,
		Category:    sd.Result.Category,
		PublishedAt: sd.Document.PublishedAt,
		RawScore:    float64(sd.Result.Score),
		Scored:      sd,
	}
}

// Params controls one selection run
type Params struct {
	Limit              int     `json:"limit" yaml:"limit"`
	MinRawScore        float64 `json:"min_raw_score" yaml:"min_raw_score"`
	DiversityDecay     float64 `json:"diversity_decay" yaml:"diversity_decay"`
	MinNormalizedScore float64 `json:"min_normalized_score" yaml:"min_normalized_score"`
	MaxPerSource       int     `json:"max_per_source" yaml:"max_per_source"`
	MinSources         int     `json:"min_sources" yaml:"min_sources"` // Unique sources needed for diversity_achieved
}

// DefaultParams returns the standard selection parameters
func DefaultParams() Params {
	return Params{
		Limit:              10,
		MinRawScore:        60,
		DiversityDecay:     0.85,
		MinNormalizedScore: -1,
		MaxPerSource:       4,
		MinSources:         3,
	}
}

// Validate checks that params describe a meaningful run
func (p Params) Validate() error {
	var errs []error
	if p.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must not be negative, got %d", p.Limit))
	}
	if p.DiversityDecay <= 0 || p.DiversityDecay > 1 {
		errs = append(errs, fmt.Errorf("diversity_decay must be in (0, 1], got %v", p.DiversityDecay))
	}
	if p.MaxPerSource < 1 {
		errs = append(errs, fmt.Errorf("max_per_source must be at least 1, got %d", p.MaxPerSource))
	}
	if p.MinSources < 0 {
		errs = append(errs, fmt.Errorf("min_sources must not be negative, got %d", p.MinSources))
	}
	return errors.Join(errs...)
}

// Selector runs selections. It holds no per-run state and is safe for
// concurrent use.
type Selector struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Selector
type Option func(*Selector)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Selector) {
		s.metrics = m
	}
}

// WithClock overrides the clock used for report timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		s.now = now
	}
}

// New creates a selector
func New(opts ...Option) *Selector {
	s := &Selector{
		logger: slog.Default(),
		tracer: otel.Tracer("newsranker/selector"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectTop picks up to p.Limit candidates. The input slice is not modified.
// Ties are broken by candidate ID so the result is deterministic for a given
// pool and params. Empty or sparse pools yield a shorter list, never an error.
func (s *Selector) SelectTop(ctx context.Context, candidates []ArticleCandidate, p Params) ([]ArticleCandidate, *Report) {
	_, span := s.tracer.Start(ctx, "selector.select_top", trace.WithAttributes(
		attribute.Int("selection.candidates", len(candidates)),
		attribute.Int("selection.limit", p.Limit),
		attribute.Float64("selection.diversity_decay", p.DiversityDecay),
	))
	defer span.End()

	r := &run{params: p}
	r.filterRaw(candidates)
	r.stats = ComputeSourceStats(r.pool)
	r.normalize()
	r.greedy()

	report := buildReport(s.now(), p, candidates, r)

	span.SetAttributes(
		attribute.Int("selection.selected", len(r.selected)),
		attribute.Bool("selection.diversity_achieved", report.Summary.DiversityAchieved),
	)
	s.metrics.ObserveSelection(len(r.selected), report.Summary.DiversityAchieved)

	s.logger.Info("selection completed",
		"candidates", len(candidates),
		"eligible", len(r.eligible),
		"selected", len(r.selected),
		"selected_sources", report.Summary.SelectedSources,
		"diversity_achieved", report.Summary.DiversityAchieved,
	)
	if !report.Summary.DiversityAchieved {
		s.logger.Warn("selection below source diversity target",
			"selected_sources", report.Summary.SelectedSources,
			"min_sources", p.MinSources,
		)
	}
	return r.selected, report
}

// run carries the intermediate state of one selection
type run struct {
	params         Params
	pool           []ArticleCandidate // Passed min_raw_score
	stats          map[string]SourceStats
	eligible       []ArticleCandidate // Passed min_normalized_score
	selected       []ArticleCandidate
	discardedByCap int
}

func (r *run) filterRaw(candidates []ArticleCandidate) {
	r.pool = make([]ArticleCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.RawScore >= r.params.MinRawScore {
			r.pool = append(r.pool, c)
		}
	}
}

func (r *run) normalize() {
	for i := range r.pool {
		st := r.stats[r.pool[i].Source]
		r.pool[i].NormalizedScore = (r.pool[i].RawScore - st.Mean) / st.StdDev
	}

	r.eligible = make([]ArticleCandidate, 0, len(r.pool))
	for _, c := range r.pool {
		if c.NormalizedScore >= r.params.MinNormalizedScore {
			r.eligible = append(r.eligible, c)
		}
	}

	sort.Slice(r.eligible, func(i, j int) bool {
		a, b := r.eligible[i], r.eligible[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.NormalizedScore != b.NormalizedScore {
			return a.NormalizedScore > b.NormalizedScore
		}
		return a.ID < b.ID
	})
	rank := 0
	for i := range r.eligible {
		if i == 0 || r.eligible[i].Source != r.eligible[i-1].Source {
			rank = 0
		}
		rank++
		r.eligible[i].SourceRank = rank
	}
}

func (r *run) greedy() {
	remaining := append([]ArticleCandidate(nil), r.eligible...)
	counts := make(map[string]int)
	r.selected = make([]ArticleCandidate, 0, min(r.params.Limit, len(remaining)))

	for len(r.selected) < r.params.Limit && len(remaining) > 0 {
		best := -1
		for i := range remaining {
			c := &remaining[i]
			c.DiversityFactor = math.Pow(r.params.DiversityDecay, float64(counts[c.Source]))
			c.FinalScore = penalize(c.NormalizedScore, c.DiversityFactor)
			if best < 0 || better(c, &remaining[best]) {
				best = i
			}
		}

		pick := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)

		if counts[pick.Source] >= r.params.MaxPerSource {
			r.discardedByCap++
			continue
		}
		counts[pick.Source]++

		pick.SelectionReason = fmt.Sprintf(
			"rank %d: raw %.1f, normalized %.3f (source rank %d of %s), diversity factor %.3f, final %.3f",
			len(r.selected)+1, pick.RawScore, pick.NormalizedScore, pick.SourceRank, pick.Source,
			pick.DiversityFactor, pick.FinalScore,
		)
		r.selected = append(r.selected, pick)
	}
}

// penalize applies the diversity factor so that a repeated source always
// loses ground: positive scores shrink toward zero, negative scores move
// further below it.
func penalize(normalized, factor float64) float64 {
	if normalized < 0 {
		return normalized / factor
	}
	return normalized * factor
}

func better(a, b *ArticleCandidate) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	return a.ID < b.ID
}
