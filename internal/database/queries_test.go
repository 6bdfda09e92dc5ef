package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/selector"
)

func createTestScored(id, source string, score int, published time.Time) *models.ScoredDocument {
	return &models.ScoredDocument{
		Document: models.Document{
			ID:          id,
			Title:       "Title " + id,
			Body:        "Body of " + id,
			Source:      source,
			PublishedAt: published,
		},
		Result: models.ScoringResult{
			Score:          score,
			Reasoning:      "reasoning",
			Category:       models.CategoryAIML,
			SubCategories:  []string{"llm"},
			Confidence:     0.7,
			KeyPoints:      []string{"a", "b", "c"},
			Keywords:       []string{"k1", "k2", "k3", "k4"},
			Entities:       models.Entities{Companies: []string{"Acme"}, Technologies: []string{}, People: []string{}},
			ImpactAnalysis: "impact",
		},
		Summaries: models.SummarySet{
			Language:       "Korean",
			Professional:   "p",
			Scientific:     "s",
			ProfessionalEN: "pe",
			ScientificEN:   "se",
			Degraded:       []models.SummaryVariant{models.VariantScientific},
		},
		Metadata: models.ProcessingMetadata{
			ModelsUsed:      []string{"gpt-oss:20b"},
			ScoringProvider: "ollama",
			TotalCost:       0.0012,
			CostBreakdown:   map[string]float64{"scoring": 0.0012},
			ScoredAt:        published.Add(time.Hour),
		},
		QualityScore: 0.61,
	}
}

func TestSaveAndGetDocument(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	doc := models.Document{ID: "doc-1", Title: "First", Body: "Body", Source: "feed", PublishedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, db.SaveDocument(ctx, doc))

	got, err := db.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	assert.True(t, doc.PublishedAt.Equal(got.PublishedAt))

	// Saving again updates in place
	doc.Title = "Renamed"
	require.NoError(t, db.SaveDocument(ctx, doc))
	got, err = db.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	_, err = db.GetDocument(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveScoring_Versions(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	published := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	first := createTestScored("doc-1", "feed", 70, published)
	v, err := db.SaveScoring(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, first.Version)

	second := createTestScored("doc-1", "feed", 82, published)
	v, err = db.SaveScoring(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	latest, err := db.GetLatestScoring(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 82, latest.Result.Score)
	assert.Equal(t, second.Result, latest.Result)
	assert.Equal(t, second.Summaries, latest.Summaries)
	assert.Equal(t, second.Metadata.CostBreakdown, latest.Metadata.CostBreakdown)
	assert.True(t, second.Metadata.ScoredAt.Equal(latest.Metadata.ScoredAt))
	assert.InDelta(t, 0.61, latest.QualityScore, 1e-9)

	_, err = db.GetLatestScoring(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListScoredPool(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)

	for _, sd := range []*models.ScoredDocument{
		createTestScored("a", "alpha", 90, base),
		createTestScored("b", "beta", 55, base.Add(24*time.Hour)),
		createTestScored("c", "gamma", 75, base.Add(48*time.Hour)),
		createTestScored("a", "alpha", 40, base), // rescored, newest version wins
	} {
		_, err := db.SaveScoring(ctx, sd)
		require.NoError(t, err)
	}

	tests := []struct {
		name     string
		filter   PoolFilter
		expected []string
	}{
		{name: "everything", filter: PoolFilter{}, expected: []string{"a", "b", "c"}},
		{name: "since", filter: PoolFilter{Since: base.Add(time.Hour)}, expected: []string{"b", "c"}},
		{name: "sources", filter: PoolFilter{Sources: []string{"alpha", "gamma"}}, expected: []string{"a", "c"}},
		{name: "min score uses latest version", filter: PoolFilter{MinScore: 50}, expected: []string{"b", "c"}},
		{name: "limit", filter: PoolFilter{Limit: 1}, expected: []string{"a"}},
		{name: "nothing matches", filter: PoolFilter{Sources: []string{"nope"}}, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := db.ListScoredPool(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, len(pool))
			for i, sd := range pool {
				ids[i] = sd.Document.ID
			}
			assert.Equal(t, tt.expected, ids)
		})
	}

	pool, err := db.ListScoredPool(ctx, PoolFilter{Sources: []string{"alpha"}})
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, 2, pool[0].Version)
	assert.Equal(t, 40, pool[0].Result.Score)
}

func TestSelectionRuns(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	pool := []selector.ArticleCandidate{
		{ID: "a", Source: "alpha", RawScore: 90},
		{ID: "b", Source: "beta", RawScore: 80},
	}
	_, report := selector.New().SelectTop(ctx, pool, selector.DefaultParams())

	run := &SelectionRun{
		ID:        "run-1",
		CreatedAt: time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC),
		Report:    report,
	}
	require.NoError(t, db.SaveSelectionRun(ctx, run))

	got, err := db.GetSelectionRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, report.Summary, got.Report.Summary)
	assert.Equal(t, report.Selected, got.Report.Selected)
	assert.Equal(t, report.Params, got.Report.Params)

	assert.Error(t, db.SaveSelectionRun(ctx, run), "duplicate IDs are rejected")

	_, err = db.GetSelectionRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
