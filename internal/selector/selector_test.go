package selector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zombar/newsranker/internal/metrics"
	"github.com/zombar/newsranker/internal/models"
)

func candidates(source, prefix string, scores ...float64) []ArticleCandidate {
	out := make([]ArticleCandidate, len(scores))
	for i, s := range scores {
		out[i] = ArticleCandidate{
			ID:       fmt.Sprintf("%s%02d", prefix, i),
			Title:    fmt.Sprintf("%s article %d", source, i),
			Source:   source,
			RawScore: s,
		}
	}
	return out
}

func scenarioPool() []ArticleCandidate {
	pool := candidates("X", "x", 90, 88, 85, 83, 80, 78, 75, 73, 70, 68, 65, 60)
	return append(pool, candidates("Y", "y", 65, 60, 55)...)
}

func ids(cs []ArticleCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func perSource(cs []ArticleCandidate) map[string]int {
	counts := map[string]int{}
	for _, c := range cs {
		counts[c.Source]++
	}
	return counts
}

func TestComputeSourceStats(t *testing.T) {
	stats := ComputeSourceStats(append(
		candidates("Y", "y", 65, 60),
		append(candidates("solo", "s", 42), candidates("flat", "f", 70, 70, 70)...)...,
	))
	require.Len(t, stats, 3)

	y := stats["Y"]
	assert.Equal(t, 2, y.Count)
	assert.InDelta(t, 62.5, y.Mean, 1e-9)
	assert.InDelta(t, 3.5355339, y.StdDev, 1e-6)
	assert.Equal(t, 60.0, y.Min)
	assert.Equal(t, 65.0, y.Max)

	solo := stats["solo"]
	assert.Equal(t, 1, solo.Count)
	assert.Equal(t, 42.0, solo.Mean)
	assert.Equal(t, MinStdDev, solo.StdDev)

	flat := stats["flat"]
	assert.Equal(t, MinStdDev, flat.StdDev, "zero variance is floored")
}

func TestSelectTop_ScenarioA(t *testing.T) {
	s := New()
	p := DefaultParams()
	p.Limit = 10

	selected, report := s.SelectTop(context.Background(), scenarioPool(), p)

	assert.Equal(t, []string{"x00", "x01", "y00", "x02", "x03", "y01"}, ids(selected))
	assert.Equal(t, map[string]int{"X": 4, "Y": 2}, perSource(selected))

	assert.Equal(t, 15, report.Summary.TotalCandidates)
	assert.Equal(t, 14, report.Summary.AboveMinRaw, "y02 at 55 is below min_raw_score")
	assert.Equal(t, 12, report.Summary.Eligible, "x10 and x11 are more than one deviation below X's mean")
	assert.Equal(t, 6, report.Summary.Selected)
	assert.Equal(t, 6, report.Summary.DiscardedByCap)
	assert.Equal(t, 2, report.Summary.PoolSources)
	assert.Equal(t, 2, report.Summary.EligibleSources)
	assert.Equal(t, 2, report.Summary.SelectedSources)
	assert.False(t, report.Summary.DiversityAchieved)

	// y01 sits below its source mean, so the repeat penalty pushes it further down
	last := selected[5]
	assert.Equal(t, "y01", last.ID)
	assert.Less(t, last.NormalizedScore, 0.0)
	assert.InDelta(t, last.NormalizedScore/0.85, last.FinalScore, 1e-9)

	// X's top four by normalized score
	for _, c := range selected[:2] {
		assert.Equal(t, "X", c.Source)
	}
	assert.Equal(t, 1, selected[0].SourceRank)
	assert.Equal(t, 1.0, selected[0].DiversityFactor)
	assert.InDelta(t, 0.85, selected[1].DiversityFactor, 1e-9)
	assert.InDelta(t, selected[1].NormalizedScore*0.85, selected[1].FinalScore, 1e-9)
}

func TestSelectTop_ReportContents(t *testing.T) {
	s := New(WithClock(func() time.Time { return time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC) }))

	selected, report := s.SelectTop(context.Background(), scenarioPool(), DefaultParams())

	assert.Equal(t, time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC), report.GeneratedAt)
	assert.Equal(t, DefaultParams(), report.Params)
	assert.Equal(t, map[string]int{"X": 4, "Y": 2}, report.SourceDistribution)

	require.Len(t, report.SourceStats, 2)
	assert.Equal(t, "X", report.SourceStats[0].Source)
	assert.Equal(t, 12, report.SourceStats[0].Count)
	assert.InDelta(t, 76.25, report.SourceStats[0].Mean, 1e-9)
	assert.Equal(t, "Y", report.SourceStats[1].Source)

	require.Len(t, report.Selected, len(selected))
	for i, item := range report.Selected {
		assert.Equal(t, i+1, item.Rank)
		assert.Equal(t, selected[i].ID, item.ID)
		assert.Contains(t, item.SelectionReason, fmt.Sprintf("rank %d", i+1))
		assert.Contains(t, item.SelectionReason, fmt.Sprintf("raw %.1f", item.RawScore))
		assert.Contains(t, item.SelectionReason, fmt.Sprintf("final %.3f", item.FinalScore))
	}

	assert.Equal(t, 60.0, report.Quality.RawMin)
	assert.Equal(t, 90.0, report.Quality.RawMax)
	assert.InDelta(t, (90.0+88+65+85+83+60)/6, report.Quality.RawMean, 1e-9)
	assert.InDelta(t, -0.7071068, report.Quality.NormalizedMin, 1e-6)
	assert.Greater(t, report.Quality.NormalizedMax, 1.4)
}

func TestSelectTop_PerSourceCap(t *testing.T) {
	pool := candidates("only", "o", 79, 78, 77, 76, 75, 74, 73, 72, 71, 70)
	p := DefaultParams()
	p.DiversityDecay = 1

	selected, report := New().SelectTop(context.Background(), pool, p)

	assert.Equal(t, []string{"o00", "o01", "o02", "o03"}, ids(selected))
	assert.Equal(t, report.Summary.Eligible-4, report.Summary.DiscardedByCap)
	assert.False(t, report.Summary.DiversityAchieved)
}

func TestSelectTop_DiversityAchieved(t *testing.T) {
	pool := candidates("A", "a", 95, 92, 90, 88, 86, 70, 65)
	pool = append(pool, candidates("B", "b", 80, 75, 72, 66)...)
	pool = append(pool, candidates("C", "c", 78, 62)...)

	p := DefaultParams()
	p.Limit = 3

	selected, report := New().SelectTop(context.Background(), pool, p)
	require.Len(t, selected, 3)
	assert.Len(t, perSource(selected), 3)
	assert.True(t, report.Summary.DiversityAchieved)
}

func TestSelectTop_Monotonicity(t *testing.T) {
	pool := candidates("A", "a", 95, 92, 90, 88, 86, 70, 65)
	pool = append(pool, candidates("B", "b", 80, 75, 72, 66)...)
	pool = append(pool, candidates("C", "c", 78, 62)...)

	maxShare := func(decay float64) int {
		p := DefaultParams()
		p.Limit = 6
		p.DiversityDecay = decay
		selected, _ := New().SelectTop(context.Background(), pool, p)
		most := 0
		for _, n := range perSource(selected) {
			most = max(most, n)
		}
		return most
	}

	prev := maxShare(1.0)
	for _, decay := range []float64{0.95, 0.85, 0.7, 0.5, 0.3, 0.1} {
		got := maxShare(decay)
		assert.LessOrEqual(t, got, prev, "decay %v", decay)
		prev = got
	}
	assert.Equal(t, 4, maxShare(1.0))
	assert.Equal(t, 3, maxShare(0.5))
}

func TestSelectTop_MonotonicOverRandomPools(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	decays := []float64{1.0, 0.95, 0.9, 0.85, 0.7, 0.5, 0.3, 0.1}

	for iter := 0; iter < 2000; iter++ {
		var pool []ArticleCandidate
		sources := 2 + rng.IntN(3)
		for s := 0; s < sources; s++ {
			n := 1 + rng.IntN(8)
			for i := 0; i < n; i++ {
				pool = append(pool, ArticleCandidate{
					ID:       fmt.Sprintf("s%d-%02d", s, i),
					Source:   fmt.Sprintf("S%d", s),
					RawScore: float64(60 + rng.IntN(40)),
				})
			}
		}
		limit := 2 + rng.IntN(6)

		prev := -1
		for _, decay := range decays {
			p := DefaultParams()
			p.Limit = limit
			p.DiversityDecay = decay
			selected, _ := New().SelectTop(context.Background(), pool, p)

			most := 0
			for _, n := range perSource(selected) {
				most = max(most, n)
			}
			if prev >= 0 && most > prev {
				t.Fatalf("pool %d, limit %d: largest source share rose from %d to %d at decay %v (%v)",
					iter, limit, prev, most, decay, perSource(selected))
			}
			prev = most
		}
	}
}

func TestPenalize(t *testing.T) {
	tests := []struct {
		name       string
		normalized float64
		factor     float64
		expected   float64
	}{
		{name: "no repeat", normalized: 0.8, factor: 1, expected: 0.8},
		{name: "positive shrinks", normalized: 1.0, factor: 0.5, expected: 0.5},
		{name: "negative sinks", normalized: -0.5, factor: 0.5, expected: -1.0},
		{name: "zero stays", normalized: 0, factor: 0.25, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := penalize(tt.normalized, tt.factor)
			assert.InDelta(t, tt.expected, got, 1e-12)
			assert.LessOrEqual(t, got, tt.normalized)
		})
	}
}

func TestSelectTop_Deterministic(t *testing.T) {
	pool := []ArticleCandidate{
		{ID: "c1", Source: "C", RawScore: 65},
		{ID: "a2", Source: "A", RawScore: 80},
		{ID: "b1", Source: "B", RawScore: 70},
		{ID: "a1", Source: "A", RawScore: 80},
	}
	reversed := []ArticleCandidate{pool[3], pool[2], pool[1], pool[0]}

	p := DefaultParams()
	p.Limit = 2

	first, _ := New().SelectTop(context.Background(), pool, p)
	second, _ := New().SelectTop(context.Background(), reversed, p)

	// Every candidate normalizes to 0, so ID order decides
	assert.Equal(t, []string{"a1", "a2"}, ids(first))
	assert.Equal(t, ids(first), ids(second))
}

func TestSelectTop_DoesNotMutateInput(t *testing.T) {
	pool := scenarioPool()
	before := append([]ArticleCandidate(nil), pool...)

	New().SelectTop(context.Background(), pool, DefaultParams())

	assert.Equal(t, before, pool)
}

func TestSelectTop_SingleSampleSourceNormalizesToZero(t *testing.T) {
	pool := append(candidates("big", "b", 90, 80, 70), candidates("solo", "s", 61)...)

	selected, report := New().SelectTop(context.Background(), pool, DefaultParams())

	var solo *ArticleCandidate
	for i := range selected {
		if selected[i].Source == "solo" {
			solo = &selected[i]
		}
	}
	require.NotNil(t, solo, "a single-sample source always passes the normalized threshold")
	assert.Equal(t, 0.0, solo.NormalizedScore)
	assert.Equal(t, 4, report.Summary.Selected)
}

func TestSelectTop_EmptyAndSparse(t *testing.T) {
	t.Run("empty pool", func(t *testing.T) {
		selected, report := New().SelectTop(context.Background(), nil, DefaultParams())
		assert.Empty(t, selected)
		assert.Zero(t, report.Summary.TotalCandidates)
		assert.Zero(t, report.Summary.Selected)
		assert.Equal(t, QualityMetrics{}, report.Quality)
		assert.False(t, report.Summary.DiversityAchieved)
	})

	t.Run("nothing above min raw", func(t *testing.T) {
		selected, report := New().SelectTop(context.Background(), candidates("X", "x", 40, 50, 59), DefaultParams())
		assert.Empty(t, selected)
		assert.Equal(t, 3, report.Summary.TotalCandidates)
		assert.Zero(t, report.Summary.AboveMinRaw)
		assert.Equal(t, 1, report.Summary.PoolSources)
		assert.Zero(t, report.Summary.EligibleSources)
		assert.Empty(t, report.SourceStats)
	})

	t.Run("zero limit", func(t *testing.T) {
		p := DefaultParams()
		p.Limit = 0
		selected, _ := New().SelectTop(context.Background(), scenarioPool(), p)
		assert.Empty(t, selected)
	})
}

func TestSelectTop_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)

	New(WithMetrics(m)).SelectTop(context.Background(), scenarioPool(), DefaultParams())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SelectionRunsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SelectionLowDiversity))
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	bad := DefaultParams()
	bad.Limit = -1
	bad.DiversityDecay = 0
	bad.MaxPerSource = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
	assert.Contains(t, err.Error(), "diversity_decay")
	assert.Contains(t, err.Error(), "max_per_source")
}

func TestNewCandidate(t *testing.T) {
	sd := &models.ScoredDocument{
		Document: models.Document{ID: "d1", Title: "T", Source: "feed"},
		Result:   models.ScoringResult{Score: 77, Category: models.CategorySecurity},
	}

	c := NewCandidate(sd)
	assert.Equal(t, "d1", c.ID)
	assert.Equal(t, "feed", c.Source)
	assert.Equal(t, 77.0, c.RawScore)
	assert.Equal(t, models.CategorySecurity, c.Category)
	assert.Same(t, sd, c.Scored)
}
