package selector

import (
	"math"
	"time"
)

// Report is the audit trail of one selection run
type Report struct {
	GeneratedAt        time.Time      `json:"generated_at"`
	Params             Params         `json:"params"`
	Summary            Summary        `json:"summary"`
	SourceDistribution map[string]int `json:"source_distribution"` // Selected items per source
	Quality            QualityMetrics `json:"quality"`
	SourceStats        []SourceStats  `json:"source_stats"`
	Selected           []SelectedItem `json:"selected"`
}

// Summary holds the headline counts of a run
type Summary struct {
	TotalCandidates   int  `json:"total_candidates"`
	AboveMinRaw       int  `json:"above_min_raw"`
	Eligible          int  `json:"eligible"`
	Selected          int  `json:"selected"`
	DiscardedByCap    int  `json:"discarded_by_cap"`
	PoolSources       int  `json:"pool_sources"`     // Distinct sources in the input, before any filter
	EligibleSources   int  `json:"eligible_sources"` // Distinct sources that passed both score filters
	SelectedSources   int  `json:"selected_sources"`
	DiversityAchieved bool `json:"diversity_achieved"`
}

// QualityMetrics aggregates the scores of the selected items. All fields are
// zero when nothing was selected.
type QualityMetrics struct {
	RawMean        float64 `json:"raw_mean"`
	RawMin         float64 `json:"raw_min"`
	RawMax         float64 `json:"raw_max"`
	NormalizedMean float64 `json:"normalized_mean"`
	NormalizedMin  float64 `json:"normalized_min"`
	NormalizedMax  float64 `json:"normalized_max"`
}

// SelectedItem is one ranked entry of the report
type SelectedItem struct {
	Rank            int     `json:"rank"`
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Source          string  `json:"source"`
	RawScore        float64 `json:"raw_score"`
	NormalizedScore float64 `json:"normalized_score"`
	DiversityFactor float64 `json:"diversity_factor"`
	FinalScore      float64 `json:"final_score"`
	SelectionReason string  `json:"selection_reason"`
}

func buildReport(at time.Time, p Params, candidates []ArticleCandidate, r *run) *Report {
	poolSources := make(map[string]struct{})
	for _, c := range candidates {
		poolSources[c.Source] = struct{}{}
	}

	eligibleSources := make(map[string]struct{})
	for _, c := range r.eligible {
		eligibleSources[c.Source] = struct{}{}
	}

	dist := make(map[string]int)
	items := make([]SelectedItem, len(r.selected))
	for i, c := range r.selected {
		dist[c.Source]++
		items[i] = SelectedItem{
			Rank:            i + 1,
			ID:              c.ID,
			Title:           c.Title,
			Source:          c.Source,
			RawScore:        c.RawScore,
			NormalizedScore: c.NormalizedScore,
			DiversityFactor: c.DiversityFactor,
			FinalScore:      c.FinalScore,
			SelectionReason: c.SelectionReason,
		}
	}

	return &Report{
		GeneratedAt: at,
		Params:      p,
		Summary: Summary{
			TotalCandidates:   len(candidates),
			AboveMinRaw:       len(r.pool),
			Eligible:          len(r.eligible),
			Selected:          len(r.selected),
			DiscardedByCap:    r.discardedByCap,
			PoolSources:       len(poolSources),
			EligibleSources:   len(eligibleSources),
			SelectedSources:   len(dist),
			DiversityAchieved: len(dist) >= p.MinSources,
		},
		SourceDistribution: dist,
		Quality:            quality(r.selected),
		SourceStats:        sortedStats(r.stats),
		Selected:           items,
	}
}

func quality(selected []ArticleCandidate) QualityMetrics {
	if len(selected) == 0 {
		return QualityMetrics{}
	}

	q := QualityMetrics{
		RawMin:        math.Inf(1),
		RawMax:        math.Inf(-1),
		NormalizedMin: math.Inf(1),
		NormalizedMax: math.Inf(-1),
	}
	var rawSum, normSum float64
	for _, c := range selected {
		rawSum += c.RawScore
		normSum += c.NormalizedScore
		q.RawMin = math.Min(q.RawMin, c.RawScore)
		q.RawMax = math.Max(q.RawMax, c.RawScore)
		q.NormalizedMin = math.Min(q.NormalizedMin, c.NormalizedScore)
		q.NormalizedMax = math.Max(q.NormalizedMax, c.NormalizedScore)
	}
	n := float64(len(selected))
	q.RawMean = rawSum / n
	q.NormalizedMean = normSum / n
	return q
}
