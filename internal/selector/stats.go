package selector

import (
	"math"
	"sort"
)

// MinStdDev is the floor applied to a source's standard deviation
const MinStdDev = 1.0

// SourceStats summarizes the raw scores of one source
type SourceStats struct {
	Source string  `json:"source"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"` // Sample deviation, never below MinStdDev
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ComputeSourceStats groups candidates by source and summarizes each group's
// raw scores.
func ComputeSourceStats(candidates []ArticleCandidate) map[string]SourceStats {
	groups := make(map[string][]float64)
	for _, c := range candidates {
		groups[c.Source] = append(groups[c.Source], c.RawScore)
	}

	stats := make(map[string]SourceStats, len(groups))
	for source, scores := range groups {
		stats[source] = summarize(source, scores)
	}
	return stats
}

func summarize(source string, scores []float64) SourceStats {
	st := SourceStats{
		Source: source,
		Count:  len(scores),
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
		StdDev: MinStdDev,
	}

	var sum float64
	for _, s := range scores {
		sum += s
		st.Min = math.Min(st.Min, s)
		st.Max = math.Max(st.Max, s)
	}
	st.Mean = sum / float64(len(scores))

	if len(scores) >= 2 {
		var sq float64
		for _, s := range scores {
			d := s - st.Mean
			sq += d * d
		}
		st.StdDev = math.Max(math.Sqrt(sq/float64(len(scores)-1)), MinStdDev)
	}
	return st
}

// sortedStats returns the stats ordered by source name
func sortedStats(stats map[string]SourceStats) []SourceStats {
	out := make([]SourceStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
