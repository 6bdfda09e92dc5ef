// Package metrics holds the Prometheus collectors for scoring and selection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector exported by the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ScoringTotal          *prometheus.CounterVec
	ScoringDuration       prometheus.Histogram
	CostTotal             *prometheus.CounterVec
	FallbackTotal         *prometheus.CounterVec
	SummaryDegradedTotal  *prometheus.CounterVec
	BatchFailuresTotal    prometheus.Counter
	SelectionRunsTotal    prometheus.Counter
	SelectionSelected     prometheus.Histogram
	SelectionLowDiversity prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScoringTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_total",
			Help:      "Documents scored, by outcome",
		}, []string{"outcome"}),
		ScoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_duration_seconds",
			Help:      "Wall-clock time to score and summarize one document",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		CostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Accumulated LLM spend in USD, by operation",
		}, []string{"operation"}),
		FallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallback_total",
			Help:      "Switches from one provider to the next",
		}, []string{"from", "to"}),
		SummaryDegradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_degraded_total",
			Help:      "Summary variants replaced by degraded text",
		}, []string{"variant"}),
		BatchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Documents that failed inside a batch",
		}),
		SelectionRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_runs_total",
			Help:      "Diversity-aware selection runs",
		}),
		SelectionSelected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_selected",
			Help:      "Number of items selected per run",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		}),
		SelectionLowDiversity: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_low_diversity_total",
			Help:      "Selection runs that did not reach the minimum source count",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ScoringTotal,
			m.ScoringDuration,
			m.CostTotal,
			m.FallbackTotal,
			m.SummaryDegradedTotal,
			m.BatchFailuresTotal,
			m.SelectionRunsTotal,
			m.SelectionSelected,
			m.SelectionLowDiversity,
		)
	}
	return m
}

// ObserveScoring records the outcome and duration of one scoring call
func (m *Metrics) ObserveScoring(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScoringTotal.WithLabelValues(outcome).Inc()
	m.ScoringDuration.Observe(d.Seconds())
}

// AddCost adds spend for one operation
func (m *Metrics) AddCost(operation string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.CostTotal.WithLabelValues(operation).Add(usd)
}

// IncFallback counts a provider switch
func (m *Metrics) IncFallback(from, to string) {
	if m == nil {
		return
	}
	m.FallbackTotal.WithLabelValues(from, to).Inc()
}

// IncSummaryDegraded counts a degraded summary variant
func (m *Metrics) IncSummaryDegraded(variant string) {
	if m == nil {
		return
	}
	m.SummaryDegradedTotal.WithLabelValues(variant).Inc()
}

// IncBatchFailure counts one failed batch item
func (m *Metrics) IncBatchFailure() {
	if m == nil {
		return
	}
	m.BatchFailuresTotal.Inc()
}

// ObserveSelection records one selection run
func (m *Metrics) ObserveSelection(selected int, diversityAchieved bool) {
	if m == nil {
		return
	}
	m.SelectionRunsTotal.Inc()
	m.SelectionSelected.Observe(float64(selected))
	if !diversityAchieved {
		m.SelectionLowDiversity.Inc()
	}
}
