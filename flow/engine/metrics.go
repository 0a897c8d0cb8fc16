package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flowtune/flowtune/flow"
)

// Metrics holds the Prometheus collectors for convergence runs and sweeps.
// A nil *Metrics records nothing.
type Metrics struct {
	// Attempts counts completed attempts, including failed flow runs.
	Attempts prometheus.Counter

	// RunFailures counts attempts whose external flow invocation failed.
	RunFailures prometheus.Counter

	// Problems counts classified problems by category.
	Problems *prometheus.CounterVec

	// Adjustments counts tuner decisions by parameter and direction. Retries
	// use the parameter label "retry".
	Adjustments *prometheus.CounterVec

	// Outcomes counts finished runs by terminal outcome.
	Outcomes *prometheus.CounterVec

	// AttemptDuration covers the flow run through analysis. Buckets span
	// 1s to ~4.5h since a full flow can take hours.
	AttemptDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounter(prometheus.CounterOpts{
			Name: "flowtune_attempts_total",
			Help: "Total number of flow attempts.",
		}),
		RunFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "flowtune_run_failures_total",
			Help: "Total number of attempts whose flow invocation failed.",
		}),
		Problems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowtune_problems_total",
			Help: "Classified problems by category.",
		}, []string{"category"}),
		Adjustments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowtune_adjustments_total",
			Help: "Tuner adjustments by parameter and direction.",
		}, []string{"param", "direction"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowtune_outcomes_total",
			Help: "Finished convergence runs by outcome.",
		}, []string{"outcome"}),
		AttemptDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowtune_attempt_duration_seconds",
			Help:    "Wall-clock duration of one attempt.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}),
	}
}

func (m *Metrics) observeAttempt(rec flow.AttemptRecord) {
	if m == nil {
		return
	}
	m.Attempts.Inc()
	if rec.RunError != "" {
		m.RunFailures.Inc()
	}
	for _, p := range rec.Problems {
		m.Problems.WithLabelValues(string(p.Category)).Inc()
	}
	if adj := rec.Adjustment; adj != nil {
		param := adj.Param
		if adj.IsRetry() {
			param = "retry"
		}
		m.Adjustments.WithLabelValues(param, adj.Direction.String()).Inc()
	}
	m.AttemptDuration.Observe(rec.Duration.Seconds())
}

func (m *Metrics) observeOutcome(o Outcome) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(o)).Inc()
}
