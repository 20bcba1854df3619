// Package metrics holds the pipeline's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autobot"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Runs finished, by trigger source and final status",
		},
		[]string{"source", "status"},
	)
	runRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_rejections_total",
			Help:      "Triggers refused because a run was already in progress",
		},
		[]string{"source"},
	)
	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "active_runs",
			Help:      "Runs currently executing in this process",
		},
	)
	itemOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "item_outcomes_total",
			Help:      "Per user and topic outcomes recorded in run summaries",
		},
		[]string{"outcome"},
	)
	publishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "attempts_total",
			Help:      "Publish attempts, by result (ok, retryable, permanent)",
		},
		[]string{"result"},
	)
	draftsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "drafts_expired_total",
			Help:      "Drafts moved to expired by the run sweep",
		},
	)
	confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirm",
			Name:      "requests_total",
			Help:      "Confirmation link visits, by result",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(runsTotal, runRejections, activeRuns, itemOutcomes,
			publishAttempts, draftsExpired, confirmations)
	})
}

func RunStarted() { activeRuns.Inc() }

func RunFinished(source, status string) {
	activeRuns.Dec()
	runsTotal.WithLabelValues(source, status).Inc()
}

func RunRejected(source string) { runRejections.WithLabelValues(source).Inc() }

func ItemOutcome(outcome string) { itemOutcomes.WithLabelValues(outcome).Inc() }

func PublishAttempt(result string) { publishAttempts.WithLabelValues(result).Inc() }

func DraftsExpired(n int64) {
	if n > 0 {
		draftsExpired.Add(float64(n))
	}
}

func Confirmation(result string) { confirmations.WithLabelValues(result).Inc() }
