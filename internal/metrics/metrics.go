package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels calls and stages that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels calls and stages that failed terminally.
	OutcomeError = "error"
	// OutcomeDegraded labels stages that failed but let the run continue.
	OutcomeDegraded = "degraded"
)

var (
	investigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inquest",
			Name:      "investigations_total",
			Help:      "Total number of investigations handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	investigationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inquest",
			Name:      "investigation_seconds",
			Help:      "End-to-end investigation latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inquest",
			Name:      "stage_seconds",
			Help:      "Pipeline stage latency in seconds, partitioned by stage and outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage", "outcome"},
	)

	searchCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inquest",
			Name:      "search_calls_total",
			Help:      "Log-search API calls, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	searchRateLimitWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inquest",
			Name:      "search_rate_limit_waits_total",
			Help:      "Times the search client slept for a rate-limit reset.",
		},
	)
)

// Register attaches inquest collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		investigationsTotal,
		investigationDurationSeconds,
		stageDurationSeconds,
		searchCallsTotal,
		searchRateLimitWaits,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveInvestigation records an investigation duration and outcome label.
func ObserveInvestigation(duration time.Duration, outcome string) {
	if outcome != OutcomeError && outcome != OutcomeDegraded {
		outcome = OutcomeSuccess
	}
	investigationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	investigationDurationSeconds.Observe(duration.Seconds())
}

// ObserveStage records one pipeline stage execution.
func ObserveStage(stage string, duration time.Duration, outcome string) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// ObserveSearchCall records one log-search API call outcome.
func ObserveSearchCall(outcome string) {
	searchCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitWait records a sleep waiting for the rate-limit reset.
func ObserveRateLimitWait() {
	searchRateLimitWaits.Inc()
}
