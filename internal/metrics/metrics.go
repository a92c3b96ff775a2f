// Package metrics exposes Prometheus instrumentation for the
// remediation loop. All collectors are registered on the default
// registry; the API server serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProblemsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Name:      "problems_detected_total",
		Help:      "Problems recorded by the detector, by type and severity.",
	}, []string{"type", "severity"})

	HypothesesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Name:      "hypotheses_generated_total",
		Help:      "Hypotheses produced, split by AI-generated vs fallback.",
	}, []string{"source"})

	ExperiencesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Name:      "experiences_recorded_total",
		Help:      "Experiences appended to the ledger, by type and outcome.",
	}, []string{"type", "outcome"})

	RecoveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Name:      "recovery_attempts_total",
		Help:      "Automatic recovery invocations, by error type and result.",
	}, []string{"error_type", "result"})

	RollbacksPerformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Name:      "rollbacks_total",
		Help:      "Rollback attempts, by result.",
	}, []string{"result"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mend",
		Name:      "learning_cycle_duration_seconds",
		Help:      "Wall time of one full learning cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	CompletionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mend",
		Name:      "completion_requests_total",
		Help:      "AI completion calls, by result (ok, error, cache_hit).",
	}, []string{"result"})

	OpenProblems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mend",
		Name:      "open_problems",
		Help:      "Currently open (detected or analyzing) problems by severity.",
	}, []string{"severity"})
)
