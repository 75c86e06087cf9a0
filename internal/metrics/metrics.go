// Package metrics exposes Prometheus metrics for concatenation jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	ExecutorNative    = "native"
	ExecutorSandboxed = "sandboxed"

	StatusComplete  = "complete"
	StatusError     = "error"
	StatusCancelled = "cancelled"

	ResultCompatible   = "compatible"
	ResultIncompatible = "incompatible"
	ResultProbeFailed  = "probe_failed"

	VerifyPassed  = "passed"
	VerifyFailed  = "failed"
	VerifySkipped = "skipped"

	// StrategyNone labels jobs that ended before a strategy was chosen.
	StrategyNone = "none"
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splice_jobs_total",
			Help: "Total number of finished concatenation jobs",
		},
		[]string{"executor", "strategy", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "splice_job_duration_seconds",
			Help:    "Wall time of finished concatenation jobs in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"executor", "strategy"},
	)

	JobsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "splice_jobs_in_progress",
			Help: "Whether a concatenation job is currently running (0 or 1 per executor)",
		},
		[]string{"executor"},
	)

	BusyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splice_busy_rejections_total",
			Help: "Total number of requests rejected because a job was already active",
		},
		[]string{"executor"},
	)
)

// Decision metrics
var (
	ProbeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "splice_probe_failures_total",
			Help: "Total number of compatibility checks degraded by a probe failure",
		},
	)

	CompatibilityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splice_compatibility_checks_total",
			Help: "Total number of compatibility checks by result",
		},
		[]string{"result"},
	)

	OutputVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splice_output_verifications_total",
			Help: "Total number of joined outputs checked against their inputs by result",
		},
		[]string{"result"},
	)
)

// InitializeMetrics pre-populates expected label combinations so every
// series is exported from the first scrape.
func InitializeMetrics() {
	strategies := []string{"stream_copy", "reencode", StrategyNone}
	for _, exec := range []string{ExecutorNative, ExecutorSandboxed} {
		JobsInProgress.WithLabelValues(exec)
		BusyRejections.WithLabelValues(exec)
		for _, s := range strategies {
			JobDuration.WithLabelValues(exec, s)
			for _, status := range []string{StatusComplete, StatusError, StatusCancelled} {
				JobsTotal.WithLabelValues(exec, s, status)
			}
		}
	}
	for _, r := range []string{ResultCompatible, ResultIncompatible, ResultProbeFailed} {
		CompatibilityChecks.WithLabelValues(r)
	}
	for _, r := range []string{VerifyPassed, VerifyFailed, VerifySkipped} {
		OutputVerifications.WithLabelValues(r)
	}
}
