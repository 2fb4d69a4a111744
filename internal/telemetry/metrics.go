package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted          = prometheus.NewCounter(prometheus.CounterOpts{Name: "splitter_jobs_submitted_total", Help: "Jobs accepted for processing"})
	JobsRejected           = prometheus.NewCounter(prometheus.CounterOpts{Name: "splitter_jobs_rejected_total", Help: "Submissions rejected because the queue was full"})
	JobsCompleted          = prometheus.NewCounter(prometheus.CounterOpts{Name: "splitter_jobs_completed_total", Help: "Jobs that finished with artifacts"})
	JobsFailed             = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "splitter_jobs_failed_total", Help: "Jobs that failed, by error kind"}, []string{"kind"})
	JobsSwept              = prometheus.NewCounter(prometheus.CounterOpts{Name: "splitter_jobs_swept_total", Help: "Jobs removed by the retention sweep"})
	InFlightGauge          = prometheus.NewGauge(prometheus.GaugeOpts{Name: "splitter_jobs_inflight", Help: "Pipelines currently running"})
	QueueDepthGauge        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "splitter_queue_depth", Help: "Jobs waiting for a worker"})
	ArtifactUploadFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "splitter_artifact_upload_failures_total", Help: "Artifacts left out because their upload failed"})
	StageDuration          = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splitter_stage_duration_seconds",
		Help:    "Pipeline stage durations",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"stage"})

	RateLimitRejects = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"}, []string{"action"})
	UpstreamErrors   = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_upstream_errors_total", Help: "Failed calls to the splitter service"})
	LicenseChecks    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_license_checks_total", Help: "License validations by outcome"}, []string{"result"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsRejected,
			JobsCompleted,
			JobsFailed,
			JobsSwept,
			InFlightGauge,
			QueueDepthGauge,
			ArtifactUploadFailures,
			StageDuration,
			RateLimitRejects,
			UpstreamErrors,
			LicenseChecks,
		)
	})
	return promhttp.Handler()
}
