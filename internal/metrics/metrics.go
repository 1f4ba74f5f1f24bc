package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebooks_runs_total",
			Help: "Total runs by outcome",
		},
		[]string{"outcome"}, // "completed", "skipped", "failed"
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ebooks_run_duration_seconds",
			Help:    "Wall time of one run",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Candidate metrics
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebooks_attempts_total",
			Help: "Total post, reply and favorite attempts by status",
		},
		[]string{"kind", "status"},
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebooks_rejections_total",
			Help: "Candidates refused by the acceptance filter",
		},
		[]string{"reason"},
	)

	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ebooks_generator_fallbacks_total",
			Help: "Times the generator was unavailable and fallback text was used",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebooks_http_requests_total",
			Help: "Total HTTP requests to the trigger server",
		},
		[]string{"method", "path", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
