package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "blogs_enqueued_total", Help: "Generation jobs enqueued"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "blogs_enqueue_rejects_total", Help: "Enqueue requests rejected by rate limiter"})
	BlogsCreated     = prometheus.NewCounter(prometheus.CounterOpts{Name: "blogs_created_total", Help: "Posts generated and persisted"})
	BlogsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "blogs_failed_total", Help: "Jobs that failed permanently"})
	RetriesScheduled = prometheus.NewCounter(prometheus.CounterOpts{Name: "blogs_retries_total", Help: "Job failures sent back to pending"})
	ProviderHolds    = prometheus.NewCounter(prometheus.CounterOpts{Name: "blogs_provider_holds_total", Help: "Backoff holds for provider rate-limit or billing errors"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "blogs_queue_depth", Help: "Pending generation jobs"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			BlogsCreated,
			BlogsFailed,
			RetriesScheduled,
			ProviderHolds,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
