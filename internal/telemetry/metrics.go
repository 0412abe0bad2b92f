package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted          = prometheus.NewCounter(prometheus.CounterOpts{Name: "videogen_jobs_submitted_total", Help: "Jobs submitted to providers"})
	JobsCompleted          = prometheus.NewCounter(prometheus.CounterOpts{Name: "videogen_jobs_completed_total", Help: "Jobs that reached completed"})
	JobsFailed             = prometheus.NewCounter(prometheus.CounterOpts{Name: "videogen_jobs_failed_total", Help: "Jobs that reached failed"})
	Polls                  = prometheus.NewCounter(prometheus.CounterOpts{Name: "videogen_polls_total", Help: "Provider status polls"})
	PollTransportErrors    = prometheus.NewCounter(prometheus.CounterOpts{Name: "videogen_poll_transport_errors_total", Help: "Polls that failed with a transport error"})
	NotificationsPublished = prometheus.NewCounter(prometheus.CounterOpts{Name: "videogen_notifications_published_total", Help: "Change notifications published"})
	RateLimitRejects       = prometheus.NewCounter(prometheus.CounterOpts{Name: "videogen_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	ActiveTimers           = prometheus.NewGauge(prometheus.GaugeOpts{Name: "videogen_active_poll_timers", Help: "Jobs with an armed reconciliation timer"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			Polls,
			PollTransportErrors,
			NotificationsPublished,
			RateLimitRejects,
			ActiveTimers,
		)
	})
	return promhttp.Handler()
}
