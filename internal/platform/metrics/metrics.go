// Package metrics owns the Prometheus instrumentation for the watch daemon.
// All collectors live on an explicit Registry instance; there is no global
// registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the daemon's collectors with the prometheus registry they
// are registered on.
type Registry struct {
	registry *prometheus.Registry

	PollCycles      prometheus.Counter
	PollErrors      prometheus.Counter
	CommentsScanned prometheus.Counter
	EventsDetected  *prometheus.CounterVec
	LocateFailures  *prometheus.CounterVec
	WatchedPages    prometheus.Gauge
}

// NewRegistry creates a Registry with all collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talkwatch_poll_cycles_total",
			Help: "Completed change-detection cycles.",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talkwatch_poll_errors_total",
			Help: "Page polls that ended in an error.",
		}),
		CommentsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talkwatch_comments_scanned_total",
			Help: "Rendered comments extracted across all polls.",
		}),
		EventsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talkwatch_events_detected_total",
			Help: "Detected comment events by kind.",
		}, []string{"kind"}),
		LocateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talkwatch_locate_failures_total",
			Help: "Comment location refusals by parse error code.",
		}, []string{"code"}),
		WatchedPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "talkwatch_watched_pages",
			Help: "Pages currently on the watch list.",
		}),
	}

	r.registry.MustRegister(
		r.PollCycles,
		r.PollErrors,
		r.CommentsScanned,
		r.EventsDetected,
		r.LocateFailures,
		r.WatchedPages,
	)

	return r
}

// Handler returns the HTTP handler serving the registry in the Prometheus
// text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
