package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "itdrive"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_transitions_total", Help: "Trip lifecycle transitions by action and result"},
		[]string{"action", "result"},
	)
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_total", Help: "Booking mutations by result"},
		[]string{"result"},
	)
	ReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reviews_total", Help: "Review submissions by result"},
		[]string{"result"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_events_published_total", Help: "Trip events handed to the event sink"},
		[]string{"type", "result"},
	)
	WatchersConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "trip_watchers", Help: "Open trip websocket subscriptions"})

	MapLoaderInjections = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "map_loader_injections_total", Help: "Map provider loader injections"})
	MapBootstrapStatus  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "map_bootstrap_status", Help: "0 unloaded, 1 loading, 2 ready, 3 failed"})
	RouteRenders        = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "route_renders_total", Help: "Route render attempts by outcome"},
		[]string{"outcome"},
	)
	RouteCache = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "route_cache_total", Help: "Route cache lookups by result"},
		[]string{"result"},
	)
)

// Result maps an error to the "ok"/"error" label used by the counters above.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
