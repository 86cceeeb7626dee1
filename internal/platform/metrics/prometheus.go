package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Triage metrics
	triageResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_resolutions_total",
			Help: "Total number of triage decisions by tier",
		},
		[]string{"tier", "presentation", "fell_back"},
	)

	triageOverrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_overrides_total",
			Help: "Total number of clinical tier overrides",
		},
		[]string{"from_tier", "to_tier"},
	)

	encounterStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encounter_status_changes_total",
			Help: "Total number of encounter status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "triage_queue_depth",
			Help: "Number of waiting encounters per facility and tier",
		},
		[]string{"facility", "tier"},
	)

	queueRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_queue_recompute_duration_seconds",
			Help:    "Time spent recomputing a facility queue, including storage",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	queueCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_queue_cache_lookups_total",
			Help: "Queue snapshot cache lookups by result",
		},
		[]string{"result"},
	)

	routingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routing_duration_seconds",
			Help:    "Time spent ranking facilities for one request",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_events_published_total",
			Help: "Events handed to publishers by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count, latency and in-flight requests. The
// route template is used as label to bound cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// --- Business metric helpers ---

func RecordResolution(tier, presentation string, fellBack bool) {
	triageResolutions.WithLabelValues(tier, presentation, strconv.FormatBool(fellBack)).Inc()
}

func RecordOverride(fromTier, toTier string) {
	triageOverrides.WithLabelValues(fromTier, toTier).Inc()
}

func RecordStatusChange(fromStatus, toStatus string) {
	encounterStatusChanges.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordQueueDepth sets the waiting count for every tier of a facility.
func RecordQueueDepth(facility string, byTier map[string]int) {
	for tier, n := range byTier {
		queueDepth.WithLabelValues(facility, tier).Set(float64(n))
	}
}

func RecordQueueRecompute(d time.Duration) {
	queueRecomputeDuration.Observe(d.Seconds())
}

func RecordQueueCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	queueCacheLookups.WithLabelValues(result).Inc()
}

func RecordRouting(d time.Duration) {
	routingDuration.Observe(d.Seconds())
}

func RecordEventPublished(eventType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	eventsPublished.WithLabelValues(eventType, outcome).Inc()
}
