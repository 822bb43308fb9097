// Package metrics provides Prometheus instrumentation for Kestrel.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts scoring outcomes by decision code.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "decisions_total",
			Help:      "Total scoring decisions by code.",
		},
		[]string{"decision"},
	)

	// RuleHitsTotal counts fired heuristic rules by tag.
	RuleHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "rule_hits_total",
			Help:      "Total heuristic rule hits by tag.",
		},
		[]string{"tag"},
	)

	// ScoringDuration observes end-to-end pipeline latency.
	ScoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "scoring_duration_seconds",
			Help:      "Scoring pipeline duration in seconds.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	// ScoringFailuresTotal counts scorings that ended in the error outcome.
	ScoringFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "scoring_failures_total",
		Help:      "Total scorings that failed at the scale or score stage.",
	})

	// MerchantColumnMissingTotal counts merchant categories with no schema column.
	MerchantColumnMissingTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "merchant_column_missing_total",
		Help:      "Total transactions whose merchant category had no feature column.",
	})

	// SessionsStartedTotal counts created sessions.
	SessionsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "sessions_started_total",
		Help:      "Total sessions started.",
	})

	// SessionsEndedTotal counts sessions ended explicitly. Idle expiry is not counted.
	SessionsEndedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "sessions_ended_total",
		Help:      "Total sessions ended by the caller.",
	})

	// EventsPublishedTotal counts bus publishes by topic and result.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "events_published_total",
			Help:      "Total event bus publishes by topic and result.",
		},
		[]string{"topic", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		RuleHitsTotal,
		ScoringDuration,
		ScoringFailuresTotal,
		MerchantColumnMissingTotal,
		SessionsStartedTotal,
		SessionsEndedTotal,
		EventsPublishedTotal,
	)
}

// ObserveScoring records one pipeline run.
func ObserveScoring(decision string, tags []string, d time.Duration) {
	DecisionsTotal.WithLabelValues(decision).Inc()
	for _, tag := range tags {
		RuleHitsTotal.WithLabelValues(tag).Inc()
	}
	ScoringDuration.Observe(d.Seconds())
}

// ObservePublish records one bus publish attempt.
func ObservePublish(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublishedTotal.WithLabelValues(topic, result).Inc()
}

// Middleware records request metrics, labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		// Route pattern, not raw path, to keep label cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(rw.status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
