// Package metrics exposes Prometheus collectors for the metered-access
// control path.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "platform",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "platform",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "platform",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "platform",
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache operations by outcome (hit, miss, error, skipped).",
		},
		[]string{"outcome"},
	)

	creditsDebited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "platform",
			Subsystem: "metering",
			Name:      "credits_debited_total",
			Help:      "Total credits debited for feature use past the free tier.",
		},
	)

	usageRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "platform",
			Subsystem: "metering",
			Name:      "feature_uses_total",
			Help:      "Feature invocations recorded by the usage meter.",
		},
		[]string{"feature"},
	)

	paymentsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "platform",
			Subsystem: "billing",
			Name:      "payments_completed_total",
			Help:      "Verified payments that credited an account.",
		},
	)

	paymentsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "platform",
			Subsystem: "billing",
			Name:      "payments_rejected_total",
			Help:      "Payments rejected before crediting, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		cacheOps,
		creditsDebited,
		usageRecorded,
		paymentsCompleted,
		paymentsRejected,
	)
}

// Handler serves the metrics endpoint for the application registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveCache records a cache operation outcome: "hit", "miss", "error" or
// "skipped" (client disabled).
func ObserveCache(outcome string) {
	cacheOps.WithLabelValues(outcome).Inc()
}

// ObserveCreditDebit records a successful single-credit debit.
func ObserveCreditDebit() {
	creditsDebited.Inc()
}

// ObserveFeatureUse records a usage-meter increment.
func ObserveFeatureUse(feature string) {
	usageRecorded.WithLabelValues(feature).Inc()
}

// ObservePaymentCompleted records a verified, credited payment.
func ObservePaymentCompleted() {
	paymentsCompleted.Inc()
}

// ObservePaymentRejected records a payment rejected before crediting.
func ObservePaymentRejected(reason string) {
	paymentsRejected.WithLabelValues(reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// InstrumentHTTP wraps a handler with request counting and latency
// histograms.
func InstrumentHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
