// Package metrics exposes Prometheus collectors for the HTTP layer and the
// ledger operations.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flipfactory/coin-ledger/coin"
)

const namespace = "coinledger"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	coins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coins_total",
			Help:      "Coins credited (earned) or debited (redeemed).",
		},
		[]string{"direction"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemption_transitions_total",
			Help:      "Redemption requests entering each status.",
		},
		[]string{"status"},
	)

	auditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit records the sink failed to append.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		operations,
		coins,
		transitions,
		auditFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Paths are labelled with the chi route pattern when one matched.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	// unmatched paths would otherwise blow up label cardinality
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// =============================================================================
// LEDGER OBSERVER
// =============================================================================

// Observer records ledger events into the package collectors.
type Observer struct{}

var _ coin.Observer = Observer{}

func (Observer) Operation(op string, err error) {
	operations.WithLabelValues(op, Result(err)).Inc()
}

func (Observer) Coins(direction string, n int64) {
	if n > 0 {
		coins.WithLabelValues(direction).Add(float64(n))
	}
}

func (Observer) Transition(status coin.RedemptionStatus, n int) {
	if n > 0 {
		transitions.WithLabelValues(string(status)).Add(float64(n))
	}
}

func (Observer) AuditFailed(error) {
	auditFailures.Inc()
}

// Result maps an operation error to the "result" label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, coin.ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, coin.ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, coin.ErrRedemptionNotFound):
		return "not_found"
	case errors.Is(err, coin.ErrInvalidTransition):
		return "conflict"
	case errors.Is(err, coin.ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
