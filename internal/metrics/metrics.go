// Package metrics provides Prometheus instrumentation for the
// settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommitmentsCreated counts commitments issued to players.
	CommitmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_commitments_created_total",
		Help: "Total commitments created",
	})

	// CommitmentsResolved counts resolutions, partitioned by the top
	// tier hit in the batch.
	CommitmentsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_commitments_resolved_total",
		Help: "Total commitments resolved",
	}, []string{"top_tier"})

	// CommitmentsExpired counts commitments swept after their TTL.
	CommitmentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_commitments_expired_total",
		Help: "Total commitments expired unfunded",
	})

	// PayoutsTotal accumulates payout value in the smallest token unit.
	PayoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_payouts_amount_total",
		Help: "Cumulative payout amount in base units",
	})

	// BreakerDenials counts circuit breaker denials by reason.
	BreakerDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_breaker_denials_total",
		Help: "Operations denied by the circuit breaker",
	}, []string{"reason"})

	// ChainSubmissions counts chain submissions by kind and outcome.
	ChainSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_chain_submissions_total",
		Help: "Chain transaction submissions",
	}, []string{"kind", "outcome"})

	// ChainRetries counts resubmissions after retryable failures.
	ChainRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_chain_retries_total",
		Help: "Chain submission retries",
	})

	// BuybackCycles counts buyback runs by final status.
	BuybackCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_buyback_cycles_total",
		Help: "Buyback-and-burn cycles by final status",
	}, []string{"status"})

	// HotWalletBalance tracks the last observed hot wallet balance.
	HotWalletBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_hot_wallet_balance",
		Help: "Last observed hot wallet token balance",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cc_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
