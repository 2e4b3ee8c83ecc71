// Package metrics provides Prometheus instrumentation for the exchange
// engine.
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
	// OrdersTotal counts order placements, partitioned by market symbol,
	// side, and terminal outcome (filled, partially_filled, open, canceled,
	// rejected).
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_orders_total",
		Help: "Total number of order placements",
	}, []string{"symbol", "side", "outcome"})

	// PlacementLatency tracks the full placement transaction latency.
	PlacementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_placement_latency_seconds",
		Help:    "Order placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"symbol"})

	// FillsTotal counts individual executions per market.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_fills_total",
		Help: "Total number of executions",
	}, []string{"symbol"})

	// RejectionsTotal counts structured rejections by code.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_rejections_total",
		Help: "Order placements rejected, by rejection code",
	}, []string{"code"})

	// HaltsTotal counts circuit-breaker halts per market.
	HaltsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_halts_total",
		Help: "Circuit breaker halts triggered",
	}, []string{"symbol"})

	// IdempotentReplays counts placements answered from a stored response.
	IdempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_idempotent_replays_total",
		Help: "Placements answered from a stored idempotency record",
	})

	// OutboxDelivered counts outbox events delivered by the dispatcher.
	OutboxDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_outbox_delivered_total",
		Help: "Outbox events delivered, by topic",
	}, []string{"topic"})

	// OutboxDead counts events dead-lettered after repeated failures.
	OutboxDead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_outbox_dead_total",
		Help: "Outbox events dead-lettered",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
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
