// Package metrics provides Prometheus instrumentation for the risk engine.
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
	// TicksTotal counts market ticks processed by the engine.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_ticks_total",
		Help: "Total number of market ticks processed",
	})

	// TradesTotal counts executed trades, partitioned by account type and side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_trades_total",
		Help: "Total number of trades executed",
	}, []string{"account", "side"})

	// OrderRejections counts rejected orders by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_order_rejections_total",
		Help: "Orders rejected during validation",
	}, []string{"reason"})

	// LiquidationsTotal counts forced position closures, partitioned by account type.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_liquidations_total",
		Help: "Total number of forced liquidations",
	}, []string{"account"})

	// FundingSettlementsTotal counts funding settlement events.
	FundingSettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskengine_funding_settlements_total",
		Help: "Total number of funding settlement events",
	})

	// StepLatency tracks tick processing latency.
	StepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskengine_step_latency_seconds",
		Help:    "Tick processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskengine_http_request_duration_seconds",
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

		// Use the raw path for the label; route shapes here are low cardinality.
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
