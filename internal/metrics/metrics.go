// Package metrics provides Prometheus instrumentation for the market engine.
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
	// OrdersTotal counts orders accepted, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_orders_total",
		Help: "Total number of orders accepted",
	}, []string{"side"})

	// OrdersCancelled counts successful cancellations.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predyx_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	})

	// TradesTotal counts trades executed.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predyx_trades_total",
		Help: "Total number of trades executed",
	})

	// MatchLatency is the latency of one submit-and-match pass.
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "predyx_match_latency_seconds",
		Help:    "Order submission and matching latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// InsufficientFundsRejections counts orders rejected for lack of credits.
	InsufficientFundsRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predyx_insufficient_funds_rejections_total",
		Help: "Orders rejected due to insufficient credits",
	})

	// ExposureLimitRejections counts orders rejected by the exposure limiter.
	ExposureLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predyx_exposure_limit_rejections_total",
		Help: "Orders rejected by exposure limiter",
	})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predyx_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predyx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predyx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// MarketVolume tracks cumulative traded credits per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_market_volume_total",
		Help: "Cumulative traded value in credits",
	}, []string{"market_id"})
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

		// Use the raw path for the label; route patterns are shallow
		// enough here that cardinality stays bounded.
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
