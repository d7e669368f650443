// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrderRequestsTotal counts order requests accepted into a request queue.
	OrderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_order_requests_total",
		Help: "Order requests accepted, by side",
	}, []string{"side"})

	// OrdersProcessedTotal counts requests turned into orders.
	OrdersProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_orders_processed_total",
		Help: "Order requests processed into orders",
	})

	// TradesTotal counts trade receipts, partitioned by side and role.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trades_total",
		Help: "Total number of trade receipts",
	}, []string{"side", "role"})

	// MatchedVolume tracks cumulative matched stake per market.
	MatchedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_matched_stake_total",
		Help: "Cumulative matched stake in base units",
	}, []string{"market_id"})

	// MatchLatency is the time taken by one engine call that matches.
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_match_latency_seconds",
		Help:    "Engine matching call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// Cancellations counts cancelled stake events by reason.
	Cancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_cancellations_total",
		Help: "Order cancellations by reason",
	}, []string{"reason"})

	// Settlements counts position payouts by kind (settle or void).
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_position_settlements_total",
		Help: "Position settlements and void refunds",
	}, []string{"kind"})

	// CommissionPaid tracks commission paid to products.
	CommissionPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_commission_paid_total",
		Help: "Commission paid in base units, by product",
	}, []string{"product"})

	// Rejections counts engine calls rejected, by error kind.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_rejections_total",
		Help: "Engine calls rejected, by error kind",
	}, []string{"op", "kind"})

	// ActiveMarkets tracks the number of markets accepting orders.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_active_markets",
		Help: "Number of currently open markets",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the chi route pattern for the path label to avoid
// high cardinality, falling back to the raw path outside a chi router.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
