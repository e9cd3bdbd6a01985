// Package metrics provides Prometheus instrumentation for the trading engine.
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
	// TicksTotal counts engine ticks, partitioned by move kind.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batr_ticks_total",
		Help: "Total price engine ticks by move kind",
	}, []string{"move"})

	// CurrentPrice tracks the latest mark price.
	CurrentPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batr_price",
		Help: "Current mark price of the synthetic instrument",
	})

	// TradesTotal counts opened positions, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batr_trades_total",
		Help: "Total positions opened",
	}, []string{"side"})

	// TradeRejections counts rejected open/close requests by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batr_trade_rejections_total",
		Help: "Ledger operations rejected by validation",
	}, []string{"reason"})

	// OpenPositions tracks live (non-liquidated) positions across all players.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batr_open_positions",
		Help: "Number of live positions in the ledger",
	})

	// LiquidationsTotal counts positions liquidated by mark-to-market.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batr_liquidations_total",
		Help: "Total positions liquidated",
	})

	// WebSocketClients tracks connected price feed subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batr_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batr_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batr_http_request_duration_seconds",
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
