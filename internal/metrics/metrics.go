// Package metrics provides Prometheus instrumentation for the league API
// and valuation worker.
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
	// TradesTotal counts settled trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsf_trades_total",
		Help: "Total number of settled trades",
	}, []string{"side"})

	// TradeRejections counts trades refused before settlement.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsf_trade_rejections_total",
		Help: "Trades rejected during settlement",
	}, []string{"reason"})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wsf_settlement_seconds",
		Help:    "Trade settlement latency in seconds, including transaction retries",
		Buckets: prometheus.DefBuckets,
	})

	// QuoteRequests counts upstream quote lookups by result (ok, error, cache_hit).
	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsf_quote_requests_total",
		Help: "Quote provider requests",
	}, []string{"result"})

	ValuationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsf_valuation_runs_total",
		Help: "Portfolio valuation refresh runs",
	}, []string{"result"})

	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wsf_feed_clients",
		Help: "Number of connected league feed websocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsf_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wsf_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "route"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes through to the wrapped writer so websocket upgrades work
// behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
