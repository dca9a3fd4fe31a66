// Package metrics provides Prometheus instrumentation for the commitment ledger.
package metrics

import (
	"bufio"
	"fmt"
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
	// ChallengesCreated counts challenges created.
	ChallengesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bealive_challenges_created_total",
		Help: "Total number of challenges created",
	})

	// OpenChallenges tracks challenges created by this process that are
	// still OPEN.
	OpenChallenges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bealive_open_challenges",
		Help: "Number of currently open challenges",
	})

	// DueChallenges is the number of expired OPEN challenges seen by the
	// last sweep.
	DueChallenges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bealive_due_challenges",
		Help: "Expired challenges awaiting an outcome",
	})

	// CommitmentsTotal counts recorded commitments, partitioned by side.
	CommitmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bealive_commitments_total",
		Help: "Total number of commitments recorded",
	}, []string{"side"})

	// CommitRejections counts rejected commitments by error kind.
	CommitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bealive_commit_rejections_total",
		Help: "Commitments rejected by the ledger",
	}, []string{"kind"})

	// PoolVolume tracks cumulative staked amount per side.
	PoolVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bealive_pool_volume_total",
		Help: "Cumulative staked amount",
	}, []string{"side"})

	// Settlements counts resolved challenges by outcome ("true", "false",
	// or "refund" when nobody backed the winning side).
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bealive_settlements_total",
		Help: "Total number of settled challenges",
	}, []string{"outcome"})

	// Cancellations counts cancelled challenges.
	Cancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bealive_cancellations_total",
		Help: "Total number of cancelled challenges",
	})

	// LockWait tracks time spent waiting for a challenge lock.
	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bealive_lock_wait_seconds",
		Help:    "Time spent acquiring a per-challenge lock",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"op"})

	// LocksLost counts locks whose lease expired before release.
	LocksLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bealive_locks_lost_total",
		Help: "Challenge or participant locks that expired while held",
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bealive_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bealive_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bealive_http_request_duration_seconds",
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

		// Use the route pattern for the path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
