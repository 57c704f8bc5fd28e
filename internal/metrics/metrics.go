// Package metrics exposes Prometheus metrics and a health endpoint for the
// risk engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the risk engine.
type Metrics struct {
	QuotesTotal     prometheus.Counter
	StaleQuotes     prometheus.Counter
	DroppedQuotes   prometheus.Counter
	FeedReconnects  prometheus.Counter
	ActiveMonitors  prometheus.Gauge

	FiresTotal       *prometheus.CounterVec // labels: kind
	BudgetApprovals  prometheus.Counter
	BudgetDenials    prometheus.Counter
	OrdersSubmitted  prometheus.Counter
	OrderRejections  prometheus.Counter
	FillsTotal       prometheus.Counter
	QtyExitedTotal   prometheus.Counter

	JournalWriteDur prometheus.Histogram
	RedisPublishDur prometheus.Histogram
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		QuotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_quotes_total",
			Help: "Total quotes received from the feed",
		}),
		StaleQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_stale_quotes_total",
			Help: "Quotes discarded for arriving out of timestamp order",
		}),
		DroppedQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_dropped_quotes_total",
			Help: "Quotes dropped because a monitor's buffer was full",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_feed_reconnects_total",
			Help: "Total quote feed reconnection attempts",
		}),
		ActiveMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_active_monitors",
			Help: "Number of positions under active risk management",
		}),

		FiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_level_fires_total",
			Help: "Exit levels fired, by level kind",
		}, []string{"kind"}),
		BudgetApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_budget_approvals_total",
			Help: "Order budget requests approved",
		}),
		BudgetDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_budget_denials_total",
			Help: "Order budget requests denied (fires suppressed)",
		}),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_orders_submitted_total",
			Help: "Exit orders handed to the order router",
		}),
		OrderRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_order_rejections_total",
			Help: "Orders rejected by the router or broker",
		}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_fills_total",
			Help: "Fill reports applied to monitor state",
		}),
		QtyExitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_qty_exited_total",
			Help: "Total quantity exited by autonomous orders",
		}),

		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_journal_write_duration_seconds",
			Help:    "SQLite fill journal write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_redis_publish_duration_seconds",
			Help:    "Redis event publish latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.QuotesTotal, m.StaleQuotes, m.DroppedQuotes, m.FeedReconnects,
		m.ActiveMonitors, m.FiresTotal, m.BudgetApprovals, m.BudgetDenials,
		m.OrdersSubmitted, m.OrderRejections, m.FillsTotal, m.QtyExitedTotal,
		m.JournalWriteDur, m.RedisPublishDur,
	)
	return m
}

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	StartedAt      time.Time
	FeedConnected  bool
	LastQuoteTime  time.Time
	RedisConnected bool
	RedisLatencyMs float64
	SQLiteOK       bool
	ActiveMonitors int
	LastCheckAt    time.Time
}

// NewHealthStatus creates a HealthStatus with the start time set.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastQuoteTime(t time.Time) {
	h.mu.Lock()
	h.LastQuoteTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveMonitors(n int) {
	h.mu.Lock()
	h.ActiveMonitors = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	err := db.PingContext(ctx)
	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	quoteAge := ""
	if !h.LastQuoteTime.IsZero() {
		quoteAge = time.Since(h.LastQuoteTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		FeedConnected  bool    `json:"feed_connected"`
		LastQuoteTime  string  `json:"last_quote_time"`
		QuoteAge       string  `json:"quote_age"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		SQLiteOK       bool    `json:"sqlite_ok"`
		ActiveMonitors int     `json:"active_monitors"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:  h.FeedConnected,
		LastQuoteTime:  h.LastQuoteTime.Format(time.RFC3339),
		QuoteAge:       quoteAge,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		SQLiteOK:       h.SQLiteOK,
		ActiveMonitors: h.ActiveMonitors,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
