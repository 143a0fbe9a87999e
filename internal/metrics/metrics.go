// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the simulator.
type Metrics struct {
	TicksTotal     prometheus.Counter
	CandlesTotal   prometheus.Counter
	LateTicks      prometheus.Counter
	CandlesEvicted prometheus.Counter
	FeedReconnects prometheus.Counter
	FeedErrors     prometheus.Counter
	FeedConnected  prometheus.Gauge
	LastPrice      prometheus.Gauge

	// Orders
	OrdersSubmitted *prometheus.CounterVec // labels: mode, side
	OrdersRejected  *prometheus.CounterVec // labels: kind
	OrdersFilled    *prometheus.CounterVec // labels: mode, side
	PendingOrders   prometheus.Gauge
	TradesClosed    prometheus.Counter

	// Indicators
	IndicatorComputeDur prometheus.Histogram
	HistoryReloads      prometheus.Counter
	HistoryFallbacks    prometheus.Counter

	// Persistence
	SnapshotSaveDur    prometheus.Histogram
	SnapshotSaveErrors prometheus.Counter
	SQLiteCommitDur    prometheus.Histogram

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedSnapshots   prometheus.Counter

	// Alerts
	AlertsSent   prometheus.Counter
	AlertsFailed prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	latencyBuckets := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}

	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_ticks_total",
			Help: "Total price ticks processed",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_candles_total",
			Help: "Total candles opened by the aggregator",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_late_ticks_total",
			Help: "Ticks older than the active bucket (matched, not aggregated)",
		}),
		CandlesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_candles_evicted_total",
			Help: "Candles evicted from the bounded window",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_feed_reconnects_total",
			Help: "Total price feed reconnection attempts",
		}),
		FeedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_feed_errors_total",
			Help: "Feed messages dropped because they could not be parsed",
		}),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_feed_connected",
			Help: "Price feed connection state (0=disconnected, 1=connected)",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_last_price",
			Help: "Latest reference price",
		}),

		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_orders_submitted_total",
			Help: "Orders accepted (by mode and side)",
		}, []string{"mode", "side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_orders_rejected_total",
			Help: "Orders rejected (by reason)",
		}, []string{"kind"}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_orders_filled_total",
			Help: "Orders filled (by mode and side)",
		}, []string{"mode", "side"}),
		PendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_pending_orders",
			Help: "Resting limit orders",
		}),
		TradesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_trades_closed_total",
			Help: "Closed (or partially closed) trades recorded",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_indicator_compute_duration_seconds",
			Help:    "Indicator recompute latency over the candle window",
			Buckets: latencyBuckets,
		}),
		HistoryReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_history_reloads_total",
			Help: "Candle series swapped in by a history reload",
		}),
		HistoryFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_history_cache_fallbacks_total",
			Help: "History requests served from the local candle cache",
		}),

		SnapshotSaveDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_snapshot_save_duration_seconds",
			Help:    "Snapshot save latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotSaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_snapshot_save_errors_total",
			Help: "Failed snapshot saves",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_sqlite_commit_duration_seconds",
			Help:    "SQLite snapshot transaction latency",
			Buckets: prometheus.DefBuckets,
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_fanout_drops_total",
			Help: "Updates dropped by the bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simulator_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_redis_buffered_snapshots_total",
			Help: "Snapshots held locally while the Redis circuit was open",
		}),

		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_alerts_sent_total",
			Help: "Alerts delivered to the webhook",
		}),
		AlertsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_alerts_failed_total",
			Help: "Alerts that failed delivery",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.LateTicks,
		m.CandlesEvicted,
		m.FeedReconnects,
		m.FeedErrors,
		m.FeedConnected,
		m.LastPrice,
		m.OrdersSubmitted,
		m.OrdersRejected,
		m.OrdersFilled,
		m.PendingOrders,
		m.TradesClosed,
		m.IndicatorComputeDur,
		m.HistoryReloads,
		m.HistoryFallbacks,
		m.SnapshotSaveDur,
		m.SnapshotSaveErrors,
		m.SQLiteCommitDur,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedSnapshots,
		m.AlertsSent,
		m.AlertsFailed,
	)

	return m
}

// SetChannelSaturation records a channel's fill percentage.
func (m *Metrics) SetChannelSaturation(name string, length, capacity int) {
	if capacity <= 0 {
		return
	}
	m.ChannelSaturationPct.WithLabelValues(name).Set(float64(length) / float64(capacity) * 100)
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Timeframe      int       `json:"timeframe"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetTimeframe(minutes int) {
	h.mu.Lock()
	h.Timeframe = minutes
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

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are
// skipped.
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

// Report is the /healthz response body.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	FeedConnected   bool    `json:"feed_connected"`
	LastTickTime    string  `json:"last_tick_time"`
	TickAge         string  `json:"tick_age"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	Timeframe       int     `json:"timeframe"`
	LastCheckAt     string  `json:"last_check_at"`
}

// Report summarizes the current health. Status is "healthy", "degraded"
// (feed down or Redis unreachable) or "unhealthy" (snapshot store down).
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	return Report{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Timeframe:       h.Timeframe,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}, httpCode
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, httpCode := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *zap.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
