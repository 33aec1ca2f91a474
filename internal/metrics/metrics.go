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

// Metrics holds all Prometheus metrics for the trade engine.
type Metrics struct {
	// Detection
	SignalsDetected  prometheus.Counter
	SignalsDuplicate prometheus.Counter

	// Lifecycle
	EntriesOpened    prometheus.Counter
	EntriesCancelled prometheus.Counter
	PositionsClosed  *prometheus.CounterVec // labels: exit_type
	OpenPositions    prometheus.Gauge
	RealizedPnL      prometheus.Gauge // cumulative, may go negative

	// Gateway resilience
	GatewayRetries      prometheus.Counter
	GatewayBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	GatewayBreakerTrips prometheus.Counter

	// Ingestion
	BarsIngested prometheus.Counter
	WSReconnects prometheus.Counter

	// Scheduling
	TickDuration      prometheus.Histogram
	InstrumentsActive prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		SignalsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_signals_detected_total",
			Help: "Signals admitted by the detector",
		}),
		SignalsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_signals_duplicate_total",
			Help: "Signals suppressed by the archive uniqueness constraint",
		}),
		EntriesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_entries_opened_total",
			Help: "Entry orders confirmed filled",
		}),
		EntriesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_entries_cancelled_total",
			Help: "Entry orders cancelled unfilled after the wait window",
		}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_positions_closed_total",
			Help: "Positions closed (by exit type)",
		}, []string{"exit_type"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_open_positions",
			Help: "Positions currently in a live status",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_realized_pnl",
			Help: "Cumulative realized P&L since process start",
		}),
		GatewayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_gateway_retries_total",
			Help: "Exchange calls retried after transient failures",
		}),
		GatewayBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_gateway_circuit_breaker_state",
			Help: "Exchange circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		GatewayBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_gateway_circuit_breaker_trips_total",
			Help: "Times the exchange circuit breaker tripped open",
		}),
		BarsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_bars_ingested_total",
			Help: "Closed 4h bars persisted with indicators",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_ws_reconnects_total",
			Help: "Kline WebSocket reconnection attempts",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeengine_tick_duration_seconds",
			Help:    "Wall time of one full orchestration tick across instruments",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		InstrumentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_instruments_active",
			Help: "Instruments currently in the tradable universe",
		}),
	}

	prometheus.MustRegister(
		m.SignalsDetected,
		m.SignalsDuplicate,
		m.EntriesOpened,
		m.EntriesCancelled,
		m.PositionsClosed,
		m.OpenPositions,
		m.RealizedPnL,
		m.GatewayRetries,
		m.GatewayBreakerState,
		m.GatewayBreakerTrips,
		m.BarsIngested,
		m.WSReconnects,
		m.TickDuration,
		m.InstrumentsActive,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastBarTime    time.Time `json:"last_bar_time"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	RedisConnected bool      `json:"redis_connected"`
	GatewayOK      bool      `json:"gateway_ok"`

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

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetGatewayOK(v bool) {
	h.mu.Lock()
	h.GatewayOK = v
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

// CheckSQLite runs a trivial query and records latency + health.
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

	if !h.SQLiteOK || !h.GatewayOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && !h.GatewayOK {
		overallStatus = "unhealthy"
	}

	// Age of the newest persisted bar
	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		GatewayOK       bool    `json:"gateway_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		GatewayOK:       h.GatewayOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
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
