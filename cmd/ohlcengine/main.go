// ohlcengine ingests 4-hour klines from the Binance futures WebSocket,
// computes indicators, and maintains the bar series and instrument universe
// the trade engine reads.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"meanrev-trader/config"
	"meanrev-trader/internal/instruments"
	"meanrev-trader/internal/logger"
	"meanrev-trader/internal/marketdata/klines"
	"meanrev-trader/internal/metrics"
	"meanrev-trader/internal/model"
	sqlitestore "meanrev-trader/internal/store/sqlite"
	"meanrev-trader/pkg/binance"
)

const (
	instrumentSyncEvery = 24 * time.Hour
	pruneEvery          = 7 * 24 * time.Hour
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	_ = godotenv.Load()

	appLog := logger.Init("ohlcengine", slog.LevelInfo)
	cfg := config.Load()

	// ---- Store ----
	store, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[ohlcengine] open store: %v", err)
	}
	defer store.Close()

	// ---- Metrics & health ----
	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSQLiteOK(true)
	health.SetGatewayOK(true)
	srv := metrics.NewServer(cfg.MetricsAddr, health)
	srv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		appLog.Info("shutdown signal received")
		cancel()
	}()

	health.StartLivenessChecker(ctx, nil, store.DB(), 30*time.Second)

	// ---- Instrument universe ----
	client := binance.New(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	syncer := instruments.NewSyncer(client, store, appLog)
	syncer.Allowlist = cfg.ParseSymbols()

	universe, err := syncer.Sync(ctx)
	if err != nil {
		log.Fatalf("[ohlcengine] instrument sync: %v", err)
	}
	m.InstrumentsActive.Set(float64(len(universe)))

	symbols := make([]string, 0, len(universe))
	for _, inst := range universe {
		symbols = append(symbols, inst.Symbol)
	}

	// ---- Ingestion pipeline ----
	ingestor := klines.NewIngestor(store, nil, m, health, appLog)
	if err := ingestor.Warm(symbols); err != nil {
		log.Fatalf("[ohlcengine] indicator warmup: %v", err)
	}

	stream := klines.NewStream(klines.StreamConfig{Symbols: symbols})
	stream.OnReconnect = m.WSReconnects.Inc
	stream.OnConnected = health.SetWSConnected

	barCh := make(chan model.Bar, 256)
	go func() {
		if err := stream.Run(ctx, barCh); err != nil && ctx.Err() == nil {
			appLog.Error("kline stream terminated", slog.String("error", err.Error()))
			cancel()
		}
	}()

	// ---- Maintenance loops ----
	go resyncLoop(ctx, syncer, m, appLog)
	go pruneLoop(ctx, store, cfg.BarRetention, appLog)

	appLog.Info("ohlcengine started", slog.Int("symbols", len(symbols)))
	ingestor.Run(ctx, barCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
}

// resyncLoop refreshes the instrument universe daily so new listings start
// accumulating history before they are first traded.
func resyncLoop(ctx context.Context, syncer *instruments.Syncer, m *metrics.Metrics, appLog *slog.Logger) {
	ticker := time.NewTicker(instrumentSyncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			universe, err := syncer.Sync(ctx)
			if err != nil {
				appLog.Error("instrument resync failed", slog.String("error", err.Error()))
				continue
			}
			m.InstrumentsActive.Set(float64(len(universe)))
		}
	}
}

// pruneLoop trims old bars weekly; the engine only ever reads recent
// history.
func pruneLoop(ctx context.Context, store *sqlitestore.Store, keep int, appLog *slog.Logger) {
	ticker := time.NewTicker(pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.PruneBars(keep)
			if err != nil {
				appLog.Error("bar prune failed", slog.String("error", err.Error()))
				continue
			}
			appLog.Info("bar history pruned", slog.Int64("deleted", deleted), slog.Int("keep", keep))
		}
	}
}
