// tradeengine runs the mean-reversion trading loop: every 4-hour bar it
// evaluates the detector over the stored indicator series, archives fired
// signals, and drives each instrument's position lifecycle against the
// Binance futures API.
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
	"meanrev-trader/internal/exchange"
	"meanrev-trader/internal/logger"
	"meanrev-trader/internal/metrics"
	"meanrev-trader/internal/notification"
	"meanrev-trader/internal/orchestrator"
	redisstore "meanrev-trader/internal/store/redis"
	sqlitestore "meanrev-trader/internal/store/sqlite"
	"meanrev-trader/pkg/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	_ = godotenv.Load()

	appLog := logger.Init("tradeengine", slog.LevelInfo)
	cfg := config.Load()

	// ---- Store ----
	store, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[tradeengine] open store: %v", err)
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

	// ---- Optional redis coordination layer ----
	var locker orchestrator.Locker
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.RedisAddr != "" {
		rdb, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Fatalf("[tradeengine] redis: %v", err)
		}
		defer rdb.Close()
		locker = redisstore.NewLocker(rdb)
		notifiers = append(notifiers, redisstore.NewEventPublisher(rdb, ""))
		health.StartLivenessChecker(ctx, rdb, store.DB(), 30*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 30*time.Second)
	}

	// ---- Notifications ----
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	var muted []notification.EventKind
	for _, kind := range cfg.ParseMutedEvents() {
		muted = append(muted, notification.EventKind(kind))
	}
	dispatcher := notification.NewDispatcher(notifiers, muted)

	// ---- Exchange gateway ----
	client := binance.New(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	gateway := exchange.NewBinanceGateway(client, exchange.BinanceConfig{Leverage: cfg.Leverage})
	gateway.Breaker().OnStateChange = func(from, to exchange.State) {
		m.GatewayBreakerState.Set(float64(to))
		if to == exchange.StateOpen {
			m.GatewayBreakerTrips.Inc()
			health.SetGatewayOK(false)
		}
		if to == exchange.StateClosed {
			health.SetGatewayOK(true)
		}
		appLog.Warn("gateway circuit breaker state change",
			slog.String("from", from.String()), slog.String("to", to.String()))
	}

	// ---- Orchestration ----
	orch := orchestrator.New(store, gateway, dispatcher, m, appLog, orchestrator.Config{
		AllocationPct:  cfg.AllocationPct,
		Leverage:       float64(cfg.Leverage),
		MaxSlippagePct: cfg.MaxSlippagePct,
		EntryWait:      cfg.EntryWait,
	})
	runner := orchestrator.NewRunner(store, orch, locker, appLog, orchestrator.RunnerConfig{
		TickOffset: cfg.TickOffset,
	})

	appLog.Info("tradeengine started",
		slog.Float64("allocation_pct", cfg.AllocationPct),
		slog.Int("leverage", cfg.Leverage))

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("[tradeengine] fatal: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
}
