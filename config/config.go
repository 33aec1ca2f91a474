package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Binance credentials
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Infrastructure
	SQLitePath    string
	MetricsAddr   string
	RedisAddr     string // empty disables the redis coordination layer
	RedisPassword string

	// Trading
	AllocationPct  float64
	Leverage       int
	MaxSlippagePct float64
	EntryWait      time.Duration
	TickOffset     time.Duration

	// Universe: comma-separated symbol allowlist; empty trades everything
	// eligible.
	Symbols string

	// Retention: 4h bars kept per symbol by the weekly prune.
	BarRetention int

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
	MutedEvents      string // comma-separated event kinds to drop
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BinanceAPIKey:    mustEnv("BINANCE_API_KEY"),
		BinanceAPISecret: mustEnv("BINANCE_API_SECRET"),
		BinanceTestnet:   getEnvBool("BINANCE_TESTNET", false),

		SQLitePath:    getEnv("SQLITE_PATH", "data/meanrev.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AllocationPct:  getEnvFloat("TRADE_ALLOCATION_PCT", 0.10),
		Leverage:       getEnvInt("LEVERAGE", 5),
		MaxSlippagePct: getEnvFloat("MAX_SLIPPAGE_PCT", 0.01),
		EntryWait:      getEnvDuration("ENTRY_WAIT", 3*time.Minute),
		TickOffset:     getEnvDuration("TICK_OFFSET", 15*time.Minute),

		Symbols:      getEnv("SYMBOLS", ""),
		BarRetention: getEnvInt("BAR_RETENTION", 200),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		MutedEvents:      getEnv("MUTED_EVENTS", ""),
	}
}

// ParseSymbols returns the symbol allowlist, nil when unrestricted.
func (c *Config) ParseSymbols() []string {
	return splitCSV(c.Symbols)
}

// ParseMutedEvents returns the notification kinds to drop.
func (c *Config) ParseMutedEvents() []string {
	return splitCSV(c.MutedEvents)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
