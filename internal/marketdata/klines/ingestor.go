package klines

import (
	"context"
	"fmt"
	"log/slog"

	"meanrev-trader/internal/indicator"
	"meanrev-trader/internal/metrics"
	"meanrev-trader/internal/model"
	"meanrev-trader/internal/notification"
	"meanrev-trader/internal/store/sqlite"
)

// warmupBars is how much history each symbol replays at startup to rebuild
// indicator state. Comfortably above the longest indicator warm-up.
const warmupBars = 200

// Ingestor annotates streamed bars with indicators and persists them. One
// indicator set per symbol, warmed from stored history at startup.
type Ingestor struct {
	store   *sqlite.Store
	notify  *notification.Dispatcher
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	log     *slog.Logger

	sets map[string]*indicator.Set
}

// NewIngestor creates an ingestor. notify, m, and health may be nil.
func NewIngestor(store *sqlite.Store, notify *notification.Dispatcher, m *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		notify:  notify,
		metrics: m,
		health:  health,
		log:     log,
		sets:    make(map[string]*indicator.Set),
	}
}

// Warm replays each symbol's stored history through a fresh indicator set
// so the first streamed bar continues the series instead of restarting it.
func (ing *Ingestor) Warm(symbols []string) error {
	for _, sym := range symbols {
		set := indicator.NewSet()
		history, err := ing.store.BarHistory(sym, warmupBars)
		if err != nil {
			return fmt.Errorf("klines: warm %s: %w", sym, err)
		}
		set.Warm(history)
		ing.sets[sym] = set
		ing.log.Info("indicator state warmed", slog.String("symbol", sym), slog.Int("bars", len(history)))
	}
	return nil
}

// Run consumes closed bars from barCh until ctx ends or the channel closes.
func (ing *Ingestor) Run(ctx context.Context, barCh <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			if err := ing.ingest(bar); err != nil {
				ing.log.Error("bar ingest failed", slog.String("symbol", bar.Symbol), slog.String("error", err.Error()))
			}
		}
	}
}

func (ing *Ingestor) ingest(bar model.Bar) error {
	set, ok := ing.sets[bar.Symbol]
	if !ok {
		// Symbol joined the universe after startup.
		set = indicator.NewSet()
		ing.sets[bar.Symbol] = set
	}

	annotated := set.Apply(bar)
	if err := ing.store.InsertBar(annotated); err != nil {
		return err
	}

	if ing.metrics != nil {
		ing.metrics.BarsIngested.Inc()
	}
	if ing.health != nil {
		ing.health.SetLastBarTime(annotated.Timestamp)
	}
	ing.log.Debug("bar persisted",
		slog.String("symbol", annotated.Symbol),
		slog.Time("bar_time", annotated.Timestamp),
		slog.Float64("close", annotated.Close))

	// A 4h bar with zero volume means the contract stopped trading;
	// delisting announcements show up this way before order placement
	// starts failing.
	if annotated.Volume == 0 {
		return ing.deactivate(annotated.Symbol)
	}
	return nil
}

func (ing *Ingestor) deactivate(symbol string) error {
	const reason = "no traded volume over a full 4h bar"
	if err := ing.store.DeactivateInstrument(symbol, reason); err != nil {
		return err
	}
	delete(ing.sets, symbol)
	ing.notify.InstrumentDeactivated(symbol, reason)
	ing.log.Warn("instrument deactivated", slog.String("symbol", symbol), slog.String("reason", reason))
	return nil
}
