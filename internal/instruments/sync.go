// Package instruments maintains the tradable universe: USDT-margined
// perpetual contracts in TRADING status, synced from exchange info into the
// store with their price and quantity precisions.
package instruments

import (
	"context"
	"fmt"
	"log/slog"

	"meanrev-trader/internal/model"
	"meanrev-trader/internal/store/sqlite"
	"meanrev-trader/pkg/binance"
)

// ExchangeInfoProvider is the slice of the REST client the syncer needs.
type ExchangeInfoProvider interface {
	ExchangeInfo(ctx context.Context) (*binance.ExchangeInfo, error)
}

// Syncer reconciles the stored instrument table against exchange info.
type Syncer struct {
	client ExchangeInfoProvider
	store  *sqlite.Store
	log    *slog.Logger

	// Allowlist restricts the universe to these symbols when non-empty.
	Allowlist []string
}

// NewSyncer creates a syncer.
func NewSyncer(client ExchangeInfoProvider, store *sqlite.Store, log *slog.Logger) *Syncer {
	return &Syncer{client: client, store: store, log: log}
}

// Sync upserts every eligible contract and deactivates stored instruments
// the exchange no longer lists as trading. Returns the active universe.
func (s *Syncer) Sync(ctx context.Context) ([]model.Instrument, error) {
	info, err := s.client.ExchangeInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("instruments: exchange info: %w", err)
	}

	allowed := make(map[string]bool, len(s.Allowlist))
	for _, sym := range s.Allowlist {
		allowed[sym] = true
	}

	listed := make(map[string]bool, len(info.Symbols))
	for _, sym := range info.Symbols {
		if !eligible(sym) {
			continue
		}
		if len(allowed) > 0 && !allowed[sym.Symbol] {
			continue
		}
		listed[sym.Symbol] = true
		err := s.store.UpsertInstrument(model.Instrument{
			Symbol:            sym.Symbol,
			PricePrecision:    sym.PricePrecision,
			QuantityPrecision: sym.QuantityPrecision,
			Active:            true,
		})
		if err != nil {
			return nil, fmt.Errorf("instruments: upsert %s: %w", sym.Symbol, err)
		}
	}

	// Anything active in the store but gone from the listing is delisted.
	active, err := s.store.ActiveInstruments()
	if err != nil {
		return nil, err
	}
	universe := active[:0]
	for _, inst := range active {
		if listed[inst.Symbol] {
			universe = append(universe, inst)
			continue
		}
		if err := s.store.DeactivateInstrument(inst.Symbol, "not listed as trading in exchange info"); err != nil {
			return nil, err
		}
		s.log.Warn("instrument delisted", slog.String("symbol", inst.Symbol))
	}

	s.log.Info("instrument universe synced", slog.Int("active", len(universe)))
	return universe, nil
}

func eligible(sym binance.SymbolInfo) bool {
	return sym.Status == "TRADING" &&
		sym.QuoteAsset == "USDT" &&
		sym.ContractType == "PERPETUAL"
}
