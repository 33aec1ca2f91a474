package instruments

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"meanrev-trader/internal/model"
	"meanrev-trader/internal/store/sqlite"
	"meanrev-trader/pkg/binance"
)

type fakeProvider struct {
	info binance.ExchangeInfo
}

func (f *fakeProvider) ExchangeInfo(ctx context.Context) (*binance.ExchangeInfo, error) {
	return &f.info, nil
}

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func perp(symbol string, pricePrec, qtyPrec int) binance.SymbolInfo {
	return binance.SymbolInfo{
		Symbol: symbol, Status: "TRADING", QuoteAsset: "USDT",
		ContractType: "PERPETUAL", PricePrecision: pricePrec, QuantityPrecision: qtyPrec,
	}
}

func TestSyncUpsertsEligibleContracts(t *testing.T) {
	store := testStore(t)
	provider := &fakeProvider{info: binance.ExchangeInfo{Symbols: []binance.SymbolInfo{
		perp("BTCUSDT", 2, 3),
		perp("ETHUSDT", 2, 2),
		{Symbol: "BTCUSD_PERP", Status: "TRADING", QuoteAsset: "USD", ContractType: "PERPETUAL"}, // coin-margined
		{Symbol: "BTCUSDT_240628", Status: "TRADING", QuoteAsset: "USDT", ContractType: "CURRENT_QUARTER"},
		{Symbol: "OLDUSDT", Status: "SETTLING", QuoteAsset: "USDT", ContractType: "PERPETUAL"},
	}}}

	syncer := NewSyncer(provider, store, slog.Default())
	universe, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(universe) != 2 {
		t.Fatalf("universe = %d symbols, want 2", len(universe))
	}

	btc, err := store.Instrument("BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if btc.PricePrecision != 2 || btc.QuantityPrecision != 3 {
		t.Errorf("precisions = %d/%d", btc.PricePrecision, btc.QuantityPrecision)
	}
}

func TestSyncDeactivatesDelisted(t *testing.T) {
	store := testStore(t)
	if err := store.UpsertInstrument(model.Instrument{Symbol: "GONEUSDT", Active: true}); err != nil {
		t.Fatal(err)
	}

	provider := &fakeProvider{info: binance.ExchangeInfo{Symbols: []binance.SymbolInfo{perp("BTCUSDT", 2, 3)}}}
	syncer := NewSyncer(provider, store, slog.Default())
	universe, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(universe) != 1 || universe[0].Symbol != "BTCUSDT" {
		t.Fatalf("universe = %+v", universe)
	}

	gone, err := store.Instrument("GONEUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if gone.Active {
		t.Error("delisted instrument still active")
	}
}

func TestSyncHonorsAllowlist(t *testing.T) {
	store := testStore(t)
	provider := &fakeProvider{info: binance.ExchangeInfo{Symbols: []binance.SymbolInfo{
		perp("BTCUSDT", 2, 3),
		perp("ETHUSDT", 2, 2),
		perp("XRPUSDT", 4, 1),
	}}}

	syncer := NewSyncer(provider, store, slog.Default())
	syncer.Allowlist = []string{"ETHUSDT"}
	universe, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(universe) != 1 || universe[0].Symbol != "ETHUSDT" {
		t.Fatalf("universe = %+v", universe)
	}
}
