package orchestrator

import (
	"context"
	"testing"
	"time"

	"meanrev-trader/internal/exchange"
	"meanrev-trader/internal/model"
)

func newRunnerFixture(t *testing.T) (*fixture, *Runner) {
	t.Helper()
	f := newFixture(t)
	r := NewRunner(f.store, f.orch, nil, f.orch.log, RunnerConfig{})
	r.now = f.orch.now
	return f, r
}

// firingBars inserts a bar pair that trips the long entry rule.
func firingBars(t *testing.T, f *fixture, barTime time.Time) {
	t.Helper()
	pair := []model.Bar{
		{Symbol: "BTCUSDT", Timestamp: barTime.Add(-model.BarInterval), Close: 99, RSI: 40, ADX: 15, ZScore: -2.02},
		{Symbol: "BTCUSDT", Timestamp: barTime, Close: 100, RSI: 42, ADX: 18, ZScore: -1.8},
	}
	for _, b := range pair {
		if err := f.store.InsertBar(b); err != nil {
			t.Fatalf("insert bar: %v", err)
		}
	}
}

func TestRunOnceDetectsAndEnters(t *testing.T) {
	f, r := newRunnerFixture(t)
	firingBars(t, f, t0)

	// The entry fills immediately on the first wait round.
	f.gw.fillOnPlace = &exchange.PositionState{Qty: 5, EntryPrice: 99.9}

	r.RunOnce(context.Background())

	sig, err := f.store.LatestSignal("BTCUSDT")
	if err != nil {
		t.Fatalf("signal not archived: %v", err)
	}
	if sig.Direction != model.Long || !sig.BarTime.Equal(t0) {
		t.Errorf("signal = %+v", sig)
	}

	pos, err := f.store.LivePosition("BTCUSDT")
	if err != nil {
		t.Fatalf("no live position: %v", err)
	}
	if pos.Status != model.StatusOpen {
		t.Errorf("status = %s, want Open", pos.Status)
	}
}

func TestRunOnceSuppressesDuplicateBar(t *testing.T) {
	f, r := newRunnerFixture(t)
	firingBars(t, f, t0)

	r.RunOnce(context.Background()) // entry unfilled, slot released

	if pos, err := f.store.LivePosition("BTCUSDT"); err == nil {
		t.Fatalf("unexpected live position: %+v", pos)
	}
	placed := len(f.gw.placed)
	if placed != 1 {
		t.Fatalf("placed = %d, want 1", placed)
	}

	// Same bars, next tick: the archive already owns the signal, so no
	// second entry attempt happens.
	r.RunOnce(context.Background())
	if len(f.gw.placed) != placed {
		t.Error("duplicate bar produced a second entry")
	}
}

func TestRunOnceManagesLivePositionInsteadOfEntering(t *testing.T) {
	f, r := newRunnerFixture(t)
	pos := f.openPosition(t, model.Long)
	firingBars(t, f, t0) // bars fire, but the live position owns the symbol

	f.gw.position = exchange.PositionState{} // externally closed
	f.gw.trades = []model.Trade{
		{Symbol: "BTCUSDT", Side: "BUY", Price: 100, Qty: 1, PnLReported: true},
		{Symbol: "BTCUSDT", Side: "SELL", Price: 105, Qty: 1, RealizedPnL: 5, PnLReported: true},
	}

	r.RunOnce(context.Background())

	got := f.reload(t, pos.ID)
	if got.Status != model.StatusClosed || got.ExitType != model.ExitTakeProfit {
		t.Errorf("status=%s exit=%s, want Closed/TakeProfit", got.Status, got.ExitType)
	}
	if len(f.gw.placed) != 0 {
		t.Error("entered while a position was live")
	}
}

func TestNextTickBoundaries(t *testing.T) {
	_, r := newRunnerFixture(t)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		now, want time.Time
	}{
		{day.Add(10 * time.Minute), day.Add(15 * time.Minute)},
		{day.Add(15 * time.Minute), day.Add(4*time.Hour + 15*time.Minute)}, // strictly after
		{day.Add(1 * time.Hour), day.Add(4*time.Hour + 15*time.Minute)},
		{day.Add(7*time.Hour + 59*time.Minute), day.Add(8*time.Hour + 15*time.Minute)},
	}
	for _, tc := range cases {
		if got := r.nextTick(tc.now); !got.Equal(tc.want) {
			t.Errorf("nextTick(%v) = %v, want %v", tc.now, got, tc.want)
		}
	}
}

type denyLocker struct{ denied int }

func (d *denyLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	d.denied++
	return nil, false, nil
}

func TestRunOnceSkipsSymbolsLockedElsewhere(t *testing.T) {
	f, r := newRunnerFixture(t)
	locker := &denyLocker{}
	r.locker = locker
	firingBars(t, f, t0)

	r.RunOnce(context.Background())

	if locker.denied == 0 {
		t.Fatal("locker never consulted")
	}
	if len(f.gw.placed) != 0 {
		t.Error("entered a symbol another replica holds")
	}
	if _, err := f.store.LatestSignal("BTCUSDT"); err == nil {
		t.Error("signal archived for a skipped symbol")
	}
}
