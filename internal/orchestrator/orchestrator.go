// Package orchestrator drives the position lifecycle: entry on a fresh
// signal, exit evaluation each tick, and crash recovery from persisted
// state. All trading state lives in the store — the orchestrator itself
// holds nothing across ticks, so a restart resumes exactly where the
// database says the world is.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"meanrev-trader/internal/detector"
	"meanrev-trader/internal/exchange"
	"meanrev-trader/internal/metrics"
	"meanrev-trader/internal/model"
	"meanrev-trader/internal/notification"
	"meanrev-trader/internal/store/sqlite"
)

// Exit thresholds on the current bar's z-score. Level2 means the reversion
// thesis failed (price re-extended past the band); Level0 means it played
// out (z back near neutral).
const (
	level2Z = 2.0
	level0Z = 0.25
)

// Config tunes position sizing and entry patience.
type Config struct {
	AllocationPct  float64       // fraction of balance committed per entry
	Leverage       float64       // position notional multiplier
	MaxSlippagePct float64       // abort entry if price drifted past this
	EntryWait      time.Duration // per-round wait before a fill check
	EntryWaitSteps int           // fill-check rounds before cancelling
}

func (c Config) withDefaults() Config {
	if c.AllocationPct == 0 {
		c.AllocationPct = 0.10
	}
	if c.Leverage == 0 {
		c.Leverage = 5
	}
	if c.MaxSlippagePct == 0 {
		c.MaxSlippagePct = 0.01
	}
	if c.EntryWait == 0 {
		c.EntryWait = 3 * time.Minute
	}
	if c.EntryWaitSteps == 0 {
		c.EntryWaitSteps = 2
	}
	return c
}

// Orchestrator owns the lifecycle of positions for all instruments.
// Callers must serialize calls per instrument; the Runner does this with
// per-symbol locks.
type Orchestrator struct {
	store   *sqlite.Store
	gateway exchange.Gateway
	notify  *notification.Dispatcher
	metrics *metrics.Metrics
	log     *slog.Logger
	cfg     Config
	retry   exchange.RetryPolicy

	// Injectable clocks for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. notify and m may be nil.
func New(store *sqlite.Store, gw exchange.Gateway, notify *notification.Dispatcher, m *metrics.Metrics, log *slog.Logger, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		gateway: gw,
		notify:  notify,
		metrics: m,
		log:     log,
		cfg:     cfg.withDefaults(),
		retry:   exchange.DefaultRetry(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	o.retry.OnRetry = func(op string) {
		if o.metrics != nil {
			o.metrics.GatewayRetries.Inc()
		}
		o.log.Warn("retrying exchange call", slog.String("op", op))
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ManagePosition advances one live position by a single tick: an unfilled
// Pending entry is confirmed or cancelled, an Open position is checked
// against the exit conditions on the current bar.
func (o *Orchestrator) ManagePosition(ctx context.Context, pos *model.Position, curr *model.Bar) error {
	switch pos.Status {
	case model.StatusPending:
		return o.resumePending(ctx, pos)
	case model.StatusOpen:
		return o.evaluateExits(ctx, pos, curr)
	default:
		return fmt.Errorf("orchestrator: position %d is terminal (%s)", pos.ID, pos.Status)
	}
}

// resumePending handles a Pending position found at tick start, which means
// the process died between entry submission and fill confirmation. The fill
// check is a position query, not an order query, so partial fills across
// the split limit orders still count.
func (o *Orchestrator) resumePending(ctx context.Context, pos *model.Position) error {
	state, err := o.checkFill(ctx, pos)
	if err != nil {
		return o.handleGatewayError(ctx, pos, err, "fill check")
	}
	if state.Open() {
		return o.confirmFill(pos, state)
	}

	// Unfilled past the wait window: release the live slot.
	if o.now().After(pos.CreatedAt.Add(time.Duration(o.cfg.EntryWaitSteps) * o.cfg.EntryWait)) {
		return o.cancelEntry(ctx, pos, "entry unfilled at restart recovery")
	}
	return nil // still within the wait window, next tick rechecks
}

func (o *Orchestrator) checkFill(ctx context.Context, pos *model.Position) (exchange.PositionState, error) {
	var state exchange.PositionState
	err := o.retry.Do(ctx, "open position", func() error {
		var err error
		state, err = o.gateway.OpenPosition(ctx, pos.Symbol)
		return err
	})
	return state, err
}

func (o *Orchestrator) confirmFill(pos *model.Position, state exchange.PositionState) error {
	entryTime := o.now()
	if err := o.store.MarkPositionOpen(pos.ID, entryTime, state.EntryPrice); err != nil {
		return err
	}
	pos.Status = model.StatusOpen
	pos.EntryTime = entryTime
	pos.EntryPrice = state.EntryPrice
	if o.metrics != nil {
		o.metrics.EntriesOpened.Inc()
	}
	o.notify.EntryOpened(pos)
	o.log.Info("entry filled",
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry_price", state.EntryPrice))
	return nil
}

func (o *Orchestrator) cancelEntry(ctx context.Context, pos *model.Position, reason string) error {
	if err := o.retry.Do(ctx, "cancel orders", func() error {
		return o.gateway.CancelAll(ctx, pos.Symbol)
	}); err != nil {
		return o.handleGatewayError(ctx, pos, err, "entry cancellation")
	}

	// The cancel can race a fill: re-check before declaring the entry dead.
	state, err := o.checkFill(ctx, pos)
	if err == nil && state.Open() {
		return o.confirmFill(pos, state)
	}

	if err := o.store.MarkPositionCancelled(pos.ID, reason); err != nil {
		return err
	}
	pos.Status = model.StatusCancelled
	if o.metrics != nil {
		o.metrics.EntriesCancelled.Inc()
	}
	o.notify.EntryCancelled(pos, reason)
	o.log.Info("entry cancelled", slog.String("symbol", pos.Symbol), slog.String("reason", reason))
	return nil
}

// evaluateExits checks the exit conditions in strict priority order:
// exchange-executed TP/SL first, then Level2 (thesis failed), Level0
// (thesis played out), and the 12-hour deadline last. The first match wins;
// the deadline never overrides a same-tick signal exit.
func (o *Orchestrator) evaluateExits(ctx context.Context, pos *model.Position, curr *model.Bar) error {
	state, err := o.checkFill(ctx, pos)
	if err != nil {
		return o.handleGatewayError(ctx, pos, err, "exit evaluation")
	}

	if !state.Open() {
		return o.reconcileExternalClose(ctx, pos)
	}

	var exit model.ExitType
	switch {
	case curr != nil && o.level2(pos.Direction, curr.ZScore):
		exit = model.ExitLevel2
	case curr != nil && o.level0(pos.Direction, curr.ZScore):
		exit = model.ExitLevel0
	case !o.now().Before(pos.TimeExitDeadline()):
		exit = model.ExitTime
	default:
		return nil // position stays open
	}
	return o.closePosition(ctx, pos, exit)
}

func (o *Orchestrator) level2(dir model.Direction, z float64) bool {
	if dir == model.Long {
		return z < -level2Z
	}
	return z > level2Z
}

func (o *Orchestrator) level0(dir model.Direction, z float64) bool {
	if dir == model.Long {
		return z > -level0Z
	}
	return z < level0Z
}

// closePosition cancels resting TP/SL orders, flattens at market, and
// records the reconciled result.
func (o *Orchestrator) closePosition(ctx context.Context, pos *model.Position, exit model.ExitType) error {
	if err := o.retry.Do(ctx, "cancel orders", func() error {
		return o.gateway.CancelAll(ctx, pos.Symbol)
	}); err != nil {
		return o.handleGatewayError(ctx, pos, err, "close: cancel orders")
	}

	if err := o.retry.Do(ctx, "close market", func() error {
		_, err := o.gateway.CloseMarket(ctx, pos.Symbol)
		return err
	}); err != nil {
		return o.handleGatewayError(ctx, pos, err, "close: market order")
	}

	return o.finalize(ctx, pos, exit, "")
}

// reconcileExternalClose handles a position the exchange already flattened:
// an attached TP or SL trigger executed between ticks. The exit type is
// inferred from the reconciled P&L sign.
func (o *Orchestrator) reconcileExternalClose(ctx context.Context, pos *model.Position) error {
	// Stray entry limit order halves may still be resting.
	if err := o.retry.Do(ctx, "cancel orders", func() error {
		return o.gateway.CancelAll(ctx, pos.Symbol)
	}); err != nil {
		return o.handleGatewayError(ctx, pos, err, "external close: cancel orders")
	}

	trades, err := o.fills(ctx, pos)
	if err != nil {
		return o.handleGatewayError(ctx, pos, err, "external close: trade history")
	}
	if len(trades) == 0 {
		// The database says Open, the exchange says flat, and there is no
		// fill evidence either way. Nothing can be reconciled honestly, so
		// escalate and leave the record alone.
		err := fmt.Errorf("orchestrator: %s open in store but flat on exchange with no fills", pos.Symbol)
		o.notify.SystemError(pos.Symbol, "Position state inconsistent", err)
		o.log.Error("inconsistent position state", slog.String("symbol", pos.Symbol), slog.Int64("position_id", pos.ID))
		return err
	}

	pnl, exitPrice := ReconcilePnL(trades)
	exit := model.ExitStopLoss
	if pnl > 0 {
		exit = model.ExitTakeProfit
	}
	return o.record(pos, exit, pnl, exitPrice, "")
}

// finalize reconciles P&L from the trade history and writes the terminal
// record.
func (o *Orchestrator) finalize(ctx context.Context, pos *model.Position, exit model.ExitType, note string) error {
	trades, err := o.fills(ctx, pos)
	if err != nil {
		return o.handleGatewayError(ctx, pos, err, "finalize: trade history")
	}
	pnl, exitPrice := ReconcilePnL(trades)
	return o.record(pos, exit, pnl, exitPrice, note)
}

func (o *Orchestrator) record(pos *model.Position, exit model.ExitType, pnl, exitPrice float64, note string) error {
	exitTime := o.now()
	if err := o.store.ClosePosition(pos.ID, exitTime, exitPrice, exit, pnl, note); err != nil {
		return err
	}
	pos.Status = model.StatusClosed
	pos.ExitTime = exitTime
	pos.ExitPrice = exitPrice
	pos.ExitType = exit
	pos.RealizedPnL = pnl
	pos.Note = note

	if o.metrics != nil {
		o.metrics.PositionsClosed.WithLabelValues(string(exit)).Inc()
		o.metrics.RealizedPnL.Add(pnl)
	}
	o.notify.PositionClosed(pos)
	o.log.Info("position closed",
		slog.String("symbol", pos.Symbol),
		slog.String("exit_type", string(exit)),
		slog.Float64("pnl", pnl),
		slog.Float64("exit_price", exitPrice))
	return nil
}

// fills returns the position's executed trades from just before entry until
// now. The minute of slack on both ends absorbs clock skew between the
// store's timestamps and the venue's.
func (o *Orchestrator) fills(ctx context.Context, pos *model.Position) ([]model.Trade, error) {
	from := pos.EntryTime
	if from.IsZero() {
		from = pos.CreatedAt
	}
	var trades []model.Trade
	err := o.retry.Do(ctx, "trade history", func() error {
		var err error
		trades, err = o.gateway.TradeHistory(ctx, pos.Symbol, from.Add(-time.Minute), o.now().Add(time.Minute))
		return err
	})
	return trades, err
}

// handleGatewayError maps a failed (already retried) exchange call onto the
// lifecycle. An invalid-instrument error deactivates the symbol and
// annotates the position; anything else is left for the next tick to retry,
// escalating only when the time-exit deadline has passed.
func (o *Orchestrator) handleGatewayError(ctx context.Context, pos *model.Position, err error, during string) error {
	if errors.Is(err, exchange.ErrInvalidInstrument) {
		return o.deactivate(ctx, pos, err)
	}

	if pos.Status == model.StatusOpen && o.now().After(pos.TimeExitDeadline()) {
		o.notify.SystemError(pos.Symbol, "Time exit blocked by exchange failure", err)
	}
	o.log.Error("gateway call failed",
		slog.String("symbol", pos.Symbol),
		slog.String("during", during),
		slog.String("error", err.Error()))
	return fmt.Errorf("orchestrator: %s during %s: %w", pos.Symbol, during, err)
}

// deactivate removes a delisted instrument from the universe and closes out
// its position record with an annotation. The market close is best-effort:
// a delisted symbol usually rejects further orders.
func (o *Orchestrator) deactivate(ctx context.Context, pos *model.Position, cause error) error {
	reason := fmt.Sprintf("exchange rejected symbol: %v", cause)
	if err := o.store.DeactivateInstrument(pos.Symbol, reason); err != nil {
		return err
	}
	o.notify.InstrumentDeactivated(pos.Symbol, reason)

	note := "instrument deactivated; close best-effort"
	_ = o.gateway.CancelAll(ctx, pos.Symbol)
	_, _ = o.gateway.CloseMarket(ctx, pos.Symbol)

	switch pos.Status {
	case model.StatusPending:
		if err := o.store.MarkPositionCancelled(pos.ID, note); err != nil {
			return err
		}
		pos.Status = model.StatusCancelled
	case model.StatusOpen:
		trades, err := o.fills(ctx, pos)
		var pnl, exitPrice float64
		if err == nil {
			pnl, exitPrice = ReconcilePnL(trades)
		}
		if err := o.record(pos, model.ExitStopLoss, pnl, exitPrice, note); err != nil {
			return err
		}
	}
	o.log.Warn("instrument deactivated", slog.String("symbol", pos.Symbol), slog.String("reason", reason))
	return nil
}

// SubmitEntry turns a ranked candidate into a Pending position with live
// orders on the exchange. It performs the pre-trade checks (slippage,
// exchange-side position, live-slot claim) and returns nil, nil when the
// entry is skipped rather than failed.
func (o *Orchestrator) SubmitEntry(ctx context.Context, cand detector.Candidate, inst model.Instrument) (*model.Position, error) {
	sig := cand.Signal

	// The exchange may hold a position the store does not know about
	// (manual trading, a previous bug). Never stack onto it.
	state, err := exchange.Retry(ctx, o.retry, "open position", func() (exchange.PositionState, error) {
		return o.gateway.OpenPosition(ctx, sig.Symbol)
	})
	if err != nil {
		if errors.Is(err, exchange.ErrInvalidInstrument) {
			reason := fmt.Sprintf("exchange rejected symbol: %v", err)
			if derr := o.store.DeactivateInstrument(sig.Symbol, reason); derr != nil {
				return nil, derr
			}
			o.notify.InstrumentDeactivated(sig.Symbol, reason)
			return nil, nil
		}
		return nil, err
	}
	if state.Open() {
		o.notify.SystemError(sig.Symbol, "Untracked exchange position blocks entry", nil)
		o.log.Warn("skipping entry: exchange position already open", slog.String("symbol", sig.Symbol))
		return nil, nil
	}

	// Slippage gate: the signal priced the entry off the bar close; if the
	// market has already moved past tolerance the setup is gone.
	price, err := exchange.Retry(ctx, o.retry, "ticker price", func() (float64, error) {
		return o.gateway.TickerPrice(ctx, sig.Symbol)
	})
	if err != nil {
		return nil, err
	}
	drift := (price - sig.CurrentPrice) / sig.CurrentPrice
	if drift > o.cfg.MaxSlippagePct || drift < -o.cfg.MaxSlippagePct {
		o.log.Info("skipping entry: price drifted past slippage tolerance",
			slog.String("symbol", sig.Symbol),
			slog.Float64("signal_price", sig.CurrentPrice),
			slog.Float64("market_price", price))
		return nil, nil
	}

	balance, err := exchange.Retry(ctx, o.retry, "balance", func() (float64, error) {
		return o.gateway.Balance(ctx)
	})
	if err != nil {
		return nil, err
	}
	qty := balance * o.cfg.AllocationPct * o.cfg.Leverage / sig.CurrentPrice
	if qty <= 0 {
		o.log.Warn("skipping entry: no margin available", slog.String("symbol", sig.Symbol))
		return nil, nil
	}

	pos := &model.Position{
		Symbol:        sig.Symbol,
		Status:        model.StatusPending,
		Direction:     sig.Direction,
		SignalPrice:   sig.CurrentPrice,
		Quantity:      qty,
		TargetPrice:   sig.TargetPrice,
		StopLossPrice: sig.StopLossPrice,
		EntryOrderID:  "mr-" + uuid.NewString(),
		CreatedAt:     o.now(),
	}

	// Claiming the live slot BEFORE touching the exchange makes the unique
	// index the arbiter: a concurrent attempt loses here, not at the venue.
	id, err := o.store.CreatePendingPosition(*pos)
	if errors.Is(err, sqlite.ErrLivePositionExists) {
		o.log.Info("skipping entry: live position exists", slog.String("symbol", sig.Symbol))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos.ID = id

	err = o.retry.Do(ctx, "place entry", func() error {
		return o.gateway.PlaceEntry(ctx, exchange.EntryRequest{
			Symbol:            sig.Symbol,
			Direction:         sig.Direction,
			Quantity:          qty,
			LimitPrice:        sig.CurrentPrice,
			TargetPrice:       sig.TargetPrice,
			StopLossPrice:     sig.StopLossPrice,
			ClientOrderID:     pos.EntryOrderID,
			PricePrecision:    inst.PricePrecision,
			QuantityPrecision: inst.QuantityPrecision,
		})
	})
	if err != nil {
		if errors.Is(err, exchange.ErrInvalidInstrument) {
			return nil, o.deactivate(ctx, pos, err)
		}
		// Release the slot; leftover orders (if any half was accepted) are
		// swept before marking the record terminal.
		if cerr := o.cancelEntry(ctx, pos, fmt.Sprintf("entry submission failed: %v", err)); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	o.log.Info("entry submitted",
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("qty", qty),
		slog.Float64("limit_price", sig.CurrentPrice))
	return pos, nil
}

// AwaitFill polls for a fill over the configured wait rounds, cancelling
// the entry if nothing executed by the end.
func (o *Orchestrator) AwaitFill(ctx context.Context, pos *model.Position) error {
	for i := 0; i < o.cfg.EntryWaitSteps; i++ {
		if err := o.sleep(ctx, o.cfg.EntryWait); err != nil {
			return err
		}
		state, err := o.checkFill(ctx, pos)
		if err != nil {
			return o.handleGatewayError(ctx, pos, err, "fill wait")
		}
		if state.Open() {
			return o.confirmFill(pos, state)
		}
	}
	return o.cancelEntry(ctx, pos, "entry unfilled within wait window")
}
