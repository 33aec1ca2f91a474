package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"meanrev-trader/internal/model"
	"meanrev-trader/pkg/binance"
)

// BinanceConfig tunes the futures gateway.
type BinanceConfig struct {
	Leverage int // initial leverage set before every entry

	// Breaker settings for the REST transport.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// BinanceGateway implements Gateway on the USDT-margined futures API.
// All REST calls flow through a shared circuit breaker so a venue outage
// fails fast instead of stacking timeouts across instruments.
type BinanceGateway struct {
	client   *binance.Client
	leverage int
	breaker  *CircuitBreaker
}

// NewBinanceGateway wraps a REST client with config defaults applied.
func NewBinanceGateway(client *binance.Client, cfg BinanceConfig) *BinanceGateway {
	if cfg.Leverage == 0 {
		cfg.Leverage = 5
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerResetTimeout == 0 {
		cfg.BreakerResetTimeout = 30 * time.Second
	}
	return &BinanceGateway{
		client:   client,
		leverage: cfg.Leverage,
		breaker:  NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout),
	}
}

// Breaker exposes the transport breaker for health reporting.
func (g *BinanceGateway) Breaker() *CircuitBreaker { return g.breaker }

// call runs fn through the breaker and maps venue error codes onto the
// gateway error taxonomy.
func (g *BinanceGateway) call(fn func() error) error {
	err := g.breaker.Execute(fn)
	if binance.IsInvalidSymbol(err) {
		return fmt.Errorf("%w: %v", ErrInvalidInstrument, err)
	}
	return err
}

func formatPrice(p float64, precision int) string {
	return strconv.FormatFloat(p, 'f', precision, 64)
}

func formatQty(q float64, precision int) string {
	// Truncate toward zero so a rounded-up quantity never exceeds margin.
	scale := math.Pow(10, float64(precision))
	return strconv.FormatFloat(math.Trunc(q*scale)/scale, 'f', precision, 64)
}

// PlaceEntry sets isolated margin and leverage, then submits the entry as
// two GTC limit orders: one at the signal price and one 1% beyond it, each
// for half the quantity. Take-profit and stop-loss are attached as
// close-position trigger orders so a fill on either flattens whatever
// quantity actually entered.
func (g *BinanceGateway) PlaceEntry(ctx context.Context, req EntryRequest) error {
	if err := g.call(func() error {
		return g.client.SetMarginType(ctx, req.Symbol, binance.MarginTypeIsolated)
	}); err != nil {
		return err
	}
	if err := g.call(func() error {
		return g.client.SetLeverage(ctx, req.Symbol, g.leverage)
	}); err != nil {
		return err
	}

	entrySide, exitSide := binance.SideBuy, binance.SideSell
	secondPrice := req.LimitPrice * 0.99 // long: improve by buying lower
	if req.Direction == model.Short {
		entrySide, exitSide = binance.SideSell, binance.SideBuy
		secondPrice = req.LimitPrice * 1.01
	}

	halfQty := formatQty(req.Quantity/2, req.QuantityPrecision)
	limits := []struct {
		price  float64
		suffix string
	}{
		{req.LimitPrice, "a"},
		{secondPrice, "b"},
	}
	for _, lim := range limits {
		ord := binance.OrderParams{
			Symbol:        req.Symbol,
			Side:          entrySide,
			Type:          binance.OrderTypeLimit,
			Quantity:      halfQty,
			Price:         formatPrice(lim.price, req.PricePrecision),
			TimeInForce:   binance.TimeInForceGTC,
			ClientOrderID: req.ClientOrderID + "-" + lim.suffix,
		}
		if err := g.call(func() error {
			_, err := g.client.NewOrder(ctx, ord)
			return err
		}); err != nil {
			return err
		}
	}

	triggers := []struct {
		orderType string
		price     float64
		suffix    string
	}{
		{binance.OrderTypeTakeProfitMarket, req.TargetPrice, "tp"},
		{binance.OrderTypeStopMarket, req.StopLossPrice, "sl"},
	}
	for _, trg := range triggers {
		ord := binance.OrderParams{
			Symbol:        req.Symbol,
			Side:          exitSide,
			Type:          trg.orderType,
			StopPrice:     formatPrice(trg.price, req.PricePrecision),
			ClosePosition: true,
			ClientOrderID: req.ClientOrderID + "-" + trg.suffix,
		}
		if err := g.call(func() error {
			_, err := g.client.NewOrder(ctx, ord)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// OpenPosition reports the signed quantity and average entry price held on
// the venue. Partial fills across the two limit orders show up here even
// when neither order is fully executed.
func (g *BinanceGateway) OpenPosition(ctx context.Context, symbol string) (PositionState, error) {
	var state PositionState
	err := g.call(func() error {
		risk, err := g.client.PositionRisk(ctx, symbol)
		if err != nil {
			return err
		}
		state = PositionState{Qty: risk.Amount(), EntryPrice: risk.Entry()}
		return nil
	})
	return state, err
}

// CancelAll cancels every open order on the instrument.
func (g *BinanceGateway) CancelAll(ctx context.Context, symbol string) error {
	return g.call(func() error {
		return g.client.CancelAllOpenOrders(ctx, symbol)
	})
}

// CloseMarket flattens the instrument at market and returns the order's
// last fill price. A flat position is a no-op returning 0.
func (g *BinanceGateway) CloseMarket(ctx context.Context, symbol string) (float64, error) {
	state, err := g.OpenPosition(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if !state.Open() {
		return 0, nil
	}

	side := binance.SideSell
	if state.Qty < 0 {
		side = binance.SideBuy
	}
	submitted := time.Now()
	if err := g.call(func() error {
		_, err := g.client.NewOrder(ctx, binance.OrderParams{
			Symbol:   symbol,
			Side:     side,
			Type:     binance.OrderTypeMarket,
			Quantity: strconv.FormatFloat(math.Abs(state.Qty), 'f', -1, 64),
		})
		return err
	}); err != nil {
		return 0, err
	}

	// The fill price comes from the trade feed rather than the order
	// response; market orders can fill in several executions.
	trades, err := g.TradeHistory(ctx, symbol, submitted.Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil || len(trades) == 0 {
		return 0, err
	}
	return trades[len(trades)-1].Price, nil
}

// TradeHistory returns executed fills in [from, to], oldest first.
func (g *BinanceGateway) TradeHistory(ctx context.Context, symbol string, from, to time.Time) ([]model.Trade, error) {
	var out []model.Trade
	err := g.call(func() error {
		raw, err := g.client.AccountTrades(ctx, symbol, from, to)
		if err != nil {
			return err
		}
		out = make([]model.Trade, 0, len(raw))
		for _, t := range raw {
			price, _ := strconv.ParseFloat(t.Price, 64)
			qty, _ := strconv.ParseFloat(t.Qty, 64)
			pnl, pnlErr := strconv.ParseFloat(t.RealizedPnL, 64)
			out = append(out, model.Trade{
				Symbol:      t.Symbol,
				OrderID:     strconv.FormatInt(t.OrderID, 10),
				Side:        t.Side,
				Price:       price,
				Qty:         qty,
				Time:        t.ExecutedAt(),
				RealizedPnL: pnl,
				PnLReported: pnlErr == nil && t.RealizedPnL != "",
			})
		}
		return nil
	})
	return out, err
}

// TickerPrice returns the current market price.
func (g *BinanceGateway) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := g.call(func() error {
		p, err := g.client.TickerPrice(ctx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	return price, err
}

// Balance returns the total margin balance of the account.
func (g *BinanceGateway) Balance(ctx context.Context) (float64, error) {
	var bal float64
	err := g.call(func() error {
		b, err := g.client.AccountBalance(ctx)
		if err != nil {
			return err
		}
		bal = b
		return nil
	})
	return bal, err
}
