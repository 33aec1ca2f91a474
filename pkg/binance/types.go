package binance

import (
	"net/url"
	"strconv"
	"time"
)

// Order sides, types, and time-in-force values used by the engine.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit            = "LIMIT"
	OrderTypeMarket           = "MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"
	OrderTypeStopMarket       = "STOP_MARKET"

	TimeInForceGTC = "GTC"

	MarginTypeIsolated = "ISOLATED"
	MarginTypeCrossed  = "CROSSED"
)

// ExchangeInfo is the futures symbol universe.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one tradable contract.
type SymbolInfo struct {
	Symbol            string `json:"symbol"`
	Status            string `json:"status"` // TRADING, SETTLING, ...
	QuoteAsset        string `json:"quoteAsset"`
	ContractType      string `json:"contractType"`
	PricePrecision    int    `json:"pricePrecision"`
	QuantityPrecision int    `json:"quantityPrecision"`
}

// PositionRisk is the per-symbol position state. PositionAmt is signed:
// positive long, negative short, zero flat.
type PositionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
}

// Amount returns the signed position quantity.
func (p PositionRisk) Amount() float64 {
	v, _ := strconv.ParseFloat(p.PositionAmt, 64)
	return v
}

// Entry returns the average entry price.
func (p PositionRisk) Entry() float64 {
	v, _ := strconv.ParseFloat(p.EntryPrice, 64)
	return v
}

// AccountTrade is one executed fill from the user trade history.
type AccountTrade struct {
	Symbol      string `json:"symbol"`
	OrderID     int64  `json:"orderId"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	RealizedPnL string `json:"realizedPnl"`
	Time        int64  `json:"time"` // epoch ms
}

// ExecutedAt returns the fill time.
func (t AccountTrade) ExecutedAt() time.Time {
	return time.UnixMilli(t.Time)
}

// OrderParams are the fields for a new order. Price and StopPrice are
// preformatted strings so callers control precision.
type OrderParams struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      string
	Price         string
	StopPrice     string
	TimeInForce   string
	ClosePosition bool
	ClientOrderID string
}

func (o OrderParams) values() url.Values {
	params := url.Values{}
	params.Set("symbol", o.Symbol)
	params.Set("side", o.Side)
	params.Set("type", o.Type)
	if o.Quantity != "" {
		params.Set("quantity", o.Quantity)
	}
	if o.Price != "" {
		params.Set("price", o.Price)
	}
	if o.StopPrice != "" {
		params.Set("stopPrice", o.StopPrice)
	}
	if o.TimeInForce != "" {
		params.Set("timeInForce", o.TimeInForce)
	}
	if o.ClosePosition {
		params.Set("closePosition", "true")
	}
	if o.ClientOrderID != "" {
		params.Set("newClientOrderId", o.ClientOrderID)
	}
	return params
}
