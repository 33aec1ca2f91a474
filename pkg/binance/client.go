// Package binance is a minimal REST client for the Binance USDT-margined
// futures API, covering the endpoints the trade engine needs: exchange info,
// ticker, account balance, position state, order placement/cancellation, and
// account trade history.
//
// Signed endpoints use HMAC-SHA256 request signing. All requests pass
// through a shared token-bucket rate limiter so bursts of per-instrument
// orchestration cannot trip the venue's request-weight ban.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://fapi.binance.com"
	defaultTestnetURL = "https://testnet.binancefuture.com"
	defaultTimeout    = 10 * time.Second
	defaultRecvWindow = 5000 // milliseconds
)

// API error codes the engine reacts to specifically.
const (
	CodeInvalidSymbol    = -1121
	CodeNoNeedToChange   = -4046 // margin type already set
	CodeNoNeedToChangeML = -4059 // position side already set
)

// APIError is a non-2xx response carrying Binance's error code.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: code %d: %s", e.Code, e.Message)
}

// IsInvalidSymbol reports whether err marks a delisted or unknown symbol.
func IsInvalidSymbol(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeInvalidSymbol
}

// Config configures the client.
type Config struct {
	APIKey    string
	APISecret string

	BaseURL    string        // default: https://fapi.binance.com
	Testnet    bool          // overrides BaseURL with the futures testnet
	Timeout    time.Duration // default: 10s
	RecvWindow int           // signed request receive window in ms

	// RequestsPerSecond caps the REST request rate (default 8, burst 16).
	RequestsPerSecond float64
}

// Client is the futures REST client.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int

	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a client with config defaults applied.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Testnet {
		cfg.BaseURL = defaultTestnetURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = defaultRecvWindow
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 8
	}

	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    cfg.BaseURL,
		recvWindow: cfg.RecvWindow,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 2*int(cfg.RequestsPerSecond)),
	}
}

// sign appends timestamp/recvWindow and the HMAC-SHA256 signature.
func (c *Client) sign(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return params
}

// request performs one HTTP call and decodes the JSON response into out.
// signed requests carry the API key header and signature query parameters.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	if signed {
		params = c.sign(params)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("binance: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{}
		if json.Unmarshal(body, apiErr) == nil && apiErr.Code != 0 {
			return apiErr
		}
		return fmt.Errorf("binance: %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode response: %w", err)
	}
	return nil
}

// ExchangeInfo returns the futures symbol universe.
func (c *Client) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var info ExchangeInfo
	if err := c.request(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TickerPrice returns the latest market price for a symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var t struct {
		Price string `json:"price"`
	}
	if err := c.request(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false, &t); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(t.Price, 64)
}

// AccountBalance returns the total margin balance in USDT.
func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	var acct struct {
		TotalMarginBalance string `json:"totalMarginBalance"`
	}
	if err := c.request(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &acct); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(acct.TotalMarginBalance, 64)
}

// PositionRisk returns the position state for one symbol.
func (c *Client) PositionRisk(ctx context.Context, symbol string) (*PositionRisk, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var positions []PositionRisk
	if err := c.request(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &positions); err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i], nil
		}
	}
	return nil, fmt.Errorf("binance: no position info for %s", symbol)
}

// NewOrder submits one order and returns the created order's id.
func (c *Client) NewOrder(ctx context.Context, o OrderParams) (int64, error) {
	params := o.values()

	var res struct {
		OrderID int64 `json:"orderId"`
	}
	if err := c.request(ctx, http.MethodPost, "/fapi/v1/order", params, true, &res); err != nil {
		return 0, err
	}
	return res.OrderID, nil
}

// CancelAllOpenOrders cancels every open order on the symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	return c.request(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true, nil)
}

// AccountTrades returns executed fills for the symbol between two times.
func (c *Client) AccountTrades(ctx context.Context, symbol string, start, end time.Time) ([]AccountTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}

	var trades []AccountTrade
	if err := c.request(ctx, http.MethodGet, "/fapi/v1/userTrades", params, true, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// SetLeverage sets the initial leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.request(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
}

// SetMarginType sets ISOLATED or CROSSED margin. "Already set" responses are
// not errors.
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)

	err := c.request(ctx, http.MethodPost, "/fapi/v1/marginType", params, true, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == CodeNoNeedToChange {
		return nil
	}
	return err
}
