package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:            "test-key",
		APISecret:         "test-secret",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
	})
}

func TestTickerPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/ticker/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s", got)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"65123.40"}`))
	})

	price, err := c.TickerPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if price != 65123.40 {
		t.Errorf("price = %v, want 65123.40", price)
	}
}

func TestSignedRequestCarriesValidSignature(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-MBX-APIKEY"); got != "test-key" {
			t.Errorf("api key header = %s", got)
		}
		q := r.URL.Query()
		sig := q.Get("signature")
		if sig == "" {
			t.Fatal("missing signature")
		}

		// Recompute over the remaining params in encoded order.
		q.Del("signature")
		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write([]byte(q.Encode()))
		if want := hex.EncodeToString(mac.Sum(nil)); sig != want {
			t.Errorf("signature = %s, want %s", sig, want)
		}
		if q.Get("timestamp") == "" || q.Get("recvWindow") == "" {
			t.Error("missing timestamp/recvWindow")
		}
		w.Write([]byte(`{"totalMarginBalance":"1250.50"}`))
	})

	bal, err := c.AccountBalance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if bal != 1250.50 {
		t.Errorf("balance = %v, want 1250.50", bal)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := c.TickerPrice(context.Background(), "DEADUSDT")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsInvalidSymbol(err) {
		t.Errorf("IsInvalidSymbol(%v) = false, want true", err)
	}
}

func TestSetMarginTypeAlreadySet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-4046,"msg":"No need to change margin type."}`))
	})

	if err := c.SetMarginType(context.Background(), "BTCUSDT", MarginTypeIsolated); err != nil {
		t.Errorf("SetMarginType() = %v, want nil", err)
	}
}

func TestNewOrderEncoding(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{"orderId":42}`))
	})

	id, err := c.NewOrder(context.Background(), OrderParams{
		Symbol:        "ETHUSDT",
		Side:          SideBuy,
		Type:          OrderTypeLimit,
		Quantity:      "0.500",
		Price:         "3000.00",
		TimeInForce:   TimeInForceGTC,
		ClientOrderID: "entry-abc",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Errorf("order id = %d, want 42", id)
	}

	for k, want := range map[string]string{
		"symbol":           "ETHUSDT",
		"side":             "BUY",
		"type":             "LIMIT",
		"quantity":         "0.500",
		"price":            "3000.00",
		"timeInForce":      "GTC",
		"newClientOrderId": "entry-abc",
	} {
		if got.Get(k) != want {
			t.Errorf("%s = %q, want %q", k, got.Get(k), want)
		}
	}
	if got.Get("closePosition") != "" {
		t.Error("closePosition should be omitted for entry orders")
	}
}

func TestClosePositionOrderEncoding(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{"orderId":7}`))
	})

	_, err := c.NewOrder(context.Background(), OrderParams{
		Symbol:        "ETHUSDT",
		Side:          SideSell,
		Type:          OrderTypeTakeProfitMarket,
		StopPrice:     "3150.00",
		ClosePosition: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Get("closePosition") != "true" {
		t.Error("closePosition not set")
	}
	if got.Get("stopPrice") != "3150.00" {
		t.Errorf("stopPrice = %q", got.Get("stopPrice"))
	}
}

func TestAccountTradesTimeWindow(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	end := time.UnixMilli(1700003600000)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("startTime") != "1700000000000" || q.Get("endTime") != "1700003600000" {
			t.Errorf("time window = %s..%s", q.Get("startTime"), q.Get("endTime"))
		}
		w.Write([]byte(`[{"symbol":"BTCUSDT","orderId":1,"side":"SELL","price":"65000","qty":"0.01","realizedPnl":"12.34","time":1700001000000}]`))
	})

	trades, err := c.AccountTrades(context.Background(), "BTCUSDT", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("len(trades) = %d", len(trades))
	}
	if trades[0].RealizedPnL != "12.34" {
		t.Errorf("realizedPnl = %s", trades[0].RealizedPnL)
	}
	if !trades[0].ExecutedAt().Equal(time.UnixMilli(1700001000000)) {
		t.Errorf("ExecutedAt = %v", trades[0].ExecutedAt())
	}
}
