// Package klines streams 4-hour candlesticks from the Binance futures
// WebSocket, annotates them with indicators, and persists them as the bar
// series the trade engine reads.
package klines

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"meanrev-trader/internal/model"
)

const (
	defaultStreamURL = "wss://fstream.binance.com/stream"
	interval         = "4h"

	readTimeout      = 3 * time.Minute // server pings every ~3min
	reconnectBackoff = 5 * time.Second
	maxBackoff       = 2 * time.Minute
)

// StreamConfig configures the kline stream.
type StreamConfig struct {
	URL     string // default: Binance futures combined stream endpoint
	Symbols []string
}

// Stream maintains a combined-stream WebSocket subscription over all
// configured symbols and emits each closed 4h kline exactly once per
// connection. Reconnects are automatic with capped backoff.
type Stream struct {
	cfg StreamConfig

	// OnReconnect is an optional metrics hook.
	OnReconnect func()
	// OnConnected reports connection state changes for health.
	OnConnected func(bool)
}

// NewStream creates a stream over the given symbols.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.URL == "" {
		cfg.URL = defaultStreamURL
	}
	return &Stream{cfg: cfg}
}

func (s *Stream) endpoint() (string, error) {
	if len(s.cfg.Symbols) == 0 {
		return "", fmt.Errorf("klines: no symbols to subscribe")
	}
	streams := make([]string, 0, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		streams = append(streams, strings.ToLower(sym)+"@kline_"+interval)
	}
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("klines: stream url: %w", err)
	}
	q := u.Query()
	q.Set("streams", strings.Join(streams, "/"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and pushes closed bars into barCh until ctx is cancelled.
// The channel is not closed on return; the caller owns it.
func (s *Stream) Run(ctx context.Context, barCh chan<- model.Bar) error {
	endpoint, err := s.endpoint()
	if err != nil {
		return err
	}

	backoff := reconnectBackoff
	for {
		err := s.runConn(ctx, endpoint, barCh)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[klines] connection lost: %v, reconnecting in %s", err, backoff)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runConn handles one connection lifetime.
func (s *Stream) runConn(ctx context.Context, endpoint string, barCh chan<- model.Bar) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	log.Printf("[klines] connected, %d symbols subscribed", len(s.cfg.Symbols))
	if s.OnConnected != nil {
		s.OnConnected(true)
		defer s.OnConnected(false)
	}

	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		bar, closed, err := parseKlineEvent(payload)
		if err != nil {
			log.Printf("[klines] parse error: %v", err)
			continue
		}
		if !closed {
			continue // forming candle update, wait for the close
		}

		select {
		case barCh <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
