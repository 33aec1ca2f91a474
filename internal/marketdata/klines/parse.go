package klines

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"meanrev-trader/internal/model"
)

// combinedEvent is the envelope of the combined-stream endpoint.
type combinedEvent struct {
	Stream string     `json:"stream"`
	Data   klineEvent `json:"data"`
}

type klineEvent struct {
	EventType string  `json:"e"`
	Symbol    string  `json:"s"`
	Kline     payload `json:"k"`
}

type payload struct {
	OpenTime int64  `json:"t"` // epoch ms
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Closed   bool   `json:"x"`
}

// parseKlineEvent decodes one combined-stream message into a raw bar (no
// indicators yet) and reports whether the kline is final.
func parseKlineEvent(raw []byte) (model.Bar, bool, error) {
	var ev combinedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.Bar{}, false, fmt.Errorf("decode kline event: %w", err)
	}
	if ev.Data.EventType != "kline" {
		return model.Bar{}, false, fmt.Errorf("unexpected event type %q", ev.Data.EventType)
	}

	k := ev.Data.Kline
	bar := model.Bar{
		Symbol:    ev.Data.Symbol,
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
	}

	var err error
	if bar.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
		return model.Bar{}, false, fmt.Errorf("parse open: %w", err)
	}
	if bar.High, err = strconv.ParseFloat(k.High, 64); err != nil {
		return model.Bar{}, false, fmt.Errorf("parse high: %w", err)
	}
	if bar.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
		return model.Bar{}, false, fmt.Errorf("parse low: %w", err)
	}
	if bar.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
		return model.Bar{}, false, fmt.Errorf("parse close: %w", err)
	}
	if bar.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
		return model.Bar{}, false, fmt.Errorf("parse volume: %w", err)
	}
	return bar, k.Closed, nil
}
