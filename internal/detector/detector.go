// Package detector implements the mean-reversion signal rule.
//
// The detector is a pure function over the two most recent 4-hour bars of one
// instrument: same input pair, same output, no hidden state. Persistence and
// deduplication live in the signal archive, not here.
package detector

import (
	"math"
	"sort"
	"time"

	"meanrev-trader/internal/model"
)

// Fixed rule thresholds. These are design constants, not tunables.
const (
	adxFloor   = 9.0  // exclusive: trend strength must exceed this
	adxCeiling = 21.0 // exclusive: above this the market is trending, not ranging
	minRSIMove = 1.0  // minimum |ΔRSI| between the two bars

	// The looser threshold admits the candidate; the strict 2.0 crossing
	// confirms the direction. A prev bar that crossed 2.0 has necessarily
	// passed admission, so the strict check is the binding one.
	zAdmit = 1.95
	zEntry = 2.0

	targetPct   = 0.05 // take profit 5% from close
	stopLossPct = 0.06 // stop loss 6% from close
)

// Candidate is a firing signal together with the bar pair that produced it,
// kept so simultaneous candidates can be ranked for entry priority.
type Candidate struct {
	Signal model.Signal
	Prev   model.Bar
	Curr   model.Bar
}

// Evaluate applies the reversal rule to a pair of consecutive bars and
// returns the entry candidate, or nil if any condition fails.
//
// The pair must be strictly adjacent in the 4-hour series; a gapped pair is
// rejected outright rather than evaluated against stale history.
func Evaluate(prev, curr model.Bar) *Candidate {
	if !prev.Adjacent(curr) {
		return nil
	}

	// Range filter: trend strength building but still range-bound.
	if curr.ADX <= adxFloor || curr.ADX >= adxCeiling || prev.ADX >= curr.ADX {
		return nil
	}

	// Momentum filter: RSI must actually have moved.
	if math.Abs(curr.RSI-prev.RSI) <= minRSIMove {
		return nil
	}

	var dir model.Direction
	switch {
	case prev.ZScore <= -zAdmit && // admission
		prev.ZScore <= -zEntry && curr.ZScore > -zEntry && // strict upward crossing
		curr.RSI > prev.RSI:
		dir = model.Long
	case prev.ZScore >= zAdmit &&
		prev.ZScore >= zEntry && curr.ZScore < zEntry &&
		curr.RSI < prev.RSI:
		dir = model.Short
	default:
		return nil
	}

	// Target and stop are keyed off the confirmed direction so the two can
	// never disagree for a boundary z-score value.
	var target, stop float64
	if dir == model.Long {
		target = round8(curr.Close * (1 + targetPct))
		stop = round8(curr.Close * (1 - stopLossPct))
	} else {
		target = round8(curr.Close * (1 - targetPct))
		stop = round8(curr.Close * (1 + stopLossPct))
	}

	return &Candidate{
		Signal: model.Signal{
			Symbol:        curr.Symbol,
			BarTime:       curr.Timestamp,
			Direction:     dir,
			ZScore:        curr.ZScore,
			RSI:           curr.RSI,
			ADX:           curr.ADX,
			CurrentPrice:  curr.Close,
			TargetPrice:   target,
			StopLossPrice: stop,
			CreatedAt:     time.Now().UTC(),
		},
		Prev: prev,
		Curr: curr,
	}
}

// Rank orders simultaneous candidates for entry priority: lowest ADX first,
// then largest RSI move, then largest z-score move. When entry capital is
// constrained, earlier candidates are acted on first.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Curr.ADX != b.Curr.ADX {
			return a.Curr.ADX < b.Curr.ADX
		}
		da := a.Curr.RSI - a.Prev.RSI
		db := b.Curr.RSI - b.Prev.RSI
		if da != db {
			return da > db
		}
		za := math.Abs(a.Curr.ZScore - a.Prev.ZScore)
		zb := math.Abs(b.Curr.ZScore - b.Prev.ZScore)
		return za > zb
	})
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
