package indicator

import (
	"math"
	"testing"
	"time"

	"meanrev-trader/internal/model"
)

func closeBar(c float64) model.Bar {
	return model.Bar{High: c, Low: c, Close: c}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestRSIKnownSequence(t *testing.T) {
	r := NewRSI(3)
	for _, c := range []float64{1, 2, 3, 4} {
		r.Update(closeBar(c))
	}
	if !r.Ready() {
		t.Fatal("RSI not ready after period+1 bars")
	}
	approx(t, "RSI all-gains", r.Value(), 100)

	// One unit loss: avgGain=(1*2+0)/3, avgLoss=(0*2+1)/3 → RS=2
	r.Update(closeBar(3))
	approx(t, "RSI after loss", r.Value(), 100-100.0/3.0)
}

func TestRSINotReadyDuringWarmup(t *testing.T) {
	r := NewRSI(14)
	for i := 0; i < 14; i++ {
		r.Update(closeBar(float64(100 + i)))
	}
	if r.Ready() {
		t.Error("ready with only period bars; needs period+1")
	}
	r.Update(closeBar(120))
	if !r.Ready() {
		t.Error("not ready after period+1 bars")
	}
}

func TestATRSeedAndSmoothing(t *testing.T) {
	a := NewATR(2)
	a.Update(model.Bar{High: 10, Low: 8, Close: 9})
	if a.Ready() {
		t.Fatal("ready too early")
	}
	a.Update(model.Bar{High: 11, Low: 9, Close: 10})
	if !a.Ready() {
		t.Fatal("not ready at period")
	}
	approx(t, "ATR seed", a.Value(), 2)

	a.Update(model.Bar{High: 12, Low: 10, Close: 11})
	approx(t, "ATR smoothed", a.Value(), 2)
}

func TestATRUsesGapAgainstPrevClose(t *testing.T) {
	a := NewATR(2)
	a.Update(model.Bar{High: 10, Low: 9, Close: 10})
	// Gap up: range is 1 but distance from prev close is 5
	a.Update(model.Bar{High: 15, Low: 14, Close: 15})
	approx(t, "ATR with gap", a.Value(), (1.0+5.0)/2.0)
}

func TestZScoreKnownWindow(t *testing.T) {
	z := NewZScore(3)
	for _, c := range []float64{1, 2} {
		z.Update(closeBar(c))
	}
	if z.Ready() {
		t.Fatal("ready before window filled")
	}
	z.Update(closeBar(3))
	if !z.Ready() {
		t.Fatal("not ready at window")
	}
	// mean 2, sample std 1
	approx(t, "zscore", z.Value(), 1)

	// Window slides to {2,3,2}: mean 7/3, std sqrt(1/3)
	z.Update(closeBar(2))
	want := (2 - 7.0/3.0) / math.Sqrt(1.0/3.0)
	approx(t, "zscore slid", z.Value(), want)
}

func TestZScoreFlatSeriesIsZero(t *testing.T) {
	z := NewZScore(3)
	for i := 0; i < 5; i++ {
		z.Update(closeBar(42))
	}
	approx(t, "zscore flat", z.Value(), 0)
}

func TestVolumeSMARollingWindow(t *testing.T) {
	s := NewVolumeSMA(2)
	s.Update(model.Bar{Volume: 10})
	if s.Ready() {
		t.Fatal("ready too early")
	}
	s.Update(model.Bar{Volume: 20})
	approx(t, "vol sma", s.Value(), 15)
	s.Update(model.Bar{Volume: 30})
	approx(t, "vol sma slid", s.Value(), 25)
}

func TestADXStrongTrendApproachesHundred(t *testing.T) {
	a := NewADX(14)
	// Monotone uptrend: every bar's high and low advance, so -DM is always
	// zero and DX is pinned at 100.
	for i := 0; i < 60; i++ {
		p := float64(100 + i)
		a.Update(model.Bar{High: p + 1, Low: p - 1, Close: p})
	}
	if !a.Ready() {
		t.Fatal("ADX not ready after 60 bars")
	}
	if a.Value() < 90 {
		t.Errorf("ADX = %v, want near 100 in a pure trend", a.Value())
	}
}

func TestADXWarmupLength(t *testing.T) {
	a := NewADX(14)
	// Needs period deltas for DI plus period DX values for the seed.
	for i := 0; i < 28; i++ {
		p := float64(100 + i%5)
		a.Update(model.Bar{High: p + 2, Low: p - 2, Close: p})
		if a.Ready() && i < 28-1 {
			t.Fatalf("ready after %d bars", i+1)
		}
	}
	if !a.Ready() {
		t.Error("not ready after 2*period bars")
	}
}

func TestSetLeavesUnwarmedFieldsZero(t *testing.T) {
	s := NewSet()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var last model.Bar
	for i := 0; i < 10; i++ {
		last = s.Apply(model.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: base.Add(time.Duration(i) * model.BarInterval),
			High:      101, Low: 99, Close: 100, Volume: 5,
		})
	}
	// 10 bars is under every production period.
	if last.RSI != 0 || last.ADX != 0 || last.ZScore != 0 || last.AvgVolume != 0 {
		t.Errorf("unwarmed bar carries indicator values: %+v", last)
	}

	for i := 10; i < 50; i++ {
		last = s.Apply(model.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: base.Add(time.Duration(i) * model.BarInterval),
			High:      101 + float64(i%3), Low: 99, Close: 100 + float64(i%3), Volume: 5,
		})
	}
	if last.RSI == 0 || last.ZScore == 0 || last.AvgVolume == 0 {
		t.Errorf("warmed bar missing indicator values: %+v", last)
	}
}
