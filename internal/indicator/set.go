package indicator

import "meanrev-trader/internal/model"

// Default periods of the production indicator set.
const (
	RSIPeriod    = 14
	ATRPeriod    = 14
	ADXPeriod    = 14
	VolumePeriod = 20
	ZScorePeriod = 20
)

// Set bundles one instrument's indicator state. The ingestion service keeps
// one Set per symbol, feeds every closed bar through Apply, and persists the
// annotated result.
type Set struct {
	rsi *RSI
	atr *ATR
	adx *ADX
	vol *VolumeSMA
	z   *ZScore
}

// NewSet creates a set with the production periods.
func NewSet() *Set {
	return &Set{
		rsi: NewRSI(RSIPeriod),
		atr: NewATR(ATRPeriod),
		adx: NewADX(ADXPeriod),
		vol: NewVolumeSMA(VolumePeriod),
		z:   NewZScore(ZScorePeriod),
	}
}

// Apply updates every indicator with the bar and returns a copy annotated
// with the values that are ready. Unwarmed indicators stay zero, which the
// store persists as NULL and the detector treats as no-signal.
func (s *Set) Apply(bar model.Bar) model.Bar {
	s.rsi.Update(bar)
	s.atr.Update(bar)
	s.adx.Update(bar)
	s.vol.Update(bar)
	s.z.Update(bar)

	if s.rsi.Ready() {
		bar.RSI = s.rsi.Value()
	}
	if s.atr.Ready() {
		bar.ATR = s.atr.Value()
	}
	if s.adx.Ready() {
		bar.ADX = s.adx.Value()
	}
	if s.vol.Ready() {
		bar.AvgVolume = s.vol.Value()
	}
	if s.z.Ready() {
		bar.ZScore = s.z.Value()
	}
	return bar
}

// Warm replays historical bars (oldest first) through the set, returning
// the annotated copies. Used at startup to rebuild state from the store.
func (s *Set) Warm(bars []model.Bar) []model.Bar {
	out := make([]model.Bar, len(bars))
	for i, b := range bars {
		out[i] = s.Apply(b)
	}
	return out
}
