package indicator

import (
	"math"

	"meanrev-trader/internal/model"
)

// ADX calculates the Average Directional Index with Wilder's smoothing.
// It needs roughly two periods of history: one to seed the smoothed TR and
// directional movement sums, a second to seed the DX average.
type ADX struct {
	period int
	count  int

	prevHigh  float64
	prevLow   float64
	prevClose float64

	// Wilder-smoothed running sums
	trSum      float64
	plusDMSum  float64
	minusDMSum float64

	dxCount int
	dxSum   float64 // accumulation phase for the ADX seed
	current float64
}

// NewADX creates a new ADX indicator with the given period (typically 14).
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Update(bar model.Bar) {
	a.count++
	if a.count == 1 {
		a.prevHigh, a.prevLow, a.prevClose = bar.High, bar.Low, bar.Close
		return
	}

	tr := math.Max(bar.High-bar.Low, math.Max(
		math.Abs(bar.High-a.prevClose),
		math.Abs(bar.Low-a.prevClose),
	))

	upMove := bar.High - a.prevHigh
	downMove := a.prevLow - bar.Low
	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	a.prevHigh, a.prevLow, a.prevClose = bar.High, bar.Low, bar.Close

	deltas := a.count - 1 // bar pairs seen so far
	if deltas <= a.period {
		a.trSum += tr
		a.plusDMSum += plusDM
		a.minusDMSum += minusDM
		if deltas < a.period {
			return
		}
	} else {
		// Wilder smoothing of the running sums
		p := float64(a.period)
		a.trSum = a.trSum - a.trSum/p + tr
		a.plusDMSum = a.plusDMSum - a.plusDMSum/p + plusDM
		a.minusDMSum = a.minusDMSum - a.minusDMSum/p + minusDM
	}

	dx := a.dx()
	a.dxCount++
	if a.dxCount <= a.period {
		a.dxSum += dx
		if a.dxCount == a.period {
			a.current = a.dxSum / float64(a.period)
		}
		return
	}
	p := float64(a.period)
	a.current = (a.current*(p-1) + dx) / p
}

func (a *ADX) dx() float64 {
	if a.trSum == 0 {
		return 0
	}
	plusDI := 100 * a.plusDMSum / a.trSum
	minusDI := 100 * a.minusDMSum / a.trSum
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

func (a *ADX) Value() float64 { return a.current }
func (a *ADX) Ready() bool    { return a.dxCount >= a.period }
