package indicator

import (
	"math"

	"meanrev-trader/internal/model"
)

// ATR calculates the Average True Range with Wilder's smoothing.
type ATR struct {
	period    int
	count     int
	prevClose float64
	sumTR     float64 // accumulation phase
	current   float64
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Update(bar model.Bar) {
	a.count++

	tr := bar.High - bar.Low
	if a.count > 1 {
		tr = math.Max(tr, math.Max(
			math.Abs(bar.High-a.prevClose),
			math.Abs(bar.Low-a.prevClose),
		))
	}
	a.prevClose = bar.Close

	if a.count <= a.period {
		a.sumTR += tr
		if a.count == a.period {
			a.current = a.sumTR / float64(a.period)
		}
		return
	}

	p := float64(a.period)
	a.current = (a.current*(p-1) + tr) / p
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count >= a.period }
