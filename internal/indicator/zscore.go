package indicator

import (
	"math"

	"meanrev-trader/internal/model"
)

// ZScore measures how many sample standard deviations the latest close sits
// from the rolling mean of closes. The detector's ±2.0 entry band and the
// Level2/Level0 exits are all expressed on this value.
type ZScore struct {
	period  int
	buf     []float64
	idx     int
	count   int
	current float64
}

// NewZScore creates a z-score over the given close window (typically 20).
func NewZScore(period int) *ZScore {
	return &ZScore{
		period: period,
		buf:    make([]float64, period),
	}
}

func (z *ZScore) Update(bar model.Bar) {
	z.buf[z.idx] = bar.Close
	z.idx = (z.idx + 1) % z.period
	z.count++

	if z.count < z.period {
		return
	}

	var sum float64
	for _, v := range z.buf {
		sum += v
	}
	mean := sum / float64(z.period)

	var sq float64
	for _, v := range z.buf {
		d := v - mean
		sq += d * d
	}
	// Sample variance (n-1): the window is a sample of the series.
	std := math.Sqrt(sq / float64(z.period-1))
	if std == 0 {
		z.current = 0
		return
	}
	z.current = (bar.Close - mean) / std
}

func (z *ZScore) Value() float64 { return z.current }
func (z *ZScore) Ready() bool    { return z.count >= z.period }
