package indicator

import "meanrev-trader/internal/model"

// VolumeSMA calculates the simple moving average of bar volume over a
// rolling window. Uses a preallocated circular buffer.
type VolumeSMA struct {
	period  int
	buf     []float64
	idx     int
	count   int
	sum     float64
	current float64
}

// NewVolumeSMA creates a volume SMA with the given period (typically 20).
func NewVolumeSMA(period int) *VolumeSMA {
	return &VolumeSMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *VolumeSMA) Update(bar model.Bar) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = bar.Volume
	s.sum += bar.Volume
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *VolumeSMA) Value() float64 { return s.current }
func (s *VolumeSMA) Ready() bool    { return s.count >= s.period }
