package indicators

import (
	"github.com/stockpilot/engine/pkg/types"
)

// Series bundles the price history of one instrument in the form the
// scanner and exit evaluator consume. Values are ordered oldest to newest.
type Series struct {
	Closes  []float64
	Highs   []float64
	Lows    []float64
	Volumes []float64
}

// FromBars converts daily bars into a Series.
func FromBars(bars []types.OHLCV) *Series {
	s := &Series{
		Closes:  make([]float64, len(bars)),
		Highs:   make([]float64, len(bars)),
		Lows:    make([]float64, len(bars)),
		Volumes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.Closes[i] = b.Close.InexactFloat64()
		s.Highs[i] = b.High.InexactFloat64()
		s.Lows[i] = b.Low.InexactFloat64()
		s.Volumes[i] = b.Volume.InexactFloat64()
	}
	return s
}

// Len returns the number of periods in the series.
func (s *Series) Len() int { return len(s.Closes) }

// Last returns the most recent close.
func (s *Series) Last() float64 {
	if len(s.Closes) == 0 {
		return 0
	}
	return s.Closes[len(s.Closes)-1]
}

// WithPrice returns a copy of the series whose final close (and, when it
// extends the range, high/low) is replaced by price. Used to evaluate
// intraday prices against daily history without mutating the original.
func (s *Series) WithPrice(price float64) *Series {
	if len(s.Closes) == 0 {
		return &Series{Closes: []float64{price}, Highs: []float64{price}, Lows: []float64{price}, Volumes: []float64{0}}
	}
	out := &Series{
		Closes:  append([]float64(nil), s.Closes...),
		Highs:   append([]float64(nil), s.Highs...),
		Lows:    append([]float64(nil), s.Lows...),
		Volumes: append([]float64(nil), s.Volumes...),
	}
	n := len(out.Closes) - 1
	out.Closes[n] = price
	if price > out.Highs[n] {
		out.Highs[n] = price
	}
	if price < out.Lows[n] {
		out.Lows[n] = price
	}
	return out
}
