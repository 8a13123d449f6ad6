// Package indicators provides the technical indicator math used by the
// scanner, the regime detector and the exit evaluator. All functions operate
// on ordered (oldest to newest) float slices and return ok=false instead of
// an error when the series is too short.
package indicators

import "math"

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// SMASeries returns the rolling SMA aligned to the input; the first
// period-1 entries are NaN.
func SMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI computes the Wilder-smoothed relative strength index over period.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss -= diff
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// ATR computes the average true range over period from high/low/close series.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}

	sum := 0.0
	for i := n - period; i < n; i++ {
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period), true
}

// Bollinger returns the middle, upper and lower bands (period SMA +/- k
// standard deviations).
func Bollinger(closes []float64, period int, k float64) (mid, upper, lower float64, ok bool) {
	mid, ok = SMA(closes, period)
	if !ok {
		return 0, 0, 0, false
	}
	variance := 0.0
	for _, v := range closes[len(closes)-period:] {
		d := v - mid
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))
	return mid, mid + k*std, mid - k*std, true
}

// RollingHigh returns the maximum of the last period values, excluding the
// final value so breakouts compare against the prior window.
func RollingHigh(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}
	window := values[len(values)-period-1 : len(values)-1]
	high := window[0]
	for _, v := range window[1:] {
		if v > high {
			high = v
		}
	}
	return high, true
}

// PctChange returns the percentage change over lag periods.
func PctChange(values []float64, lag int) (float64, bool) {
	if lag <= 0 || len(values) < lag+1 {
		return 0, false
	}
	prev := values[len(values)-1-lag]
	if prev == 0 {
		return 0, false
	}
	return (values[len(values)-1] - prev) / prev * 100, true
}

// VolumeRatio returns the latest volume relative to its period average.
func VolumeRatio(volumes []float64, period int) (float64, bool) {
	if len(volumes) == 0 {
		return 0, false
	}
	avg, ok := SMA(volumes, period)
	if !ok || avg == 0 {
		return 0, false
	}
	return volumes[len(volumes)-1] / avg, true
}

// RelativeStrength returns the return of values minus the return of the
// benchmark over lag periods, in percentage points.
func RelativeStrength(values, benchmark []float64, lag int) (float64, bool) {
	a, ok := PctChange(values, lag)
	if !ok {
		return 0, false
	}
	b, ok := PctChange(benchmark, lag)
	if !ok {
		return 0, false
	}
	return a - b, true
}
