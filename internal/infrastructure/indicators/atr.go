package indicators

import "math"

// ATR computes the average true range with Wilder smoothing.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	atr := make([]float64, n)
	if period <= 0 || n < period+1 || len(highs) < n || len(lows) < n {
		return atr
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return atr
}
