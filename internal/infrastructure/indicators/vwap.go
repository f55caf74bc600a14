package indicators

// VWAP is the cumulative volume weighted typical price over the window.
func VWAP(highs, lows, closes, volumes []float64) []float64 {
	n := len(closes)
	vwap := make([]float64, n)
	if len(highs) < n || len(lows) < n || len(volumes) < n {
		return vwap
	}

	var tpv, vol float64
	for i := 0; i < n; i++ {
		tp := (highs[i] + lows[i] + closes[i]) / 3.0
		tpv += tp * volumes[i]
		vol += volumes[i]
		if vol > 0 {
			vwap[i] = tpv / vol
		}
	}
	return vwap
}
