package indicators

type Pivot struct {
	Index int
	Price float64
}

// PivotLows returns bars whose low is strictly below the bars on each side.
func PivotLows(lows []float64, leftBars, rightBars int) []Pivot {
	return pivots(lows, leftBars, rightBars, func(neighbour, cur float64) bool { return neighbour <= cur })
}

// PivotHighs returns bars whose high is strictly above the bars on each side.
func PivotHighs(highs []float64, leftBars, rightBars int) []Pivot {
	return pivots(highs, leftBars, rightBars, func(neighbour, cur float64) bool { return neighbour >= cur })
}

func pivots(data []float64, left, right int, beaten func(neighbour, cur float64) bool) []Pivot {
	var out []Pivot
	for i := left; i < len(data)-right; i++ {
		ok := true
		for j := 1; ok && j <= left; j++ {
			ok = !beaten(data[i-j], data[i])
		}
		for j := 1; ok && j <= right; j++ {
			ok = !beaten(data[i+j], data[i])
		}
		if ok {
			out = append(out, Pivot{Index: i, Price: data[i]})
		}
	}
	return out
}

// NearestBelow is the highest pivot price under price, or 0 when none.
func NearestBelow(ps []Pivot, price float64) float64 {
	best := 0.0
	for _, p := range ps {
		if p.Price < price && p.Price > best {
			best = p.Price
		}
	}
	return best
}

// NearestAbove is the lowest pivot price over price, or 0 when none.
func NearestAbove(ps []Pivot, price float64) float64 {
	best := 0.0
	for _, p := range ps {
		if p.Price > price && (best == 0 || p.Price < best) {
			best = p.Price
		}
	}
	return best
}
