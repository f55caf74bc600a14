package indicators

import "math"

type BollingerBands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes SMA bands at multiplier population standard deviations.
func Bollinger(closes []float64, period int, multiplier float64) BollingerBands {
	n := len(closes)
	bb := BollingerBands{
		Upper:  make([]float64, n),
		Middle: make([]float64, n),
		Lower:  make([]float64, n),
	}
	if period <= 0 || n < period {
		return bb
	}

	for i := period - 1; i < n; i++ {
		window := closes[i-period+1 : i+1]
		ma := mean(window)

		sq := 0.0
		for _, c := range window {
			sq += (c - ma) * (c - ma)
		}
		sd := math.Sqrt(sq / float64(period))

		bb.Middle[i] = ma
		bb.Upper[i] = ma + multiplier*sd
		bb.Lower[i] = ma - multiplier*sd
	}
	return bb
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}
