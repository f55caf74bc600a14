package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
)

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestRSIBounds(t *testing.T) {
	up := RSI(rising(30), 14)
	assert.Equal(t, 100.0, up[29])
	assert.Zero(t, up[13])

	down := rising(30)
	for i, j := 0, len(down)-1; i < j; i, j = i+1, j-1 {
		down[i], down[j] = down[j], down[i]
	}
	assert.InDelta(t, 0, RSI(down, 14)[29], 1e-9)
}

func TestEMASeedsWithSMA(t *testing.T) {
	ema := EMA([]float64{1, 2, 3, 4}, 3)
	assert.Equal(t, 2.0, ema[2])
	assert.InDelta(t, 3.0, ema[3], 1e-9)
	assert.Len(t, EMA([]float64{1}, 3), 1)
}

func TestBollingerFlatSeries(t *testing.T) {
	bb := Bollinger([]float64{5, 5, 5, 5}, 3, 2)
	assert.Equal(t, 5.0, bb.Upper[3])
	assert.Equal(t, 5.0, bb.Lower[3])
}

func TestATRConstantRange(t *testing.T) {
	highs := []float64{11, 11, 11, 11, 11}
	lows := []float64{9, 9, 9, 9, 9}
	closes := []float64{10, 10, 10, 10, 10}
	assert.InDelta(t, 2.0, ATR(highs, lows, closes, 3)[4], 1e-9)
}

func TestPivotsSupportResistance(t *testing.T) {
	lows := []float64{10, 9, 8, 7, 8, 9, 10, 9, 8, 9, 10}
	ps := PivotLows(lows, 2, 2)
	require.Len(t, ps, 2)
	assert.Equal(t, 7.0, ps[0].Price)
	assert.Equal(t, 8.0, NearestBelow(ps, 8.5))
	assert.Equal(t, 0.0, NearestBelow(ps, 6))
	assert.Equal(t, 8.0, NearestAbove(ps, 7.5))
}

func TestSeriesLatest(t *testing.T) {
	candles := make([]domain.Candle, 30)
	for i := range candles {
		p := float64(100 + i)
		candles[i] = domain.Candle{Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 10}
	}
	s := FromCandles(candles)

	rsi, err := s.Latest("rsi", 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi)

	vwap, err := s.Latest("vwap", 0)
	require.NoError(t, err)
	assert.InDelta(t, 114.5, vwap, 1e-9)

	_, err = s.Latest("ema", 50)
	assert.Error(t, err)

	_, err = s.Latest("macd", 0)
	assert.Error(t, err)
}
