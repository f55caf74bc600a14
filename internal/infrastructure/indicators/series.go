package indicators

import (
	"fmt"

	"perp-backend/internal/domain"
)

// Default periods when a caller passes zero.
const (
	DefaultRSIPeriod       = 14
	DefaultEMAPeriod       = 20
	DefaultATRPeriod       = 14
	DefaultBollingerPeriod = 20
	BollingerMultiplier    = 2.0
	pivotBars              = 3
	slopeWindow            = 5
)

// Series holds candle columns, oldest first.
type Series struct {
	Opens, Highs, Lows, Closes, Volumes []float64
}

// FromCandles splits candles into columns.
func FromCandles(candles []domain.Candle) Series {
	s := Series{
		Opens:   make([]float64, len(candles)),
		Highs:   make([]float64, len(candles)),
		Lows:    make([]float64, len(candles)),
		Closes:  make([]float64, len(candles)),
		Volumes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Opens[i] = c.Open
		s.Highs[i] = c.High
		s.Lows[i] = c.Low
		s.Closes[i] = c.Close
		s.Volumes[i] = c.Volume
	}
	return s
}

// Latest evaluates the named indicator on the most recent bar.
func (s Series) Latest(name string, period int) (float64, error) {
	if len(s.Closes) == 0 {
		return 0, fmt.Errorf("indicator %s: no candles", name)
	}
	last := len(s.Closes) - 1
	price := s.Closes[last]

	switch name {
	case "rsi":
		p := or(period, DefaultRSIPeriod)
		return warm(name, RSI(s.Closes, p), last, len(s.Closes) <= p)
	case "ema":
		p := or(period, DefaultEMAPeriod)
		return warm(name, EMA(s.Closes, p), last, len(s.Closes) < p)
	case "atr":
		p := or(period, DefaultATRPeriod)
		return warm(name, ATR(s.Highs, s.Lows, s.Closes, p), last, len(s.Closes) <= p)
	case "bb_upper", "bb_lower", "bb_middle":
		p := or(period, DefaultBollingerPeriod)
		bb := Bollinger(s.Closes, p, BollingerMultiplier)
		band := map[string][]float64{"bb_upper": bb.Upper, "bb_lower": bb.Lower, "bb_middle": bb.Middle}[name]
		return warm(name, band, last, len(s.Closes) < p)
	case "vwap":
		return VWAP(s.Highs, s.Lows, s.Closes, s.Volumes)[last], nil
	case "rsi_slope":
		rsi := RSI(s.Closes, or(period, DefaultRSIPeriod))
		if len(rsi) < slopeWindow || rsi[len(rsi)-slopeWindow] == 0 {
			return 0, fmt.Errorf("indicator %s: not enough candles", name)
		}
		return Slope(rsi[len(rsi)-slopeWindow:]), nil
	case "support":
		return NearestBelow(PivotLows(s.Lows, pivotBars, pivotBars), price), nil
	case "resistance":
		return NearestAbove(PivotHighs(s.Highs, pivotBars, pivotBars), price), nil
	}
	return 0, fmt.Errorf("unknown indicator %q", name)
}

func warm(name string, values []float64, idx int, short bool) (float64, error) {
	if short {
		return 0, fmt.Errorf("indicator %s: not enough candles", name)
	}
	return values[idx], nil
}

func or(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
