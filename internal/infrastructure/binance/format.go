package binance

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// FormatQuantity floors qty to the step and renders it with the step's precision.
// A zero step falls back to the shortest representation.
func FormatQuantity(qty, step float64) string {
	q := decimal.NewFromFloat(qty)
	if step <= 0 {
		return q.String()
	}
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).StringFixed(precision(s))
}

// FormatPrice rounds price to the nearest tick.
func FormatPrice(price, tick float64) string {
	p := decimal.NewFromFloat(price)
	if tick <= 0 {
		return p.String()
	}
	t := decimal.NewFromFloat(tick)
	return p.Div(t).Round(0).Mul(t).StringFixed(precision(t))
}

func precision(step decimal.Decimal) int32 {
	if exp := step.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
