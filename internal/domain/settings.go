package domain

import "strings"

// Settings is the operator's trading configuration.
type Settings struct {
	Capital             float64   `json:"capital" validate:"gt=0"`
	Leverage            int       `json:"leverage" validate:"gte=1,lte=125"`
	PositionSize        float64   `json:"positionSize" validate:"gt=0,lte=100"` // percent of capital used as margin
	TakeProfit          float64   `json:"takeProfit" validate:"gte=0"`          // percent
	StopLoss            float64   `json:"stopLoss" validate:"gte=0"`            // percent
	OrderType           OrderType `json:"orderType" validate:"oneof=LIMIT MARKET"`
	OrderTimeoutSeconds int       `json:"orderTimeoutSeconds" validate:"gte=0"`
	AutoMode            bool      `json:"autoMode"`
	ExcludedPairs       []string  `json:"excludedPairs"`
	SmartMode           bool      `json:"smartMode"`
	SmartModeMinPnl     float64   `json:"smartModeMinPnl" validate:"gte=0"`
	TrustLowConfidence  bool      `json:"trustLowConfidence"`
}

// DefaultSettings mirrors the bot's out-of-the-box configuration.
func DefaultSettings() Settings {
	return Settings{
		Capital:             100,
		Leverage:            10,
		PositionSize:        10,
		TakeProfit:          2,
		StopLoss:            1,
		OrderType:           OrderTypeLimit,
		OrderTimeoutSeconds: 120,
		SmartModeMinPnl:     10,
	}
}

// Margin is the quote amount committed per entry.
func (s Settings) Margin() float64 {
	return s.Capital * s.PositionSize / 100
}

// IsExcluded reports whether the operator excluded symbol from trading.
func (s Settings) IsExcluded(symbol string) bool {
	for _, p := range s.ExcludedPairs {
		if strings.EqualFold(strings.TrimSpace(p), symbol) {
			return true
		}
	}
	return false
}
