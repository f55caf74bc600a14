package domain

import "time"

// StrategyKind identifies the strategy family a signal or order came from.
type StrategyKind string

const (
	StrategyRange         StrategyKind = "range"
	StrategyMomentum      StrategyKind = "momentum"
	StrategyMomentumX     StrategyKind = "momentum-x"
	StrategyOrderBook     StrategyKind = "order-book"
	StrategyPortfolioAuto StrategyKind = "portfolio-auto"
	StrategyCustom        StrategyKind = "custom"
	StrategyManual        StrategyKind = "manual"
)

// Trend alignment values carried by momentum feeds.
const (
	TrendAligned    = "ALIGNED"
	TrendConflicted = "CONFLICTED"
)

// Signal is a normalised inbound strategy signal.
type Signal struct {
	Strategy       StrategyKind `json:"strategy" validate:"required,oneof=range momentum momentum-x order-book portfolio-auto"`
	Symbol         string       `json:"symbol" validate:"required,uppercase"`
	Side           Side         `json:"side" validate:"required,oneof=LONG SHORT NEUTRAL"`
	Confidence     Confidence   `json:"confidence,omitempty"`
	LimitPrice     float64      `json:"limit_price" validate:"gt=0"`
	Score          float64      `json:"score,omitempty"`
	TrendAlignment string       `json:"trend_alignment,omitempty"`
	Imbalance      float64      `json:"imbalance,omitempty"`
	ReceivedAt     time.Time    `json:"received_at,omitempty"`
}

// ScannerPick is one ranked candidate in a scanner batch.
type ScannerPick struct {
	Symbol            string     `json:"symbol" validate:"required"`
	Side              Side       `json:"side,omitempty"`
	Score             float64    `json:"score"`
	Price             float64    `json:"price"`
	State             string     `json:"state,omitempty"`
	EntryZone         [2]float64 `json:"entry_zone"`
	InvalidationPrice float64    `json:"invalidation_price"`
	StructureStopLoss float64    `json:"structure_stop_loss"`
	TakeProfit        float64    `json:"take_profit"`
	MarketBias        string     `json:"market_bias,omitempty"`
}

// ScannerBatch is the auto-mode portfolio input.
type ScannerBatch struct {
	TopLongs    []ScannerPick `json:"top_longs" validate:"dive"`
	TopShorts   []ScannerPick `json:"top_shorts" validate:"dive"`
	Invalidated []string      `json:"invalidated"`
	Monitoring  []ScannerPick `json:"monitoring"`
}
