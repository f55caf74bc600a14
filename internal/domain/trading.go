package domain

import (
	"strings"
	"time"
)

// Side is the direction of an order, position or signal.
type Side string

const (
	SideLong    Side = "LONG"
	SideShort   Side = "SHORT"
	SideNeutral Side = "NEUTRAL"
)

// ParseSide accepts LONG/SHORT as well as the BUY/SELL spelling used by
// some strategy feeds.
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return SideLong
	case "SHORT", "SELL":
		return SideShort
	}
	return SideNeutral
}

// Opposite returns the reverse side. NEUTRAL stays NEUTRAL.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	}
	return SideNeutral
}

// OrderSide maps the position side to the exchange BUY/SELL verb used to open it.
func (s Side) OrderSide() string {
	if s == SideShort {
		return "SELL"
	}
	return "BUY"
}

// Confidence is a strategy's conviction in a signal.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// ParseConfidence normalises free-form confidence strings.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium", "med":
		return ConfidenceMedium
	case "low":
		return ConfidenceLow
	}
	return ConfidenceUnknown
}

// Level ranks confidence: high=3, medium=2, low=1, unknown=0.
func (c Confidence) Level() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// OrderType is the exchange order type used for entries.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Exchange order statuses.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusExpired         = "EXPIRED"
	OrderStatusRejected        = "REJECTED"
	// OrderStatusCanceling is local only: cancel was sent, fate not yet confirmed.
	OrderStatusCanceling = "CANCELING"
)

// Order is an entry order this bot placed and is still tracking.
type Order struct {
	OrderID         int64        `json:"orderId"`
	ClientOrderID   string       `json:"clientOrderId"`
	Symbol          string       `json:"symbol"`
	Side            Side         `json:"side"`
	Type            OrderType    `json:"type"`
	EntryPrice      float64      `json:"entryPrice"`
	Quantity        float64      `json:"quantity"`
	ExecutedQty     float64      `json:"executedQty"`
	Status          string       `json:"status"`
	TakeProfit      float64      `json:"takeProfit"` // percent
	StopLoss        float64      `json:"stopLoss"`   // percent
	CreatedAt       time.Time    `json:"createdAt"`
	EntryConfidence Confidence   `json:"entryConfidence"`
	NoTimeout       bool         `json:"noTimeout"`
	Strategy        StrategyKind `json:"strategy"`
}

// SignalRecord is one entry of a position's short signal memory.
type SignalRecord struct {
	Confidence Confidence `json:"confidence"`
	Side       Side       `json:"side"`
	Timestamp  time.Time  `json:"timestamp"`
}

// MaxPositionSignalHistory bounds Position.SignalHistory.
const MaxPositionSignalHistory = 5

// Position is a filled entry, one per symbol.
type Position struct {
	Symbol          string         `json:"symbol"`
	Side            Side           `json:"side"`
	EntryPrice      float64        `json:"entryPrice"`
	Quantity        float64        `json:"quantity"`
	TakeProfit      float64        `json:"takeProfit"` // percent
	StopLoss        float64        `json:"stopLoss"`   // percent
	FilledAt        time.Time      `json:"filledAt"`
	EntryConfidence Confidence     `json:"entryConfidence"`
	SignalHistory   []SignalRecord `json:"signalHistory"`
	Strategy        StrategyKind   `json:"strategy"`
}

// AppendSignal keeps the most recent MaxPositionSignalHistory records.
func (p *Position) AppendSignal(r SignalRecord) {
	p.SignalHistory = append(p.SignalHistory, r)
	if len(p.SignalHistory) > MaxPositionSignalHistory {
		p.SignalHistory = p.SignalHistory[len(p.SignalHistory)-MaxPositionSignalHistory:]
	}
}

// Portfolio position states, following the scanner's vocabulary.
const (
	PortfolioStatePending     = "PENDING"
	PortfolioStateOpen        = "OPEN"
	PortfolioStateInvalidated = "INVALIDATED"
	PortfolioStateClosed      = "CLOSED"
)

// PortfolioPosition is an auto-mode allocation opened from a scanner pick.
type PortfolioPosition struct {
	Position
	Score             float64    `json:"score"`
	State             string     `json:"state"`
	EntryZone         [2]float64 `json:"entryZone"`
	InvalidationPrice float64    `json:"invalidationPrice"`
	StructureStopLoss float64    `json:"structureStopLoss"`
	Leverage          int        `json:"leverage"`
	OrderIDs          []int64    `json:"orderIds"`
	ServerTP          float64    `json:"serverTP"`
	TPHit             bool       `json:"tpHit"`
	IsTrailing        bool       `json:"isTrailing"`
	TrailingIncrement float64    `json:"trailingIncrement"` // percent
	CurrentSL         float64    `json:"currentSL"`
}

// ClosedTrade is the journal record written on every close.
type ClosedTrade struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Side       Side         `json:"side"`
	Strategy   StrategyKind `json:"strategy"`
	EntryPrice float64      `json:"entryPrice"`
	ExitPrice  float64      `json:"exitPrice"`
	Quantity   float64      `json:"quantity"`
	PnL        float64      `json:"pnl"`
	Reason     string       `json:"reason"`
	OpenedAt   time.Time    `json:"openedAt"`
	ClosedAt   time.Time    `json:"closedAt"`
}
