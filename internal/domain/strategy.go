package domain

import "time"

// Node types of a custom strategy graph.
const (
	NodeCondition  = "condition"
	NodeCombinator = "combinator"
	NodeAction     = "action"
)

// Condition leaf kinds.
const (
	LeafPrice        = "price"
	LeafIndicator    = "indicator"
	LeafServerSignal = "server_signal"
	LeafPosition     = "position"
)

// Combinator operators.
const (
	OpAnd = "AND"
	OpOr  = "OR"
	OpNot = "NOT"
)

// Action kinds.
const (
	ActionOpenLong  = "open_long"
	ActionOpenShort = "open_short"
	ActionClose     = "close"
)

// ConditionSpec configures a condition leaf.
type ConditionSpec struct {
	Kind       string  `json:"kind"`                 // price | indicator | server_signal | position
	Indicator  string  `json:"indicator,omitempty"`  // rsi | ema | atr | bb_upper | bb_lower | vwap | rsi_slope | support | resistance
	Timeframe  string  `json:"timeframe,omitempty"`  // 1m, 5m, 15m, 1h, 4h
	Period     int     `json:"period,omitempty"`
	Comparator string  `json:"comparator,omitempty"` // > >= < <= ==; price vs indicator uses "above"/"below"
	Value      float64 `json:"value,omitempty"`
	// server_signal
	SignalStrategy StrategyKind `json:"signalStrategy,omitempty"`
	SignalSide     Side         `json:"signalSide,omitempty"`
	MinConfidence  Confidence   `json:"minConfidence,omitempty"`
	// position: none | long | short | any
	PositionState string `json:"positionState,omitempty"`
}

// ActionSpec configures an action node.
type ActionSpec struct {
	Kind         string  `json:"kind"`
	PositionSize float64 `json:"positionSize,omitempty"` // percent of capital
	Leverage     int     `json:"leverage,omitempty"`
	TakeProfit   float64 `json:"takeProfit,omitempty"`
	StopLoss     float64 `json:"stopLoss,omitempty"`
}

// StrategyNode is one block of the graph.
type StrategyNode struct {
	ID        string         `json:"id" validate:"required"`
	Type      string         `json:"type" validate:"required,oneof=condition combinator action"`
	Operator  string         `json:"operator,omitempty"`
	Condition *ConditionSpec `json:"condition,omitempty"`
	Action    *ActionSpec    `json:"action,omitempty"`
}

// StrategyEdge wires From's output into To's input.
type StrategyEdge struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// StrategyGraph is the user-authored condition graph.
type StrategyGraph struct {
	Nodes []StrategyNode `json:"nodes" validate:"required,min=1,dive"`
	Edges []StrategyEdge `json:"edges" validate:"dive"`
}

// CustomStrategy is a user strategy evaluated by the runner.
type CustomStrategy struct {
	ID                string        `json:"id"`
	Name              string        `json:"name" validate:"required"`
	Symbol            string        `json:"symbol" validate:"required,uppercase"`
	Enabled           bool          `json:"enabled"`
	IntervalSeconds   int           `json:"intervalSeconds" validate:"gte=5"`
	CooldownSeconds   int           `json:"cooldownSeconds" validate:"gte=0"`
	MaxErrors         int           `json:"maxErrors" validate:"gte=0"`
	Graph             StrategyGraph `json:"graph"`
	LastActionAt      time.Time     `json:"lastActionAt"`
	ConsecutiveErrors int           `json:"consecutiveErrors"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}
