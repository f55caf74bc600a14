package domain

import "time"

// EventKind names what happened.
type EventKind string

const (
	EventOrderPlaced     EventKind = "order_placed"
	EventOrderCanceled   EventKind = "order_canceled"
	EventOrderFilled     EventKind = "order_filled"
	EventPositionClosed  EventKind = "position_closed"
	EventSignalRejected  EventKind = "signal_rejected"
	EventSmartExit       EventKind = "smart_exit"
	EventAllocation      EventKind = "allocation"
	EventStrategyAction  EventKind = "strategy_action"
	EventStrategyStopped EventKind = "strategy_disabled"
	EventError           EventKind = "error"
	EventTest            EventKind = "test"
)

// Severity of an event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
	SeverityFatal Severity = "fatal"
)

// Event is the single notification shape emitted by the trading core.
type Event struct {
	Kind     EventKind         `json:"kind"`
	Severity Severity          `json:"severity"`
	Symbol   string            `json:"symbol,omitempty"`
	Message  string            `json:"message"`
	Error    string            `json:"error,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Time     time.Time         `json:"time"`
}
