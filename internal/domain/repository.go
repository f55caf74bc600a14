package domain

import (
	"context"
	"time"
)

// TradeJournal records closed trades.
type TradeJournal interface {
	Record(ctx context.Context, trade *ClosedTrade) error
	History(ctx context.Context, from time.Time) ([]*ClosedTrade, error)
}

// StrategyStore persists custom strategies.
type StrategyStore interface {
	Save(ctx context.Context, s *CustomStrategy) error
	Get(ctx context.Context, id string) (*CustomStrategy, error)
	List(ctx context.Context) ([]*CustomStrategy, error)
	Delete(ctx context.Context, id string) error
}

// OrderStore holds orders this bot placed and still tracks, keyed by order id.
// Implementations return copies; callers write back with Put.
type OrderStore interface {
	Put(o *Order)
	Get(orderID int64) (*Order, bool)
	Delete(orderID int64)
	List() []*Order
	BySymbol(symbol string) []*Order
}

// PositionStore holds filled entries, one per symbol.
type PositionStore interface {
	Put(p *Position)
	Get(symbol string) (*Position, bool)
	Delete(symbol string)
	List() []*Position
}

// PortfolioStore holds auto-mode allocations keyed by symbol.
type PortfolioStore interface {
	Put(p *PortfolioPosition)
	Get(symbol string) (*PortfolioPosition, bool)
	Delete(symbol string)
	List() []*PortfolioPosition
}

// EventLog persists notifications for later inspection.
type EventLog interface {
	Append(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// DeviceToken is a registered push notification target.
type DeviceToken struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

// TokenRepository manages FCM device tokens.
type TokenRepository interface {
	Register(ctx context.Context, token, platform string) error
	Unregister(ctx context.Context, token string) error
	All(ctx context.Context) ([]string, error)
}
