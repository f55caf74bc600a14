package domain

import (
	"context"
	"time"
)

// OrderRequest is what the bot sends to place an order.
type OrderRequest struct {
	Symbol        string
	Side          string // BUY or SELL
	Type          OrderType
	Quantity      float64
	Price         float64 // LIMIT only
	ReduceOnly    bool
	ClientOrderID string
}

// OrderResult is the exchange's view of a placed or queried order.
type OrderResult struct {
	OrderID       int64   `json:"orderId"`
	ClientOrderID string  `json:"clientOrderId"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Price         float64 `json:"price"`
	AvgPrice      float64 `json:"avgPrice"`
	OrigQty       float64 `json:"origQty"`
	ExecutedQty   float64 `json:"executedQty"`
	ReduceOnly    bool    `json:"reduceOnly"`
	UpdateTime    int64   `json:"updateTime"`
}

// Unfilled is the quantity still resting on the book.
func (o OrderResult) Unfilled() float64 {
	u := o.OrigQty - o.ExecutedQty
	if u < 0 {
		return 0
	}
	return u
}

// PositionInfo is the exchange-reported position for a symbol.
// PositionAmt is signed: negative for shorts.
type PositionInfo struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt"`
	EntryPrice       float64 `json:"entryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	UnRealizedProfit float64 `json:"unRealizedProfit"`
	Leverage         int     `json:"leverage"`
}

// Balance is the account's margin balance summary.
type Balance struct {
	Asset            string  `json:"asset"`
	Balance          float64 `json:"balance"`
	AvailableBalance float64 `json:"availableBalance"`
}

// LotSize holds the exchange quantity filter for market orders.
type LotSize struct {
	MinQty   float64 `json:"minQty"`
	MaxQty   float64 `json:"maxQty"`
	StepSize float64 `json:"stepSize"`
}

// LeverageBracket is one notional tier and its maximum leverage.
type LeverageBracket struct {
	NotionalFloor   float64 `json:"notionalFloor"`
	NotionalCap     float64 `json:"notionalCap"`
	InitialLeverage int     `json:"initialLeverage"`
}

// Candle is one OHLCV bar, oldest first when in a slice.
type Candle struct {
	OpenTime time.Time `json:"openTime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// ExchangeClient is the order/position capability of the exchange adapter.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*OrderResult, error)
	// GetOpenOrders returns all open orders when symbol is empty.
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
	GetPosition(ctx context.Context, symbol string) (*PositionInfo, error)
	GetAccountBalance(ctx context.Context) (*Balance, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetMarketLotSize(ctx context.Context, symbol string) (*LotSize, error)
	GetLeverageBracket(ctx context.Context, symbol string) ([]LeverageBracket, error)
}

// MarketData serves candles for strategy evaluation and bias checks.
type MarketData interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
}
