package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
)

// MaxActivePositions caps distinct symbols with a resting entry or open position.
const MaxActivePositions = 3

// priceTolerance is the relative distance under which two limit prices match.
const priceTolerance = 0.0001

// tradingCore is the state and exchange access shared by intake, allocator
// and manager.
type tradingCore struct {
	ex        domain.ExchangeClient
	orders    domain.OrderStore
	positions domain.PositionStore
	portfolio domain.PortfolioStore
	sizer     *Sizer
	notifier  *Notifier
	metrics   *Metrics
	log       *logrus.Entry
	now       func() time.Time

	realTrading bool

	settingsMu sync.RWMutex
	settings   domain.Settings
}

func (c *tradingCore) Settings() domain.Settings {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	s := c.settings
	s.ExcludedPairs = append([]string(nil), c.settings.ExcludedPairs...)
	return s
}

// activeSymbols is every symbol with a tracked order, position or allocation.
func (c *tradingCore) activeSymbols() map[string]struct{} {
	active := make(map[string]struct{})
	for _, o := range c.orders.List() {
		active[o.Symbol] = struct{}{}
	}
	for _, p := range c.positions.List() {
		active[p.Symbol] = struct{}{}
	}
	for _, p := range c.portfolio.List() {
		active[p.Symbol] = struct{}{}
	}
	return active
}

// capReached reports whether a new entry on symbol would exceed the global cap.
// A symbol that is already active does not count against itself.
func (c *tradingCore) capReached(symbol string) bool {
	active := c.activeSymbols()
	delete(active, symbol)
	return len(active) >= MaxActivePositions
}

func (c *tradingCore) updateGauges() {
	c.metrics.activeOrders.Set(float64(len(c.orders.List())))
	c.metrics.activePositions.Set(float64(len(c.positions.List()) + len(c.portfolio.List())))
}

// placeEntry places an opening order and records it in the order store.
func (c *tradingCore) placeEntry(ctx context.Context, in entryOrder) (*domain.Order, error) {
	if !c.realTrading {
		return nil, domain.ErrRealTradingDisabled
	}
	req := domain.OrderRequest{
		Symbol:        in.symbol,
		Side:          in.side.OrderSide(),
		Type:          in.orderType,
		Quantity:      in.quantity,
		ClientOrderID: newClientOrderID(in.prefix),
	}
	if in.orderType == domain.OrderTypeLimit {
		req.Price = in.price
	}

	res, err := c.ex.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	qty := res.OrigQty
	if qty == 0 {
		qty = in.quantity
	}
	o := &domain.Order{
		OrderID:         res.OrderID,
		ClientOrderID:   res.ClientOrderID,
		Symbol:          in.symbol,
		Side:            in.side,
		Type:            in.orderType,
		EntryPrice:      in.price,
		Quantity:        qty,
		ExecutedQty:     res.ExecutedQty,
		Status:          res.Status,
		TakeProfit:      in.takeProfit,
		StopLoss:        in.stopLoss,
		CreatedAt:       c.now(),
		EntryConfidence: in.confidence,
		NoTimeout:       in.noTimeout,
		Strategy:        in.strategy,
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = req.ClientOrderID
	}
	c.orders.Put(o)
	c.metrics.ordersPlaced.WithLabelValues(string(in.strategy), string(in.orderType)).Inc()
	c.updateGauges()

	c.notifier.Emit(domain.Event{
		Kind:    domain.EventOrderPlaced,
		Symbol:  in.symbol,
		Message: "order placed",
		Fields: map[string]string{
			"orderId":  fmt.Sprint(o.OrderID),
			"side":     string(o.Side),
			"type":     string(o.Type),
			"price":    fmt.Sprint(o.EntryPrice),
			"quantity": fmt.Sprint(o.Quantity),
			"strategy": string(o.Strategy),
		},
	})
	return o, nil
}

type entryOrder struct {
	symbol     string
	side       domain.Side
	orderType  domain.OrderType
	price      float64
	quantity   float64
	takeProfit float64
	stopLoss   float64
	confidence domain.Confidence
	noTimeout  bool
	strategy   domain.StrategyKind
	prefix     string
}

// cancelOrder cancels on the exchange and marks the tracked copy CANCELING so
// the next poll settles its fate. An order the exchange no longer knows is
// treated as cancelled.
func (c *tradingCore) cancelOrder(ctx context.Context, symbol string, orderID int64, reason string) error {
	err := c.ex.CancelOrder(ctx, symbol, orderID)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		return fmt.Errorf("cancel %s/%d: %w", symbol, orderID, err)
	}
	if o, ok := c.orders.Get(orderID); ok {
		o.Status = domain.OrderStatusCanceling
		c.orders.Put(o)
	}
	c.metrics.ordersCanceled.WithLabelValues(reason).Inc()
	c.notifier.Emit(domain.Event{
		Kind:    domain.EventOrderCanceled,
		Symbol:  symbol,
		Message: "order canceled",
		Fields:  map[string]string{"orderId": fmt.Sprint(orderID), "reason": reason},
	})
	return nil
}

func newClientOrderID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

func samePrice(a, b float64) bool {
	if b == 0 {
		return a == 0
	}
	return math.Abs(a-b) <= math.Abs(b)*priceTolerance
}
