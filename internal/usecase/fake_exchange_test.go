package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
	"perp-backend/internal/repository"
)

// fakeExchange is a scripted in-memory exchange. Entry orders rest until the
// test fills them; reduce-only market orders fill at the mark immediately.
type fakeExchange struct {
	mu sync.Mutex

	nextID    int64
	positions map[string]domain.PositionInfo
	open      map[int64]domain.OrderResult
	settled   map[int64]domain.OrderResult
	lots      map[string]domain.LotSize
	brackets  map[string][]domain.LeverageBracket
	marks     map[string]float64
	candles   map[string][]domain.Candle
	leverage  map[string]int

	placed       []domain.OrderRequest
	leverageLog  []int
	canceled     []int64
	ignoreReduce bool

	placeErr    func(req domain.OrderRequest, leverage int) error
	positionErr error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		nextID:    1000,
		positions: make(map[string]domain.PositionInfo),
		open:      make(map[int64]domain.OrderResult),
		settled:   make(map[int64]domain.OrderResult),
		lots:      make(map[string]domain.LotSize),
		brackets:  make(map[string][]domain.LeverageBracket),
		marks:     make(map[string]float64),
		candles:   make(map[string][]domain.Candle),
		leverage:  make(map[string]int),
	}
}

var _ domain.ExchangeClient = (*fakeExchange)(nil)
var _ domain.MarketData = (*fakeExchange)(nil)

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		if err := f.placeErr(req, f.leverage[req.Symbol]); err != nil {
			return nil, err
		}
	}
	f.nextID++
	res := domain.OrderResult{
		OrderID:       f.nextID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          string(req.Type),
		Price:         req.Price,
		OrigQty:       req.Quantity,
		ReduceOnly:    req.ReduceOnly,
		Status:        domain.OrderStatusNew,
	}
	if req.ReduceOnly && req.Type == domain.OrderTypeMarket {
		res.Status = domain.OrderStatusFilled
		res.ExecutedQty = req.Quantity
		res.AvgPrice = f.marks[req.Symbol]
		if !f.ignoreReduce {
			f.reduce(req.Symbol, req.Quantity)
		}
		f.settled[res.OrderID] = res
		return &res, nil
	}
	f.open[res.OrderID] = res
	return &res, nil
}

func (f *fakeExchange) reduce(symbol string, qty float64) {
	p := f.positions[symbol]
	amt := decimal.NewFromFloat(p.PositionAmt)
	q := decimal.NewFromFloat(qty)
	switch {
	case amt.IsPositive():
		amt = decimal.Max(amt.Sub(q), decimal.Zero)
	case amt.IsNegative():
		amt = decimal.Min(amt.Add(q), decimal.Zero)
	}
	p.PositionAmt = amt.InexactFloat64()
	f.positions[symbol] = p
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.open[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	delete(f.open, orderID)
	o.Status = domain.OrderStatusCanceled
	f.settled[orderID] = o
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeExchange) GetOrderStatus(_ context.Context, _ string, orderID int64) (*domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.open[orderID]; ok {
		return &o, nil
	}
	if o, ok := f.settled[orderID]; ok {
		return &o, nil
	}
	return nil, domain.ErrOrderNotFound
}

func (f *fakeExchange) GetOpenOrders(_ context.Context, symbol string) ([]domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OrderResult
	for _, o := range f.open {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeExchange) GetPosition(_ context.Context, symbol string) (*domain.PositionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionErr != nil {
		return nil, f.positionErr
	}
	p := f.positions[symbol]
	p.Symbol = symbol
	if p.MarkPrice == 0 {
		p.MarkPrice = f.marks[symbol]
	}
	return &p, nil
}

func (f *fakeExchange) GetAccountBalance(context.Context) (*domain.Balance, error) {
	return &domain.Balance{}, nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverage[symbol] = leverage
	f.leverageLog = append(f.leverageLog, leverage)
	return nil
}

func (f *fakeExchange) GetMarketLotSize(_ context.Context, symbol string) (*domain.LotSize, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lots[symbol]; ok {
		return &l, nil
	}
	return &domain.LotSize{MinQty: 0.001, MaxQty: 1000, StepSize: 0.001}, nil
}

func (f *fakeExchange) GetLeverageBracket(_ context.Context, symbol string) ([]domain.LeverageBracket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.brackets[symbol]; ok {
		return b, nil
	}
	return []domain.LeverageBracket{{NotionalFloor: 0, NotionalCap: 1e9, InitialLeverage: 125}}, nil
}

func (f *fakeExchange) GetCandles(_ context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.candles[symbol+"/"+interval]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return c, nil
}

func (f *fakeExchange) GetMarkPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.marks[symbol]; ok {
		return m, nil
	}
	return 0, domain.ErrInvalidOrder
}

// test scripting

func (f *fakeExchange) setPosition(symbol string, amt, entry, mark float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[symbol] = domain.PositionInfo{Symbol: symbol, PositionAmt: amt, EntryPrice: entry, MarkPrice: mark}
	f.marks[symbol] = mark
}

func (f *fakeExchange) setMark(symbol string, mark float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[symbol] = mark
	p, ok := f.positions[symbol]
	if ok {
		p.MarkPrice = mark
		f.positions[symbol] = p
	}
}

func (f *fakeExchange) setPnL(symbol string, pnl float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.positions[symbol]
	p.UnRealizedProfit = pnl
	f.positions[symbol] = p
}

// fill executes qty of a resting order at price. A complete fill removes it
// from the open list.
func (f *fakeExchange) fill(orderID int64, qty, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.open[orderID]
	o.ExecutedQty += qty
	o.AvgPrice = price
	delta := qty
	if o.Side == "SELL" {
		delta = -qty
	}
	p := f.positions[o.Symbol]
	p.PositionAmt = decimal.NewFromFloat(p.PositionAmt).Add(decimal.NewFromFloat(delta)).InexactFloat64()
	if p.EntryPrice == 0 {
		p.EntryPrice = price
	}
	p.Symbol = o.Symbol
	f.positions[o.Symbol] = p

	if o.ExecutedQty >= o.OrigQty {
		o.Status = domain.OrderStatusFilled
		delete(f.open, orderID)
		f.settled[orderID] = o
		return
	}
	o.Status = domain.OrderStatusPartiallyFilled
	f.open[orderID] = o
}

// expire drops a resting order from the book with the given final status.
func (f *fakeExchange) expire(orderID int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.open[orderID]
	delete(f.open, orderID)
	o.Status = status
	f.settled[orderID] = o
}

func (f *fakeExchange) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeExchange) placedOrders() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderRequest(nil), f.placed...)
}

func (f *fakeExchange) leverages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.leverageLog...)
}

func (f *fakeExchange) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testSettings() domain.Settings {
	s := domain.DefaultSettings()
	s.Capital = 1000
	s.PositionSize = 10
	s.Leverage = 10
	s.OrderType = domain.OrderTypeLimit
	return s
}

func newTestCore(ex *fakeExchange, settings domain.Settings) *tradingCore {
	log := testLogger()
	metrics := NewMetrics(nil)
	return &tradingCore{
		ex:          ex,
		orders:      repository.NewInMemoryOrderStore(),
		positions:   repository.NewInMemoryPositionStore(),
		portfolio:   repository.NewInMemoryPortfolioStore(),
		sizer:       NewSizer(ex),
		notifier:    NewNotifier(log, metrics, 1024),
		metrics:     metrics,
		log:         log,
		now:         time.Now,
		realTrading: true,
		settings:    settings,
	}
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
