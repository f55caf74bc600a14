package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
)

const (
	DefaultOrderPollInterval    = 2 * time.Second
	DefaultPositionPollInterval = 5 * time.Second
	DefaultReferenceSymbol      = "BTCUSDT"
)

var (
	ErrBotStopped  = errors.New("bot stopped")
	ErrAutoModeOff = errors.New("auto mode is off")
)

// ManagerConfig wires the manager's collaborators.
type ManagerConfig struct {
	Exchange  domain.ExchangeClient
	Market    domain.MarketData
	Orders    domain.OrderStore
	Positions domain.PositionStore
	Portfolio domain.PortfolioStore
	Journal   domain.TradeJournal
	Notifier  *Notifier
	Metrics   *Metrics
	Logger    *logrus.Entry

	Settings        domain.Settings
	RealTrading     bool
	ReferenceSymbol string

	OrderPollInterval    time.Duration
	PositionPollInterval time.Duration

	SmartExit SmartExitConfig
	Rand      *rand.Rand
	Now       func() time.Time
}

// Manager owns the order, position and portfolio stores, routes signals to
// intake handlers and runs the order and position polling loops.
type Manager struct {
	*tradingCore

	market    domain.MarketData
	journal   domain.TradeJournal
	closer    *PositionCloser
	smart     *SmartExitEngine
	allocator *PortfolioAllocator
	handlers  map[domain.StrategyKind]*IntakeHandler
	signals   *SignalRegistry

	orderInterval    time.Duration
	positionInterval time.Duration

	runMu     sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	accepting atomic.Bool
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier(cfg.Logger, cfg.Metrics, 0)
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.ReferenceSymbol == "" {
		cfg.ReferenceSymbol = DefaultReferenceSymbol
	}
	if cfg.OrderPollInterval <= 0 {
		cfg.OrderPollInterval = DefaultOrderPollInterval
	}
	if cfg.PositionPollInterval <= 0 {
		cfg.PositionPollInterval = DefaultPositionPollInterval
	}
	if cfg.SmartExit == (SmartExitConfig{}) {
		cfg.SmartExit = DefaultSmartExitConfig()
	}
	if cfg.Settings.SmartModeMinPnl > 0 {
		cfg.SmartExit.ProtectProfitAbove = cfg.Settings.SmartModeMinPnl
	}

	core := &tradingCore{
		ex:          cfg.Exchange,
		orders:      cfg.Orders,
		positions:   cfg.Positions,
		portfolio:   cfg.Portfolio,
		sizer:       NewSizer(cfg.Exchange),
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.WithField("component", "manager"),
		now:         cfg.Now,
		realTrading: cfg.RealTrading,
		settings:    cfg.Settings,
	}

	m := &Manager{
		tradingCore:      core,
		market:           cfg.Market,
		journal:          cfg.Journal,
		closer:           NewPositionCloser(cfg.Exchange, cfg.Logger),
		smart:            NewSmartExitEngine(cfg.SmartExit),
		handlers:         make(map[domain.StrategyKind]*IntakeHandler),
		signals:          NewSignalRegistry(),
		orderInterval:    cfg.OrderPollInterval,
		positionInterval: cfg.PositionPollInterval,
	}
	for _, d := range DefaultDescriptors() {
		m.handlers[d.Kind] = newIntakeHandler(core, d)
	}
	m.allocator = newPortfolioAllocator(core, cfg.Market, cfg.ReferenceSymbol, cfg.Rand, func(ctx context.Context, symbol, reason string) error {
		_, err := m.closeSymbol(ctx, symbol, reason)
		return err
	})
	m.accepting.Store(true)
	return m
}

// Signals is the registry of the latest accepted signal per strategy and symbol.
func (m *Manager) Signals() *SignalRegistry { return m.signals }

// Start launches the polling loops. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.accepting.Store(true)

	onErr := func(name string, err error) {
		m.notifier.Report(domain.EventError, "", name+" tick failed", err)
	}
	loops := []*Loop{
		{Name: "order_poll", Interval: m.orderInterval, Tick: m.PollOrders, OnError: onErr, Metrics: m.metrics},
		{Name: "position_check", Interval: m.positionInterval, Tick: m.CheckPositions, OnError: onErr, Metrics: m.metrics},
	}
	for _, l := range loops {
		m.wg.Add(1)
		go func(l *Loop) {
			defer m.wg.Done()
			l.Run(ctx)
		}(l)
	}
	m.log.WithFields(logrus.Fields{
		"orderPoll":     m.orderInterval,
		"positionCheck": m.positionInterval,
		"realTrading":   m.realTrading,
	}).Info("manager started")
}

// Stop halts the loops and rejects new signals until the next Start.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMu.Unlock()

	m.accepting.Store(false)
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.log.Info("manager stopped")
}

// Running reports whether the polling loops are active.
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

// UpdateSettings replaces the operator settings.
func (m *Manager) UpdateSettings(s domain.Settings) {
	m.settingsMu.Lock()
	m.settings = s
	m.settingsMu.Unlock()
	if s.SmartModeMinPnl > 0 {
		m.smart.SetProfitThreshold(s.SmartModeMinPnl)
	}
	m.log.WithFields(logrus.Fields{
		"autoMode":  s.AutoMode,
		"smartMode": s.SmartMode,
		"leverage":  s.Leverage,
		"orderType": s.OrderType,
	}).Info("settings updated")
}

func (m *Manager) Orders() []*domain.Order                 { return m.orders.List() }
func (m *Manager) Positions() []*domain.Position           { return m.positions.List() }
func (m *Manager) Portfolio() []*domain.PortfolioPosition { return m.portfolio.List() }

// PositionSide reports the side of a tracked position or allocation on symbol.
func (m *Manager) PositionSide(symbol string) (domain.Side, bool) {
	if p, ok := m.positions.Get(symbol); ok {
		return p.Side, true
	}
	if p, ok := m.portfolio.Get(symbol); ok && p.Quantity > 0 {
		return p.Side, true
	}
	return "", false
}

// HandleSignal records the signal, lets Smart Exit react when the symbol is
// held and otherwise routes it to the strategy's intake handler.
func (m *Manager) HandleSignal(ctx context.Context, sig domain.Signal) (IntakeResult, error) {
	sig.Symbol = strings.ToUpper(strings.TrimSpace(sig.Symbol))
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = m.now()
	}
	if sig.Confidence == "" {
		sig.Confidence = domain.ConfidenceUnknown
	}
	if !m.accepting.Load() {
		return IntakeResult{Action: IntakeReject, Reason: ErrBotStopped.Error()}, nil
	}
	h, ok := m.handlers[sig.Strategy]
	if !ok {
		return IntakeResult{}, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidOrder, sig.Strategy)
	}
	m.signals.Record(sig)

	if res, handled, err := m.smartExit(ctx, sig); handled || err != nil {
		m.metrics.signals.WithLabelValues(string(sig.Strategy), string(res.Action)).Inc()
		return res, err
	}

	res, err := h.Handle(ctx, sig)
	m.metrics.signals.WithLabelValues(string(sig.Strategy), string(res.Action)).Inc()
	if err != nil {
		m.notifier.Report(domain.EventSignalRejected, sig.Symbol, "signal handling failed", err)
	}
	return res, err
}

// smartExit feeds held positions' signals into the engine. handled is true
// when the position was closed because of this signal.
func (m *Manager) smartExit(ctx context.Context, sig domain.Signal) (IntakeResult, bool, error) {
	settings := m.Settings()

	view, auto, ok := m.heldView(sig)
	if !ok {
		return IntakeResult{}, false, nil
	}
	if !auto && !settings.SmartMode {
		return IntakeResult{}, false, nil
	}
	if sig.Side == domain.SideNeutral && auto {
		return IntakeResult{}, false, nil
	}

	info, err := m.ex.GetPosition(ctx, sig.Symbol)
	if err != nil {
		return IntakeResult{}, false, fmt.Errorf("get position %s: %w", sig.Symbol, err)
	}
	decision := m.smart.Evaluate(sig.Symbol, view, SignalView{
		Side:       sig.Side,
		Confidence: sig.Confidence,
		Score:      sig.Score,
	}, info.UnRealizedProfit, auto || settings.AutoMode, m.now())
	if !decision.ShouldExit {
		return IntakeResult{}, false, nil
	}

	m.notifier.Emit(domain.Event{
		Kind:     domain.EventSmartExit,
		Severity: domain.SeverityWarn,
		Symbol:   sig.Symbol,
		Message:  "smart exit triggered",
		Fields: map[string]string{
			"reason":   decision.Reason,
			"rule":     fmt.Sprint(decision.Rule),
			"strategy": string(sig.Strategy),
			"pnl":      fmt.Sprintf("%.4f", info.UnRealizedProfit),
		},
	})
	if _, err := m.closeSymbol(ctx, sig.Symbol, decision.Reason); err != nil {
		return IntakeResult{Action: IntakeExit, Reason: decision.Reason}, true, err
	}
	return IntakeResult{Action: IntakeExit, Reason: decision.Reason}, true, nil
}

// heldView appends sig to the held position's history and returns the view
// the engine needs. auto is true for portfolio allocations.
func (m *Manager) heldView(sig domain.Signal) (PositionView, bool, bool) {
	rec := domain.SignalRecord{Confidence: sig.Confidence, Side: sig.Side, Timestamp: sig.ReceivedAt}
	if p, ok := m.positions.Get(sig.Symbol); ok {
		p.AppendSignal(rec)
		m.positions.Put(p)
		return PositionView{Side: p.Side, EntryConfidence: p.EntryConfidence, FilledAt: p.FilledAt}, false, true
	}
	if p, ok := m.portfolio.Get(sig.Symbol); ok && p.State == domain.PortfolioStateOpen {
		p.AppendSignal(rec)
		m.portfolio.Put(p)
		return PositionView{Side: p.Side, EntryConfidence: p.EntryConfidence, FilledAt: p.FilledAt}, true, true
	}
	return PositionView{}, false, false
}

// HandleScannerBatch applies monitoring updates and runs the allocator.
func (m *Manager) HandleScannerBatch(ctx context.Context, batch domain.ScannerBatch) (AllocationResult, error) {
	if !m.accepting.Load() {
		return AllocationResult{}, ErrBotStopped
	}
	if !m.Settings().AutoMode {
		return AllocationResult{}, ErrAutoModeOff
	}
	m.applyMonitoring(ctx, batch.Monitoring)
	return m.allocator.Allocate(ctx, batch)
}

// applyMonitoring refreshes state and score of held allocations. An
// opposite-side pick for a held symbol is treated as a reversal signal.
func (m *Manager) applyMonitoring(ctx context.Context, picks []domain.ScannerPick) {
	for _, pick := range picks {
		sym := strings.ToUpper(pick.Symbol)
		p, ok := m.portfolio.Get(sym)
		if !ok {
			continue
		}
		if pick.Score > 0 {
			p.Score = pick.Score
		}
		if pick.InvalidationPrice > 0 {
			p.InvalidationPrice = pick.InvalidationPrice
		}
		if st := strings.ToUpper(pick.State); st != "" && p.State != domain.PortfolioStatePending {
			p.State = st
		}
		m.portfolio.Put(p)

		if p.State == domain.PortfolioStateInvalidated {
			if _, err := m.closeSymbol(ctx, sym, "invalidated"); err != nil {
				m.notifier.Report(domain.EventError, sym, "close on invalidation failed", err)
			}
			continue
		}
		if pick.Side == p.Side.Opposite() && p.State == domain.PortfolioStateOpen {
			_, _, err := m.smartExit(ctx, domain.Signal{
				Strategy:   domain.StrategyPortfolioAuto,
				Symbol:     sym,
				Side:       pick.Side,
				Confidence: confidenceFromScore(pick.Score),
				Score:      pick.Score,
				ReceivedAt: m.now(),
			})
			if err != nil {
				m.notifier.Report(domain.EventError, sym, "smart exit on monitoring failed", err)
			}
		}
	}
}

// PollOrders reconciles tracked orders against the exchange.
func (m *Manager) PollOrders(ctx context.Context) error {
	tracked := m.orders.List()
	if len(tracked) == 0 {
		return nil
	}

	open, err := m.ex.GetOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}
	byID := make(map[int64]domain.OrderResult, len(open))
	for _, o := range open {
		byID[o.OrderID] = o
	}

	settings := m.Settings()
	timeout := time.Duration(settings.OrderTimeoutSeconds) * time.Second
	now := m.now()

	for _, o := range tracked {
		if r, ok := byID[o.OrderID]; ok {
			if o.Status != domain.OrderStatusCanceling {
				o.Status = r.Status
			}
			o.ExecutedQty = r.ExecutedQty
			m.orders.Put(o)

			if timeout > 0 && !o.NoTimeout && o.Status != domain.OrderStatusCanceling && now.Sub(o.CreatedAt) > timeout {
				if err := m.cancelOrder(ctx, o.Symbol, o.OrderID, "timeout"); err != nil {
					m.notifier.Report(domain.EventError, o.Symbol, "timeout cancel failed", err)
				}
			}
			continue
		}

		status, err := m.ex.GetOrderStatus(ctx, o.Symbol, o.OrderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			m.orders.Delete(o.OrderID)
			continue
		}
		if err != nil {
			m.notifier.Report(domain.EventError, o.Symbol, "order status query failed", err)
			continue
		}

		switch status.Status {
		case domain.OrderStatusFilled:
			m.promote(o, status.ExecutedQty, status.AvgPrice)
		case domain.OrderStatusCanceled, domain.OrderStatusExpired, domain.OrderStatusRejected:
			if status.ExecutedQty > 0 {
				m.promote(o, status.ExecutedQty, status.AvgPrice)
			} else {
				m.orders.Delete(o.OrderID)
				m.dropFromPortfolio(o)
			}
		default:
			// Listed as open again on the next poll.
			o.Status = status.Status
			o.ExecutedQty = status.ExecutedQty
			m.orders.Put(o)
		}
	}
	m.updateGauges()
	return nil
}

// promote turns a (partially) filled order into a position. A second fill on
// a symbol already held merges into it.
func (m *Manager) promote(o *domain.Order, qty, avgPrice float64) {
	m.orders.Delete(o.OrderID)
	if qty <= 0 {
		qty = o.Quantity
	}
	price := avgPrice
	if price <= 0 {
		price = o.EntryPrice
	}
	now := m.now()

	if o.Strategy == domain.StrategyPortfolioAuto {
		if p, ok := m.portfolio.Get(o.Symbol); ok {
			p.EntryPrice = WeightedEntry(p.EntryPrice, p.Quantity, price, qty)
			p.Quantity += qty
			if p.FilledAt.IsZero() {
				p.FilledAt = now
			}
			if p.State == domain.PortfolioStatePending {
				p.State = domain.PortfolioStateOpen
			}
			m.portfolio.Put(p)
			m.filled(o, qty, price)
			return
		}
	}

	if p, ok := m.positions.Get(o.Symbol); ok && p.Side == o.Side {
		p.EntryPrice = WeightedEntry(p.EntryPrice, p.Quantity, price, qty)
		p.Quantity += qty
		m.positions.Put(p)
		m.filled(o, qty, price)
		return
	}

	m.positions.Put(&domain.Position{
		Symbol:          o.Symbol,
		Side:            o.Side,
		EntryPrice:      price,
		Quantity:        qty,
		TakeProfit:      o.TakeProfit,
		StopLoss:        o.StopLoss,
		FilledAt:        now,
		EntryConfidence: o.EntryConfidence,
		SignalHistory:   []domain.SignalRecord{},
		Strategy:        o.Strategy,
	})
	m.smart.Reset(o.Symbol)
	m.filled(o, qty, price)
}

func (m *Manager) filled(o *domain.Order, qty, price float64) {
	m.metrics.ordersFilled.WithLabelValues(string(o.Strategy)).Inc()
	m.notifier.Emit(domain.Event{
		Kind:    domain.EventOrderFilled,
		Symbol:  o.Symbol,
		Message: "order filled",
		Fields: map[string]string{
			"orderId":  fmt.Sprint(o.OrderID),
			"side":     string(o.Side),
			"price":    fmt.Sprint(price),
			"quantity": fmt.Sprint(qty),
			"strategy": string(o.Strategy),
		},
	})
}

// dropFromPortfolio forgets a dead order id; an allocation with no orders
// left and nothing filled is removed.
func (m *Manager) dropFromPortfolio(o *domain.Order) {
	if o.Strategy != domain.StrategyPortfolioAuto {
		return
	}
	p, ok := m.portfolio.Get(o.Symbol)
	if !ok {
		return
	}
	ids := p.OrderIDs[:0]
	for _, id := range p.OrderIDs {
		if id != o.OrderID {
			ids = append(ids, id)
		}
	}
	p.OrderIDs = ids
	if len(ids) == 0 && p.Quantity == 0 {
		m.portfolio.Delete(o.Symbol)
		return
	}
	m.portfolio.Put(p)
}

// CheckPositions applies TP/SL to plain positions and the structure stop,
// invalidation and trailing rules to portfolio allocations.
func (m *Manager) CheckPositions(ctx context.Context) error {
	var errs []error
	for _, p := range m.positions.List() {
		if err := m.checkPosition(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range m.portfolio.List() {
		if p.Quantity <= 0 {
			continue
		}
		if err := m.checkPortfolio(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	m.updateGauges()
	return errors.Join(errs...)
}

func (m *Manager) checkPosition(ctx context.Context, p *domain.Position) error {
	info, err := m.ex.GetPosition(ctx, p.Symbol)
	if err != nil {
		return fmt.Errorf("get position %s: %w", p.Symbol, err)
	}
	if info.PositionAmt == 0 {
		m.closedExternally(ctx, p.Symbol, p.Side, p.Strategy, p.EntryPrice, p.Quantity, info.MarkPrice, p.FilledAt)
		return nil
	}

	pnl := PnLPercent(p.Side, p.EntryPrice, info.MarkPrice)
	var reason string
	switch {
	case p.TakeProfit > 0 && pnl >= p.TakeProfit:
		reason = "take_profit"
	case p.StopLoss > 0 && pnl <= -p.StopLoss:
		reason = "stop_loss"
	default:
		return nil
	}
	m.log.WithFields(logrus.Fields{"symbol": p.Symbol, "pnlPercent": pnl, "reason": reason}).Info("exit threshold crossed")
	_, err = m.closeSymbol(ctx, p.Symbol, reason)
	return err
}

func (m *Manager) checkPortfolio(ctx context.Context, p *domain.PortfolioPosition) error {
	info, err := m.ex.GetPosition(ctx, p.Symbol)
	if err != nil {
		return fmt.Errorf("get position %s: %w", p.Symbol, err)
	}
	if info.PositionAmt == 0 {
		for _, id := range p.OrderIDs {
			if _, ok := m.orders.Get(id); ok {
				_ = m.cancelOrder(ctx, p.Symbol, id, "closed_externally")
				m.orders.Delete(id)
			}
		}
		m.closedExternally(ctx, p.Symbol, p.Side, p.Strategy, p.EntryPrice, p.Quantity, info.MarkPrice, p.FilledAt)
		return nil
	}

	reason, changed := trailPortfolio(p, info.MarkPrice)
	if changed {
		m.portfolio.Put(p)
	}
	if reason == "" {
		return nil
	}
	m.log.WithFields(logrus.Fields{
		"symbol":    p.Symbol,
		"mark":      info.MarkPrice,
		"currentSL": p.CurrentSL,
		"reason":    reason,
	}).Info("portfolio exit")
	_, err = m.closeSymbol(ctx, p.Symbol, reason)
	return err
}

// trailPortfolio updates the trailing state for mark and returns an exit
// reason when one applies. Before the server TP is hit the structure stop and
// invalidation price guard the trade; afterwards a stop trails the mark by
// TrailingIncrement percent and only ever moves in the trade's favour.
func trailPortfolio(p *domain.PortfolioPosition, mark float64) (string, bool) {
	if mark <= 0 {
		return "", false
	}
	long := p.Side != domain.SideShort
	against := func(level float64) bool {
		if level <= 0 {
			return false
		}
		if long {
			return mark <= level
		}
		return mark >= level
	}
	inc := p.TrailingIncrement
	if inc <= 0 {
		inc = DefaultTrailingIncrement
	}
	trail := mark * (1 - inc/100)
	if !long {
		trail = mark * (1 + inc/100)
	}

	if !p.TPHit {
		if against(p.StructureStopLoss) {
			return "structure_stop", false
		}
		if against(p.InvalidationPrice) {
			return "invalidation", false
		}
		target := p.ServerTP
		if target <= 0 && p.TakeProfit > 0 && p.EntryPrice > 0 {
			if long {
				target = p.EntryPrice * (1 + p.TakeProfit/100)
			} else {
				target = p.EntryPrice * (1 - p.TakeProfit/100)
			}
		}
		reached := target > 0 && ((long && mark >= target) || (!long && mark <= target))
		if !reached {
			return "", false
		}
		p.TPHit, p.IsTrailing, p.CurrentSL = true, true, trail
		return "", true
	}

	if against(p.CurrentSL) {
		return "trailing_stop", false
	}
	if (long && trail > p.CurrentSL) || (!long && (p.CurrentSL == 0 || trail < p.CurrentSL)) {
		p.CurrentSL = trail
		return "", true
	}
	return "", false
}

func (m *Manager) closedExternally(ctx context.Context, symbol string, side domain.Side, strategy domain.StrategyKind,
	entry, qty, mark float64, openedAt time.Time) {
	m.positions.Delete(symbol)
	m.portfolio.Delete(symbol)
	m.smart.Reset(symbol)

	pnl := 0.0
	if mark > 0 {
		pnl = unrealized(side, entry, mark, qty)
	}
	m.record(ctx, &domain.ClosedTrade{
		Symbol:     symbol,
		Side:       side,
		Strategy:   strategy,
		EntryPrice: entry,
		ExitPrice:  mark,
		Quantity:   qty,
		PnL:        pnl,
		Reason:     "closed_externally",
		OpenedAt:   openedAt,
		ClosedAt:   m.now(),
	})
	m.notifier.Emit(domain.Event{
		Kind:     domain.EventPositionClosed,
		Severity: domain.SeverityWarn,
		Symbol:   symbol,
		Message:  "position closed outside the bot",
	})
}

// ClosePosition closes symbol on operator or strategy request.
func (m *Manager) ClosePosition(ctx context.Context, symbol string) (CloseResult, error) {
	return m.closeSymbol(ctx, strings.ToUpper(symbol), "manual")
}

// CancelAllOrders cancels every tracked entry order.
func (m *Manager) CancelAllOrders(ctx context.Context) ([]int64, error) {
	var (
		canceled []int64
		errs     []error
	)
	for _, o := range m.orders.List() {
		if err := m.cancelOrder(ctx, o.Symbol, o.OrderID, "manual"); err != nil {
			errs = append(errs, err)
			continue
		}
		canceled = append(canceled, o.OrderID)
	}
	return canceled, errors.Join(errs...)
}

// closeSymbol cancels resting entries, liquidates through the closer, writes
// the journal and clears local state.
func (m *Manager) closeSymbol(ctx context.Context, symbol, reason string) (CloseResult, error) {
	var (
		side     domain.Side
		strategy domain.StrategyKind
		openedAt time.Time
		entry    float64
	)
	if p, ok := m.positions.Get(symbol); ok {
		side, strategy, openedAt, entry = p.Side, p.Strategy, p.FilledAt, p.EntryPrice
	} else if p, ok := m.portfolio.Get(symbol); ok {
		side, strategy, openedAt, entry = p.Side, p.Strategy, p.FilledAt, p.EntryPrice
	}

	for _, o := range m.orders.BySymbol(symbol) {
		if err := m.cancelOrder(ctx, symbol, o.OrderID, reason); err != nil {
			m.notifier.Report(domain.EventError, symbol, "cancel before close failed", err)
			continue
		}
		m.orders.Delete(o.OrderID)
	}

	res, err := m.closer.Close(ctx, symbol, side)
	if err != nil {
		m.notifier.Report(domain.EventError, symbol, "position close failed", err)
		return res, err
	}

	m.positions.Delete(symbol)
	m.portfolio.Delete(symbol)
	m.smart.Reset(symbol)
	m.updateGauges()

	if res.InitialAmount == 0 {
		return res, nil
	}
	if entry == 0 {
		entry = res.EntryPrice
	}
	if strategy == "" {
		strategy = domain.StrategyManual
	}

	m.record(ctx, &domain.ClosedTrade{
		Symbol:     symbol,
		Side:       res.Side,
		Strategy:   strategy,
		EntryPrice: entry,
		ExitPrice:  res.ExitPrice,
		Quantity:   res.Closed(),
		PnL:        res.NetPnL,
		Reason:     reason,
		OpenedAt:   openedAt,
		ClosedAt:   m.now(),
	})
	m.metrics.positionsClosed.WithLabelValues(reason).Inc()
	m.metrics.closeChunks.Observe(float64(len(res.Chunks)))
	m.metrics.realizedPnL.Add(res.NetPnL)
	m.notifier.Emit(domain.Event{
		Kind:    domain.EventPositionClosed,
		Symbol:  symbol,
		Message: "position closed",
		Fields: map[string]string{
			"reason": reason,
			"side":   string(res.Side),
			"chunks": fmt.Sprint(len(res.Chunks)),
			"pnl":    fmt.Sprintf("%.4f", res.NetPnL),
		},
	})
	return res, nil
}

func (m *Manager) record(ctx context.Context, t *domain.ClosedTrade) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, t); err != nil {
		m.log.WithError(err).WithField("symbol", t.Symbol).Error("journal write failed")
	}
}

// DirectOrder is an entry requested outside the signal intake, by a custom
// strategy or the operator.
type DirectOrder struct {
	Symbol       string              `json:"symbol" validate:"required,uppercase"`
	Side         domain.Side         `json:"side" validate:"required,oneof=LONG SHORT"`
	Strategy     domain.StrategyKind `json:"strategy"`
	OrderType    domain.OrderType    `json:"orderType" validate:"omitempty,oneof=LIMIT MARKET"`
	Price        float64             `json:"price" validate:"gte=0"`
	PositionSize float64             `json:"positionSize" validate:"gte=0,lte=100"`
	Leverage     int                 `json:"leverage" validate:"gte=0,lte=125"`
	TakeProfit   float64             `json:"takeProfit" validate:"gte=0"`
	StopLoss     float64             `json:"stopLoss" validate:"gte=0"`
}

// OpenDirect places one entry for symbol, using settings for anything the
// request leaves zero. Market orders are sized at the current mark price.
func (m *Manager) OpenDirect(ctx context.Context, req DirectOrder) (*domain.Order, error) {
	if !m.accepting.Load() {
		return nil, ErrBotStopped
	}
	req.Symbol = strings.ToUpper(req.Symbol)
	if req.Side != domain.SideLong && req.Side != domain.SideShort {
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, req.Side)
	}
	if _, active := m.activeSymbols()[req.Symbol]; active {
		return nil, fmt.Errorf("%w: %s already has an order or position", domain.ErrInvalidOrder, req.Symbol)
	}
	if m.capReached(req.Symbol) {
		return nil, domain.ErrPositionCapReached
	}

	s := m.Settings()
	if req.Strategy == "" {
		req.Strategy = domain.StrategyManual
	}
	if req.OrderType == "" {
		req.OrderType = domain.OrderTypeMarket
	}
	if req.PositionSize > 0 {
		s.PositionSize = req.PositionSize
	}
	if req.Leverage > 0 {
		s.Leverage = req.Leverage
	}
	if req.TakeProfit > 0 {
		s.TakeProfit = req.TakeProfit
	}
	if req.StopLoss > 0 {
		s.StopLoss = req.StopLoss
	}

	price := req.Price
	if req.OrderType == domain.OrderTypeMarket || price <= 0 {
		if m.market == nil {
			return nil, fmt.Errorf("%w: no price source", domain.ErrInvalidOrder)
		}
		mark, err := m.market.GetMarkPrice(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		if price <= 0 {
			price = mark
		}
		if req.OrderType == domain.OrderTypeMarket {
			price = mark
		}
	}

	size, err := m.sizer.Size(ctx, req.Symbol, s.Margin(), s.Leverage, price)
	if err != nil {
		return nil, err
	}
	if !m.realTrading {
		return nil, domain.ErrRealTradingDisabled
	}
	if err := m.ex.SetLeverage(ctx, req.Symbol, size.Leverage); err != nil {
		return nil, fmt.Errorf("set leverage %s: %w", req.Symbol, err)
	}

	prefix := "MAN"
	if req.Strategy == domain.StrategyCustom {
		prefix = "CS"
	}
	return m.placeEntry(ctx, entryOrder{
		symbol:     req.Symbol,
		side:       req.Side,
		orderType:  req.OrderType,
		price:      price,
		quantity:   size.Quantity,
		takeProfit: s.TakeProfit,
		stopLoss:   s.StopLoss,
		confidence: domain.ConfidenceUnknown,
		strategy:   req.Strategy,
		prefix:     prefix,
	})
}

// unrealized is the raw PnL of qty from entry to mark, by side.
func unrealized(side domain.Side, entry, mark, qty float64) float64 {
	pnl := (mark - entry) * math.Abs(qty)
	if side == domain.SideShort {
		return -pnl
	}
	return pnl
}
