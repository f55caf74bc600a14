package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
	"perp-backend/internal/infrastructure/indicators"
)

const (
	DefaultStrategyMaxErrors = 5
	strategyCandleLimit      = 200
	defaultStrategyInterval  = 30 * time.Second
)

// Trader is the subset of the manager a custom strategy drives.
type Trader interface {
	OpenDirect(ctx context.Context, req DirectOrder) (*domain.Order, error)
	ClosePosition(ctx context.Context, symbol string) (CloseResult, error)
	PositionSide(symbol string) (domain.Side, bool)
}

// StrategyRunner evaluates enabled custom strategies on their own intervals.
type StrategyRunner struct {
	store    domain.StrategyStore
	trader   Trader
	market   domain.MarketData
	signals  *SignalCache
	notifier *Notifier
	metrics  *Metrics
	log      *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	parent  context.Context
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewStrategyRunner(store domain.StrategyStore, trader Trader, market domain.MarketData,
	signals *SignalCache, notifier *Notifier, metrics *Metrics, log *logrus.Entry) *StrategyRunner {
	return &StrategyRunner{
		store:    store,
		trader:   trader,
		market:   market,
		signals:  signals,
		notifier: notifier,
		metrics:  metrics,
		log:      log.WithField("component", "strategy_runner"),
		now:      time.Now,
		running:  make(map[string]context.CancelFunc),
	}
}

// Start launches every enabled strategy. Strategies saved later are started
// through Reload.
func (r *StrategyRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.parent = ctx
	r.mu.Unlock()

	list, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list strategies: %w", err)
	}
	started := 0
	for _, s := range list {
		if s.Enabled {
			r.launch(s)
			started++
		}
	}
	r.log.WithField("count", started).Info("custom strategies started")
	return nil
}

// Reload restarts the strategy's loop from its stored definition, or stops it
// when it was deleted or disabled.
func (r *StrategyRunner) Reload(ctx context.Context, id string) error {
	r.Stop(id)
	s, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrStrategyNotFound) {
			return nil
		}
		return err
	}
	if s.Enabled {
		r.launch(s)
	}
	return nil
}

// Stop cancels the strategy's loop without waiting for an in-flight tick.
func (r *StrategyRunner) Stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[id]; ok {
		cancel()
		delete(r.running, id)
	}
}

// Wait blocks until every loop has returned after its context ended.
func (r *StrategyRunner) Wait() { r.wg.Wait() }

// Running lists the ids with an active loop.
func (r *StrategyRunner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	return ids
}

func (r *StrategyRunner) launch(s *domain.CustomStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.parent == nil {
		return
	}
	if cancel, ok := r.running[s.ID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(r.parent)
	r.running[s.ID] = cancel

	interval := time.Duration(s.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultStrategyInterval
	}
	id := s.ID
	loop := &Loop{
		Name:     "strategy",
		Interval: interval,
		Tick:     func(ctx context.Context) error { return r.tick(ctx, id) },
		OnError: func(_ string, err error) {
			r.notifier.Report(domain.EventError, s.Symbol, "strategy "+id+" tick failed", err)
		},
		Metrics: r.metrics,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		loop.Run(ctx)
	}()
}

// tick runs one evaluation. The strategy is re-read so edits and the error
// counter are always current.
func (r *StrategyRunner) tick(ctx context.Context, id string) error {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrStrategyNotFound) {
			r.Stop(id)
			return nil
		}
		return err
	}
	if !s.Enabled {
		r.Stop(id)
		return nil
	}
	log := r.log.WithFields(logrus.Fields{"strategy": s.Name, "id": s.ID, "symbol": s.Symbol})

	now := r.now()
	cooldown := time.Duration(s.CooldownSeconds) * time.Second
	if !s.LastActionAt.IsZero() && now.Sub(s.LastActionAt) < cooldown {
		return nil
	}

	ec, err := r.buildContext(ctx, s)
	if err == nil {
		var fire bool
		fire, err = EvaluateGraph(s.Graph, ec)
		if err == nil && fire {
			err = r.execute(ctx, s, ec, log)
			s.LastActionAt = now
		}
	}

	if err != nil {
		s.ConsecutiveErrors++
		log.WithError(err).WithField("errors", s.ConsecutiveErrors).Warn("strategy tick failed")
	} else {
		s.ConsecutiveErrors = 0
	}

	limit := s.MaxErrors
	if limit <= 0 {
		limit = DefaultStrategyMaxErrors
	}
	disable := s.ConsecutiveErrors >= limit
	if disable {
		s.Enabled = false
		r.notifier.Emit(domain.Event{
			Kind:     domain.EventStrategyStopped,
			Severity: domain.SeverityError,
			Symbol:   s.Symbol,
			Message:  "strategy disabled after repeated errors",
			Error:    simplify(err),
			Fields:   map[string]string{"strategy": s.Name, "id": s.ID, "errors": fmt.Sprint(s.ConsecutiveErrors)},
		})
	}
	if saveErr := r.store.Save(ctx, s); saveErr != nil {
		log.WithError(saveErr).Error("strategy state not saved")
	}
	if disable {
		r.Stop(id)
	}
	return nil
}

func (r *StrategyRunner) buildContext(ctx context.Context, s *domain.CustomStrategy) (EvalContext, error) {
	ec := EvalContext{
		Symbol:  s.Symbol,
		Candles: make(map[string]indicators.Series),
		Signals: make(map[domain.StrategyKind]*domain.Signal),
	}
	price, err := r.market.GetMarkPrice(ctx, s.Symbol)
	if err != nil {
		return ec, fmt.Errorf("mark price: %w", err)
	}
	ec.Price = price
	ec.PositionSide, ec.HasPosition = r.trader.PositionSide(s.Symbol)

	timeframes, strategies := requirements(s.Graph)
	for _, tf := range timeframes {
		candles, err := r.market.GetCandles(ctx, s.Symbol, tf, strategyCandleLimit)
		if err != nil {
			return ec, fmt.Errorf("candles %s: %w", tf, err)
		}
		ec.Candles[tf] = indicators.FromCandles(candles)
	}
	for _, kind := range strategies {
		if r.signals == nil {
			break
		}
		sig, err := r.signals.Get(ctx, kind, s.Symbol)
		if err != nil {
			return ec, fmt.Errorf("signal %s: %w", kind, err)
		}
		ec.Signals[kind] = sig
	}
	return ec, nil
}

// execute runs the action nodes in order. The first failure stops the rest.
func (r *StrategyRunner) execute(ctx context.Context, s *domain.CustomStrategy, ec EvalContext, log *logrus.Entry) error {
	for _, n := range Actions(s.Graph) {
		a := n.Action
		outcome, err := r.act(ctx, s, ec, *a)
		fields := map[string]string{"strategy": s.Name, "action": a.Kind, "outcome": outcome}
		if err != nil {
			r.notifier.Report(domain.EventStrategyAction, s.Symbol, "strategy action failed", err)
			return fmt.Errorf("action %s: %w", n.ID, err)
		}
		log.WithFields(logrus.Fields{"action": a.Kind, "outcome": outcome}).Info("strategy action")
		r.notifier.Emit(domain.Event{
			Kind:    domain.EventStrategyAction,
			Symbol:  s.Symbol,
			Message: "strategy action executed",
			Fields:  fields,
		})
		ec.PositionSide, ec.HasPosition = r.trader.PositionSide(s.Symbol)
	}
	return nil
}

func (r *StrategyRunner) act(ctx context.Context, s *domain.CustomStrategy, ec EvalContext, a domain.ActionSpec) (string, error) {
	switch a.Kind {
	case domain.ActionOpenLong, domain.ActionOpenShort:
		side := domain.SideLong
		if a.Kind == domain.ActionOpenShort {
			side = domain.SideShort
		}
		if ec.HasPosition {
			return "skipped: position held", nil
		}
		o, err := r.trader.OpenDirect(ctx, DirectOrder{
			Symbol:       s.Symbol,
			Side:         side,
			Strategy:     domain.StrategyCustom,
			OrderType:    domain.OrderTypeMarket,
			PositionSize: a.PositionSize,
			Leverage:     a.Leverage,
			TakeProfit:   a.TakeProfit,
			StopLoss:     a.StopLoss,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("order %d placed", o.OrderID), nil
	case domain.ActionClose:
		if !ec.HasPosition {
			return "skipped: nothing to close", nil
		}
		res, err := r.trader.ClosePosition(ctx, s.Symbol)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("closed in %d chunks", len(res.Chunks)), nil
	}
	return "", fmt.Errorf("%w: action kind %q", ErrInvalidGraph, a.Kind)
}
