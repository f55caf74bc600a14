package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
	"perp-backend/internal/repository"
)

type fakeTrader struct {
	mu      sync.Mutex
	held    bool
	side    domain.Side
	opened  []DirectOrder
	closed  []string
	openErr error
}

func (f *fakeTrader) OpenDirect(_ context.Context, req DirectOrder) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, req)
	return &domain.Order{OrderID: int64(len(f.opened)), Symbol: req.Symbol, Side: req.Side}, nil
}

func (f *fakeTrader) ClosePosition(_ context.Context, symbol string) (CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, symbol)
	f.held = false
	return CloseResult{Symbol: symbol, Chunks: []float64{1}}, nil
}

func (f *fakeTrader) PositionSide(string) (domain.Side, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.side, f.held
}

func (f *fakeTrader) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func breakoutStrategy() *domain.CustomStrategy {
	return &domain.CustomStrategy{
		Name:            "breakout",
		Symbol:          "BTCUSDT",
		Enabled:         true,
		IntervalSeconds: 300,
		CooldownSeconds: 60,
		Graph: domain.StrategyGraph{
			Nodes: []domain.StrategyNode{
				cond("above", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">", Value: 100}),
				cond("flat", domain.ConditionSpec{Kind: domain.LeafPosition, PositionState: "none"}),
				comb("and", domain.OpAnd),
				{ID: "buy", Type: domain.NodeAction, Action: &domain.ActionSpec{Kind: domain.ActionOpenLong, PositionSize: 5, Leverage: 3}},
			},
			Edges: edges("above", "and", "flat", "and", "and", "buy"),
		},
	}
}

type runnerFixture struct {
	runner *StrategyRunner
	store  *repository.InMemoryStrategyStore
	trader *fakeTrader
	ex     *fakeExchange
	clock  *clock
	events chan domain.Event
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	ex := newFakeExchange()
	ex.marks["BTCUSDT"] = 150
	store := repository.NewInMemoryStrategyStore()
	trader := &fakeTrader{}
	metrics := NewMetrics(nil)
	notifier := NewNotifier(testLogger(), metrics, 64)
	r := NewStrategyRunner(store, trader, ex, NewSignalCache(nil, NewSignalRegistry(), 0, 0), notifier, metrics, testLogger())
	clk := newClock()
	r.now = clk.Now
	return &runnerFixture{runner: r, store: store, trader: trader, ex: ex, clock: clk, events: notifier.events}
}

func drainKinds(ch chan domain.Event) []domain.EventKind {
	var kinds []domain.EventKind
	for {
		select {
		case e := <-ch:
			kinds = append(kinds, e.Kind)
		default:
			return kinds
		}
	}
}

func TestRunnerTickFiresAndHonoursCooldown(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	s := breakoutStrategy()
	require.NoError(t, f.store.Save(ctx, s))

	require.NoError(t, f.runner.tick(ctx, s.ID))
	require.Equal(t, 1, f.trader.openedCount())
	req := f.trader.opened[0]
	assert.Equal(t, domain.SideLong, req.Side)
	assert.Equal(t, domain.StrategyCustom, req.Strategy)
	assert.Equal(t, 5.0, req.PositionSize)
	assert.Equal(t, 3, req.Leverage)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.LastActionAt)

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.runner.tick(ctx, s.ID))
	assert.Equal(t, 1, f.trader.openedCount(), "still cooling down")

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.runner.tick(ctx, s.ID))
	assert.Equal(t, 2, f.trader.openedCount())
	assert.Contains(t, drainKinds(f.events), domain.EventStrategyAction)
}

func TestRunnerDoesNotFireWhenConditionFails(t *testing.T) {
	f := newRunnerFixture(t)
	f.ex.marks["BTCUSDT"] = 90
	ctx := context.Background()
	s := breakoutStrategy()
	require.NoError(t, f.store.Save(ctx, s))

	require.NoError(t, f.runner.tick(ctx, s.ID))
	assert.Zero(t, f.trader.openedCount())

	stored, _ := f.store.Get(ctx, s.ID)
	assert.True(t, stored.LastActionAt.IsZero())
}

func TestRunnerDisablesAfterRepeatedErrors(t *testing.T) {
	f := newRunnerFixture(t)
	f.trader.openErr = domain.ErrInsufficientMargin
	ctx := context.Background()
	s := breakoutStrategy()
	s.MaxErrors = 2
	s.CooldownSeconds = 0
	require.NoError(t, f.store.Save(ctx, s))

	require.NoError(t, f.runner.tick(ctx, s.ID))
	stored, _ := f.store.Get(ctx, s.ID)
	assert.Equal(t, 1, stored.ConsecutiveErrors)
	assert.True(t, stored.Enabled)

	f.clock.Advance(time.Second)
	require.NoError(t, f.runner.tick(ctx, s.ID))
	stored, _ = f.store.Get(ctx, s.ID)
	assert.Equal(t, 2, stored.ConsecutiveErrors)
	assert.False(t, stored.Enabled)
	assert.Contains(t, drainKinds(f.events), domain.EventStrategyStopped)
}

func TestRunnerCloseActionSkipsWithoutPosition(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	s := &domain.CustomStrategy{
		Name: "exit", Symbol: "BTCUSDT", Enabled: true, IntervalSeconds: 60,
		Graph: domain.StrategyGraph{
			Nodes: []domain.StrategyNode{
				cond("p", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">", Value: 1}),
				act("close", domain.ActionClose),
			},
			Edges: edges("p", "close"),
		},
	}
	require.NoError(t, f.store.Save(ctx, s))

	require.NoError(t, f.runner.tick(ctx, s.ID))
	assert.Empty(t, f.trader.closed)

	f.trader.held, f.trader.side = true, domain.SideLong
	f.clock.Advance(time.Minute)
	require.NoError(t, f.runner.tick(ctx, s.ID))
	assert.Equal(t, []string{"BTCUSDT"}, f.trader.closed)
}

func TestRunnerStartAndReload(t *testing.T) {
	f := newRunnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		f.runner.Wait()
	}()

	on := breakoutStrategy()
	off := breakoutStrategy()
	off.Enabled = false
	require.NoError(t, f.store.Save(ctx, on))
	require.NoError(t, f.store.Save(ctx, off))

	require.NoError(t, f.runner.Start(ctx))
	assert.Equal(t, []string{on.ID}, f.runner.Running())

	off.Enabled = true
	require.NoError(t, f.store.Save(ctx, off))
	require.NoError(t, f.runner.Reload(ctx, off.ID))
	assert.ElementsMatch(t, []string{on.ID, off.ID}, f.runner.Running())

	require.NoError(t, f.store.Delete(ctx, on.ID))
	require.NoError(t, f.runner.Reload(ctx, on.ID))
	assert.Equal(t, []string{off.ID}, f.runner.Running())
}
