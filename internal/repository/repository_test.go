package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
)

func TestOrderStoreReturnsCopies(t *testing.T) {
	s := NewInMemoryOrderStore()
	now := time.Now()
	s.Put(&domain.Order{OrderID: 2, Symbol: "ETHUSDT", CreatedAt: now})
	s.Put(&domain.Order{OrderID: 1, Symbol: "BTCUSDT", CreatedAt: now.Add(-time.Second)})

	o, ok := s.Get(2)
	require.True(t, ok)
	o.Status = domain.OrderStatusFilled
	again, _ := s.Get(2)
	assert.Empty(t, again.Status, "mutating a returned order must not change the store")

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].OrderID)
	assert.Len(t, s.BySymbol("ETHUSDT"), 1)

	s.Delete(2)
	_, ok = s.Get(2)
	assert.False(t, ok)
}

func TestPositionStoreCopiesHistory(t *testing.T) {
	s := NewInMemoryPositionStore()
	p := &domain.Position{Symbol: "BTCUSDT"}
	p.AppendSignal(domain.SignalRecord{Confidence: domain.ConfidenceHigh})
	s.Put(p)

	got, ok := s.Get("BTCUSDT")
	require.True(t, ok)
	got.SignalHistory[0].Confidence = domain.ConfidenceLow

	again, _ := s.Get("BTCUSDT")
	assert.Equal(t, domain.ConfidenceHigh, again.SignalHistory[0].Confidence)
}

func TestPortfolioStoreOrdersByScore(t *testing.T) {
	s := NewInMemoryPortfolioStore()
	s.Put(&domain.PortfolioPosition{Position: domain.Position{Symbol: "A"}, Score: 71})
	s.Put(&domain.PortfolioPosition{Position: domain.Position{Symbol: "B"}, Score: 90, OrderIDs: []int64{1, 2}})

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "B", list[0].Symbol)
	list[0].OrderIDs[0] = 99
	b, _ := s.Get("B")
	assert.Equal(t, int64(1), b.OrderIDs[0])
}

func TestTradeJournalHistoryAndStats(t *testing.T) {
	ctx := context.Background()
	j := NewInMemoryTradeJournal()
	base := time.Now()
	require.NoError(t, j.Record(ctx, &domain.ClosedTrade{Symbol: "A", PnL: 12, ClosedAt: base.Add(-2 * time.Hour)}))
	require.NoError(t, j.Record(ctx, &domain.ClosedTrade{Symbol: "B", PnL: -4, ClosedAt: base.Add(-time.Minute)}))
	require.NoError(t, j.Record(ctx, &domain.ClosedTrade{Symbol: "C", PnL: 6, ClosedAt: base}))

	recent, err := j.History(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "C", recent[0].Symbol)
	assert.NotEmpty(t, recent[0].ID)

	all, _ := j.History(ctx, time.Time{})
	stats := ComputeStats(all)
	assert.Equal(t, 3, stats.Trades)
	assert.Equal(t, 2, stats.Wins)
	assert.InDelta(t, 14.0, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 66.666, stats.WinRate, 0.01)
	assert.Equal(t, 12.0, stats.BestPnL)
	assert.Equal(t, -4.0, stats.WorstPnL)
}

func TestStrategyStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStrategyStore()
	st := &domain.CustomStrategy{Name: "rsi dip", Symbol: "BTCUSDT", IntervalSeconds: 30}
	require.NoError(t, s.Save(ctx, st))
	require.NotEmpty(t, st.ID)

	got, err := s.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "rsi dip", got.Name)

	list, _ := s.List(ctx)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, st.ID))
	_, err = s.Get(ctx, st.ID)
	assert.ErrorIs(t, err, ErrStrategyNotFound)
	assert.ErrorIs(t, s.Delete(ctx, st.ID), ErrStrategyNotFound)
}

func TestEventLogRing(t *testing.T) {
	ctx := context.Background()
	l := NewInMemoryEventLog(2)
	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, l.Append(ctx, domain.Event{Message: m}))
	}
	events, _ := l.Recent(ctx, 10)
	require.Len(t, events, 2)
	assert.Equal(t, "c", events[0].Message)
	assert.Equal(t, "b", events[1].Message)
}

func TestTokenRepository(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryTokenRepository()
	require.NoError(t, r.Register(ctx, "tok", "android"))
	require.NoError(t, r.Register(ctx, "tok", "ios"))
	tokens, _ := r.All(ctx)
	assert.Equal(t, []string{"tok"}, tokens)
	require.NoError(t, r.Unregister(ctx, "tok"))
	tokens, _ = r.All(ctx)
	assert.Empty(t, tokens)
}
