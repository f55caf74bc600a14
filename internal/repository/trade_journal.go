package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"perp-backend/internal/domain"
)

// InMemoryTradeJournal keeps closed trades in memory.
type InMemoryTradeJournal struct {
	mu     sync.RWMutex
	trades []*domain.ClosedTrade
}

func NewInMemoryTradeJournal() *InMemoryTradeJournal {
	return &InMemoryTradeJournal{trades: make([]*domain.ClosedTrade, 0)}
}

func (r *InMemoryTradeJournal) Record(_ context.Context, trade *domain.ClosedTrade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := *trade
	if t.ID == "" {
		t.ID = uuid.NewString()
		trade.ID = t.ID
	}
	r.trades = append(r.trades, &t)
	return nil
}

// History returns trades closed at or after from, newest first.
func (r *InMemoryTradeJournal) History(_ context.Context, from time.Time) ([]*domain.ClosedTrade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ClosedTrade, 0)
	for _, t := range r.trades {
		if t.ClosedAt.Before(from) {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.After(out[j].ClosedAt) })
	return out, nil
}

// TradeStats summarises a slice of closed trades.
type TradeStats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"winRate"`
	TotalPnL float64 `json:"totalPnl"`
	BestPnL  float64 `json:"bestPnl"`
	WorstPnL float64 `json:"worstPnl"`
}

func ComputeStats(trades []*domain.ClosedTrade) TradeStats {
	var s TradeStats
	for i, t := range trades {
		s.Trades++
		s.TotalPnL += t.PnL
		if t.PnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		if i == 0 || t.PnL > s.BestPnL {
			s.BestPnL = t.PnL
		}
		if i == 0 || t.PnL < s.WorstPnL {
			s.WorstPnL = t.PnL
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	return s
}
