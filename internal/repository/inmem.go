package repository

import (
	"sort"
	"sync"

	"perp-backend/internal/domain"
)

// InMemoryOrderStore keeps tracked orders keyed by exchange order id.
type InMemoryOrderStore struct {
	orders map[int64]domain.Order
	mu     sync.RWMutex
}

func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{orders: make(map[int64]domain.Order)}
}

func (r *InMemoryOrderStore) Put(o *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.OrderID] = *o
}

func (r *InMemoryOrderStore) Get(orderID int64) (*domain.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, false
	}
	return &o, true
}

func (r *InMemoryOrderStore) Delete(orderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, orderID)
}

// List returns orders oldest first.
func (r *InMemoryOrderStore) List() []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *InMemoryOrderStore) BySymbol(symbol string) []*domain.Order {
	var out []*domain.Order
	for _, o := range r.List() {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// InMemoryPositionStore keeps one position per symbol.
type InMemoryPositionStore struct {
	positions map[string]domain.Position
	mu        sync.RWMutex
}

func NewInMemoryPositionStore() *InMemoryPositionStore {
	return &InMemoryPositionStore{positions: make(map[string]domain.Position)}
}

func (r *InMemoryPositionStore) Put(p *domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[p.Symbol] = copyPosition(*p)
}

func (r *InMemoryPositionStore) Get(symbol string) (*domain.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[symbol]
	if !ok {
		return nil, false
	}
	p = copyPosition(p)
	return &p, true
}

func (r *InMemoryPositionStore) Delete(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, symbol)
}

func (r *InMemoryPositionStore) List() []*domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Position, 0, len(r.positions))
	for _, p := range r.positions {
		p = copyPosition(p)
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// InMemoryPortfolioStore keeps auto-mode allocations per symbol.
type InMemoryPortfolioStore struct {
	entries map[string]domain.PortfolioPosition
	mu      sync.RWMutex
}

func NewInMemoryPortfolioStore() *InMemoryPortfolioStore {
	return &InMemoryPortfolioStore{entries: make(map[string]domain.PortfolioPosition)}
}

func (r *InMemoryPortfolioStore) Put(p *domain.PortfolioPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.Symbol] = copyPortfolio(*p)
}

func (r *InMemoryPortfolioStore) Get(symbol string) (*domain.PortfolioPosition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.entries[symbol]
	if !ok {
		return nil, false
	}
	p = copyPortfolio(p)
	return &p, true
}

func (r *InMemoryPortfolioStore) Delete(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, symbol)
}

func (r *InMemoryPortfolioStore) List() []*domain.PortfolioPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.PortfolioPosition, 0, len(r.entries))
	for _, p := range r.entries {
		p = copyPortfolio(p)
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func copyPosition(p domain.Position) domain.Position {
	if p.SignalHistory != nil {
		h := make([]domain.SignalRecord, len(p.SignalHistory))
		copy(h, p.SignalHistory)
		p.SignalHistory = h
	}
	return p
}

func copyPortfolio(p domain.PortfolioPosition) domain.PortfolioPosition {
	p.Position = copyPosition(p.Position)
	if p.OrderIDs != nil {
		ids := make([]int64, len(p.OrderIDs))
		copy(ids, p.OrderIDs)
		p.OrderIDs = ids
	}
	return p
}
