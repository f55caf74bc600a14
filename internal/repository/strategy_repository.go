package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"perp-backend/internal/domain"
)

// ErrStrategyNotFound is returned for unknown strategy ids.
var ErrStrategyNotFound = domain.ErrStrategyNotFound

// InMemoryStrategyStore stores custom strategies in memory.
type InMemoryStrategyStore struct {
	mu         sync.RWMutex
	strategies map[string]domain.CustomStrategy
}

func NewInMemoryStrategyStore() *InMemoryStrategyStore {
	return &InMemoryStrategyStore{strategies: make(map[string]domain.CustomStrategy)}
}

func (r *InMemoryStrategyStore) Save(_ context.Context, s *domain.CustomStrategy) error {
	if s == nil {
		return errors.New("nil strategy")
	}
	prepareForSave(s)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID] = *s
	return nil
}

func (r *InMemoryStrategyStore) Get(_ context.Context, id string) (*domain.CustomStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return &s, nil
}

func (r *InMemoryStrategyStore) List(_ context.Context) ([]*domain.CustomStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.CustomStrategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemoryStrategyStore) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[id]; !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	delete(r.strategies, id)
	return nil
}

func prepareForSave(s *domain.CustomStrategy) {
	now := time.Now()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}
