package repository

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"perp-backend/internal/domain"
)

// InMemoryEventLog keeps the most recent events in a bounded ring.
type InMemoryEventLog struct {
	mu     sync.RWMutex
	events []domain.Event
	limit  int
}

func NewInMemoryEventLog(limit int) *InMemoryEventLog {
	if limit <= 0 {
		limit = 500
	}
	return &InMemoryEventLog{limit: limit}
}

func (r *InMemoryEventLog) Append(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *InMemoryEventLog) Recent(_ context.Context, limit int) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.events) {
		limit = len(r.events)
	}
	out := make([]domain.Event, 0, limit)
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.events[i])
	}
	return out, nil
}

// PostgresEventLog appends events to order_events.
type PostgresEventLog struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLog(pool *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{pool: pool}
}

func (r *PostgresEventLog) Append(ctx context.Context, e domain.Event) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		insert into order_events(kind, severity, symbol, message, error, fields, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, string(e.Kind), string(e.Severity), e.Symbol, e.Message, e.Error, fields, e.Time)
	return err
}

func (r *PostgresEventLog) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		select kind, severity, symbol, message, error, fields, occurred_at
		from order_events
		order by occurred_at desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var (
			e        domain.Event
			kind     string
			severity string
			fields   []byte
		)
		if err := rows.Scan(&kind, &severity, &e.Symbol, &e.Message, &e.Error, &fields, &e.Time); err != nil {
			return nil, err
		}
		e.Kind = domain.EventKind(kind)
		e.Severity = domain.Severity(severity)
		if len(fields) > 0 {
			_ = json.Unmarshal(fields, &e.Fields)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
