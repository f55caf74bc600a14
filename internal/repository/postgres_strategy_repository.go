package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"perp-backend/internal/domain"
)

// PostgresStrategyStore stores custom strategies in custom_strategies.
// The graph is kept as jsonb.
type PostgresStrategyStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStrategyStore(pool *pgxpool.Pool) *PostgresStrategyStore {
	return &PostgresStrategyStore{pool: pool}
}

const strategyColumns = `id, name, symbol, enabled, interval_seconds, cooldown_seconds,
	max_errors, graph, last_action_at, consecutive_errors, created_at, updated_at`

func (r *PostgresStrategyStore) Save(ctx context.Context, s *domain.CustomStrategy) error {
	if s == nil {
		return errors.New("nil strategy")
	}
	prepareForSave(s)

	graph, err := json.Marshal(s.Graph)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		insert into custom_strategies(`+strategyColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		on conflict (id) do update set
			name=excluded.name,
			symbol=excluded.symbol,
			enabled=excluded.enabled,
			interval_seconds=excluded.interval_seconds,
			cooldown_seconds=excluded.cooldown_seconds,
			max_errors=excluded.max_errors,
			graph=excluded.graph,
			last_action_at=excluded.last_action_at,
			consecutive_errors=excluded.consecutive_errors,
			updated_at=excluded.updated_at
	`,
		s.ID, s.Name, s.Symbol, s.Enabled, s.IntervalSeconds, s.CooldownSeconds,
		s.MaxErrors, graph, nullableTime(s.LastActionAt), s.ConsecutiveErrors,
		s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *PostgresStrategyStore) Get(ctx context.Context, id string) (*domain.CustomStrategy, error) {
	row := r.pool.QueryRow(ctx, `select `+strategyColumns+` from custom_strategies where id = $1`, id)
	s, err := scanStrategy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return s, err
}

func (r *PostgresStrategyStore) List(ctx context.Context) ([]*domain.CustomStrategy, error) {
	rows, err := r.pool.Query(ctx, `select `+strategyColumns+` from custom_strategies order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.CustomStrategy, 0)
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresStrategyStore) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `delete from custom_strategies where id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row scanner) (*domain.CustomStrategy, error) {
	var (
		s            domain.CustomStrategy
		graph        []byte
		lastActionAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&s.ID, &s.Name, &s.Symbol, &s.Enabled, &s.IntervalSeconds, &s.CooldownSeconds,
		&s.MaxErrors, &graph, &lastActionAt, &s.ConsecutiveErrors, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(graph, &s.Graph); err != nil {
		return nil, fmt.Errorf("decode graph for %s: %w", s.ID, err)
	}
	if lastActionAt.Valid {
		s.LastActionAt = lastActionAt.Time
	}
	return &s, nil
}
