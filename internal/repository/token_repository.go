package repository

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"perp-backend/internal/domain"
)

// InMemoryTokenRepository manages device tokens for push notifications
type InMemoryTokenRepository struct {
	tokens map[string]domain.DeviceToken
	mu     sync.RWMutex
}

func NewInMemoryTokenRepository() *InMemoryTokenRepository {
	return &InMemoryTokenRepository{tokens: make(map[string]domain.DeviceToken)}
}

// Register adds or updates a device token
func (r *InMemoryTokenRepository) Register(_ context.Context, token, platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[token] = domain.DeviceToken{Token: token, Platform: platform, CreatedAt: time.Now()}
	return nil
}

func (r *InMemoryTokenRepository) Unregister(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, token)
	return nil
}

func (r *InMemoryTokenRepository) All(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]string, 0, len(r.tokens))
	for token := range r.tokens {
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// PostgresTokenRepository keeps device tokens in device_tokens.
type PostgresTokenRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresTokenRepository(pool *pgxpool.Pool) *PostgresTokenRepository {
	return &PostgresTokenRepository{pool: pool}
}

func (r *PostgresTokenRepository) Register(ctx context.Context, token, platform string) error {
	_, err := r.pool.Exec(ctx, `
		insert into device_tokens(token, platform, created_at) values ($1, $2, now())
		on conflict (token) do update set platform = excluded.platform
	`, token, platform)
	return err
}

func (r *PostgresTokenRepository) Unregister(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `delete from device_tokens where token = $1`, token)
	return err
}

func (r *PostgresTokenRepository) All(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `select token from device_tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
