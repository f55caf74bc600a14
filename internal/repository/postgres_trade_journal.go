package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"perp-backend/internal/domain"
)

// PostgresTradeJournal stores closed trades in trade_journal.
type PostgresTradeJournal struct {
	pool *pgxpool.Pool
}

func NewPostgresTradeJournal(pool *pgxpool.Pool) *PostgresTradeJournal {
	return &PostgresTradeJournal{pool: pool}
}

func (r *PostgresTradeJournal) Record(ctx context.Context, trade *domain.ClosedTrade) error {
	if trade == nil {
		return errors.New("nil trade")
	}
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}

	_, err := r.pool.Exec(ctx, `
		insert into trade_journal(
			id, symbol, side, strategy, entry_price, exit_price,
			quantity, pnl, reason, opened_at, closed_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		trade.ID,
		trade.Symbol,
		string(trade.Side),
		string(trade.Strategy),
		trade.EntryPrice,
		trade.ExitPrice,
		trade.Quantity,
		trade.PnL,
		trade.Reason,
		nullableTime(trade.OpenedAt),
		trade.ClosedAt,
	)
	return err
}

func (r *PostgresTradeJournal) History(ctx context.Context, from time.Time) ([]*domain.ClosedTrade, error) {
	rows, err := r.pool.Query(ctx, `
		select id, symbol, side, strategy, entry_price, exit_price,
			quantity, pnl, reason, opened_at, closed_at
		from trade_journal
		where closed_at >= $1
		order by closed_at desc
	`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]*domain.ClosedTrade, 0)
	for rows.Next() {
		var (
			t        domain.ClosedTrade
			side     string
			strategy string
			openedAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side, &strategy, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.PnL, &t.Reason, &openedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Strategy = domain.StrategyKind(strategy)
		if openedAt.Valid {
			t.OpenedAt = openedAt.Time
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func nullableTime(v time.Time) any {
	if v.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Valid: true, Time: v}
}
