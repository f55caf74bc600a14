package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the tables this service needs. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{
	`create table if not exists trade_journal (
		id text primary key,
		symbol text not null,
		side text not null,
		strategy text not null default '',
		entry_price double precision not null default 0,
		exit_price double precision not null default 0,
		quantity double precision not null default 0,
		pnl double precision not null default 0,
		reason text not null default '',
		opened_at timestamptz null,
		closed_at timestamptz not null
	);`,
	`create index if not exists trade_journal_closed_at_idx on trade_journal(closed_at desc);`,
	`create index if not exists trade_journal_symbol_idx on trade_journal(symbol, closed_at desc);`,
	`create table if not exists order_events (
		id bigserial primary key,
		kind text not null,
		severity text not null,
		symbol text not null default '',
		message text not null default '',
		error text not null default '',
		fields jsonb not null default '{}'::jsonb,
		occurred_at timestamptz not null
	);`,
	`create index if not exists order_events_occurred_at_idx on order_events(occurred_at desc);`,
	`create table if not exists custom_strategies (
		id text primary key,
		name text not null,
		symbol text not null,
		enabled boolean not null default false,
		interval_seconds int not null default 60,
		cooldown_seconds int not null default 0,
		max_errors int not null default 5,
		graph jsonb not null,
		last_action_at timestamptz null,
		consecutive_errors int not null default 0,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);`,
	`create table if not exists device_tokens (
		token text primary key,
		platform text not null default '',
		created_at timestamptz not null default now()
	);`,
}
