package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	SSLMode           string
	// ApplicationName is reported to the server as application_name.
	ApplicationName string
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		SSLMode:           "require",
		ApplicationName:   "perp-backend",
	}
}

func PoolConfigFromEnv() PoolConfig {
	cfg := DefaultPoolConfig()

	cfg.MaxConns = envInt32("DB_MAX_CONNS", cfg.MaxConns)
	cfg.MinConns = envInt32("DB_MIN_CONNS", cfg.MinConns)
	cfg.MaxConnLifetime = envDuration("DB_MAX_CONN_LIFETIME", cfg.MaxConnLifetime)
	cfg.MaxConnIdleTime = envDuration("DB_MAX_CONN_IDLE_TIME", cfg.MaxConnIdleTime)
	cfg.HealthCheckPeriod = envDuration("DB_HEALTHCHECK_PERIOD", cfg.HealthCheckPeriod)
	if v := strings.TrimSpace(os.Getenv("DB_SSLMODE")); v != "" {
		cfg.SSLMode = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_APPLICATION_NAME")); v != "" {
		cfg.ApplicationName = v
	}

	if cfg.MaxConns < 1 {
		cfg.MaxConns = 1
	}
	if cfg.MinConns < 0 {
		cfg.MinConns = 0
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}

	return cfg
}

func envInt32(key string, def int32) int32 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			return int32(n)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// withSSLMode sets sslmode on the URL unless the URL already carries one.
func withSSLMode(dbURL, mode string) string {
	if mode == "" {
		return dbURL
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		// pgx will surface the connection error.
		return dbURL
	}

	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", mode)
		u.RawQuery = q.Encode()
	}
	return strings.TrimSpace(u.String())
}

func NewPool(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(withSSLMode(databaseURL, cfg.SSLMode))
	if err != nil {
		return nil, err
	}

	cfg.apply(poolCfg)
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func (c PoolConfig) apply(pc *pgxpool.Config) {
	pc.MaxConns = c.MaxConns
	pc.MinConns = c.MinConns
	pc.MaxConnLifetime = c.MaxConnLifetime
	pc.MaxConnIdleTime = c.MaxConnIdleTime
	pc.HealthCheckPeriod = c.HealthCheckPeriod
	if c.ApplicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = c.ApplicationName
	}
}

// Open connects, pings and migrates.
func Open(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	pool, err := NewPool(ctx, databaseURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pool, nil
}
