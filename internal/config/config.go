package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"perp-backend/internal/domain"
)

type Config struct {
	Port        string
	DatabaseURL string

	BinanceAPIKey    string
	BinanceSecretKey string
	BinanceTestnet   bool

	FirebaseCredentialsPath string
	FirebaseCredentialsJSON string

	SignalAPIURL     string
	SignalCacheTTL   time.Duration
	SignalRatePerSec float64

	ReferenceSymbol      string
	OrderPollInterval    time.Duration
	PositionPollInterval time.Duration
	EnableRealTrading    bool

	LogLevel  string
	LogFormat string

	Settings domain.Settings
}

func Default() Config {
	return Config{
		Port:                 "8080",
		SignalCacheTTL:       60 * time.Second,
		SignalRatePerSec:     5,
		ReferenceSymbol:      "BTCUSDT",
		OrderPollInterval:    2 * time.Second,
		PositionPollInterval: 5 * time.Second,
		LogLevel:             "info",
		LogFormat:            "text",
		Settings:             domain.DefaultSettings(),
	}
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds the config from the environment alone.
func FromEnv() Config {
	cfg := Default()

	cfg.Port = envString("PORT", cfg.Port)
	cfg.DatabaseURL = envString("DATABASE_URL", "")
	cfg.BinanceAPIKey = envString("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = envString("BINANCE_SECRET_KEY", "")
	cfg.BinanceTestnet = envBool("BINANCE_TESTNET", false)
	cfg.FirebaseCredentialsPath = envString("FIREBASE_CREDENTIALS_PATH", "")
	cfg.FirebaseCredentialsJSON = envString("FIREBASE_CREDENTIALS_JSON", "")
	cfg.SignalAPIURL = envString("SIGNAL_API_URL", "")
	cfg.SignalCacheTTL = envDuration("SIGNAL_CACHE_TTL", cfg.SignalCacheTTL)
	cfg.SignalRatePerSec = envFloat("SIGNAL_RATE_PER_SEC", cfg.SignalRatePerSec)
	cfg.ReferenceSymbol = strings.ToUpper(envString("REFERENCE_SYMBOL", cfg.ReferenceSymbol))
	cfg.OrderPollInterval = envDuration("ORDER_POLL_INTERVAL", cfg.OrderPollInterval)
	cfg.PositionPollInterval = envDuration("POSITION_POLL_INTERVAL", cfg.PositionPollInterval)
	cfg.EnableRealTrading = envBool("ENABLE_REAL_TRADING", false)
	cfg.LogLevel = strings.ToLower(envString("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envString("LOG_FORMAT", cfg.LogFormat))

	s := &cfg.Settings
	s.Capital = envFloat("TRADE_CAPITAL", s.Capital)
	s.Leverage = envInt("TRADE_LEVERAGE", s.Leverage)
	s.PositionSize = envFloat("TRADE_POSITION_SIZE", s.PositionSize)
	s.TakeProfit = envFloat("TRADE_TAKE_PROFIT", s.TakeProfit)
	s.StopLoss = envFloat("TRADE_STOP_LOSS", s.StopLoss)
	if v := strings.ToUpper(envString("TRADE_ORDER_TYPE", "")); v != "" {
		s.OrderType = domain.OrderType(v)
	}
	s.OrderTimeoutSeconds = envInt("TRADE_ORDER_TIMEOUT_SECONDS", s.OrderTimeoutSeconds)
	s.AutoMode = envBool("TRADE_AUTO_MODE", s.AutoMode)
	s.SmartMode = envBool("TRADE_SMART_MODE", s.SmartMode)
	s.SmartModeMinPnl = envFloat("TRADE_SMART_MODE_MIN_PNL", s.SmartModeMinPnl)
	s.TrustLowConfidence = envBool("TRADE_TRUST_LOW_CONFIDENCE", s.TrustLowConfidence)
	if v := envString("TRADE_EXCLUDED_PAIRS", ""); v != "" {
		s.ExcludedPairs = splitList(v)
	}

	if cfg.OrderPollInterval <= 0 {
		cfg.OrderPollInterval = Default().OrderPollInterval
	}
	if cfg.PositionPollInterval <= 0 {
		cfg.PositionPollInterval = Default().PositionPollInterval
	}
	return cfg
}

// HasBinanceCredentials reports whether signed endpoints can be used.
func (c Config) HasBinanceCredentials() bool {
	return c.BinanceAPIKey != "" && c.BinanceSecretKey != ""
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
