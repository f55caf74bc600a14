package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"perp-backend/internal/config"
	deliveryhttp "perp-backend/internal/delivery/http"
	"perp-backend/internal/delivery/websocket"
	"perp-backend/internal/domain"
	"perp-backend/internal/infrastructure/binance"
	"perp-backend/internal/infrastructure/db"
	"perp-backend/internal/infrastructure/fcm"
	"perp-backend/internal/infrastructure/signalapi"
	"perp-backend/internal/repository"
	"perp-backend/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type stores struct {
	journal    domain.TradeJournal
	strategies domain.StrategyStore
	events     domain.EventLog
	tokens     domain.TokenRepository
}

func inMemoryStores() stores {
	return stores{
		journal:    repository.NewInMemoryTradeJournal(),
		strategies: repository.NewInMemoryStrategyStore(),
		events:     repository.NewInMemoryEventLog(500),
		tokens:     repository.NewInMemoryTokenRepository(),
	}
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		journal:    repository.NewPostgresTradeJournal(pool),
		strategies: repository.NewPostgresStrategyStore(pool),
		events:     repository.NewPostgresEventLog(pool),
		tokens:     repository.NewPostgresTokenRepository(pool),
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := newLogger(cfg)
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := usecase.NewMetrics(reg)

	// 2. Repositories
	st := inMemoryStores()
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfigFromEnv())
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer pool.Close()
		st = postgresStores(pool)
		log.Info("using PostgreSQL storage")
	} else {
		log.Warn("DATABASE_URL not set, journal and strategies are kept in memory")
	}

	// 3. Exchange
	exchange := binance.NewTradingClient(cfg.BinanceAPIKey, cfg.BinanceSecretKey, cfg.BinanceTestnet)
	marketURL := binance.FapiBaseURL
	if cfg.BinanceTestnet {
		marketURL = binance.TestnetBaseURL
	}
	market := binance.NewClient(marketURL)
	if cfg.HasBinanceCredentials() {
		if err := exchange.TestConnection(ctx); err != nil {
			log.WithError(err).Warn("Binance connection test failed")
		}
	} else {
		log.Warn("Binance credentials missing, signed endpoints will fail")
	}
	if !cfg.EnableRealTrading {
		log.Warn("ENABLE_REAL_TRADING is off, orders are rejected before reaching the exchange")
	}

	// 4. Notifications
	alerter, err := fcm.NewAlerter(ctx, cfg.FirebaseCredentialsPath, cfg.FirebaseCredentialsJSON, st.tokens, log.WithField("component", "fcm"))
	if err != nil {
		log.WithError(err).Warn("FCM disabled")
		alerter = fcm.NewAlerterWithSender(nil, st.tokens, log.WithField("component", "fcm"))
	}
	hub := websocket.NewHub(st.events, log)
	notifier := usecase.NewNotifier(log, metrics, 256)
	notifier.AddSink(usecase.LogSink{Log: st.events})
	notifier.AddSink(hub)
	notifier.AddSink(alerter)

	// 5. Trading
	manager := usecase.NewManager(usecase.ManagerConfig{
		Exchange:             exchange,
		Market:               market,
		Orders:               repository.NewInMemoryOrderStore(),
		Positions:            repository.NewInMemoryPositionStore(),
		Portfolio:            repository.NewInMemoryPortfolioStore(),
		Journal:              st.journal,
		Notifier:             notifier,
		Metrics:              metrics,
		Logger:               log,
		Settings:             cfg.Settings,
		RealTrading:          cfg.EnableRealTrading,
		ReferenceSymbol:      cfg.ReferenceSymbol,
		OrderPollInterval:    cfg.OrderPollInterval,
		PositionPollInterval: cfg.PositionPollInterval,
	})

	var source usecase.SignalSource
	if cfg.SignalAPIURL != "" {
		source = signalapi.NewClient(cfg.SignalAPIURL)
	}
	signals := usecase.NewSignalCache(source, manager.Signals(), cfg.SignalCacheTTL, cfg.SignalRatePerSec)
	runner := usecase.NewStrategyRunner(st.strategies, manager, market, signals, notifier, metrics, log)

	// 6. Delivery
	router := deliveryhttp.NewRouter(deliveryhttp.Deps{
		Context:    ctx,
		Bot:        manager,
		Strategies: st.strategies,
		Runner:     runner,
		Journal:    st.journal,
		Events:     st.events,
		Tokens:     st.tokens,
		Account:    exchange,
		Alerter:    alerter,
		Websocket:  http.HandlerFunc(hub.Handle),
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:     log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifier.Run(gctx)
		return nil
	})
	g.Go(func() error {
		manager.Start(gctx)
		if err := runner.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		manager.Stop()
		runner.Wait()
		return nil
	})
	g.Go(func() error {
		log.Infof("Server executing on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	log.Info("gracefully shutdown")
}
