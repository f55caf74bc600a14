package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
	"perp-backend/internal/usecase"
)

// Bot is the trading surface the API drives.
type Bot interface {
	HandleSignal(ctx context.Context, sig domain.Signal) (usecase.IntakeResult, error)
	HandleScannerBatch(ctx context.Context, batch domain.ScannerBatch) (usecase.AllocationResult, error)
	OpenDirect(ctx context.Context, req usecase.DirectOrder) (*domain.Order, error)
	ClosePosition(ctx context.Context, symbol string) (usecase.CloseResult, error)
	CancelAllOrders(ctx context.Context) ([]int64, error)
	Orders() []*domain.Order
	Positions() []*domain.Position
	Portfolio() []*domain.PortfolioPosition
	Settings() domain.Settings
	UpdateSettings(s domain.Settings)
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// StrategyRunner restarts or stops custom strategy loops after edits.
type StrategyRunner interface {
	Reload(ctx context.Context, id string) error
	Stop(id string)
	Running() []string
}

type Account interface {
	GetAccountBalance(ctx context.Context) (*domain.Balance, error)
}

type Alerter interface {
	IsEnabled() bool
	Publish(ctx context.Context, e domain.Event) error
}

// Deps are the collaborators of the REST API. Optional ones may be nil and
// their routes are then not registered.
type Deps struct {
	// Context bounds loops started over the API; request contexts end too early.
	Context context.Context

	Bot        Bot
	Strategies domain.StrategyStore
	Runner     StrategyRunner
	Journal    domain.TradeJournal
	Events     domain.EventLog
	Tokens     domain.TokenRepository
	Account    Account
	Alerter    Alerter

	Websocket http.Handler
	Metrics   http.Handler
	Logger    *logrus.Entry
}

func NewRouter(d Deps) *gin.Engine {
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Logger == nil {
		d.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	log := d.Logger.WithField("component", "http")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "running": d.Bot.Running()})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	if d.Websocket != nil {
		r.GET("/ws", gin.WrapH(d.Websocket))
	}

	api := r.Group("/api")

	sh := NewSignalHandler(d.Bot)
	api.POST("/signals", sh.Receive)
	api.POST("/scanner", sh.ReceiveBatch)

	bh := NewBotHandler(d.Context, d.Bot)
	{
		api.GET("/bot/status", bh.Status)
		api.POST("/bot/start", bh.Start)
		api.POST("/bot/stop", bh.Stop)
		api.GET("/settings", bh.GetSettings)
		api.PUT("/settings", bh.UpdateSettings)
		api.GET("/orders", bh.Orders)
		api.POST("/orders", bh.PlaceOrder)
		api.POST("/orders/cancel-all", bh.CancelAll)
		api.GET("/positions", bh.Positions)
		api.POST("/positions/:symbol/close", bh.ClosePosition)
		api.GET("/portfolio", bh.Portfolio)
	}

	if d.Strategies != nil {
		h := NewStrategyHandler(d.Strategies, d.Runner)
		api.GET("/strategies", h.List)
		api.POST("/strategies", h.Create)
		api.GET("/strategies/:id", h.Get)
		api.PUT("/strategies/:id", h.Update)
		api.DELETE("/strategies/:id", h.Delete)
		api.POST("/strategies/:id/enable", h.Enable)
		api.POST("/strategies/:id/disable", h.Disable)
	}

	th := NewTradeHandler(d.Journal, d.Events)
	if d.Journal != nil {
		api.GET("/history", th.History)
	}
	if d.Events != nil {
		api.GET("/events", th.Events)
	}

	if d.Tokens != nil {
		h := NewTokenHandler(d.Tokens)
		api.POST("/tokens", h.Register)
		api.DELETE("/tokens/:token", h.Unregister)
		api.GET("/tokens/count", h.Count)
	}
	if d.Alerter != nil {
		api.POST("/notifications/test", NewTestHandler(d.Alerter).SendTestNotification)
	}
	if d.Account != nil {
		api.GET("/account", NewAccountHandler(d.Account).Balance)
	}
	return r
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}
