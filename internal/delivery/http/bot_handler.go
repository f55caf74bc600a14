package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"perp-backend/internal/domain"
	"perp-backend/internal/usecase"
)

// BotHandler exposes the bot's state, settings and manual controls.
type BotHandler struct {
	ctx context.Context
	bot Bot
}

func NewBotHandler(ctx context.Context, bot Bot) *BotHandler {
	return &BotHandler{ctx: ctx, bot: bot}
}

// GET /api/bot/status
func (h *BotHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":   h.bot.Running(),
		"orders":    len(h.bot.Orders()),
		"positions": len(h.bot.Positions()),
		"portfolio": len(h.bot.Portfolio()),
		"settings":  h.bot.Settings(),
	})
}

// POST /api/bot/start
func (h *BotHandler) Start(c *gin.Context) {
	h.bot.Start(h.ctx)
	c.JSON(http.StatusOK, gin.H{"running": h.bot.Running()})
}

// POST /api/bot/stop
func (h *BotHandler) Stop(c *gin.Context) {
	h.bot.Stop()
	c.JSON(http.StatusOK, gin.H{"running": h.bot.Running()})
}

// GET /api/settings
func (h *BotHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.bot.Settings())
}

// PUT /api/settings
func (h *BotHandler) UpdateSettings(c *gin.Context) {
	s := h.bot.Settings()
	if !bind(c, &s, func(s *domain.Settings) {
		s.OrderType = domain.OrderType(strings.ToUpper(string(s.OrderType)))
		pairs := s.ExcludedPairs[:0]
		for _, p := range s.ExcludedPairs {
			if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
				pairs = append(pairs, p)
			}
		}
		s.ExcludedPairs = pairs
	}) {
		return
	}
	h.bot.UpdateSettings(s)
	c.JSON(http.StatusOK, s)
}

// GET /api/orders
func (h *BotHandler) Orders(c *gin.Context) {
	c.JSON(http.StatusOK, nonNil(h.bot.Orders()))
}

// GET /api/positions
func (h *BotHandler) Positions(c *gin.Context) {
	c.JSON(http.StatusOK, nonNil(h.bot.Positions()))
}

// GET /api/portfolio
func (h *BotHandler) Portfolio(c *gin.Context) {
	c.JSON(http.StatusOK, nonNil(h.bot.Portfolio()))
}

// POST /api/orders places a manual entry.
func (h *BotHandler) PlaceOrder(c *gin.Context) {
	var req usecase.DirectOrder
	if !bind(c, &req, func(r *usecase.DirectOrder) {
		r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
		r.Side = domain.Side(strings.ToUpper(string(r.Side)))
		r.OrderType = domain.OrderType(strings.ToUpper(string(r.OrderType)))
		if r.Strategy != domain.StrategyCustom {
			r.Strategy = domain.StrategyManual
		}
	}) {
		return
	}

	o, err := h.bot.OpenDirect(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// POST /api/orders/cancel-all
func (h *BotHandler) CancelAll(c *gin.Context) {
	ids, err := h.bot.CancelAllOrders(c.Request.Context())
	if ids == nil {
		ids = []int64{}
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusOf(err), gin.H{"canceled": ids, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": ids})
}

// POST /api/positions/:symbol/close
func (h *BotHandler) ClosePosition(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing symbol"})
		return
	}
	res, err := h.bot.ClosePosition(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.InitialAmount == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open position for " + symbol})
		return
	}
	c.JSON(http.StatusOK, res)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return make([]T, 0)
	}
	return v
}
