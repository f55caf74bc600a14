package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"perp-backend/internal/domain"
	"perp-backend/internal/repository"
)

const defaultEventLimit = 100

// TradeHandler serves the trade journal and the event log.
type TradeHandler struct {
	journal domain.TradeJournal
	events  domain.EventLog
	now     func() time.Time
}

func NewTradeHandler(journal domain.TradeJournal, events domain.EventLog) *TradeHandler {
	return &TradeHandler{journal: journal, events: events, now: time.Now}
}

// GET /api/history?from=2026-01-01T00:00:00Z or ?from=24h
func (h *TradeHandler) History(c *gin.Context) {
	from, err := h.parseFrom(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from parameter"})
		return
	}

	trades, err := h.journal.History(c.Request.Context(), from)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": nonNil(trades),
		"stats":  repository.ComputeStats(trades),
	})
}

func (h *TradeHandler) parseFrom(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return h.now().Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// GET /api/events?limit=50
func (h *TradeHandler) Events(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = n
	}

	events, err := h.events.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(events))
}
