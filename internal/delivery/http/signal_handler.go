package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"perp-backend/internal/domain"
)

// SignalHandler accepts strategy signals and scanner batches.
type SignalHandler struct {
	bot Bot
}

func NewSignalHandler(bot Bot) *SignalHandler {
	return &SignalHandler{bot: bot}
}

// POST /api/signals
func (h *SignalHandler) Receive(c *gin.Context) {
	var sig domain.Signal
	if !bind(c, &sig, func(s *domain.Signal) {
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		s.Side = domain.Side(strings.ToUpper(string(s.Side)))
		if s.Confidence != "" {
			s.Confidence = domain.Confidence(strings.ToLower(string(s.Confidence)))
		}
	}) {
		return
	}

	res, err := h.bot.HandleSignal(c.Request.Context(), sig)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/scanner
func (h *SignalHandler) ReceiveBatch(c *gin.Context) {
	var batch domain.ScannerBatch
	if !bind(c, &batch, normaliseBatch) {
		return
	}

	res, err := h.bot.HandleScannerBatch(c.Request.Context(), batch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func normaliseBatch(b *domain.ScannerBatch) {
	for _, picks := range [][]domain.ScannerPick{b.TopLongs, b.TopShorts, b.Monitoring} {
		for i := range picks {
			picks[i].Symbol = strings.ToUpper(strings.TrimSpace(picks[i].Symbol))
			picks[i].Side = domain.Side(strings.ToUpper(string(picks[i].Side)))
		}
	}
	for i, s := range b.Invalidated {
		b.Invalidated[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}
