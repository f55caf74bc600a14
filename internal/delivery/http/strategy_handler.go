package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"perp-backend/internal/domain"
	"perp-backend/internal/usecase"
)

const defaultStrategyIntervalSeconds = 30

// StrategyHandler manages custom strategies.
type StrategyHandler struct {
	store  domain.StrategyStore
	runner StrategyRunner
}

func NewStrategyHandler(store domain.StrategyStore, runner StrategyRunner) *StrategyHandler {
	return &StrategyHandler{store: store, runner: runner}
}

type strategyView struct {
	*domain.CustomStrategy
	Running bool `json:"running"`
}

func (h *StrategyHandler) view(s *domain.CustomStrategy) strategyView {
	v := strategyView{CustomStrategy: s}
	if h.runner != nil {
		for _, id := range h.runner.Running() {
			if id == s.ID {
				v.Running = true
				break
			}
		}
	}
	return v
}

func normaliseStrategy(s *domain.CustomStrategy) {
	s.Name = strings.TrimSpace(s.Name)
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	if s.IntervalSeconds == 0 {
		s.IntervalSeconds = defaultStrategyIntervalSeconds
	}
}

func (h *StrategyHandler) reload(c *gin.Context, id string) {
	if h.runner == nil {
		return
	}
	if err := h.runner.Reload(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
	}
}

// GET /api/strategies
func (h *StrategyHandler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]strategyView, 0, len(list))
	for _, s := range list {
		out = append(out, h.view(s))
	}
	c.JSON(http.StatusOK, out)
}

// GET /api/strategies/:id
func (h *StrategyHandler) Get(c *gin.Context) {
	s, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

// POST /api/strategies
func (h *StrategyHandler) Create(c *gin.Context) {
	var s domain.CustomStrategy
	if !bind(c, &s, normaliseStrategy) {
		return
	}
	if err := usecase.ValidateGraph(s.Graph); err != nil {
		writeError(c, err)
		return
	}
	s.ID = ""
	s.ConsecutiveErrors = 0

	if err := h.store.Save(c.Request.Context(), &s); err != nil {
		writeError(c, err)
		return
	}
	if s.Enabled {
		h.reload(c, s.ID)
	}
	c.JSON(http.StatusCreated, h.view(&s))
}

// PUT /api/strategies/:id replaces the definition and keeps the run state.
func (h *StrategyHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()
	existing, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	var s domain.CustomStrategy
	if !bind(c, &s, normaliseStrategy) {
		return
	}
	if err := usecase.ValidateGraph(s.Graph); err != nil {
		writeError(c, err)
		return
	}
	s.ID = existing.ID
	s.CreatedAt = existing.CreatedAt
	s.LastActionAt = existing.LastActionAt
	s.ConsecutiveErrors = existing.ConsecutiveErrors

	if err := h.store.Save(ctx, &s); err != nil {
		writeError(c, err)
		return
	}
	h.reload(c, s.ID)
	c.JSON(http.StatusOK, h.view(&s))
}

// DELETE /api/strategies/:id
func (h *StrategyHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	if h.runner != nil {
		h.runner.Stop(id)
	}
	c.Status(http.StatusNoContent)
}

// POST /api/strategies/:id/enable
func (h *StrategyHandler) Enable(c *gin.Context) { h.setEnabled(c, true) }

// POST /api/strategies/:id/disable
func (h *StrategyHandler) Disable(c *gin.Context) { h.setEnabled(c, false) }

func (h *StrategyHandler) setEnabled(c *gin.Context, enabled bool) {
	ctx := c.Request.Context()
	s, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if enabled {
		if err := usecase.ValidateGraph(s.Graph); err != nil {
			writeError(c, err)
			return
		}
		s.ConsecutiveErrors = 0
	}
	s.Enabled = enabled
	if err := h.store.Save(ctx, s); err != nil {
		writeError(c, err)
		return
	}
	h.reload(c, s.ID)
	c.JSON(http.StatusOK, h.view(s))
}
