package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"perp-backend/internal/domain"
)

type TokenHandler struct {
	tokens domain.TokenRepository
}

func NewTokenHandler(tokens domain.TokenRepository) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

type RegisterTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform"`
}

type TokenResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func (h *TokenHandler) count(c *gin.Context) (int, bool) {
	all, err := h.tokens.All(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return 0, false
	}
	return len(all), true
}

// POST /api/tokens
func (h *TokenHandler) Register(c *gin.Context) {
	var req RegisterTokenRequest
	if !bind(c, &req, func(r *RegisterTokenRequest) {
		r.Token = strings.TrimSpace(r.Token)
		if r.Platform == "" {
			r.Platform = "android"
		}
	}) {
		return
	}

	if err := h.tokens.Register(c.Request.Context(), req.Token, req.Platform); err != nil {
		writeError(c, err)
		return
	}
	n, ok := h.count(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Success: true, Message: "Token registered successfully", Count: n})
}

// DELETE /api/tokens/:token
func (h *TokenHandler) Unregister(c *gin.Context) {
	if err := h.tokens.Unregister(c.Request.Context(), c.Param("token")); err != nil {
		writeError(c, err)
		return
	}
	n, ok := h.count(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Success: true, Message: "Token unregistered successfully", Count: n})
}

// GET /api/tokens/count
func (h *TokenHandler) Count(c *gin.Context) {
	n, ok := h.count(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Success: true, Message: "Token count retrieved", Count: n})
}
