package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"perp-backend/internal/domain"
	"perp-backend/internal/usecase"
)

var validate = validator.New()

func formatValidationError(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, e := range verrs {
		out[e.Namespace()] = "failed on tag '" + e.Tag() + "'"
	}
	return out
}

// bind decodes the JSON body into dst, lets prepare normalise it and runs the
// validate tags. It writes the 400 response itself and reports false on
// failure.
func bind[T any](c *gin.Context, dst *T, prepare func(*T)) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	if prepare != nil {
		prepare(dst)
	}
	if err := validate.Struct(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"validation_errors": formatValidationError(err)})
		return false
	}
	return true
}

// statusOf maps error kinds onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrStrategyNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRealTradingDisabled), errors.Is(err, usecase.ErrBotStopped),
		errors.Is(err, usecase.ErrAutoModeOff), errors.Is(err, domain.ErrPositionCapReached):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInsufficientMargin),
		errors.Is(err, domain.ErrLeverageTooHigh), errors.Is(err, domain.ErrLeverageExhausted),
		errors.Is(err, usecase.ErrInvalidGraph):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}
