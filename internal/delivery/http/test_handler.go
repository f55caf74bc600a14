package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"perp-backend/internal/domain"
)

type TestHandler struct {
	alerter Alerter
}

func NewTestHandler(alerter Alerter) *TestHandler {
	return &TestHandler{alerter: alerter}
}

// POST /api/notifications/test pushes a fatal-severity test alert to every
// registered device.
func (h *TestHandler) SendTestNotification(c *gin.Context) {
	if h.alerter == nil || !h.alerter.IsEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": "FCM not configured",
		})
		return
	}

	err := h.alerter.Publish(c.Request.Context(), domain.Event{
		Kind:     domain.EventTest,
		Severity: domain.SeverityFatal,
		Message:  "Test notification",
		Time:     time.Now(),
	})
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test notification sent"})
}
