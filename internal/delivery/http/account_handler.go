package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AccountHandler reports the exchange wallet.
type AccountHandler struct {
	account Account
}

func NewAccountHandler(account Account) *AccountHandler {
	return &AccountHandler{account: account}
}

// GET /api/account
func (h *AccountHandler) Balance(c *gin.Context) {
	bal, err := h.account.GetAccountBalance(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}
