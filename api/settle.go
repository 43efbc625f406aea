package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raid-guild/x402-gateway-go/types"
	"github.com/raid-guild/x402-gateway-go/utils"
)

// Settle submits a payment authorization on-chain. The body is always a settle
// response; the status carries the failure class.
func (h *Handler) Settle(c *gin.Context) {

	// Read and parse the authorization
	auth, err := readAuthorization(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.SettleResponse{
			Success: false,
			Error:   types.ErrorReasonInvalidPaymentPayload,
			Detail:  err.Error(),
		})
		return
	}

	// Settle the authorization
	resp, err := h.service.Settle(c.Request.Context(), auth)
	if err != nil {
		c.JSON(utils.StatusOf(err), resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
