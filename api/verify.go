package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raid-guild/x402-gateway-go/types"
	"github.com/raid-guild/x402-gateway-go/utils"
)

// Verify checks a payment authorization without settling it.
func (h *Handler) Verify(c *gin.Context) {

	// Read and parse the authorization
	auth, err := readAuthorization(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "reason": err.Error()})
		return
	}

	// Verify the authorization
	resp, err := h.service.Verify(c.Request.Context(), auth)
	if err != nil {
		c.JSON(utils.StatusOf(err), gin.H{"valid": false, "reason": utils.PublicMessage(err)})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func readAuthorization(c *gin.Context) (types.Authorization, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, utils.NewValidationError(err)
	}
	return types.ParseAuthorization(body)
}
