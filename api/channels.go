package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raid-guild/x402-gateway-go/types"
	"github.com/raid-guild/x402-gateway-go/utils"
)

var errInvalidBody = utils.NewValidationError(errors.New("invalid request body"))

// CreateChannel opens a payment channel.
func (h *Handler) CreateChannel(c *gin.Context) {
	var req types.ChannelOpen
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errInvalidBody)
		return
	}

	ch, err := h.service.CreateChannel(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "channel": ch})
}

// ListChannels lists open channels, filtered by the sender and receiver query parameters.
func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.service.ListChannels(c.Query("sender"), c.Query("receiver"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "channels": channels})
}

// GetChannel returns one channel.
func (h *Handler) GetChannel(c *gin.Context) {
	ch, err := h.service.GetChannel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "channel": ch})
}

// PayChannel applies a signed payment to a channel.
func (h *Handler) PayChannel(c *gin.Context) {
	var req types.ChannelPayment
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errInvalidBody)
		return
	}

	receipt, err := h.service.PayChannel(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "payment": receipt})
}

// SettleChannel closes a channel at a signed final amount.
func (h *Handler) SettleChannel(c *gin.Context) {
	var req types.ChannelSettlement
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errInvalidBody)
		return
	}

	result, err := h.service.SettleChannel(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"settlement": gin.H{
			"channelId":   result.ChannelID.Hex(),
			"finalAmount": result.FinalAmount.String(),
			"refund":      result.Refund.String(),
		},
	})
}
