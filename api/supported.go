package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Supported advertises the networks, contracts and payment bounds.
func (h *Handler) Supported(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Capabilities())
}

// Health reports the service version and its backing stores.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": Version,
		"status":  "healthy",
		"endpoints": gin.H{
			"health":   "GET /",
			"options":  "GET /api/options",
			"verify":   "POST /verify",
			"settle":   "POST /settle",
			"channels": "/api/channels",
		},
		"backing": h.backing,
	})
}
