package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raid-guild/x402-gateway-go/usage"
	"github.com/raid-guild/x402-gateway-go/utils"
)

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error("panic serving request", "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
	})
}

func rateLimit(limiter *usage.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := limiter.Allow(c.Request.Context(), usage.ClientKey(c.Request))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

func trackUsage(tracker *usage.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tracker.Track(c.Request.Context(), c.Request.Method, c.Request.URL.Path, usage.ClientKey(c.Request))
		c.Next()
	}
}

func (h *Handler) requireAPIKey(c *gin.Context) {
	if err := h.auth.Authenticate(c.Request); err != nil {
		writeError(c, err)
		return
	}
	c.Next()
}

// writeError aborts with the status carried by err and a message safe to show.
func writeError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(utils.StatusOf(err), gin.H{"success": false, "error": utils.PublicMessage(err)})
}
