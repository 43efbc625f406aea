// Package handler serves the facilitator HTTP API.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raid-guild/x402-gateway-go/auth"
	"github.com/raid-guild/x402-gateway-go/facilitator"
	"github.com/raid-guild/x402-gateway-go/usage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Backing reports the stores behind the API.
type Backing struct {
	Database bool   `json:"database"`
	Cache    string `json:"cache"`
}

// Options are the dependencies of the router.
type Options struct {
	Service *facilitator.Service
	Auth    auth.Authenticator
	// Counter backs rate limiting and usage tracking. Nil disables both.
	Counter   usage.Counter
	RateLimit int64
	Backing   Backing
	Logger    *slog.Logger
}

// Handler holds the dependencies of the API handlers.
type Handler struct {
	service *facilitator.Service
	auth    auth.Authenticator
	backing Backing
	logger  *slog.Logger
}

// NewRouter builds the facilitator API.
func NewRouter(o Options) *gin.Engine {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Service == nil {
		o.Service = facilitator.New(facilitator.Config{Logger: o.Logger})
	}
	if o.Backing.Cache == "" {
		o.Backing.Cache = "memory"
	}
	h := &Handler{service: o.Service, auth: o.Auth, backing: o.Backing, logger: o.Logger}

	r := gin.New()
	r.Use(requestLogger(o.Logger), recovery(o.Logger))
	if o.Counter != nil {
		if o.RateLimit > 0 {
			r.Use(rateLimit(usage.NewLimiter(o.Counter, o.RateLimit, time.Minute, o.Logger)))
		}
		r.Use(trackUsage(usage.NewTracker(o.Counter, time.Minute, o.Logger)))
	}

	r.GET("/", h.Health)
	r.GET("/api/options", h.Supported)
	r.GET("/supported", h.Supported)

	protected := r.Group("/", h.requireAPIKey)
	protected.POST("/verify", h.Verify)
	protected.POST("/settle", h.Settle)

	channels := r.Group("/api/channels")
	channels.POST("", h.CreateChannel)
	channels.GET("", h.ListChannels)
	channels.GET("/:id", h.GetChannel)
	channels.POST("/:id/pay", h.PayChannel)
	channels.POST("/:id/settle", h.SettleChannel)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	})

	return r
}
