package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"

	"github.com/raid-guild/x402-gateway-go/types"
)

// PaymentKey is the gin context key holding the *Payment of an authorized request.
const PaymentKey = "x402.payment"

// Handler wraps next for net/http routers.
func (g *Gateway) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Decide(r)
		switch d.State {
		case StateUnauthorized:
			g.writeChallenge(w, d.Challenge)
		case StateAuthorized:
			next.ServeHTTP(w, r.WithContext(WithPayment(r.Context(), d.Payment)))
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// Gin returns the gateway as gin middleware.
func (g *Gateway) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Decide(c.Request)
		switch d.State {
		case StateUnauthorized:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, d.Challenge)
			return
		case StateAuthorized:
			c.Request = c.Request.WithContext(WithPayment(c.Request.Context(), d.Payment))
			c.Set(PaymentKey, d.Payment)
		}
		c.Next()
	}
}

// Echo returns the gateway as echo middleware.
func (g *Gateway) Echo() echo.MiddlewareFunc {
	return echo.WrapMiddleware(g.Handler)
}

func (g *Gateway) writeChallenge(w http.ResponseWriter, challenge *types.Challenge) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(challenge); err != nil {
		g.opts.Logger.Warn("failed to write challenge", "error", err)
	}
}
