// Command resource-server is an example API that charges for /weather through a
// remote facilitator.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/raid-guild/x402-gateway-go/clients"
	"github.com/raid-guild/x402-gateway-go/config"
	"github.com/raid-guild/x402-gateway-go/core"
	"github.com/raid-guild/x402-gateway-go/gateway"
	"github.com/raid-guild/x402-gateway-go/types"
)

// weatherPrice is 0.01 USDC in atomic units.
const weatherPrice = "10000"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.LoadResourceServer()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	skale, _ := core.ChainByNetwork(types.NetworkSkaleEuropaTestnet)
	routes := map[string]types.RouteConfig{
		"GET /weather": {
			Price:       weatherPrice,
			Network:     skale.Network,
			Asset:       skale.Asset,
			Description: "Current weather for the requested city",
			Extra: &types.RouteExtra{
				Name:              core.ForwarderDomainName,
				Version:           core.ForwarderDomainVersion,
				VerifyingContract: skale.Forwarder.Hex(),
				Method:            types.PaymentTypeEIP3009Forwarder,
				Token:             skale.Token.Hex(),
			},
		},
	}

	g, err := gateway.New(routes, clients.NewFacilitatorClient(cfg.FacilitatorURL, cfg.FacilitatorKey), gateway.Options{
		Receiver:    cfg.ReceivingAddress,
		Facilitator: cfg.FacilitatorURL,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("invalid routes", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(g.Handler)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "paid": []string{"GET /weather"}})
	})
	r.Get("/weather", func(w http.ResponseWriter, r *http.Request) {
		payment, _ := gateway.PaymentFromContext(r.Context())
		city := r.URL.Query().Get("city")
		if city == "" {
			city = "Lisbon"
		}
		writeJSON(w, map[string]any{
			"city":        city,
			"temperature": 21,
			"conditions":  "clear",
			"paidBy":      payment.Verification.Payer,
		})
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("resource server listening", "addr", srv.Addr, "facilitator", cfg.FacilitatorURL)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("resource server stopped", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
