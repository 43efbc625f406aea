// Command facilitator serves the x402 facilitator API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	handler "github.com/raid-guild/x402-gateway-go/api"
	"github.com/raid-guild/x402-gateway-go/audit"
	"github.com/raid-guild/x402-gateway-go/auth"
	"github.com/raid-guild/x402-gateway-go/clients"
	"github.com/raid-guild/x402-gateway-go/config"
	"github.com/raid-guild/x402-gateway-go/core"
	"github.com/raid-guild/x402-gateway-go/facilitator"
	"github.com/raid-guild/x402-gateway-go/ledger"
	"github.com/raid-guild/x402-gateway-go/usage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	if err := run(logger); err != nil {
		logger.Error("facilitator stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audit log and API keys live in Postgres when configured
	var db *sql.DB
	var store audit.Store
	if cfg.DatabaseURL != "" {
		db, err = clients.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		sqlStore := audit.NewSQLStore(db)
		if err := sqlStore.Migrate(ctx); err != nil {
			return err
		}
		store = sqlStore
	}

	// Usage counters are shared through Redis when configured
	var counter usage.Counter = usage.NewMemoryCounter()
	cache := "memory"
	if cfg.RedisURL != "" {
		client, err := clients.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, falling back to in-memory counters", "error", err)
		} else {
			defer client.Close()
			counter = usage.NewRedisCounter(client, "x402:")
			cache = "redis"
		}
	}

	engine, err := core.NewEngine(core.EngineConfig{
		PrivateKey:          cfg.SettlementPrivateKey,
		RPCURLs:             cfg.RPCURLs,
		ConfirmationTimeout: cfg.SettlementTimeout,
	})
	if err != nil {
		return err
	}
	if !engine.HasKey() {
		logger.Warn("no settlement key configured, settle requests will fail")
	}

	service := facilitator.New(facilitator.Config{
		Ledger:     ledger.New(ledger.WithDefaultDuration(cfg.ChannelDuration)),
		Settler:    engine,
		Audit:      store,
		Logger:     logger,
		MinPayment: cfg.MinPayment,
		MaxPayment: cfg.MaxPayment,
	})

	// A static key takes precedence over the users table
	authenticator := auth.Authenticator{StaticKey: cfg.StaticAPIKey}
	if cfg.StaticAPIKey == "" {
		authenticator.DB = db
	}

	router := handler.NewRouter(handler.Options{
		Service:   service,
		Auth:      authenticator,
		Counter:   counter,
		RateLimit: int64(cfg.RateLimitPerMinute),
		Backing:   handler.Backing{Database: db != nil, Cache: cache},
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("facilitator listening",
			"addr", srv.Addr,
			"settlementAddress", engine.Address().Hex(),
			"database", db != nil,
			"cache", cache,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
