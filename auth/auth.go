// Package auth authenticates callers of the facilitator API by API key.
package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"

	"github.com/raid-guild/x402-gateway-go/utils"
)

// HeaderAPIKey carries the caller's API key.
const HeaderAPIKey = "X-API-Key"

// Authenticator checks API keys against a static key or a users table. With
// neither configured every request is allowed.
type Authenticator struct {
	StaticKey string
	DB        *sql.DB
}

// Enabled reports whether requests need an API key.
func (a Authenticator) Enabled() bool {
	return a.StaticKey != "" || a.DB != nil
}

// Authenticate authenticates the request.
func (a Authenticator) Authenticate(r *http.Request) error {
	return a.AuthenticateKey(r.Context(), r.Header.Get(HeaderAPIKey))
}

// AuthenticateKey authenticates a provided API key.
func (a Authenticator) AuthenticateKey(ctx context.Context, providedKey string) error {

	// Check if the authenticator is misconfigured
	if a.StaticKey != "" && a.DB != nil {
		return utils.NewConfigurationError(errors.New("both static API key and database are set"))
	}

	// Check the provided key against the static key
	if a.StaticKey != "" {
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(a.StaticKey)) != 1 {
			return utils.NewAuthorizationError(errors.New("unauthorized"))
		}
		return nil
	}

	if a.DB == nil {
		return nil
	}

	// Check the provided key exists in the database
	if providedKey == "" {
		return utils.NewAuthorizationError(errors.New("unauthorized"))
	}
	var apiKey string
	err := a.DB.QueryRowContext(ctx,
		"SELECT api_key FROM users WHERE api_key = $1",
		providedKey,
	).Scan(&apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return utils.NewAuthorizationError(errors.New("unauthorized"))
	}
	if err != nil {
		return utils.NewConfigurationError(errors.New("failed to get key from database"))
	}

	return nil
}
