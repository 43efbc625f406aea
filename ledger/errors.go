package ledger

import (
	"errors"

	"github.com/raid-guild/x402-gateway-go/utils"
)

// Channel ledger errors. Each carries the HTTP status it maps to.
var (
	ErrChannelNotFound     = utils.NewNotFoundError(errors.New("channel not found"))
	ErrChannelExpired      = utils.NewValidationError(errors.New("channel has expired"))
	ErrNonceReplay         = utils.NewValidationError(errors.New("invalid nonce"))
	ErrInsufficientBalance = utils.NewValidationError(errors.New("insufficient channel balance"))
	ErrInvalidSignature    = utils.NewAuthorizationError(errors.New("invalid signature"))
	ErrChannelIDMismatch   = utils.NewValidationError(errors.New("channel ID mismatch"))
	ErrInvalidAmount       = utils.NewValidationError(errors.New("invalid amount"))
	ErrInvalidAddress      = utils.NewValidationError(errors.New("invalid address"))
)
