package utils

import (
	"errors"
	"net/http"
)

// StatusError is a custom error type that includes a status code.
type StatusError struct {
	error
	status int
}

// Status returns the status code of the error.
func (se StatusError) Status() int {
	return se.status
}

// Unwrap returns the wrapped error.
func (se StatusError) Unwrap() error {
	return se.error
}

// NewStatusError creates a new StatusError.
func NewStatusError(err error, s int) error {
	return StatusError{error: err, status: s}
}

// NewValidationError marks malformed or missing input. The caller may resubmit.
func NewValidationError(err error) error {
	return NewStatusError(err, http.StatusBadRequest)
}

// NewAuthorizationError marks a bad signature or wrong signer.
func NewAuthorizationError(err error) error {
	return NewStatusError(err, http.StatusUnauthorized)
}

// NewNotFoundError marks an unknown resource.
func NewNotFoundError(err error) error {
	return NewStatusError(err, http.StatusNotFound)
}

// NewConfigurationError marks a deployment problem such as a missing settlement key.
func NewConfigurationError(err error) error {
	return NewStatusError(err, http.StatusInternalServerError)
}

// NewOnchainError marks an RPC failure, revert or confirmation failure.
func NewOnchainError(err error) error {
	return NewStatusError(err, http.StatusBadGateway)
}

// NewIndeterminateError marks a submitted transaction whose fate is unknown.
func NewIndeterminateError(err error) error {
	return NewStatusError(err, http.StatusGatewayTimeout)
}

// StatusOf returns the status code carried by err, or 500 when err carries none.
func StatusOf(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.Status()
	}
	return http.StatusInternalServerError
}

// publicMessages replace the text of server-side errors, whose causes can carry
// RPC URLs, provider keys or driver details.
var publicMessages = map[int]string{
	http.StatusInternalServerError: "internal server error",
	http.StatusBadGateway:          "on-chain request failed",
	http.StatusGatewayTimeout:      "settlement outcome unknown",
}

// PublicMessage returns the message safe to show to a caller. Client errors (4xx)
// carry their own text. Server errors and errors without a status are replaced by a
// fixed message per status.
func PublicMessage(err error) string {
	var se StatusError
	if errors.As(err, &se) && se.Status() < http.StatusInternalServerError {
		return err.Error()
	}
	if msg, ok := publicMessages[StatusOf(err)]; ok {
		return msg
	}
	return publicMessages[http.StatusInternalServerError]
}
