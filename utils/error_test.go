package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusOf(NewValidationError(errors.New("bad"))))
	assert.Equal(t, http.StatusGatewayTimeout, StatusOf(fmt.Errorf("wrapped: %w", NewIndeterminateError(errors.New("timeout")))))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}

func TestPublicMessage(t *testing.T) {
	rpcErr := errors.New(`call authorizationState: Post "https://base-sepolia.example/v2/SECRETKEY": connection refused`)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation keeps its text", NewValidationError(errors.New("invalid nonce")), "invalid nonce"},
		{"not found keeps its text", NewNotFoundError(errors.New("channel not found")), "channel not found"},
		{"on-chain hides the cause", NewOnchainError(rpcErr), "on-chain request failed"},
		{"indeterminate hides the cause", NewIndeterminateError(rpcErr), "settlement outcome unknown"},
		{"configuration hides the cause", NewConfigurationError(rpcErr), "internal server error"},
		{"plain error", rpcErr, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PublicMessage(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "SECRETKEY")
		})
	}
}
