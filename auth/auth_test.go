package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raid-guild/x402-gateway-go/utils"
)

func request(key string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/verify", nil)
	if key != "" {
		r.Header.Set(HeaderAPIKey, key)
	}
	return r
}

func TestAuthenticateStaticKey(t *testing.T) {
	a := Authenticator{StaticKey: "test-key"}
	assert.True(t, a.Enabled())

	assert.NoError(t, a.Authenticate(request("test-key")))

	err := a.Authenticate(request("wrong-key"))
	assert.Equal(t, http.StatusUnauthorized, utils.StatusOf(err))

	err = a.Authenticate(request(""))
	assert.Equal(t, http.StatusUnauthorized, utils.StatusOf(err))
}

func TestAuthenticateDisabled(t *testing.T) {
	a := Authenticator{}
	assert.False(t, a.Enabled())
	assert.NoError(t, a.Authenticate(request("")))
}

func TestAuthenticateDatabase(t *testing.T) {
	const query = "SELECT api_key FROM users WHERE api_key = \\$1"

	tests := []struct {
		name   string
		key    string
		setup  func(mock sqlmock.Sqlmock)
		status int
	}{
		{
			name: "known key",
			key:  "test-key",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("test-key").
					WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("test-key"))
			},
		},
		{
			name: "unknown key",
			key:  "other-key",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("other-key").
					WillReturnRows(sqlmock.NewRows([]string{"api_key"}))
			},
			status: http.StatusUnauthorized,
		},
		{
			name:   "missing key",
			setup:  func(mock sqlmock.Sqlmock) {},
			status: http.StatusUnauthorized,
		},
		{
			name: "database error",
			key:  "test-key",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("test-key").WillReturnError(errors.New("connection reset"))
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setup(mock)

			err = Authenticator{DB: db}.Authenticate(request(tt.key))
			if tt.status == 0 {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.status, utils.StatusOf(err))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAuthenticateMisconfigured(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = Authenticator{StaticKey: "test-key", DB: db}.Authenticate(request("test-key"))
	assert.Equal(t, http.StatusInternalServerError, utils.StatusOf(err))
}
