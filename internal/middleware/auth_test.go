package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/carpool/backend/internal/middleware"
)

var verifier = middleware.NewVerifier([]byte("test-secret"))

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
}

// echoUser writes the authenticated user id so tests can assert on it.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(id.String()))
})

func TestAuthenticate_BearerHeader(t *testing.T) {
	user := uuid.New()
	token, err := verifier.Sign(user, validClaims())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sessions/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	middleware.Authenticate(verifier)(echoUser).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.String(), rec.Body.String())
}

func TestAuthenticate_QueryParam(t *testing.T) {
	user := uuid.New()
	token, err := verifier.Sign(user, validClaims())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws/sessions/1?access_token="+token, nil)
	rec := httptest.NewRecorder()
	middleware.Authenticate(verifier)(echoUser).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.String(), rec.Body.String())
}

func TestAuthenticate_Rejects(t *testing.T) {
	expired, err := verifier.Sign(uuid.New(), jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	require.NoError(t, err)
	foreign, err := middleware.NewVerifier([]byte("other")).Sign(uuid.New(), validClaims())
	require.NoError(t, err)
	noExpiry, err := verifier.Sign(uuid.New(), jwt.RegisteredClaims{})
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "driver-7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"missing":     "",
		"wrong":       "Basic dXNlcjpwYXNz",
		"expired":     "Bearer " + expired,
		"foreign key": "Bearer " + foreign,
		"no expiry":   "Bearer " + noExpiry,
		"bad subject": "Bearer " + badSubject,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sessions/1", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			middleware.Authenticate(verifier)(echoUser).ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "unauthorized", body.Error.Code)
		})
	}
}
