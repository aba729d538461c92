package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/tren/am"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func enabledManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(am.AuthConfig{Enabled: true, JWTSecret: testSecret, TokenExpiry: "1h"})
	require.NoError(t, err)
	return m
}

func TestNewTokenManager(t *testing.T) {
	_, err := NewTokenManager(am.AuthConfig{Enabled: true, JWTSecret: "short", TokenExpiry: "1h"})
	assert.Error(t, err)

	_, err = NewTokenManager(am.AuthConfig{Enabled: true, JWTSecret: testSecret, TokenExpiry: "soon"})
	assert.Error(t, err)

	m, err := NewTokenManager(am.AuthConfig{})
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	var nilManager *TokenManager
	assert.False(t, nilManager.Enabled())
}

func TestIssueAndValidate(t *testing.T) {
	m := enabledManager(t)

	token, err := m.Issue("cli", "jobs", 0)
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "cli", claims.Subject)
	assert.Equal(t, "jobs", claims.Scope)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)

	_, err = m.Issue("", "", 0)
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	m := enabledManager(t)

	other, err := NewTokenManager(am.AuthConfig{Enabled: true, JWTSecret: testSecret + "x", TokenExpiry: "1h"})
	require.NoError(t, err)
	foreign, err := other.Issue("cli", "", 0)
	require.NoError(t, err)
	_, err = m.Validate(foreign)
	assert.Error(t, err, "signed with another secret")

	expired, err := m.Issue("cli", "", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = m.Validate(expired)
	assert.Error(t, err, "expired")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Validate(none)
	assert.Error(t, err, "alg none")

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = m.Validate(wrongIssuer)
	assert.Error(t, err, "issuer")

	_, err = m.Validate("not-a-jwt")
	assert.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	m := enabledManager(t)
	token, err := m.Issue("cli", "", 0)
	require.NoError(t, err)

	var seen *Claims
	h := NewMiddleware(m, nil).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer header", "Bearer " + token, "", http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, "", http.StatusNoContent},
		{"basic scheme", "Basic " + token, "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", "", http.StatusUnauthorized},
		{"query param", "", token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			target := "/api/jobs"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"kind":"unauthorized"`)
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
				assert.Nil(t, seen)
			} else {
				require.NotNil(t, seen)
				assert.Equal(t, "cli", seen.Subject)
			}
		})
	}
}

func TestRequireAuthDisabledPassesThrough(t *testing.T) {
	m, err := NewTokenManager(am.AuthConfig{})
	require.NoError(t, err)

	h := NewMiddleware(m, nil).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, ClaimsFrom(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
