package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// Middleware rejects API requests without a valid bearer token
type Middleware struct {
	tokens *TokenManager
	logger *zap.SugaredLogger
}

// NewMiddleware wraps tokens. A nil or disabled manager passes every request through.
func NewMiddleware(tokens *TokenManager, logger *zap.SugaredLogger) *Middleware {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Middleware{tokens: tokens, logger: logger}
}

// RequireAuth guards next
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	if !m.tokens.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			unauthorized(w, "missing token")
			return
		}
		claims, err := m.tokens.Validate(token)
		if err != nil {
			m.logger.Debugw("Token validation failed", "path", r.URL.Path, "error", err)
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// ClaimsFrom returns the claims RequireAuth attached, or nil
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// extractToken reads the Authorization header, falling back to the token
// query parameter for websocket clients that cannot set headers
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tren"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized: " + msg, "kind": "unauthorized"})
}
