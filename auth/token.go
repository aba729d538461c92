// Package auth issues and checks the bearer tokens that guard the tren HTTP API.
//
// Tokens are HS256 JWTs signed with server.auth.jwt_secret. The daemon and the
// CLI share the secret through am.toml, so the CLI can mint a token for its own
// calls to a running daemon.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/teranos/tren/am"
	"github.com/teranos/tren/errors"
)

// Issuer is written to and required in every token
const Issuer = "tren"

// Claims identifies the caller of an authenticated request
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// TokenManager signs and validates API tokens
type TokenManager struct {
	enabled bool
	secret  []byte
	expiry  time.Duration
}

// NewTokenManager builds a manager from the server auth section.
// A disabled section yields a manager whose middleware lets every request through.
func NewTokenManager(cfg am.AuthConfig) (*TokenManager, error) {
	m := &TokenManager{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return m, nil
	}
	if len(cfg.JWTSecret) < am.MinJWTSecretLength {
		return nil, errors.Newf("jwt secret must be at least %d characters", am.MinJWTSecretLength)
	}
	expiry, err := time.ParseDuration(cfg.TokenExpiry)
	if err != nil || expiry <= 0 {
		return nil, errors.Newf("invalid token expiry %q", cfg.TokenExpiry)
	}
	m.secret = []byte(cfg.JWTSecret)
	m.expiry = expiry
	return m, nil
}

// Enabled reports whether requests must carry a token
func (m *TokenManager) Enabled() bool {
	return m != nil && m.enabled
}

// Expiry is the lifetime used when Issue gets a zero ttl
func (m *TokenManager) Expiry() time.Duration {
	return m.expiry
}

// Issue signs a token for subject. ttl <= 0 uses the configured expiry.
func (m *TokenManager) Issue(subject, scope string, ttl time.Duration) (string, error) {
	if !m.Enabled() {
		return "", errors.New("auth is disabled")
	}
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = m.expiry
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Validate parses a token and returns its claims
func (m *TokenManager) Validate(token string) (*Claims, error) {
	if !m.Enabled() {
		return nil, errors.New("auth is disabled")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Wrap(err, "invalid token")
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
