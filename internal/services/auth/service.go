// -----------------------------------------------------------------------
// Auth service - HMAC bearer tokens. The live channel cannot set custom
// headers (EventSource), so tokens are accepted from the Authorization
// header or a token query parameter and validated identically.
// -----------------------------------------------------------------------

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ternarybob/scriba/internal/interfaces"
)

// ErrInvalidToken is returned for missing, malformed, or expired tokens
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the token payload: the owner the token acts as, plus an admin
// flag that unlocks the subscribe-all event scope
type Claims struct {
	Owner string `json:"owner"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and validates access tokens
type Service struct {
	secret      []byte
	tokenExpiry time.Duration
}

// NewService creates the auth service
func NewService(secret string, tokenExpiry time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("auth secret is required")
	}
	if tokenExpiry <= 0 {
		tokenExpiry = 24 * time.Hour
	}
	return &Service{
		secret:      []byte(secret),
		tokenExpiry: tokenExpiry,
	}, nil
}

// IssueToken signs a token for the given owner
func (s *Service) IssueToken(owner string, admin bool) (string, error) {
	if owner == "" {
		return "", errors.New("owner is required")
	}

	now := time.Now()
	claims := Claims{
		Owner: owner,
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, returning its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Owner == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate extracts and validates the request's credential. The
// Authorization header wins; the token query parameter is the fallback for
// stream connections that cannot carry headers.
func (s *Service) Authenticate(r *http.Request) (*Claims, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			return nil, ErrInvalidToken
		}
		return s.ValidateToken(token)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return s.ValidateToken(token)
	}
	return nil, ErrInvalidToken
}

// EventScope returns the event subscription scope for the claims: admins
// subscribe to all owners, everyone else to their own events only
func (c *Claims) EventScope() string {
	if c.Admin {
		return interfaces.OwnerAll
	}
	return c.Owner
}
