package clientstate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims exposes the subset of bearer token claims the agent cares about.
// The signature is never verified here; the backend remains the authority.
type TokenClaims struct {
	Subject   string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry that has passed.
func (c *TokenClaims) Expired(now time.Time) bool {
	return c != nil && !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ErrOpaqueToken is returned by ParseToken when the bearer value is not a JWT.
var ErrOpaqueToken = errors.New("clientstate: token is not a JWT")

// ParseToken decodes JWT claims without verifying the signature.
func ParseToken(token string) (*TokenClaims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if strings.Count(token, ".") != 2 {
		return nil, ErrOpaqueToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("clientstate: parse token: %w", err)
	}

	out := &TokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time.UTC()
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time.UTC()
	}

	switch scope := claims["scope"].(type) {
	case string:
		out.Roles = strings.Fields(scope)
	case []any:
		for _, item := range scope {
			if s, ok := item.(string); ok {
				out.Roles = append(out.Roles, s)
			}
		}
	}
	if len(out.Roles) == 0 {
		if roles, ok := claims["roles"].([]any); ok {
			for _, item := range roles {
				if s, ok := item.(string); ok {
					out.Roles = append(out.Roles, s)
				}
			}
		}
	}
	for i, role := range out.Roles {
		out.Roles[i] = normalizeRole(role)
	}

	return out, nil
}
