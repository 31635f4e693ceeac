package letly

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the identity a Letly bearer token encodes. The token is
// issued and verified by the auth collaborator; the client only reads the
// claims to know who it is acting as, so the signature is not checked here.
type TokenClaims struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"` // tenant | landlord | admin
	jwt.RegisteredClaims
}

// ParseToken extracts the claims from a bearer token without verifying its
// signature. Returns an error for empty or malformed tokens and for tokens
// that are already expired, so callers can fail before dialing anything.
func ParseToken(token string) (*TokenClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("missing auth token")
	}

	var claims TokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("malformed auth token: %w", err)
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("auth token expired at %s", claims.ExpiresAt.Format(time.RFC3339))
	}
	return &claims, nil
}
