package letly

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func makeTestToken(t *testing.T, claims TokenClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseToken(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		token := makeTestToken(t, TokenClaims{
			UserID: "u42",
			Name:   "Ana",
			Email:  "ana@example.com",
			Role:   "tenant",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		claims, err := ParseToken(token)
		if err != nil {
			t.Fatalf("ParseToken error: %v", err)
		}
		if claims.UserID != "u42" {
			t.Fatalf("expected user u42, got %q", claims.UserID)
		}
		if claims.Role != "tenant" {
			t.Fatalf("expected role tenant, got %q", claims.Role)
		}
	})

	t.Run("user id falls back to subject", func(t *testing.T) {
		token := makeTestToken(t, TokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u7"},
		})
		claims, err := ParseToken(token)
		if err != nil {
			t.Fatalf("ParseToken error: %v", err)
		}
		if claims.UserID != "u7" {
			t.Fatalf("expected user u7, got %q", claims.UserID)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if _, err := ParseToken(""); err == nil {
			t.Fatal("expected error for empty token")
		}
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := ParseToken("not.a.jwt")
		if err == nil {
			t.Fatal("expected error for malformed token")
		}
		if !strings.Contains(err.Error(), "malformed") {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := makeTestToken(t, TokenClaims{
			UserID: "u42",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})
		_, err := ParseToken(token)
		if err == nil {
			t.Fatal("expected error for expired token")
		}
		if !strings.Contains(err.Error(), "expired") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
