package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifierRoundTrip(t *testing.T) {
	v, err := NewVerifier("s3cret", "dev")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	token, err := v.Sign("user-1", "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	v, _ := NewVerifier("s3cret", "dev")
	other, _ := NewVerifier("other", "dev")
	foreign, _ := other.Sign("user-1", "", time.Hour)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	expiredToken, _ := expired.SignedString([]byte("s3cret"))

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	noSubToken, _ := noSub.SignedString([]byte("s3cret"))

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": foreign,
		"expired":      expiredToken,
		"missing sub":  noSubToken,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewVerifierRequiresSecretOutsideDev(t *testing.T) {
	for _, env := range []string{"production", "staging", "qa", "preview"} {
		if _, err := NewVerifier("", env); err == nil {
			t.Fatalf("expected error without secret for ENV=%s", env)
		}
	}
	for _, env := range []string{"dev", "local"} {
		if _, err := NewVerifier("", env); err != nil {
			t.Fatalf("%s should fall back to a local secret: %v", env, err)
		}
	}
}
