package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"medsnap-backend/internal/shared/config"
)

// Claims is the identity carried by a hosted-auth access token.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var (
	errMissingSecret = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

const devSecret = "dev-secret"

// Verifier checks HS256 access tokens issued by the hosted auth product.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier builds a Verifier. Only dev environments fall back to a built-in secret.
func NewVerifier(secret, env string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		if !config.IsDevEnv(env) {
			return nil, fmt.Errorf("%w: SUPABASE_JWT_SECRET required when ENV=%q", errMissingSecret, env)
		}
		secret = devSecret
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}, nil
}

// Verify parses a token and returns its claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for subject. Used by tests and local tooling.
func (v *Verifier) Sign(subject, email string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("sub is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now().UTC()
	claims := Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
