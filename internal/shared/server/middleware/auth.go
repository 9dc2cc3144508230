package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/shared/auth"
	"medsnap-backend/internal/shared/config"
	"medsnap-backend/internal/shared/server/respond"
	"medsnap-backend/internal/shared/telemetry"
)

const (
	userIDKey    = "userId"
	userEmailKey = "userEmail"

	protectedPrefix = "/api/v1/"
)

// paths under /api/v1 that never need an identity
var publicPaths = []string{
	"/api/v1/health",
	"/api/v1/blobs/",
}

// Auth verifies bearer tokens and stores the caller identity in context. Identity is
// required under /api/v1; elsewhere a valid bearer is recorded but never demanded.
// In dev environments X-User-Id is accepted under /api/v1 for local tooling.
func Auth(verifier *auth.Verifier, env string) gin.HandlerFunc {
	devHeader := config.IsDevEnv(env)

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		required := requiresIdentity(path)

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			token, ok := bearerToken(authHeader)
			if ok && verifier != nil {
				if claims, err := verifier.Verify(token); err == nil {
					c.Set(userIDKey, claims.Subject)
					if claims.Email != "" {
						c.Set(userEmailKey, claims.Email)
					}
					c.Next()
					return
				}
			}
			if required {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			telemetry.Debug("auth.optional_bearer_rejected", map[string]any{"path": path})
			c.Next()
			return
		}

		if required && devHeader {
			if id := strings.TrimSpace(c.GetHeader("X-User-Id")); id != "" {
				c.Set(userIDKey, id)
				c.Next()
				return
			}
		}

		if required {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
			return
		}
		c.Next()
	}
}

func requiresIdentity(path string) bool {
	if !strings.HasPrefix(path, protectedPrefix) {
		return false
	}
	for _, p := range publicPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return false
		}
	}
	return true
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	return token, token != ""
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}

// UserEmailFromContext fetches the user email set by the auth middleware.
func UserEmailFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userEmailKey)
	if email, ok := val.(string); ok {
		return email
	}
	return ""
}
