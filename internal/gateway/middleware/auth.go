// Package middleware holds the gateway's HTTP middleware: request
// authentication and per-client rate limiting, neither of which is
// specific to the task domain above them.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userContextKey contextKey = "user"

// AuthConfig holds authentication configuration for Auth.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   map[string]bool
}

// Claims is the JWT claim set accepted on the Authorization header.
// Queues, if non-empty, restricts which queue_id-keyed Pools this
// token's holder may see through the admin surface — a gateway
// process fronts several Pools at once (spec.md §3.2), so a token
// scoped to one team's queues shouldn't reveal another's worker/task
// state.
type Claims struct {
	UserID string   `json:"user_id"`
	Role   string   `json:"role"`
	Queues []string `json:"queues,omitempty"`
	jwt.RegisteredClaims
}

// CanAccessQueue reports whether these claims permit visibility into
// queueID. A nil Claims (no JWT — API-key auth or Auth disabled),
// the "admin" role, and an empty Queues list (a token not scoped to
// any particular queue) are all unrestricted; anything else must name
// queueID explicitly.
func (c *Claims) CanAccessQueue(queueID string) bool {
	if c == nil || c.Role == "admin" || len(c.Queues) == 0 {
		return true
	}
	for _, q := range c.Queues {
		if q == queueID {
			return true
		}
	}
	return false
}

// Auth authenticates via X-API-Key or a Bearer JWT, in that order; a
// disabled config passes every request through unauthenticated.
func Auth(cfg *AuthConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				if cfg.APIKeys[apiKey] {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header required", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser retrieves the authenticated claims from ctx, or nil.
func GetUser(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// ContextWithUser stamps ctx with claims the same way Auth's JWT path
// does, so handlers gating on GetUser/CanAccessQueue can be exercised
// directly in tests without round-tripping a signed token.
func ContextWithUser(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// RequireRole rejects requests whose claims lack role (an "admin"
// claim always passes). Must run after Auth.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUser(r.Context())
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if claims.Role != role && claims.Role != "admin" {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
