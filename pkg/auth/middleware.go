package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const UserKey contextKey = "user"

// BearerToken reads the Authorization header, falling back to the token
// query parameter that websocket clients use.
func BearerToken(r *http.Request) string {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "Bearer ") {
		tokenString = tokenString[7:]
	}
	return strings.TrimSpace(tokenString)
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, UserKey, c)
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(UserKey).(*Claims)
	return c, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// claims on the request context.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := BearerToken(r)
		if tokenString == "" {
			writeDetail(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		claims, err := i.ValidateToken(tokenString)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
