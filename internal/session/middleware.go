package session

import (
	"context"
	"net/http"
	"strings"
)

// claimsKey is the context key for the authenticated session's claims.
type claimsKey struct{}

// ClaimsFromContext returns the authenticated session's claims, or nil
// if the request carried none.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return c
	}
	return nil
}

// publicPrefixes are request paths the middleware never gates: the
// session endpoints themselves (which authenticate by api key/secret,
// not bearer token) and the handful of non-API dispatcher routes.
var publicPrefixes = []string{
	"/api/auth/",
	"/health",
}

// Middleware validates the bearer token on every /api/ request except
// the session endpoints and health check.
func Middleware(gate *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range publicPrefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := gate.Authenticate(tokenString)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
