package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/license-activation-service/internal/http/response"
	"github.com/sandeepkv93/license-activation-service/internal/observability"
	"github.com/sandeepkv93/license-activation-service/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"

	InternalTokenHeader = "X-Internal-Token"
)

// AuthMiddleware requires an `Authorization: Bearer` access token and exposes
// its claims to handlers. The subject is the owner id.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", "bearer")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", "bearer")
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalTokenMiddleware guards trusted operator endpoints. An empty hash
// disables them entirely.
func InternalTokenMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(InternalTokenHeader))
			if tokenHash == "" || raw == "" || !security.VerifyInternalToken(tokenHash, raw) {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", "internal")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "trusted caller required", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", "internal")
			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

// OwnerIDFromContext returns the authenticated owner, or "" when the request
// did not pass AuthMiddleware.
func OwnerIDFromContext(ctx context.Context) string {
	c, ok := ClaimsFromContext(ctx)
	if !ok || c == nil {
		return ""
	}
	return c.Subject
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
