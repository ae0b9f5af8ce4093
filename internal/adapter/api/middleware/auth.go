package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/auth"
)

// TokenQueryParam carries the session token for clients that cannot set
// headers, such as a browser EventSource.
const TokenQueryParam = "access_token"

type claimsCtxKey struct{}

// TokenValidator checks session tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Auth is a middleware factory that requires a valid session token in the
// Authorization header (Bearer) or the access_token query parameter.
func Auth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.Warn("invalid session token", "remote_addr", r.RemoteAddr, "error", err)
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole restricts access to sessions with one of the given roles.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			if !allowed[claims.Role] {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims stores the session claims in ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, claims)
}

// ClaimsFromContext returns the session claims, or nil for anonymous requests.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsCtxKey{}).(*auth.Claims)
	return claims
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(TokenQueryParam)
}
