// Package auth authenticates API requests with JWT bearer tokens.
//
// Tokens are HS256-signed and carry a tenant_id claim plus a scopes list.
// Tenant-scoped routes additionally require the token's tenant to match the
// path tenant, so one tenant's token can never touch another's data. A dev
// bypass mode skips verification entirely and must never be enabled in
// production.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/oxbow-systems/sluice/types"
)

// ScopeIngest authorizes batch submission.
const ScopeIngest = "ingest"

// Claims are the token claims the pipeline understands.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries a scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey struct{}

// FromContext returns the verified claims on a request context. The second
// return is false in bypass mode and on unauthenticated routes.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

// Verifier validates bearer tokens.
type Verifier struct {
	secret []byte
	bypass bool
}

// New creates a verifier. When bypass is true every request is admitted
// without a token.
func New(secret string, bypass bool) *Verifier {
	return &Verifier{secret: []byte(secret), bypass: bypass}
}

// Bypass reports whether verification is disabled.
func (v *Verifier) Bypass() bool { return v.bypass }

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(raw string) (*Claims, *types.APIError) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAPIError(http.StatusUnauthorized, types.CodeTokenExpired, "token expired")
		}
		return nil, types.NewAPIError(http.StatusUnauthorized, types.CodeAuthRequired, "invalid token")
	}
	if !token.Valid || claims.TenantID == "" {
		return nil, types.NewAPIError(http.StatusUnauthorized, types.CodeAuthRequired, "invalid token")
	}
	return claims, nil
}

// Middleware authenticates every request with a bearer token. In bypass
// mode requests pass through without claims.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.bypass {
			next.ServeHTTP(w, r)
			return
		}
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, types.NewAPIError(http.StatusUnauthorized,
				types.CodeAuthRequired, "missing bearer token"))
			return
		}
		claims, apiErr := v.Verify(raw)
		if apiErr != nil {
			writeError(w, apiErr)
			return
		}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// RequireTenant enforces that the token's tenant matches the tenant_id URL
// parameter. Bypass mode admits everything.
func (v *Verifier) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.bypass {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := FromContext(r.Context())
		if !ok {
			writeError(w, types.NewAPIError(http.StatusUnauthorized,
				types.CodeAuthRequired, "missing bearer token"))
			return
		}
		if pathTenant := chi.URLParam(r, "tenant_id"); pathTenant != claims.TenantID {
			writeError(w, types.NewAPIError(http.StatusForbidden,
				types.CodeInsufficientScope, "token is not valid for this tenant"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireScope enforces that the token carries the scope. Bypass mode
// admits everything.
func (v *Verifier) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v.bypass {
				next.ServeHTTP(w, r)
				return
			}
			claims, ok := FromContext(r.Context())
			if !ok || !claims.HasScope(scope) {
				writeError(w, types.NewAPIError(http.StatusForbidden,
					types.CodeInsufficientScope, "token lacks scope "+scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Sign mints a token for the given claims. Used by the CLI and tests.
func (v *Verifier) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func writeError(w http.ResponseWriter, apiErr *types.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": apiErr})
}
