package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Claims are the verified identity and grants of a caller.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Roles.
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// CorrelationHeader carries the request correlation id.
const CorrelationHeader = "X-Correlation-ID"

type claimsKey struct{}

// ContextWithClaims stores claims in ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by the middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// LocalClaims are granted to every request when authentication is disabled.
var LocalClaims = Claims{
	Subject: "local",
	Roles:   []string{RoleController},
	Scopes:  []string{ScopeRead, ScopeControl, ScopeTelemetry},
}

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier *Verifier
	public   map[string]bool
}

// NewMiddleware creates a middleware. A nil verifier disables authentication
// and every request carries LocalClaims.
func NewMiddleware(verifier *Verifier, publicPaths ...string) *Middleware {
	m := &Middleware{verifier: verifier, public: make(map[string]bool)}
	for _, p := range publicPaths {
		m.public[p] = true
	}
	return m
}

// Authenticate verifies the bearer token and stores its claims in the request
// context. It has the shape of a gorilla/mux middleware.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if m.verifier == nil {
			local := LocalClaims
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), &local)))
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// RequireScope rejects requests whose claims lack any of scopes.
func (m *Middleware) RequireScope(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			for _, scope := range scopes {
				if !claims.HasScope(scope) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
					return
				}
			}
			next(w, r)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// writeError writes the API error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	correlationID := w.Header().Get(CorrelationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
