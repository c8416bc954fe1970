package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/volaticloud/agentcore/internal/logger"
)

// AuthMiddleware validates bearer JWTs on incoming HTTP requests. It
// extracts the Bearer token from the Authorization header, verifies it
// against the configured OIDC issuer, and stores the resulting user
// context for downstream handlers.
type AuthMiddleware struct {
	verifier *OIDCVerifier
	optional bool // if true, requests without a token proceed unauthenticated
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(verifier *OIDCVerifier, optional bool) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, optional: optional}
}

// Handler returns the HTTP middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// WebSocket connections authenticate via a connection_init payload
		// once the upgrade completes, not this header-based check.
		if isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.unauthorized(w, "missing Authorization header")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			m.unauthorized(w, "invalid Authorization header format (expected: Bearer <token>)")
			return
		}

		userCtx, err := m.verifier.VerifyToken(ctx, token)
		if err != nil {
			logger.GetLogger(ctx).Info("auth: token verification failed", zap.Error(err))
			m.unauthorized(w, "invalid or expired token")
			return
		}

		ctx = SetUserContext(ctx, userCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isWebSocketUpgrade reports whether r is an HTTP Upgrade: websocket request.
func isWebSocketUpgrade(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))
	return strings.Contains(connection, "upgrade") && upgrade == "websocket"
}

// extractBearerToken extracts the token from a "Bearer <token>" header value.
func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// unauthorized sends a 401 Unauthorized response.
func (m *AuthMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "` + message + `"}`))
}

// RequireAuth is a convenience middleware that always requires authentication.
func RequireAuth(verifier *OIDCVerifier) func(http.Handler) http.Handler {
	return NewAuthMiddleware(verifier, false).Handler
}

// OptionalAuth is a convenience middleware that allows unauthenticated requests through.
func OptionalAuth(verifier *OIDCVerifier) func(http.Handler) http.Handler {
	return NewAuthMiddleware(verifier, true).Handler
}
