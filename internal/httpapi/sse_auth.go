package httpapi

import (
	"net/http"

	"github.com/volaticloud/agentcore/internal/auth"
)

// sseAuth accepts either a standard Bearer header or a ?token= query
// parameter, since EventSource (the browser SSE client) cannot set custom
// request headers. It rejects the request outright rather than falling
// back to unauthenticated access.
func sseAuth(verifier *auth.OIDCVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				if token := r.URL.Query().Get("token"); token != "" {
					r.Header.Set("Authorization", "Bearer "+token)
				}
			}
			auth.RequireAuth(verifier)(next).ServeHTTP(w, r)
		})
	}
}
