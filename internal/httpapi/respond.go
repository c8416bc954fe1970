package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/volaticloud/agentcore/internal/apperror"
	"github.com/volaticloud/agentcore/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError translates a service-layer error into the typed HTTP response
// the spec requires: apperror.Kind maps to status, and any attached detail
// (e.g. ConcurrencyLimitDetail) rides along in the body.
func writeError(w http.ResponseWriter, err error) {
	status := apperror.StatusCode(err)
	body := map[string]any{"error": err.Error()}
	if detail := apperror.DetailOf(err); detail != nil {
		body["detail"] = detail
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

// accountID pulls the authenticated caller's account out of request
// context; callers only reach a handler inside the auth-required route
// group, where this is always populated.
func accountID(r *http.Request) string {
	u, err := auth.GetUserContext(r.Context())
	if err != nil {
		return ""
	}
	return u.AccountID
}
