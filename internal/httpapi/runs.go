package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/volaticloud/agentcore/internal/apperror"
	"github.com/volaticloud/agentcore/internal/runs"
)

type startRunBody struct {
	ProjectID string `json:"project_id"`
	ModelName string `json:"model_name"`
	AgentID   string `json:"agent_id"`
}

// startRun handles POST /thread/{thread_id}/agent/start.
func (h *handlers) startRun(w http.ResponseWriter, r *http.Request) {
	var body startRunBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apperror.New(apperror.KindValidation, "invalid request body"))
		return
	}

	result, err := h.Runs.StartRun(r.Context(), runs.StartRunRequest{
		AccountID: accountID(r),
		ProjectID: body.ProjectID,
		ThreadID:  chi.URLParam(r, "thread_id"),
		ModelName: body.ModelName,
		AgentID:   body.AgentID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type stopRunBody struct {
	Error string `json:"error,omitempty"`
}

// stopRun handles POST /agent-run/{run_id}/stop.
func (h *handlers) stopRun(w http.ResponseWriter, r *http.Request) {
	var body stopRunBody
	_ = decodeJSON(r, &body) // an empty/absent body is a normal, error-free stop

	runID := chi.URLParam(r, "run_id")
	if err := h.Runs.StopRun(r.Context(), runID, body.Error); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runSummary struct {
	RunID     string     `json:"run_id"`
	ThreadID  string     `json:"thread_id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// listThreadRuns handles GET /thread/{thread_id}/agent-runs.
func (h *handlers) listThreadRuns(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	rows, err := h.Store.RunsByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.KindInternal, "list runs", err))
		return
	}

	out := make([]runSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, runSummary{
			RunID: row.RunID, ThreadID: row.ThreadID, Status: string(row.Status),
			StartedAt: row.StartedAt, EndedAt: row.EndedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type initiateAgentBody struct {
	ProjectID string `json:"project_id"`
	ThreadID  string `json:"thread_id"`
	ModelName string `json:"model_name"`
	AgentID   string `json:"agent_id"`
}

// initiateAgent handles POST /agent/initiate. This core only consumes a
// project/thread that has already been provisioned by an external
// collaborator (spec §1) — the multipart first-message upload itself is
// handled upstream, which is why this accepts plain JSON rather than
// multipart form data.
func (h *handlers) initiateAgent(w http.ResponseWriter, r *http.Request) {
	var body initiateAgentBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apperror.New(apperror.KindValidation, "invalid request body"))
		return
	}

	result, err := h.Runs.InitiateSession(r.Context(), runs.InitiateSessionRequest{
		AccountID: accountID(r),
		ProjectID: body.ProjectID,
		ThreadID:  body.ThreadID,
		ModelName: body.ModelName,
		AgentID:   body.AgentID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
