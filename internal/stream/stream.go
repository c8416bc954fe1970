// Package stream is the Server-Sent Events subscriber for a single agent
// run. Grounded on Generativebots-ocx-backend-go-svc's HandleSSEStream
// (http.Flusher-based, Content-Type text/event-stream, ctx.Done() select
// loop) since the teacher's own live transport is GraphQL subscriptions
// over websocket, not raw SSE.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/volaticloud/agentcore/internal/broker"
	"github.com/volaticloud/agentcore/internal/logger"
	"github.com/volaticloud/agentcore/internal/store"
)

// terminalStatuses mirrors the SSE contract's {completed,failed,stopped}
// termination set.
var terminalStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"stopped":   true,
}

// statusEnvelope is the minimal shape this package needs to read out of a
// response envelope to decide whether the stream should end; everything
// else in the envelope is forwarded byte-for-byte, unparsed.
type statusEnvelope struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Handler serves GET /agent-run/{run_id}/stream.
type Handler struct {
	store  *store.Store
	broker broker.Broker
}

// New builds a Handler.
func New(s *store.Store, b broker.Broker) *Handler {
	return &Handler{store: s, broker: b}
}

// ServeHTTP handles GET /agent-run/{run_id}/stream: replay the buffered
// response list, then subscribe to the response/control topics and
// re-read from the last processed index on every notification, so
// coalesced or reordered pub/sub wake-ups never lose or duplicate events.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)
	runID := chi.URLParam(r, "run_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastIndex, terminated := h.replay(ctx, w, flusher, runID)
	if terminated {
		return
	}

	run, err := h.store.GetRun(ctx, runID)
	if err == nil && run.Status.Terminal() {
		// Always the literal "completed", regardless of the run's actual
		// terminal status. The other termination paths emit "error" or the
		// control signal itself.
		h.emitStatus(w, flusher, "completed")
		return
	}

	msgs, cleanup, err := h.broker.Subscribe(ctx, broker.NewResponseTopic(runID), broker.ControlTopic(runID))
	if err != nil {
		log.Error("stream: subscribe failed", zap.String("run_id", runID), zap.Error(err))
		h.emitStatus(w, flusher, "error")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg == broker.NewResponseSignal {
				var terminate bool
				lastIndex, terminate = h.drain(ctx, w, flusher, runID, lastIndex)
				if terminate {
					return
				}
				continue
			}
			// Anything else arriving on this multiplexed channel is a
			// control signal (STOP/END_STREAM/ERROR).
			h.emitStatus(w, flusher, msg)
			return
		}
	}
}

// replay emits every buffered response from index 0, returning the last
// emitted index and whether a terminal status was seen (and the stream
// already closed).
func (h *Handler) replay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, runID string) (lastIndex int64, terminated bool) {
	return h.drain(ctx, w, flusher, runID, -1)
}

// drain re-reads the response list from from+1 to the end, emitting each
// envelope, and reports whether a terminal status envelope was among them.
func (h *Handler) drain(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, runID string, from int64) (lastIndex int64, terminated bool) {
	log := logger.GetLogger(ctx)
	lastIndex = from

	envelopes, err := h.broker.ReadResponses(ctx, runID, from+1)
	if err != nil {
		log.Error("stream: read responses failed", zap.String("run_id", runID), zap.Error(err))
		h.emitStatus(w, flusher, "error")
		return lastIndex, true
	}

	for _, raw := range envelopes {
		fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
		lastIndex++

		var se statusEnvelope
		if jsonErr := json.Unmarshal(raw, &se); jsonErr == nil && se.Type == "status" && terminalStatuses[se.Status] {
			return lastIndex, true
		}
	}
	return lastIndex, false
}

// emitStatus writes a synthetic {type:"status", status:<status>} event,
// the shape the contract requires on every termination path.
func (h *Handler) emitStatus(w http.ResponseWriter, flusher http.Flusher, status string) {
	fmt.Fprintf(w, "data: {\"type\":\"status\",\"status\":%q}\n\n", status)
	flusher.Flush()
}
