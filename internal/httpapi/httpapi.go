// Package httpapi wires every control-plane capability — run lifecycle,
// event streaming, credit/billing, and webhook ingestion — behind one
// chi.Router, grounded on the teacher's cmd/server/main.go router setup
// (middleware.Logger/Recoverer/RequestID/RealIP/Compress, cors.Handler,
// graceful shutdown).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/volaticloud/agentcore/internal/auth"
	"github.com/volaticloud/agentcore/internal/credit"
	"github.com/volaticloud/agentcore/internal/runs"
	"github.com/volaticloud/agentcore/internal/store"
	"github.com/volaticloud/agentcore/internal/stream"
	"github.com/volaticloud/agentcore/internal/stripeapi"
	"github.com/volaticloud/agentcore/internal/webhook"
)

// Deps bundles every service the router's handlers call into.
type Deps struct {
	Store   *store.Store
	Credits *credit.Manager
	Runs    *runs.Service
	Stream  *stream.Handler
	Webhook *webhook.Handler
	Stripe  stripeapi.API

	Auth *auth.OIDCVerifier // nil disables bearer-token enforcement (local dev)

	CORSOrigins []string
}

// NewRouter builds the full HTTP surface described in spec §6.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	h := &handlers{Deps: d}

	r.Post("/billing/webhook", d.Webhook.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Auth))

		r.Post("/thread/{thread_id}/agent/start", h.startRun)
		r.Get("/thread/{thread_id}/agent-runs", h.listThreadRuns)
		r.Post("/agent-run/{run_id}/stop", h.stopRun)
		r.Post("/agent/initiate", h.initiateAgent)

		r.Post("/billing/deduct", h.deduct)
		r.Get("/billing/balance", h.balance)
		r.Get("/billing/plans", h.plans)
		r.Post("/billing/trial/start", h.trialStart)
		r.Post("/billing/trial/cancel", h.trialCancel)
	})

	// The SSE endpoint authenticates via either a bearer header or a query
	// token (EventSource can't set headers), so it sits outside the
	// header-only auth group and checks both itself.
	r.With(sseAuth(d.Auth)).Get("/agent-run/{run_id}/stream", d.Stream.ServeHTTP)

	return r
}

type handlers struct {
	Deps
}
