// Package webhook verifies and dispatches Stripe webhook deliveries,
// guaranteeing exactly-once processing across instances the way the
// teacher's internal/billing/webhook.go dispatched a single ent.Client, but
// fronted by the durable claim (internal/store) and in-flight lock
// (internal/lock) the teacher's ent-backed handler didn't need because it
// ran on a single instance.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/volaticloud/agentcore/internal/broker"
	"github.com/volaticloud/agentcore/internal/credit"
	"github.com/volaticloud/agentcore/internal/enum"
	"github.com/volaticloud/agentcore/internal/lock"
	"github.com/volaticloud/agentcore/internal/logger"
	"github.com/volaticloud/agentcore/internal/store"
	"github.com/volaticloud/agentcore/internal/stripeapi"
)

// maxBodyBytes caps the payload read from a webhook delivery, matching the
// teacher's 65536-byte limit.
const maxBodyBytes = 65536

// Handler dispatches verified Stripe events to the credit manager and
// subscription orchestrator, guarded by the durable webhook_events claim
// and a per-event in-flight lock.
type Handler struct {
	store   *store.Store
	credits *credit.Manager
	stripe  stripeapi.API
	broker  broker.Broker
	secret  string
}

// New builds a Handler.
func New(s *store.Store, cm *credit.Manager, sc stripeapi.API, b broker.Broker, webhookSecret string) *Handler {
	return &Handler{store: s, credits: cm, stripe: sc, broker: b, secret: webhookSecret}
}

// ServeHTTP implements http.Handler for the /billing/webhook route.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn("webhook signature verification failed", zap.Error(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	claimed, err := h.store.ClaimWebhookEvent(ctx, event.ID, string(event.Type))
	if err != nil {
		log.Error("webhook claim failed", zap.String("event_id", event.ID), zap.Error(err))
		http.Error(w, "claim failed", http.StatusInternalServerError)
		return
	}
	if !claimed {
		log.Info("webhook already seen, skipping", zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
		w.WriteHeader(http.StatusOK)
		return
	}

	dispatchErr := lock.WithWebhookLock(ctx, h.broker, event.ID, func(ctx context.Context) error {
		return h.dispatch(ctx, event)
	})

	if dispatchErr != nil {
		log.Error("webhook processing failed", zap.String("event_id", event.ID), zap.String("type", string(event.Type)), zap.Error(dispatchErr))
		if finErr := h.store.FinishWebhookEvent(ctx, event.ID, enum.WebhookFailed, dispatchErr.Error()); finErr != nil {
			log.Error("webhook finish (failed) record failed", zap.Error(finErr))
		}
		// Record the failure, but still ACK: a provider retry of an event we
		// already parsed and partially handled risks re-running side effects
		// that idempotency keys, not HTTP status, are responsible for guarding.
		w.WriteHeader(http.StatusOK)
		return
	}

	if finErr := h.store.FinishWebhookEvent(ctx, event.ID, enum.WebhookCompleted, ""); finErr != nil {
		log.Error("webhook finish (completed) record failed", zap.Error(finErr))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return h.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded", "invoice.paid":
		return h.handleInvoicePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		return h.handleInvoicePaymentFailed(ctx, event)
	case "charge.refunded", "payment_intent.refunded":
		return h.handleRefund(ctx, event)
	default:
		logger.GetLogger(ctx).Info("unhandled webhook event type", zap.String("type", string(event.Type)))
		return nil
	}
}

func unmarshalEventData(event stripe.Event, v any) error {
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("webhook: unmarshal %s payload: %w", event.Type, err)
	}
	return nil
}
