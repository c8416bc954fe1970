package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/volaticloud/agentcore/internal/enum"
	"github.com/volaticloud/agentcore/internal/lock"
	"github.com/volaticloud/agentcore/internal/logger"
	"github.com/volaticloud/agentcore/internal/money"
	"github.com/volaticloud/agentcore/internal/store"
	"github.com/volaticloud/agentcore/internal/subscription"
)

const grantLockTTL = 30 * time.Second

// handleCheckoutCompleted routes a completed checkout session by its
// metadata type, extending the teacher's two-way manual_deposit/
// subscription_checkout switch with a trial_checkout branch.
func (h *Handler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := unmarshalEventData(event, &session); err != nil {
		return err
	}

	accountID := session.Metadata["account_id"]
	if accountID == "" {
		return fmt.Errorf("webhook: checkout session %s missing account_id metadata", session.ID)
	}

	switch session.Metadata["type"] {
	case "manual_deposit":
		amount := money.NewFromCents(session.AmountTotal)
		_, err := h.credits.DepositCheckout(ctx, accountID, amount, session.ID)
		return err

	case "trial_checkout":
		return h.handleTrialCheckout(ctx, accountID, &session)

	case "subscription_checkout":
		return h.handleSubscriptionCheckout(ctx, accountID, &session)

	default:
		logger.GetLogger(ctx).Info("unrecognized checkout session type", zap.String("session_id", session.ID))
		return nil
	}
}

func (h *Handler) handleTrialCheckout(ctx context.Context, accountID string, session *stripe.CheckoutSession) error {
	if session.Subscription == nil {
		return fmt.Errorf("webhook: trial checkout %s has no subscription", session.ID)
	}
	sub, err := h.stripe.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return fmt.Errorf("webhook: trial checkout get subscription: %w", err)
	}
	if sub.TrialEnd == 0 {
		return fmt.Errorf("webhook: trial checkout subscription %s has no trial_end", sub.ID)
	}
	return subscription.ActivateTrial(ctx, h.broker, h.store, h.credits, accountID, sub.ID, time.Unix(sub.TrialEnd, 0))
}

func (h *Handler) handleSubscriptionCheckout(ctx context.Context, accountID string, session *stripe.CheckoutSession) error {
	if session.Subscription == nil {
		return fmt.Errorf("webhook: subscription checkout %s has no subscription", session.ID)
	}
	sub, err := h.stripe.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return fmt.Errorf("webhook: subscription checkout get subscription: %w", err)
	}

	tier, ok := subscription.ByPriceID(priceIDOf(sub))
	if !ok {
		return fmt.Errorf("webhook: subscription checkout %s has unrecognized price %s", session.ID, priceIDOf(sub))
	}

	anchor := periodStart(sub)
	if err := h.store.SetSubscriptionLink(ctx, accountID, customerIDOf(sub), sub.ID, tier.Name, anchor); err != nil {
		return err
	}

	// Stripe fires invoice.payment_succeeded before checkout.session.completed,
	// so that handler may have run before this subscription's account link
	// existed. Deposit here too — InvoiceRenewalKey makes the retry a no-op.
	if sub.LatestInvoice != nil && sub.LatestInvoice.ID != "" {
		if _, err := h.credits.DepositSubscriptionInvoice(ctx, accountID, tier.MonthlyDeposit, periodEnd(sub), sub.LatestInvoice.ID); err != nil {
			logger.GetLogger(ctx).Warn("subscription checkout initial deposit failed, deferring to invoice webhook",
				zap.String("account_id", accountID), zap.Error(err))
		}
	}

	return nil
}

// handleSubscriptionUpdated runs the renewal-vs-upgrade vote chain and
// either grants upgrade credits or performs a metadata-only tier sync.
func (h *Handler) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := unmarshalEventData(event, &stripeSub); err != nil {
		return err
	}

	acc, err := h.store.AccountByStripeSubscription(ctx, stripeSub.ID)
	if err == store.ErrNotFound {
		logger.GetLogger(ctx).Info("subscription update for unknown account, skipping", zap.String("subscription_id", stripeSub.ID))
		return nil
	}
	if err != nil {
		return err
	}

	currentPeriodStart := periodStart(&stripeSub)

	toTier := acc.TierName
	if tier, ok := subscription.ByPriceID(priceIDOf(&stripeSub)); ok {
		toTier = tier.Name
	}

	fromTierInfo, _ := subscription.ByName(acc.TierName)
	toTierInfo, _ := subscription.ByName(toTier)

	decision := subscription.Classify(subscription.ClassifyInput{
		BillingReason:          h.recentInvoiceBillingReason(ctx, stripeSub.ID, currentPeriodStart),
		CurrentPeriodStart:     currentPeriodStart,
		LastRenewalPeriodStart: derefTime(acc.LastRenewalPeriodStart),
		LastGrantDate:          derefTime(acc.LastGrantDate),
		BillingAnchor:          derefTime(acc.BillingAnchor),
		FromTier:               acc.TierName,
		ToTier:                 toTier,
		FromTierMonthlyDeposit: fromTierInfo.MonthlyDeposit.Float64(),
		ToTierMonthlyDeposit:   toTierInfo.MonthlyDeposit.Float64(),
	})

	log := logger.GetLogger(ctx)
	log.Info("subscription update classified",
		zap.String("account_id", acc.AccountID), zap.String("kind", string(decision.Kind)), zap.String("reason", decision.Reason))

	if decision.Kind != subscription.KindUpgrade {
		return h.store.SetSubscriptionLink(ctx, acc.AccountID, customerIDOf(&stripeSub), stripeSub.ID, toTier, derefTime(acc.BillingAnchor))
	}

	tier, ok := subscription.ByName(toTier)
	if !ok {
		return fmt.Errorf("webhook: subscription update %s upgraded to unrecognized tier %s", stripeSub.ID, toTier)
	}

	return lock.WithLock(ctx, h.broker, lock.UpgradeGrantLock(acc.AccountID, currentPeriodStart.Unix()), grantLockTTL, func(ctx context.Context) error {
		if _, err := h.credits.GrantUpgrade(ctx, acc.AccountID, tier.MonthlyDeposit, periodEnd(&stripeSub), stripeSub.ID, currentPeriodStart.Unix(), string(tier.Name)); err != nil {
			return err
		}
		return h.store.SetSubscriptionLink(ctx, acc.AccountID, customerIDOf(&stripeSub), stripeSub.ID, tier.Name, currentPeriodStart)
	})
}

// recentInvoiceBillingReason searches the subscription's recent invoices for
// the one covering periodStart and returns its billing_reason, the
// strongest renewal-vs-upgrade signal. Returns "" if none match or the
// lookup fails — Classify falls through to its timing-based steps.
func (h *Handler) recentInvoiceBillingReason(ctx context.Context, subscriptionID string, periodStart time.Time) string {
	invoices, err := h.stripe.ListRecentInvoices(ctx, subscriptionID, 5)
	if err != nil {
		logger.GetLogger(ctx).Warn("recent invoice lookup failed, falling through to timing heuristics",
			zap.String("subscription_id", subscriptionID), zap.Error(err))
		return ""
	}
	for _, inv := range invoices {
		if time.Unix(inv.PeriodStart, 0).Equal(periodStart) {
			return string(inv.BillingReason)
		}
	}
	return ""
}

func (h *Handler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := unmarshalEventData(event, &stripeSub); err != nil {
		return err
	}

	acc, err := h.store.AccountByStripeSubscription(ctx, stripeSub.ID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := h.credits.Clawback(ctx, acc.AccountID, stripeSub.ID); err != nil {
		return err
	}

	if acc.TrialStatus == enum.TrialActive {
		if err := h.store.RecordTrialTransition(ctx, acc.AccountID, enum.TrialCancelled, stripeSub.ID); err != nil {
			return err
		}
	}

	return h.store.ClearSubscriptionLink(ctx, acc.AccountID)
}

func (h *Handler) handleInvoicePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := unmarshalEventData(event, &invoice); err != nil {
		return err
	}

	if invoice.Parent == nil || invoice.Parent.SubscriptionDetails == nil || invoice.Parent.SubscriptionDetails.Subscription == nil {
		return nil
	}

	// billing_reason is the single source of truth for whether an invoice
	// represents a renewal deposit: subscription_cycle and subscription_create
	// deposit credits, subscription_update (proration) and manual invoices do
	// not — letting a proration invoice through here would let a user collect
	// a full tier grant on every upgrade/downgrade.
	switch invoice.BillingReason {
	case stripe.InvoiceBillingReasonSubscriptionCycle, stripe.InvoiceBillingReasonSubscriptionCreate:
	default:
		logger.GetLogger(ctx).Info("invoice deposit skipped", zap.String("invoice_id", invoice.ID), zap.String("billing_reason", string(invoice.BillingReason)))
		return nil
	}

	subscriptionID := invoice.Parent.SubscriptionDetails.Subscription.ID
	acc, err := h.store.AccountByStripeSubscription(ctx, subscriptionID)
	if err == store.ErrNotFound {
		logger.GetLogger(ctx).Info("invoice deposit for unknown account, skipping", zap.String("subscription_id", subscriptionID))
		return nil
	}
	if err != nil {
		return err
	}

	tier, ok := subscription.ByName(acc.TierName)
	if !ok {
		return fmt.Errorf("webhook: account %s has unrecognized tier %s", acc.AccountID, acc.TierName)
	}

	periodStart := time.Unix(invoice.PeriodStart, 0)
	expiresAt := time.Unix(invoice.PeriodEnd, 0)

	return lock.WithLock(ctx, h.broker, lock.RenewalGrantLock(acc.AccountID), grantLockTTL, func(ctx context.Context) error {
		_, err := h.credits.GrantRenewal(ctx, acc.AccountID, tier.MonthlyDeposit, expiresAt, periodStart, invoice.ID)
		return err
	})
}

func (h *Handler) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := unmarshalEventData(event, &invoice); err != nil {
		return err
	}
	customerID := ""
	if invoice.Customer != nil {
		customerID = invoice.Customer.ID
	}
	logger.GetLogger(ctx).Warn("invoice payment failed",
		zap.String("invoice_id", invoice.ID), zap.String("customer_id", customerID), zap.Int64("amount_due", invoice.AmountDue))
	return nil
}

// handleRefund claws back credits corresponding to a refunded charge. This
// is new relative to the teacher, which has no refund handler; Stripe
// attributes the refund to an account only through metadata set when the
// original charge's checkout session or payment intent was created.
func (h *Handler) handleRefund(ctx context.Context, event stripe.Event) error {
	if event.Type != "charge.refunded" {
		logger.GetLogger(ctx).Info("refund event type not handled directly, awaiting charge.refunded", zap.String("type", string(event.Type)))
		return nil
	}

	var charge stripe.Charge
	if err := unmarshalEventData(event, &charge); err != nil {
		return err
	}

	accountID := charge.Metadata["account_id"]
	if accountID == "" && charge.PaymentIntent != nil {
		accountID = charge.PaymentIntent.Metadata["account_id"]
	}
	if accountID == "" {
		logger.GetLogger(ctx).Warn("refunded charge has no account_id metadata, cannot attribute clawback", zap.String("charge_id", charge.ID))
		return nil
	}

	amount := money.NewFromCents(charge.AmountRefunded)
	if amount.IsZero() {
		return nil
	}

	_, err := h.credits.Refund(ctx, accountID, amount, charge.ID)
	return err
}

func periodStart(sub *stripe.Subscription) time.Time {
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		return time.Unix(sub.Items.Data[0].CurrentPeriodStart, 0)
	}
	return time.Unix(sub.StartDate, 0)
}

func periodEnd(sub *stripe.Subscription) time.Time {
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		return time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
	}
	return time.Unix(sub.StartDate, 0).Add(30 * 24 * time.Hour)
}

func priceIDOf(sub *stripe.Subscription) string {
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

func customerIDOf(sub *stripe.Subscription) string {
	if sub.Customer != nil {
		return sub.Customer.ID
	}
	return ""
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
