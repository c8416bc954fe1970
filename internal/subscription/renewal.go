package subscription

import (
	"time"

	"github.com/volaticloud/agentcore/internal/enum"
)

// EventKind is the outcome of classifying a subscription-updated or
// invoice-paid event: whether it represents a renewal grant, an upgrade
// grant, or no grant at all.
type EventKind string

const (
	KindRenewal EventKind = "renewal"
	KindUpgrade EventKind = "upgrade"
	KindNoGrant EventKind = "no_grant"
)

// Decision is the result of classification, carrying the reason for audit
// logging — each classification is a vote with a name, not an opaque bool.
type Decision struct {
	Kind   EventKind
	Reason string
}

// ClassifyInput is everything the classifier needs about the account and
// the incoming Stripe event. Fields are optional/zero where the
// corresponding signal wasn't available on this event.
type ClassifyInput struct {
	AlreadyProcessed bool // guard: this invoice/period already produced a grant

	BillingReason string // Stripe invoice.billing_reason, if this came from an invoice event

	CurrentPeriodStart time.Time
	PreviousPeriodStart time.Time // previous_attributes.current_period_start, zero if unset

	LastRenewalPeriodStart time.Time // account.last_renewal_period_start, zero if never set
	LastGrantDate          time.Time // account.last_grant_date, zero if never granted
	BillingAnchor          time.Time

	FromTier enum.TierName
	ToTier   enum.TierName

	FromTierMonthlyDeposit float64
	ToTierMonthlyDeposit   float64

	IsResubscribeNewSubscriptionID bool
}

// Classify walks the renewal-vs-upgrade vote chain. Each step either
// decides the outcome outright or falls through to the next, mirroring the
// original system's ordered heuristics: invoice billing_reason is the
// strongest signal, then timing windows around the period boundary, then
// bookkeeping stamps left by a prior grant, and finally a tier comparison
// as the last resort.
func Classify(in ClassifyInput) Decision {
	// Step 1: guard — this invoice/period already produced a grant.
	if in.AlreadyProcessed {
		return Decision{Kind: KindNoGrant, Reason: "guard: already processed for this period"}
	}

	// Step 2: invoice billing_reason is authoritative when present.
	// subscription_update billing_reason is a mid-cycle proration invoice —
	// those are upgrades even when nothing else would suggest it.
	switch in.BillingReason {
	case "subscription_update":
		return Decision{Kind: KindUpgrade, Reason: "invoice billing_reason=subscription_update"}
	case "subscription_cycle", "subscription_create":
		return Decision{Kind: KindRenewal, Reason: "invoice billing_reason=" + in.BillingReason}
	}

	// Step 3: 30-minute window since the new period started. Tier changes
	// normally fire at the moment Stripe starts a new period only when the
	// subscription is actually renewing — assume renewal if we're close
	// enough to the period boundary and nothing above overrode it.
	if !in.CurrentPeriodStart.IsZero() {
		since := time.Since(in.CurrentPeriodStart)
		if since >= 0 && since <= 30*time.Minute {
			return Decision{Kind: KindRenewal, Reason: "within 30 minutes of new period start"}
		}
	}

	// Step 4: previous_attributes.current_period_start changed — Stripe
	// only includes this when the period boundary itself moved, which
	// normally means a renewal. The exception: if the tier also moved
	// upward, Stripe can reset the period as part of the upgrade proration,
	// so an upward tier change wins over the period-start signal.
	if !in.PreviousPeriodStart.IsZero() && !in.PreviousPeriodStart.Equal(in.CurrentPeriodStart) {
		if IsUpward(in.FromTier, in.ToTier) {
			return Decision{Kind: KindUpgrade, Reason: "period start changed but tier moved upward"}
		}
		return Decision{Kind: KindRenewal, Reason: "previous_attributes.current_period_start changed"}
	}

	// Step 5: last_renewal_period_start already stamped equal to the
	// current period — this period was already granted as a renewal by an
	// earlier event, so any further credit-affecting event for it is not
	// itself a fresh renewal.
	if !in.LastRenewalPeriodStart.IsZero() && in.LastRenewalPeriodStart.Equal(in.CurrentPeriodStart) {
		return Decision{Kind: KindNoGrant, Reason: "last_renewal_period_start already stamped for this period"}
	}

	// Step 6: a grant was recorded within 60 seconds of the billing anchor —
	// that's the renewal grant firing right on schedule; treat this event
	// as the trailing edge of that same renewal, not a new grant.
	if !in.LastGrantDate.IsZero() && !in.BillingAnchor.IsZero() {
		if absDuration(in.LastGrantDate.Sub(in.BillingAnchor)) <= 60*time.Second {
			return Decision{Kind: KindNoGrant, Reason: "grant already recorded within 60s of billing anchor"}
		}
	}

	// Step 7: a grant was recorded within the last 15 minutes for the same
	// tier — treat as a duplicate delivery of the same event rather than a
	// new upgrade.
	if !in.LastGrantDate.IsZero() && in.FromTier == in.ToTier {
		if time.Since(in.LastGrantDate) <= 15*time.Minute {
			return Decision{Kind: KindNoGrant, Reason: "grant already recorded within 15 minutes for the same tier"}
		}
	}

	// Step 8: fall through to a tier comparison — the last resort when no
	// timing signal decided it. Grant only when the new tier is genuinely
	// better off than the old one, or the account resubscribed under a new
	// subscription ID after having cancelled.
	return classifyByTierComparison(in)
}

func classifyByTierComparison(in ClassifyInput) Decision {
	switch {
	case in.FromTier == enum.TierFree && in.ToTier != enum.TierFree:
		return Decision{Kind: KindUpgrade, Reason: "free to paid tier"}
	case in.ToTierMonthlyDeposit > in.FromTierMonthlyDeposit:
		return Decision{Kind: KindUpgrade, Reason: "tier monthly deposit increased"}
	case in.FromTier == in.ToTier && in.IsResubscribeNewSubscriptionID:
		return Decision{Kind: KindUpgrade, Reason: "resubscribed to the same tier under a new subscription"}
	case in.FromTier == in.ToTier:
		return Decision{Kind: KindNoGrant, Reason: "same tier, same deposit, no new subscription"}
	default:
		return Decision{Kind: KindNoGrant, Reason: "no signal indicated a credit-worthy change"}
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
