package enum

// CreditLedgerType classifies a row in the credit ledger.
type CreditLedgerType string

const (
	LedgerTierGrant  CreditLedgerType = "tier_grant"
	LedgerPurchase   CreditLedgerType = "purchase"
	LedgerUsage      CreditLedgerType = "usage"
	LedgerRefund     CreditLedgerType = "refund"
	LedgerAdjustment CreditLedgerType = "adjustment"
	LedgerExpired    CreditLedgerType = "expired"
)

// Values returns all possible credit ledger entry types.
func (CreditLedgerType) Values() []string {
	return []string{
		string(LedgerTierGrant),
		string(LedgerPurchase),
		string(LedgerUsage),
		string(LedgerRefund),
		string(LedgerAdjustment),
		string(LedgerExpired),
	}
}

// TrialStatus is the lifecycle state of an account's trial.
type TrialStatus string

const (
	TrialNone            TrialStatus = "none"
	TrialCheckoutPending TrialStatus = "checkout_pending"
	TrialCheckoutCreated TrialStatus = "checkout_created"
	TrialCheckoutFailed  TrialStatus = "checkout_failed"
	TrialActive          TrialStatus = "active"
	TrialConverted       TrialStatus = "converted"
	TrialCancelled       TrialStatus = "cancelled"
	TrialExpired         TrialStatus = "expired"
)

// Values returns all possible trial status values.
func (TrialStatus) Values() []string {
	return []string{
		string(TrialNone),
		string(TrialCheckoutPending),
		string(TrialCheckoutCreated),
		string(TrialCheckoutFailed),
		string(TrialActive),
		string(TrialConverted),
		string(TrialCancelled),
		string(TrialExpired),
	}
}

// Retryable reports whether a new trial checkout may be attempted from this status.
func (s TrialStatus) Retryable() bool {
	switch s {
	case TrialNone, TrialCheckoutPending, TrialCheckoutCreated, TrialCheckoutFailed:
		return true
	default:
		return false
	}
}

// WebhookState is the idempotency-guard state of a webhook event.
type WebhookState string

const (
	WebhookProcessing WebhookState = "processing"
	WebhookCompleted  WebhookState = "completed"
	WebhookFailed     WebhookState = "failed"
)

// Values returns all possible webhook processing states.
func (WebhookState) Values() []string {
	return []string{
		string(WebhookProcessing),
		string(WebhookCompleted),
		string(WebhookFailed),
	}
}

// CircuitState is a circuit breaker's current posture toward the wrapped call.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Values returns all possible circuit breaker states.
func (CircuitState) Values() []string {
	return []string{
		string(CircuitClosed),
		string(CircuitOpen),
		string(CircuitHalfOpen),
	}
}

// TierName identifies a subscription tier in the static price-to-tier table.
type TierName string

const (
	TierFree       TierName = "free"
	TierStarter    TierName = "starter"
	TierPro        TierName = "pro"
	TierEnterprise TierName = "enterprise"
)

// Values returns all possible tier names.
func (TierName) Values() []string {
	return []string{
		string(TierFree),
		string(TierStarter),
		string(TierPro),
		string(TierEnterprise),
	}
}
