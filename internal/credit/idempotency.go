package credit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// idempotencyKeyLength is the truncated hex length the original system
// uses for its idempotency keys.
const idempotencyKeyLength = 40

// Key computes a deterministic idempotency key from an operation name,
// account ID, and the operation's distinguishing arguments. The original
// system buckets its equivalent key generator to the current hour, but that
// scheme exists there to collapse duplicate *requests* for an operation that
// has no unique identifier yet (e.g. a user double-clicking "buy" before a
// Stripe session exists). Every caller here instead passes an already-unique
// Stripe object ID (checkout session, invoice, charge, subscription) as one
// of args, so the key is deliberately time-independent: a webhook redelivery
// for the same Stripe object must produce the identical key no matter how
// long after the original delivery it arrives, not just within the same hour.
func Key(operation, accountID string, args ...string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", operation, accountID)
	for _, a := range args {
		fmt.Fprintf(h, "|%s", a)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return sum[:idempotencyKeyLength]
}

// CheckoutKey is the idempotency key for a completed checkout session deposit.
func CheckoutKey(accountID, sessionID string) string {
	return Key("checkout", accountID, sessionID)
}

// TrialActivationKey is the idempotency key for activating a trial grant.
func TrialActivationKey(accountID, subscriptionID string) string {
	return Key("trial_activation", accountID, subscriptionID)
}

// CreditPurchaseKey is the idempotency key for a one-off manual credit purchase.
func CreditPurchaseKey(accountID, sessionID string) string {
	return Key("credit_purchase", accountID, sessionID)
}

// SubscriptionModifyKey is the idempotency key for a tier-upgrade credit grant.
func SubscriptionModifyKey(accountID, subscriptionID string, billingAnchorUnix int64) string {
	return Key("subscription_modify", accountID, subscriptionID, fmt.Sprintf("%d", billingAnchorUnix))
}

// SubscriptionCancelKey is the idempotency key for the clawback ledger entry on cancellation.
func SubscriptionCancelKey(accountID, subscriptionID string) string {
	return Key("subscription_cancel", accountID, subscriptionID)
}

// RefundKey is the idempotency key for a refund-triggered credit reversal.
func RefundKey(accountID, chargeID string) string {
	return Key("refund", accountID, chargeID)
}

// InvoiceRenewalKey is the idempotency key for a renewal credit grant from a specific invoice.
func InvoiceRenewalKey(accountID, invoiceID string) string {
	return Key("invoice_renewal", accountID, invoiceID)
}
