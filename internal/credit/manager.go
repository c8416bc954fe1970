// Package credit is the credit manager: the sole path through which
// balances change, wrapping the store's atomic stored-procedure calls with
// idempotency-key derivation the way the original credit_manager.py and
// idempotency.py paired a Python service layer with Postgres RPCs.
package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/volaticloud/agentcore/internal/enum"
	"github.com/volaticloud/agentcore/internal/money"
	"github.com/volaticloud/agentcore/internal/store"
)

// Manager is the credit mutation surface the webhook processor and
// subscription orchestrator call into; it never lets a caller touch
// credit_accounts.balance directly.
type Manager struct {
	store *store.Store
}

// New builds a Manager over a Store.
func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// GetBalance returns the account's current balance, creating a zero-balance
// row first if the account has never been seen.
func (m *Manager) GetBalance(ctx context.Context, accountID string) (*store.Account, error) {
	acc, err := m.store.GetAccount(ctx, accountID)
	if err == store.ErrNotFound {
		if ensureErr := m.store.EnsureAccount(ctx, accountID); ensureErr != nil {
			return nil, ensureErr
		}
		return m.store.GetAccount(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// DepositCheckout grants non-expiring credits for a completed one-off
// manual-deposit checkout session.
func (m *Manager) DepositCheckout(ctx context.Context, accountID string, amount money.Amount, sessionID string) (money.Amount, error) {
	if err := m.store.EnsureAccount(ctx, accountID); err != nil {
		return money.Zero, err
	}
	return m.store.AddCredits(ctx, accountID, amount, false, nil, enum.LedgerPurchase,
		"manual credit deposit", CheckoutKey(accountID, sessionID))
}

// DepositSubscriptionInvoice grants expiring credits for a renewal or
// initial subscription invoice, keyed by the invoice ID so a webhook retry
// never double-deposits.
func (m *Manager) DepositSubscriptionInvoice(ctx context.Context, accountID string, amount money.Amount, expiresAt time.Time, invoiceID string) (money.Amount, error) {
	if err := m.store.EnsureAccount(ctx, accountID); err != nil {
		return money.Zero, err
	}
	return m.store.AddCredits(ctx, accountID, amount, true, &expiresAt, enum.LedgerTierGrant,
		"subscription invoice deposit", InvoiceRenewalKey(accountID, invoiceID))
}

// GrantRenewal resets the expiring bucket to the tier's monthly allotment
// and stamps last_renewal_period_start for the renewal-vs-upgrade heuristics.
func (m *Manager) GrantRenewal(ctx context.Context, accountID string, amount money.Amount, expiresAt, periodStart time.Time, invoiceID string) (money.Amount, error) {
	return m.store.GrantRenewalCredits(ctx, accountID, amount, expiresAt, periodStart,
		"subscription renewal grant", InvoiceRenewalKey(accountID, invoiceID))
}

// GrantUpgrade grants expiring credits for a mid-cycle tier upgrade,
// scoped to the caller already holding lock.UpgradeGrantLock. It stamps
// last_grant_date so the renewal-vs-upgrade heuristics can recognize a
// duplicate delivery, but deliberately leaves last_renewal_period_start
// untouched — that stamp belongs to the invoice renewal path only.
func (m *Manager) GrantUpgrade(ctx context.Context, accountID string, amount money.Amount, expiresAt time.Time, subscriptionID string, billingAnchorUnix int64, tierName string) (money.Amount, error) {
	balance, err := m.store.AddCredits(ctx, accountID, amount, true, &expiresAt, enum.LedgerTierGrant,
		fmt.Sprintf("tier upgrade to %s", tierName),
		SubscriptionModifyKey(accountID, subscriptionID, billingAnchorUnix))
	if err != nil {
		return money.Zero, err
	}
	if err := m.store.SetLastGrantDate(ctx, accountID, time.Now().UTC()); err != nil {
		return balance, err
	}
	return balance, nil
}

// ActivateTrial grants the trial credit allotment, expiring at trialEnd.
func (m *Manager) ActivateTrial(ctx context.Context, accountID string, amount money.Amount, trialEnd time.Time, subscriptionID string) (money.Amount, error) {
	if err := m.store.EnsureAccount(ctx, accountID); err != nil {
		return money.Zero, err
	}
	return m.store.AddCredits(ctx, accountID, amount, true, &trialEnd, enum.LedgerTierGrant,
		"trial activation", TrialActivationKey(accountID, subscriptionID))
}

// Use debits usage credits, refusing (ErrInsufficientCredits) rather than
// partially deducting when the balance can't cover amount.
func (m *Manager) Use(ctx context.Context, accountID string, amount money.Amount, description, referenceID string) (money.Amount, error) {
	return m.store.UseCredits(ctx, accountID, amount, description, referenceID)
}

// Refund reverses a charge by deducting the refunded amount from the
// account's non-expiring credits, keyed by the Stripe charge ID.
func (m *Manager) Refund(ctx context.Context, accountID string, amount money.Amount, chargeID string) (money.Amount, error) {
	return m.store.AddCredits(ctx, accountID, amount.Neg(), false, nil, enum.LedgerRefund,
		"refund", RefundKey(accountID, chargeID))
}

// Clawback zeroes an account's balance and both credit buckets on
// subscription cancellation, recording the adjustment that brought it to
// zero. It is a no-op if the account is already at zero.
func (m *Manager) Clawback(ctx context.Context, accountID, subscriptionID string) (money.Amount, error) {
	return m.store.ClawbackAccount(ctx, accountID,
		"trial/subscription cancellation clawback", SubscriptionCancelKey(accountID, subscriptionID))
}
