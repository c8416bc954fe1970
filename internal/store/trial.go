package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/volaticloud/agentcore/internal/enum"
)

// TrialHistoryEntry is a row of trial_history, an append record of every
// trial state transition for an account.
type TrialHistoryEntry struct {
	ID                   string
	AccountID            string
	Status               enum.TrialStatus
	StripeSubscriptionID *string
	StartedAt            time.Time
	EndedAt              *time.Time
	CreatedAt            time.Time
}

// LatestTrialHistory returns the most recent trial_history row for an
// account, or ErrNotFound if the account has never started a trial.
func (s *Store) LatestTrialHistory(ctx context.Context, accountID string) (*TrialHistoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, status, stripe_subscription_id, started_at, ended_at, created_at
		 FROM trial_history WHERE account_id = $1 ORDER BY created_at DESC LIMIT 1`,
		accountID)

	var e TrialHistoryEntry
	var status string
	if err := row.Scan(&e.ID, &e.AccountID, &status, &e.StripeSubscriptionID, &e.StartedAt, &e.EndedAt, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: latest trial history for %s: %w", accountID, err)
	}
	e.Status = enum.TrialStatus(status)
	return &e, nil
}

// RecordTrialTransition inserts a trial_history row and updates the
// account's trial_status in the same transaction.
func (s *Store) RecordTrialTransition(ctx context.Context, accountID string, status enum.TrialStatus, stripeSubID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trial_history (account_id, status, stripe_subscription_id) VALUES ($1, $2, NULLIF($3, ''))`,
			accountID, string(status), stripeSubID)
		if err != nil {
			return fmt.Errorf("store: record trial transition for %s: %w", accountID, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE credit_accounts SET trial_status = $1, updated_at = now() WHERE account_id = $2`,
			string(status), accountID)
		if err != nil {
			return fmt.Errorf("store: update account trial_status for %s: %w", accountID, err)
		}
		return nil
	})
}

// SetSubscriptionLink associates an account with a Stripe customer and
// subscription, and records the billing anchor used by renewal arithmetic.
func (s *Store) SetSubscriptionLink(ctx context.Context, accountID, customerID, subscriptionID string, tier enum.TierName, billingAnchor time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credit_accounts
		 SET stripe_customer_id = NULLIF($1, ''), stripe_subscription_id = NULLIF($2, ''),
		     tier_name = $3, billing_anchor = $4, updated_at = now()
		 WHERE account_id = $5`,
		customerID, subscriptionID, string(tier), billingAnchor, accountID)
	if err != nil {
		return fmt.Errorf("store: set subscription link for %s: %w", accountID, err)
	}
	return nil
}

// ClearSubscriptionLink unlinks a cancelled or deleted Stripe subscription,
// resetting the account to the free tier with no billing anchor. The
// Stripe customer ID is left intact — a cancelled account can resubscribe
// under the same customer.
func (s *Store) ClearSubscriptionLink(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credit_accounts
		 SET stripe_subscription_id = NULL, tier_name = $1, billing_anchor = NULL,
		     last_renewal_period_start = NULL, updated_at = now()
		 WHERE account_id = $2`,
		string(enum.TierFree), accountID)
	if err != nil {
		return fmt.Errorf("store: clear subscription link for %s: %w", accountID, err)
	}
	return nil
}

// AccountByStripeSubscription looks up the account owning a Stripe subscription ID.
func (s *Store) AccountByStripeSubscription(ctx context.Context, subscriptionID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE stripe_subscription_id = $1`, subscriptionID)
	acc, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: account by stripe subscription %s: %w", subscriptionID, err)
	}
	return acc, nil
}
