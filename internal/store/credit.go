package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/volaticloud/agentcore/internal/enum"
	"github.com/volaticloud/agentcore/internal/money"
)

// Account is a row of credit_accounts: the per-tenant balance and
// subscription/trial state the credit manager and subscription orchestrator
// read and mutate.
type Account struct {
	ID                      string
	AccountID               string
	Balance                 money.Amount
	ExpiringCredits         money.Amount
	NonExpiringCredits      money.Amount
	ExpiringCreditsExpireAt *time.Time
	Suspended               bool
	SuspendedAt             *time.Time
	TierName                enum.TierName
	StripeCustomerID        *string
	StripeSubscriptionID    *string
	BillingAnchor           *time.Time
	LastRenewalPeriodStart  *time.Time
	LastGrantDate           *time.Time
	TrialStatus             enum.TrialStatus
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// LedgerEntry is an append-only row of credit_ledger.
type LedgerEntry struct {
	ID           string
	AccountID    string
	Amount       money.Amount
	BalanceAfter money.Amount
	Type         enum.CreditLedgerType
	Description  string
	ReferenceID  *string
	CreatedAt    time.Time
}

const accountColumns = `account_id, balance, expiring_credits, non_expiring_credits,
	expiring_credits_expire_at, suspended, suspended_at, tier_name, stripe_customer_id,
	stripe_subscription_id, billing_anchor, last_renewal_period_start, last_grant_date,
	trial_status, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var tier, trial string
	if err := row.Scan(
		&a.AccountID, &a.Balance, &a.ExpiringCredits, &a.NonExpiringCredits,
		&a.ExpiringCreditsExpireAt, &a.Suspended, &a.SuspendedAt, &tier, &a.StripeCustomerID,
		&a.StripeSubscriptionID, &a.BillingAnchor, &a.LastRenewalPeriodStart, &a.LastGrantDate,
		&trial, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.TierName = enum.TierName(tier)
	a.TrialStatus = enum.TrialStatus(trial)
	return &a, nil
}

// GetAccount fetches an account by its external account ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE account_id = $1`, accountID)
	acc, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get account %s: %w", accountID, err)
	}
	return acc, nil
}

// EnsureAccount creates a zero-balance account row if one doesn't exist.
func (s *Store) EnsureAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (account_id) VALUES ($1) ON CONFLICT (account_id) DO NOTHING`,
		accountID)
	if err != nil {
		return fmt.Errorf("store: ensure account %s: %w", accountID, err)
	}
	return nil
}

// SetLastGrantDate stamps last_grant_date, the timestamp the renewal-vs-
// upgrade heuristics read to detect a duplicate grant delivered within the
// guard window. Unlike GrantRenewalCredits, an upgrade grant does not also
// stamp last_renewal_period_start — that stamp is reserved for the invoice
// renewal path.
func (s *Store) SetLastGrantDate(ctx context.Context, accountID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE credit_accounts SET last_grant_date = $1, updated_at = now() WHERE account_id = $2`,
		t, accountID)
	if err != nil {
		return fmt.Errorf("store: set last grant date for %s: %w", accountID, err)
	}
	return nil
}

// AddCredits calls atomic_add_credits, granting either expiring or
// non-expiring credits and unsuspending the account if it clears zero.
func (s *Store) AddCredits(ctx context.Context, accountID string, amount money.Amount, isExpiring bool, expiresAt *time.Time, ledgerType enum.CreditLedgerType, description, referenceID string) (money.Amount, error) {
	var newBalance money.Amount
	err := s.db.QueryRowContext(ctx,
		`SELECT atomic_add_credits($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		accountID, amount, isExpiring, expiresAt, string(ledgerType), description, referenceID,
	).Scan(&newBalance)
	if err != nil {
		return money.Zero, fmt.Errorf("store: add credits for %s: %w", accountID, err)
	}
	return newBalance, nil
}

// ClawbackAccount zeroes an account's balance and both credit buckets in a
// single transaction, recording the adjustment that reduced it — used when
// a trial or subscription is cancelled and any remaining grant must be
// revoked outright rather than drained bucket-by-bucket like ordinary usage.
func (s *Store) ClawbackAccount(ctx context.Context, accountID, description, referenceID string) (money.Amount, error) {
	var result money.Amount
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var balance money.Amount
		err := tx.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&balance)
		if err != nil {
			if err == sql.ErrNoRows {
				result = money.Zero
				return nil
			}
			return fmt.Errorf("store: clawback read %s: %w", accountID, err)
		}
		if balance.IsZero() {
			result = balance
			return nil
		}

		if referenceID != "" {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM credit_ledger WHERE reference_id = $1)`, referenceID).Scan(&exists); err != nil {
				return fmt.Errorf("store: clawback idempotency check %s: %w", accountID, err)
			}
			if exists {
				result = balance
				return nil
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE credit_accounts SET balance = 0, expiring_credits = 0, non_expiring_credits = 0, updated_at = now() WHERE account_id = $1`,
			accountID)
		if err != nil {
			return fmt.Errorf("store: clawback write %s: %w", accountID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO credit_ledger (account_id, amount, balance_after, type, description, reference_id) VALUES ($1, $2, 0, 'adjustment', $3, NULLIF($4, ''))`,
			accountID, balance.Neg(), description, referenceID)
		if err != nil {
			return fmt.Errorf("store: clawback ledger %s: %w", accountID, err)
		}

		result = money.Zero
		return nil
	})
	return result, err
}

// ErrInsufficientCredits is returned by UseCredits when the account's
// balance cannot cover the requested amount. atomic_use_credits refuses the
// deduction outright rather than allowing a negative balance.
var ErrInsufficientCredits = fmt.Errorf("store: insufficient credits")

// UseCredits calls atomic_use_credits, draining expiring credits before
// non-expiring ones, and refuses with ErrInsufficientCredits rather than
// partially deducting when the balance can't cover the amount.
func (s *Store) UseCredits(ctx context.Context, accountID string, amount money.Amount, description, referenceID string) (money.Amount, error) {
	var newBalance money.Amount
	err := s.db.QueryRowContext(ctx,
		`SELECT atomic_use_credits($1, $2, $3, NULLIF($4, ''))`,
		accountID, amount, description, referenceID,
	).Scan(&newBalance)
	if err != nil {
		if isInsufficientCreditsError(err) {
			return money.Zero, ErrInsufficientCredits
		}
		return money.Zero, fmt.Errorf("store: use credits for %s: %w", accountID, err)
	}
	return newBalance, nil
}

func isInsufficientCreditsError(err error) bool {
	type sqlState interface{ SQLState() string }
	if pe, ok := err.(sqlState); ok {
		return pe.SQLState() == "P0001"
	}
	// go-sqlmock and other drivers that don't implement SQLState: fall back
	// to matching the raised exception's message text.
	return strings.Contains(strings.ToLower(err.Error()), "insufficient_credits")
}

// ResetExpiringCredits calls atomic_reset_expiring_credits, forfeiting
// expiring credits whose expiry has passed.
func (s *Store) ResetExpiringCredits(ctx context.Context, accountID string) (money.Amount, error) {
	var newBalance money.Amount
	err := s.db.QueryRowContext(ctx, `SELECT atomic_reset_expiring_credits($1)`, accountID).Scan(&newBalance)
	if err != nil {
		return money.Zero, fmt.Errorf("store: reset expiring credits for %s: %w", accountID, err)
	}
	return newBalance, nil
}

// GrantRenewalCredits calls atomic_grant_renewal_credits, resetting the
// expiring bucket to the tier's monthly allotment and stamping
// last_renewal_period_start for the renewal-vs-upgrade heuristics.
func (s *Store) GrantRenewalCredits(ctx context.Context, accountID string, amount money.Amount, expiresAt, periodStart time.Time, description, referenceID string) (money.Amount, error) {
	var newBalance money.Amount
	err := s.db.QueryRowContext(ctx,
		`SELECT atomic_grant_renewal_credits($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		accountID, amount, expiresAt, periodStart, description, referenceID,
	).Scan(&newBalance)
	if err != nil {
		return money.Zero, fmt.Errorf("store: grant renewal credits for %s: %w", accountID, err)
	}
	return newBalance, nil
}

// LedgerSince returns ledger entries for an account created at or after
// since, oldest first. Used by balance-consistency reconciliation.
func (s *Store) LedgerSince(ctx context.Context, accountID string, since time.Time) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, amount, balance_after, type, description, reference_id, created_at
		 FROM credit_ledger WHERE account_id = $1 AND created_at >= $2 ORDER BY created_at ASC`,
		accountID, since)
	if err != nil {
		return nil, fmt.Errorf("store: ledger since for %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var t string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.BalanceAfter, &t, &e.Description, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan ledger entry: %w", err)
		}
		e.Type = enum.CreditLedgerType(t)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentLedgerEntries returns ledger entries across all accounts created at
// or after since, newest first. Used by double-charge detection, which scans
// for two entries on the same account with the same amount and description
// delivered within a short window of each other.
func (s *Store) RecentLedgerEntries(ctx context.Context, since time.Time) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, amount, balance_after, type, description, reference_id, created_at
		 FROM credit_ledger WHERE created_at >= $1 ORDER BY created_at DESC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("store: recent ledger entries: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var t string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.BalanceAfter, &t, &e.Description, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan ledger entry: %w", err)
		}
		e.Type = enum.CreditLedgerType(t)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AccountsWithExpiredCredits returns account IDs whose expiring_credits
// bucket has passed its expiry and still holds a positive balance.
func (s *Store) AccountsWithExpiredCredits(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id FROM credit_accounts
		 WHERE expiring_credits_expire_at IS NOT NULL AND expiring_credits_expire_at <= now() AND expiring_credits > 0`)
	if err != nil {
		return nil, fmt.Errorf("store: accounts with expired credits: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AccountsWithInconsistentBalance returns account IDs where
// expiring_credits + non_expiring_credits diverges from balance beyond the
// money package's epsilon, a sign of drift that reconciliation must repair.
func (s *Store) AccountsWithInconsistentBalance(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id FROM credit_accounts WHERE abs(balance - (expiring_credits + non_expiring_credits)) > 0.01`)
	if err != nil {
		return nil, fmt.Errorf("store: accounts with inconsistent balance: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RebalanceAccount repairs an account whose bucket totals have drifted from
// balance, draining from expiring credits first, then non-expiring, per the
// corruption-recovery policy: the buckets are truncated to fit balance, not
// the other way around, since balance is the value Stripe and usage
// deduction actually moved.
func (s *Store) RebalanceAccount(ctx context.Context, accountID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var balance, expiring, nonExpiring money.Amount
		err := tx.QueryRowContext(ctx,
			`SELECT balance, expiring_credits, non_expiring_credits FROM credit_accounts WHERE account_id = $1 FOR UPDATE`,
			accountID,
		).Scan(&balance, &expiring, &nonExpiring)
		if err != nil {
			return fmt.Errorf("store: rebalance read %s: %w", accountID, err)
		}

		total := expiring.Add(nonExpiring)
		if total.Equal(balance) {
			return nil
		}

		newExpiring := expiring
		newNonExpiring := nonExpiring
		if balance.LT(total) {
			// Drain expiring first.
			deficit := total.Sub(balance)
			if expiring.GTE(deficit) {
				newExpiring = expiring.Sub(deficit)
			} else {
				newExpiring = money.Zero
				remaining := deficit.Sub(expiring)
				newNonExpiring = nonExpiring.Sub(remaining)
				if newNonExpiring.IsNegative() {
					newNonExpiring = money.Zero
				}
			}
		} else {
			// Balance exceeds bucket totals: credit the surplus to non-expiring.
			newNonExpiring = nonExpiring.Add(balance.Sub(total))
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE credit_accounts SET expiring_credits = $1, non_expiring_credits = $2, updated_at = now() WHERE account_id = $3`,
			newExpiring, newNonExpiring, accountID)
		if err != nil {
			return fmt.Errorf("store: rebalance write %s: %w", accountID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO credit_ledger (account_id, amount, balance_after, type, description)
			 VALUES ($1, 0, $2, 'adjustment', 'automatic rebalance of expiring/non-expiring buckets')`,
			accountID, balance)
		return err
	})
}
