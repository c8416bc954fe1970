package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v82"
)

func TestDeduct_HappyPath(t *testing.T) {
	deps, mock := testDeps(t)
	h := &handlers{Deps: deps}

	mock.ExpectQuery(`SELECT atomic_use_credits`).
		WithArgs("acct-1", "1.50", "tokens", "ref-1").
		WillReturnRows(sqlmock.NewRows([]string{"atomic_use_credits"}).AddRow("3.50"))

	req := newHandlerRequest(http.MethodPost, "/billing/deduct", "acct-1",
		`{"amount":"1.50","description":"tokens","reference_id":"ref-1"}`)
	w := httptest.NewRecorder()

	h.deduct(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "3.50")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeduct_InsufficientCreditsMapsTo402(t *testing.T) {
	deps, mock := testDeps(t)
	h := &handlers{Deps: deps}

	mock.ExpectQuery(`SELECT atomic_use_credits`).
		WillReturnError(insufficientCreditsErr{})

	req := newHandlerRequest(http.MethodPost, "/billing/deduct", "acct-1",
		`{"amount":"100.00"}`)
	w := httptest.NewRecorder()

	h.deduct(w, req)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

// insufficientCreditsErr mimics the Postgres error text
// isInsufficientCreditsError matches on, without importing the store
// package's unexported matcher.
type insufficientCreditsErr struct{}

func (insufficientCreditsErr) Error() string { return "insufficient_credits available" }

func TestBalance_HappyPath(t *testing.T) {
	deps, mock := testDeps(t)
	h := &handlers{Deps: deps}

	mock.ExpectQuery(`SELECT `).
		WithArgs("acct-1").
		WillReturnRows(accountRow("acct-1", "10.00", "starter"))

	req := newHandlerRequest(http.MethodGet, "/billing/balance", "acct-1", ``)
	w := httptest.NewRecorder()

	h.balance(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tier":"starter"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlans_ListsConfiguredTiers(t *testing.T) {
	deps, _ := testDeps(t)
	h := &handlers{Deps: deps}

	req := newHandlerRequest(http.MethodGet, "/billing/plans", "acct-1", ``)
	w := httptest.NewRecorder()

	h.plans(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name"`)
}

func TestTrialStart_HappyPath(t *testing.T) {
	deps, mock := testDeps(t)
	fakeStripe := deps.Stripe.(*fakeStripeAPI)
	fakeStripe.createCustomerFn = func(ctx context.Context, accountID, email string) (*stripe.Customer, error) {
		return &stripe.Customer{ID: "cus_123"}, nil
	}
	// checkoutFn (the non-trial subscription_checkout constructor) is left
	// unmocked so the test fails loudly if trialStart ever regresses to
	// calling it instead of CreateTrialCheckoutSession: the webhook can only
	// route a completed checkout into the trial-activation path when it was
	// actually created with the trial_checkout metadata type that
	// CreateTrialCheckoutSession (and only it) sets.
	fakeStripe.trialCheckoutFn = func(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
		return &stripe.CheckoutSession{URL: "https://checkout.stripe.com/session"}, nil
	}
	h := &handlers{Deps: deps}

	// subscription.TrialStatus's GetAccount lookup: no history, eligible.
	mock.ExpectQuery(`SELECT `).WithArgs("acct-1").WillReturnRows(sqlmock.NewRows([]string{
		"account_id", "balance", "expiring_credits", "non_expiring_credits",
		"expiring_credits_expire_at", "suspended", "suspended_at", "tier_name", "stripe_customer_id",
		"stripe_subscription_id", "billing_anchor", "last_renewal_period_start", "last_grant_date",
		"trial_status", "created_at", "updated_at",
	}))
	// credit.Manager.GetBalance's first lookup misses, so it provisions the
	// account and re-reads it.
	mock.ExpectQuery(`SELECT `).WithArgs("acct-1").WillReturnRows(sqlmock.NewRows([]string{
		"account_id", "balance", "expiring_credits", "non_expiring_credits",
		"expiring_credits_expire_at", "suspended", "suspended_at", "tier_name", "stripe_customer_id",
		"stripe_subscription_id", "billing_anchor", "last_renewal_period_start", "last_grant_date",
		"trial_status", "created_at", "updated_at",
	}))
	mock.ExpectExec(`INSERT INTO credit_accounts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT `).WithArgs("acct-1").WillReturnRows(accountRow("acct-1", "0.00", "free"))

	req := newHandlerRequest(http.MethodPost, "/billing/trial/start", "acct-1",
		`{"success_url":"https://x/ok","cancel_url":"https://x/cancel","email":"a@b.com"}`)
	w := httptest.NewRecorder()

	h.trialStart(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "checkout.stripe.com")
	assert.NoError(t, mock.ExpectationsWereMet())
}
