package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/volaticloud/agentcore/internal/auth"
	"github.com/volaticloud/agentcore/internal/credit"
	"github.com/volaticloud/agentcore/internal/runs"
	"github.com/volaticloud/agentcore/internal/store"
	"github.com/volaticloud/agentcore/internal/stream"
	"github.com/volaticloud/agentcore/internal/webhook"
)

// memBroker is a minimal in-process broker.Broker fake, mirroring the one in
// internal/runs and internal/webhook's test files.
type memBroker struct {
	vals map[string]string
}

func newMemBroker() *memBroker { return &memBroker{vals: map[string]string{}} }

func (b *memBroker) AppendResponse(ctx context.Context, runID string, envelope []byte) error {
	return errors.New("not implemented")
}
func (b *memBroker) ReadResponses(ctx context.Context, runID string, from int64) ([][]byte, error) {
	return nil, nil
}
func (b *memBroker) DeleteResponses(ctx context.Context, runID string) error { return nil }
func (b *memBroker) Publish(ctx context.Context, topic string, payload string) error {
	return nil
}
func (b *memBroker) Subscribe(ctx context.Context, topics ...string) (<-chan string, func(), error) {
	return nil, nil, errors.New("not implemented")
}
func (b *memBroker) SetIfAbsent(ctx context.Context, key, value string, ttlSeconds int64) (bool, error) {
	if _, ok := b.vals[key]; ok {
		return false, nil
	}
	b.vals[key] = value
	return true, nil
}
func (b *memBroker) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if b.vals[key] != expected {
		return false, nil
	}
	delete(b.vals, key)
	return true, nil
}
func (b *memBroker) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := b.vals[key]
	return v, ok, nil
}
func (b *memBroker) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}
func (b *memBroker) Close() error { return nil }

// fakeWorker stands in for the work bus, returning err from every Enqueue
// and discarding the payload.
type fakeWorker struct {
	err error
}

func (w *fakeWorker) Enqueue(ctx context.Context, payload runs.WorkPayload) error {
	return w.err
}

// fakeStripeAPI implements stripeapi.API with per-test overrides, mirroring
// internal/webhook's test fake.
type fakeStripeAPI struct {
	createCustomerFn func(ctx context.Context, accountID, email string) (*stripe.Customer, error)
	checkoutFn       func(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error)
	trialCheckoutFn  func(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error)
}

func (f *fakeStripeAPI) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return nil, errors.New("GetSubscription not mocked")
}
func (f *fakeStripeAPI) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return nil, errors.New("CancelSubscription not mocked")
}
func (f *fakeStripeAPI) CreateCustomer(ctx context.Context, accountID, email string) (*stripe.Customer, error) {
	if f.createCustomerFn != nil {
		return f.createCustomerFn(ctx, accountID, email)
	}
	return nil, errors.New("CreateCustomer not mocked")
}
func (f *fakeStripeAPI) CreateSubscriptionCheckoutSession(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	if f.checkoutFn != nil {
		return f.checkoutFn(ctx, customerID, priceID, accountID, successURL, cancelURL)
	}
	return nil, errors.New("CreateSubscriptionCheckoutSession not mocked")
}
func (f *fakeStripeAPI) CreateTrialCheckoutSession(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	if f.trialCheckoutFn != nil {
		return f.trialCheckoutFn(ctx, customerID, priceID, accountID, successURL, cancelURL)
	}
	return nil, errors.New("CreateTrialCheckoutSession not mocked")
}
func (f *fakeStripeAPI) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error) {
	return nil, errors.New("UpdateSubscriptionPrice not mocked")
}
func (f *fakeStripeAPI) ListRecentInvoices(ctx context.Context, subscriptionID string, limit int64) ([]*stripe.Invoice, error) {
	return nil, nil
}

// testDeps wires real services against a shared sqlmock DB, the way a
// production Deps would, but with every external collaborator faked.
func testDeps(t *testing.T) (Deps, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	cm := credit.New(s)
	w := &fakeWorker{}
	svc := runs.New(s, cm, newMemBroker(), w, "instance-1", 0, 0)
	sh := stream.New(s, newMemBroker())
	wh := webhook.New(s, cm, &fakeStripeAPI{}, newMemBroker(), "whsec_test")

	return Deps{
		Store:   s,
		Credits: cm,
		Runs:    svc,
		Stream:  sh,
		Webhook: wh,
		Stripe:  &fakeStripeAPI{},
		Auth:    nil,
	}, mock
}

func withUser(ctx context.Context, accountID string) context.Context {
	return auth.SetUserContext(ctx, &auth.UserContext{UserID: "user-1", AccountID: accountID})
}

func accountRow(accountID, balance, tier string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"account_id", "balance", "expiring_credits", "non_expiring_credits",
		"expiring_credits_expire_at", "suspended", "suspended_at", "tier_name", "stripe_customer_id",
		"stripe_subscription_id", "billing_anchor", "last_renewal_period_start", "last_grant_date",
		"trial_status", "created_at", "updated_at",
	}).AddRow(accountID, balance, "0", balance, nil, false, nil, tier, nil, nil, nil, nil, nil,
		"none", time.Now(), time.Now())
}
