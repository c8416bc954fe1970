// Package stripeapi wraps the Stripe SDK calls the webhook processor and
// subscription orchestrator need, circuit-breaker-guarded and retried with
// exponential backoff the way the original system's StripeAPIWrapper and
// safe_stripe_call wrapped every outbound Stripe call.
package stripeapi

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/volaticloud/agentcore/internal/circuitbreaker"
)

// TrialDurationDays is how long a trial subscription's free period lasts,
// mirroring the original system's TRIAL_DURATION_DAYS.
const TrialDurationDays = 14

// API is the subset of Stripe operations the webhook processor and
// subscription orchestrator call into.
type API interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	CreateCustomer(ctx context.Context, accountID, email string) (*stripe.Customer, error)
	CreateSubscriptionCheckoutSession(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error)
	CreateTrialCheckoutSession(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error)
	ListRecentInvoices(ctx context.Context, subscriptionID string, limit int64) ([]*stripe.Invoice, error)
}

// Client wraps the Stripe SDK behind a circuit breaker, with each call
// retried up to maxRetries times on rate-limit or connection errors.
type Client struct {
	breaker    *circuitbreaker.CircuitBreaker
	maxRetries uint64
}

// New builds a Client. breaker should be shared across the process (and,
// since it persists to etcd, across instances) so a string of failures
// trips it for every caller.
func New(breaker *circuitbreaker.CircuitBreaker) *Client {
	return &Client{breaker: breaker, maxRetries: 3}
}

var _ API = (*Client)(nil)

// call runs fn through the circuit breaker, retrying transient Stripe
// errors (rate limits, connection failures) with exponential backoff
// capped at 10 seconds per attempt, matching the original's
// min(2**attempt, 10) schedule. Other Stripe errors fail immediately.
func (c *Client) call(ctx context.Context, fn func() error) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(time.Second),
			backoff.WithMaxInterval(10*time.Second),
		), c.maxRetries)

		return backoff.Retry(func() error {
			err := fn()
			if err == nil {
				return nil
			}
			if isRetryableStripeError(err) {
				return err
			}
			return backoff.Permanent(err)
		}, backoff.WithContext(policy, ctx))
	})
}

func isRetryableStripeError(err error) bool {
	se, ok := err.(*stripe.Error)
	if !ok {
		return false
	}
	return se.Type == stripe.ErrorTypeRateLimit || se.Type == stripe.ErrorTypeAPIConnection
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	err := c.call(ctx, func() error {
		params := &stripe.SubscriptionParams{}
		params.AddExpand("items.data.price.product")
		s, err := subscription.Get(subscriptionID, params)
		sub = s
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: get subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	err := c.call(ctx, func() error {
		s, err := subscription.Cancel(subscriptionID, nil)
		sub = s
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: cancel subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

func (c *Client) CreateCustomer(ctx context.Context, accountID, email string) (*stripe.Customer, error) {
	var cust *stripe.Customer
	err := c.call(ctx, func() error {
		params := &stripe.CustomerParams{
			Email:    stripe.String(email),
			Metadata: map[string]string{"account_id": accountID},
		}
		cu, err := customer.New(params)
		cust = cu
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: create customer for %s: %w", accountID, err)
	}
	return cust, nil
}

func (c *Client) CreateSubscriptionCheckoutSession(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	var sess *stripe.CheckoutSession
	err := c.call(ctx, func() error {
		params := &stripe.CheckoutSessionParams{
			Customer: stripe.String(customerID),
			Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
			},
			SuccessURL: stripe.String(successURL),
			CancelURL:  stripe.String(cancelURL),
			Metadata:   map[string]string{"type": "subscription_checkout", "account_id": accountID},
		}
		s, err := session.New(params)
		sess = s
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: create subscription checkout session for %s: %w", accountID, err)
	}
	return sess, nil
}

// CreateTrialCheckoutSession creates a subscription checkout session that
// starts with a TrialDurationDays free trial instead of charging
// immediately, tagged "trial_checkout" so internal/webhook's
// handleCheckoutCompleted routes it to handleTrialCheckout instead of
// handleSubscriptionCheckout.
func (c *Client) CreateTrialCheckoutSession(ctx context.Context, customerID, priceID, accountID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	var sess *stripe.CheckoutSession
	err := c.call(ctx, func() error {
		params := &stripe.CheckoutSessionParams{
			Customer: stripe.String(customerID),
			Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
			},
			SuccessURL: stripe.String(successURL),
			CancelURL:  stripe.String(cancelURL),
			Metadata:   map[string]string{"type": "trial_checkout", "account_id": accountID},
			SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
				TrialPeriodDays: stripe.Int64(TrialDurationDays),
				Metadata:        map[string]string{"account_id": accountID},
			},
		}
		s, err := session.New(params)
		sess = s
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: create trial checkout session for %s: %w", accountID, err)
	}
	return sess, nil
}

// ListRecentInvoices returns up to limit invoices for a subscription, newest
// first, used by the renewal-vs-upgrade classifier to find the invoice
// covering the current billing period and read its billing_reason.
func (c *Client) ListRecentInvoices(ctx context.Context, subscriptionID string, limit int64) ([]*stripe.Invoice, error) {
	var invoices []*stripe.Invoice
	err := c.call(ctx, func() error {
		params := &stripe.InvoiceListParams{
			Subscription: stripe.String(subscriptionID),
		}
		params.Filters.AddFilter("limit", "", fmt.Sprintf("%d", limit))
		invoices = nil
		iter := invoice.List(params)
		for iter.Next() {
			invoices = append(invoices, iter.Invoice())
			if int64(len(invoices)) >= limit {
				break
			}
		}
		return iter.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: list recent invoices for %s: %w", subscriptionID, err)
	}
	return invoices, nil
}

func (c *Client) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	err := c.call(ctx, func() error {
		current, err := subscription.Get(subscriptionID, nil)
		if err != nil {
			return err
		}
		if len(current.Items.Data) == 0 {
			return backoff.Permanent(fmt.Errorf("stripeapi: subscription %s has no items", subscriptionID))
		}
		params := &stripe.SubscriptionParams{
			Items: []*stripe.SubscriptionItemsParams{
				{ID: stripe.String(current.Items.Data[0].ID), Price: stripe.String(newPriceID)},
			},
			ProrationBehavior: stripe.String("create_prorations"),
		}
		params.AddExpand("items.data.price.product")
		s, err := subscription.Update(subscriptionID, params)
		sub = s
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripeapi: update subscription price %s: %w", subscriptionID, err)
	}
	return sub, nil
}
