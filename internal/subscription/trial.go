package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/volaticloud/agentcore/internal/credit"
	"github.com/volaticloud/agentcore/internal/enum"
	"github.com/volaticloud/agentcore/internal/lock"
	"github.com/volaticloud/agentcore/internal/money"
	"github.com/volaticloud/agentcore/internal/stripeapi"
	"github.com/volaticloud/agentcore/internal/store"
	"github.com/volaticloud/agentcore/internal/broker"
)

// TrialCredits is the flat credit grant a trial activates with.
var TrialCredits = money.NewFromFloat(5)

// TrialStatusReport mirrors the original get_trial_status response: whether
// an account has ever had a trial, its current status, and whether a new
// trial attempt may proceed.
type TrialStatusReport struct {
	HasTrial     bool
	Status       enum.TrialStatus
	CanStartTrial bool
	Message      string
}

// TrialStatus reports an account's trial eligibility, distinguishing
// retryable checkout states from a trial that has already run its course.
func TrialStatus(ctx context.Context, s *store.Store, accountID string) (TrialStatusReport, error) {
	acc, err := s.GetAccount(ctx, accountID)
	if err == store.ErrNotFound {
		return TrialStatusReport{Status: enum.TrialNone, CanStartTrial: true, Message: "no trial history"}, nil
	}
	if err != nil {
		return TrialStatusReport{}, err
	}

	status := acc.TrialStatus
	if status == "" {
		status = enum.TrialNone
	}

	if status.Retryable() {
		return TrialStatusReport{
			HasTrial:      status != enum.TrialNone,
			Status:        status,
			CanStartTrial: true,
			Message:       "trial checkout may be retried",
		}, nil
	}

	return TrialStatusReport{
		HasTrial:      true,
		Status:        status,
		CanStartTrial: false,
		Message:       fmt.Sprintf("trial already %s", status),
	}, nil
}

// ActivateTrial grants trial credits and records the activation, guarded by
// a per-account lock so two concurrent webhook deliveries for the same
// trial can't double-grant.
func ActivateTrial(ctx context.Context, b broker.Broker, s *store.Store, cm *credit.Manager, accountID, subscriptionID string, trialEnd time.Time) error {
	return lock.WithLock(ctx, b, lock.TrialGrantLock(accountID), 30*time.Second, func(ctx context.Context) error {
		report, err := TrialStatus(ctx, s, accountID)
		if err != nil {
			return err
		}
		if !report.CanStartTrial {
			return fmt.Errorf("subscription: trial not eligible for %s: %s", accountID, report.Message)
		}

		if _, err := cm.ActivateTrial(ctx, accountID, TrialCredits, trialEnd, subscriptionID); err != nil {
			return fmt.Errorf("subscription: activate trial for %s: %w", accountID, err)
		}
		return s.RecordTrialTransition(ctx, accountID, enum.TrialActive, subscriptionID)
	})
}

// CancelTrial cancels an active trial's Stripe subscription and claws back
// any remaining balance, mirroring trial_service.py's cancel_trial.
func CancelTrial(ctx context.Context, s *store.Store, cm *credit.Manager, stripeClient stripeapi.API, accountID string) error {
	acc, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("subscription: cancel trial: get account %s: %w", accountID, err)
	}
	if acc.TrialStatus != enum.TrialActive {
		return fmt.Errorf("subscription: account %s has no active trial to cancel", accountID)
	}
	if acc.StripeSubscriptionID == nil || *acc.StripeSubscriptionID == "" {
		return fmt.Errorf("subscription: account %s has no Stripe subscription to cancel", accountID)
	}

	if _, err := stripeClient.CancelSubscription(ctx, *acc.StripeSubscriptionID); err != nil {
		return fmt.Errorf("subscription: cancel trial: stripe cancel for %s: %w", accountID, err)
	}

	if _, err := cm.Clawback(ctx, accountID, *acc.StripeSubscriptionID); err != nil {
		return fmt.Errorf("subscription: cancel trial: clawback for %s: %w", accountID, err)
	}

	return s.RecordTrialTransition(ctx, accountID, enum.TrialCancelled, *acc.StripeSubscriptionID)
}
