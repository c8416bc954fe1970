package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/volaticloud/agentcore/internal/enum"
)

func TestClassify_AlreadyProcessedGuardWins(t *testing.T) {
	d := Classify(ClassifyInput{AlreadyProcessed: true, BillingReason: "subscription_update"})
	assert.Equal(t, KindNoGrant, d.Kind)
}

func TestClassify_SubscriptionUpdateBillingReasonIsUpgrade(t *testing.T) {
	d := Classify(ClassifyInput{BillingReason: "subscription_update"})
	assert.Equal(t, KindUpgrade, d.Kind)
}

func TestClassify_SubscriptionCycleBillingReasonIsRenewal(t *testing.T) {
	d := Classify(ClassifyInput{BillingReason: "subscription_cycle"})
	assert.Equal(t, KindRenewal, d.Kind)
}

func TestClassify_WithinThirtyMinuteWindowIsRenewal(t *testing.T) {
	d := Classify(ClassifyInput{CurrentPeriodStart: time.Now().Add(-5 * time.Minute)})
	assert.Equal(t, KindRenewal, d.Kind)
}

func TestClassify_PeriodStartChangedWithUpwardTierIsUpgrade(t *testing.T) {
	now := time.Now().Add(-2 * time.Hour)
	d := Classify(ClassifyInput{
		CurrentPeriodStart:  now,
		PreviousPeriodStart: now.Add(-30 * 24 * time.Hour),
		FromTier:            enum.TierStarter,
		ToTier:              enum.TierPro,
	})
	assert.Equal(t, KindUpgrade, d.Kind)
}

func TestClassify_PeriodStartChangedWithoutTierChangeIsRenewal(t *testing.T) {
	now := time.Now().Add(-2 * time.Hour)
	d := Classify(ClassifyInput{
		CurrentPeriodStart:  now,
		PreviousPeriodStart: now.Add(-30 * 24 * time.Hour),
		FromTier:            enum.TierPro,
		ToTier:              enum.TierPro,
	})
	assert.Equal(t, KindRenewal, d.Kind)
}

func TestClassify_LastRenewalStampMatchesCurrentPeriodIsNoGrant(t *testing.T) {
	period := time.Now().Add(-2 * time.Hour)
	d := Classify(ClassifyInput{
		CurrentPeriodStart:     period,
		LastRenewalPeriodStart: period,
	})
	assert.Equal(t, KindNoGrant, d.Kind)
}

func TestClassify_GrantWithinSixtySecondsOfAnchorIsNoGrant(t *testing.T) {
	anchor := time.Now().Add(-3 * time.Hour)
	d := Classify(ClassifyInput{
		CurrentPeriodStart: time.Now().Add(-2 * time.Hour),
		BillingAnchor:      anchor,
		LastGrantDate:      anchor.Add(30 * time.Second),
	})
	assert.Equal(t, KindNoGrant, d.Kind)
}

func TestClassify_GrantWithinFifteenMinutesSameTierIsNoGrant(t *testing.T) {
	d := Classify(ClassifyInput{
		CurrentPeriodStart: time.Now().Add(-2 * time.Hour),
		LastGrantDate:      time.Now().Add(-5 * time.Minute),
		FromTier:           enum.TierPro,
		ToTier:             enum.TierPro,
	})
	assert.Equal(t, KindNoGrant, d.Kind)
}

func TestClassify_TierComparisonFreeToPaidIsUpgrade(t *testing.T) {
	d := Classify(ClassifyInput{
		CurrentPeriodStart: time.Now().Add(-2 * time.Hour),
		FromTier:           enum.TierFree,
		ToTier:             enum.TierStarter,
	})
	assert.Equal(t, KindUpgrade, d.Kind)
}

func TestClassify_TierComparisonSameTierNoNewSubIsNoGrant(t *testing.T) {
	d := Classify(ClassifyInput{
		CurrentPeriodStart: time.Now().Add(-2 * time.Hour),
		FromTier:           enum.TierPro,
		ToTier:             enum.TierPro,
	})
	assert.Equal(t, KindNoGrant, d.Kind)
}

func TestClassify_TierComparisonResubscribeSameTierIsUpgrade(t *testing.T) {
	d := Classify(ClassifyInput{
		CurrentPeriodStart:             time.Now().Add(-2 * time.Hour),
		FromTier:                       enum.TierPro,
		ToTier:                         enum.TierPro,
		IsResubscribeNewSubscriptionID: true,
	})
	assert.Equal(t, KindUpgrade, d.Kind)
}

func TestByPriceID_UnknownPriceIDReturnsFalse(t *testing.T) {
	_, ok := ByPriceID("price_does_not_exist")
	assert.False(t, ok)
}

func TestIsUpward(t *testing.T) {
	assert.True(t, IsUpward(enum.TierFree, enum.TierPro))
	assert.False(t, IsUpward(enum.TierPro, enum.TierFree))
	assert.False(t, IsUpward(enum.TierPro, enum.TierPro))
}
