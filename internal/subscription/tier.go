// Package subscription resolves Stripe subscription events into tier
// changes: it decides whether an invoice or subscription-updated event is a
// renewal, an upgrade, or neither, handles trial activation, and drives the
// corresponding credit grant through internal/credit.
package subscription

import (
	"github.com/volaticloud/agentcore/internal/enum"
	"github.com/volaticloud/agentcore/internal/money"
)

// Tier describes one subscription tier's static pricing and credit grant,
// analogous to the Stripe-product-metadata-driven plan table the original
// system read at runtime, but pinned here since this service owns a fixed
// set of tiers rather than letting arbitrary Stripe products define them.
type Tier struct {
	Name           enum.TierName
	StripePriceID  string
	MonthlyDeposit money.Amount
	DisplayOrder   int

	// AllowedModels is the set of model names this tier's accounts may start
	// a run against. Empty means unrestricted.
	AllowedModels []string
}

// Table is the static price-id-to-tier mapping. StripePriceID values are
// placeholders; a real deployment overrides them via configuration.
var Table = []Tier{
	{
		Name: enum.TierFree, StripePriceID: "", MonthlyDeposit: money.Zero, DisplayOrder: 0,
		AllowedModels: []string{"gpt-4o-mini", "claude-haiku"},
	},
	{
		Name: enum.TierStarter, StripePriceID: "price_starter", MonthlyDeposit: money.NewFromFloat(10), DisplayOrder: 1,
		AllowedModels: []string{"gpt-4o-mini", "claude-haiku", "gpt-4o", "claude-sonnet"},
	},
	{
		Name: enum.TierPro, StripePriceID: "price_pro", MonthlyDeposit: money.NewFromFloat(50), DisplayOrder: 2,
		AllowedModels: []string{"gpt-4o-mini", "claude-haiku", "gpt-4o", "claude-sonnet", "claude-opus", "o1"},
	},
	{
		Name: enum.TierEnterprise, StripePriceID: "price_enterprise", MonthlyDeposit: money.NewFromFloat(250), DisplayOrder: 3,
		AllowedModels: nil, // unrestricted
	},
}

// AllowsModel reports whether t's account may start a run against model.
// An empty AllowedModels list means unrestricted access (e.g. enterprise).
func (t Tier) AllowsModel(model string) bool {
	if len(t.AllowedModels) == 0 {
		return true
	}
	for _, m := range t.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// ByPriceID looks up the tier for a Stripe price ID.
func ByPriceID(priceID string) (Tier, bool) {
	for _, t := range Table {
		if t.StripePriceID == priceID {
			return t, true
		}
	}
	return Tier{}, false
}

// ByName looks up a tier by name.
func ByName(name enum.TierName) (Tier, bool) {
	for _, t := range Table {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// IsUpward reports whether to is a higher tier than from, by display order.
func IsUpward(from, to enum.TierName) bool {
	ft, ok1 := ByName(from)
	tt, ok2 := ByName(to)
	if !ok1 || !ok2 {
		return false
	}
	return tt.DisplayOrder > ft.DisplayOrder
}
