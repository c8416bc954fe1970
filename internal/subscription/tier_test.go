package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/volaticloud/agentcore/internal/enum"
)

func TestTier_AllowsModel(t *testing.T) {
	free, _ := ByName(enum.TierFree)
	assert.True(t, free.AllowsModel("gpt-4o-mini"))
	assert.False(t, free.AllowsModel("claude-opus"))

	enterprise, _ := ByName(enum.TierEnterprise)
	assert.True(t, enterprise.AllowsModel("anything-at-all"), "enterprise has no restriction list")
}

func TestByPriceID_UnknownReturnsFalse(t *testing.T) {
	_, ok := ByPriceID("price_does_not_exist")
	assert.False(t, ok)
}
