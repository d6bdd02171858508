package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveInactiveAlwaysFree(t *testing.T) {
	free := Resolve(TierFree, true)

	for _, tier := range []Tier{TierFree, TierPro, TierEnterprise, Tier("unknown")} {
		limits := Resolve(tier, false)
		assert.Equal(t, free, limits, "inactive %s should resolve to free limits", tier)
	}
}

func TestResolveActiveTiers(t *testing.T) {
	free := Resolve(TierFree, true)
	assert.Equal(t, Limit(100), free.MessagesPerMonth)
	assert.False(t, free.CustomTemplates)
	assert.False(t, free.AdvancedAI)
	assert.False(t, free.PrioritySupport)

	pro := Resolve(TierPro, true)
	assert.True(t, pro.MessagesPerMonth.IsUnlimited())
	assert.True(t, pro.CustomTemplates)
	assert.True(t, pro.AdvancedAI)
	assert.True(t, pro.PrioritySupport)
	assert.False(t, pro.TeamCollaboration)
	assert.False(t, pro.APIAccess)

	ent := Resolve(TierEnterprise, true)
	assert.True(t, ent.MessagesPerMonth.IsUnlimited())
	assert.True(t, ent.TeamCollaboration)
	assert.True(t, ent.CustomAITraining)
	assert.True(t, ent.APIAccess)
}

func TestResolveUnknownTierFallsBackToFree(t *testing.T) {
	assert.Equal(t, Resolve(TierFree, true), Resolve(Tier("platinum"), true))
}

func TestMessageLimitMonotoneInTierOrder(t *testing.T) {
	tiers := []Tier{TierFree, TierPro, TierEnterprise}
	for i := 1; i < len(tiers); i++ {
		lower := Resolve(tiers[i-1], true).MessagesPerMonth
		higher := Resolve(tiers[i], true).MessagesPerMonth
		assert.LessOrEqual(t, lower, higher,
			"%s limit should not exceed %s limit", tiers[i-1], tiers[i])
	}
}

func TestHas(t *testing.T) {
	pro := Resolve(TierPro, true)
	assert.True(t, pro.Has(FeatureMessages))
	assert.True(t, pro.Has(FeatureAdvancedAI))
	assert.True(t, pro.Has(FeatureCustomTemplates))
	assert.True(t, pro.Has(FeaturePrioritySupport))
	assert.False(t, pro.Has(FeatureTeamCollaboration))
	assert.False(t, pro.Has(FeatureAPIAccess))
	assert.False(t, pro.Has(Feature("made_up")))

	free := Resolve(TierFree, true)
	assert.True(t, free.Has(FeatureMessages))
	assert.False(t, free.Has(FeatureAdvancedAI))

	ent := Resolve(TierEnterprise, true)
	assert.True(t, ent.Has(FeatureCustomAITraining))
	assert.True(t, ent.Has(FeatureAPIAccess))
}
