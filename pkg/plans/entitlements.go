package plans

// Feature identifies an entitlement-gated capability
type Feature string

const (
	FeatureMessages          Feature = "messages"
	FeatureCustomTemplates   Feature = "custom_templates"
	FeatureAdvancedAI        Feature = "advanced_ai"
	FeaturePrioritySupport   Feature = "priority_support"
	FeatureTeamCollaboration Feature = "team_collaboration"
	FeatureCustomAITraining  Feature = "custom_ai_training"
	FeatureAPIAccess         Feature = "api_access"
)

// FeatureLimits holds the effective entitlements of a user
type FeatureLimits struct {
	MessagesPerMonth  Limit `json:"messages_per_month"`
	CustomTemplates   bool  `json:"custom_templates"`
	AdvancedAI        bool  `json:"advanced_ai"`
	PrioritySupport   bool  `json:"priority_support"`
	TeamCollaboration bool  `json:"team_collaboration"`
	CustomAITraining  bool  `json:"custom_ai_training"`
	APIAccess         bool  `json:"api_access"`
}

// tierLimits maps each tier onto its entitlements
var tierLimits = map[Tier]FeatureLimits{
	TierFree: {
		MessagesPerMonth: 100,
	},
	TierPro: {
		MessagesPerMonth: Unlimited,
		CustomTemplates:  true,
		AdvancedAI:       true,
		PrioritySupport:  true,
	},
	TierEnterprise: {
		MessagesPerMonth:  Unlimited,
		CustomTemplates:   true,
		AdvancedAI:        true,
		PrioritySupport:   true,
		TeamCollaboration: true,
		CustomAITraining:  true,
		APIAccess:         true,
	},
}

// Resolve returns the effective feature limits for a tier. When active is
// false the tier is ignored and free limits apply, so lapsed or delinquent
// subscriptions never retain paid entitlements. Unknown tiers resolve to free.
func Resolve(tier Tier, active bool) FeatureLimits {
	if !active {
		return tierLimits[TierFree]
	}
	limits, ok := tierLimits[tier]
	if !ok {
		return tierLimits[TierFree]
	}
	return limits
}

// Has reports whether the feature is available under these limits.
// FeatureMessages means any messages may be sent at all.
func (fl FeatureLimits) Has(f Feature) bool {
	switch f {
	case FeatureMessages:
		return fl.MessagesPerMonth > 0
	case FeatureCustomTemplates:
		return fl.CustomTemplates
	case FeatureAdvancedAI:
		return fl.AdvancedAI
	case FeaturePrioritySupport:
		return fl.PrioritySupport
	case FeatureTeamCollaboration:
		return fl.TeamCollaboration
	case FeatureCustomAITraining:
		return fl.CustomAITraining
	case FeatureAPIAccess:
		return fl.APIAccess
	default:
		return false
	}
}
