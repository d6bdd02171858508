package plans

import (
	"math"
	"strconv"
)

// Tier identifies a subscription plan tier
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// tierRank orders tiers from least to most capable
var tierRank = map[Tier]int{
	TierFree:       0,
	TierPro:        1,
	TierEnterprise: 2,
}

// IsValid reports whether t is a known tier
func (t Tier) IsValid() bool {
	_, ok := tierRank[t]
	return ok
}

// Compare returns -1, 0, or 1 as t is below, equal to, or above other.
// Unknown tiers rank below free.
func (t Tier) Compare(other Tier) int {
	a, ok := tierRank[t]
	if !ok {
		a = -1
	}
	b, ok := tierRank[other]
	if !ok {
		b = -1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether t ranks strictly below other
func (t Tier) Less(other Tier) bool {
	return t.Compare(other) < 0
}

// ParseTier returns the tier for s, or free when s is not a known tier
func ParseTier(s string) Tier {
	t := Tier(s)
	if !t.IsValid() {
		return TierFree
	}
	return t
}

// Limit is a monthly quota. Unlimited is a distinguished value, not a
// negative sentinel.
type Limit int64

// Unlimited means no quota is enforced
const Unlimited Limit = math.MaxInt64

// IsUnlimited reports whether the limit is unbounded
func (l Limit) IsUnlimited() bool {
	return l == Unlimited
}

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(int64(l), 10)
}

// MarshalJSON renders Unlimited as null so clients never see the sentinel
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnlimited() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(int64(l), 10)), nil
}

// Plan describes a purchasable subscription plan
type Plan struct {
	Tier             Tier     `json:"tier"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	PriceMonthly     int64    `json:"price_monthly"`
	Features         []string `json:"features"`
	StripePriceID    string   `json:"stripe_price_id,omitempty"`
	MessagesPerMonth Limit    `json:"messages_per_month"`
}

// Purchasable reports whether checkout can be started for this plan.
// A plan without a configured price ID cannot be bought.
func (p Plan) Purchasable() bool {
	return p.StripePriceID != ""
}

// Catalog is the immutable set of plans offered. Construct it once with
// NewCatalog and share it by reference.
type Catalog struct {
	plans   []Plan
	byTier  map[Tier]Plan
	byPrice map[string]Tier
}

// NewCatalog builds the plan catalog. Price IDs come from configuration and
// may be empty, in which case the plan is listed but not purchasable.
func NewCatalog(proPriceID, enterprisePriceID string) *Catalog {
	list := []Plan{
		{
			Tier:         TierFree,
			Name:         "Free",
			Description:  "For personal use",
			PriceMonthly: 0,
			Features: []string{
				"100 messages per month",
				"Basic chat features",
				"Community support",
			},
			MessagesPerMonth: 100,
		},
		{
			Tier:         TierPro,
			Name:         "Pro",
			Description:  "For professionals",
			PriceMonthly: 1900,
			Features: []string{
				"Unlimited messages",
				"Advanced AI features",
				"Priority support",
				"Custom chat templates",
			},
			StripePriceID:    proPriceID,
			MessagesPerMonth: Unlimited,
		},
		{
			Tier:         TierEnterprise,
			Name:         "Enterprise",
			Description:  "For teams and organizations",
			PriceMonthly: 9900,
			Features: []string{
				"Everything in Pro",
				"Team collaboration",
				"Custom AI model training",
				"Dedicated support",
				"API access",
			},
			StripePriceID:    enterprisePriceID,
			MessagesPerMonth: Unlimited,
		},
	}

	c := &Catalog{
		plans:   list,
		byTier:  make(map[Tier]Plan, len(list)),
		byPrice: make(map[string]Tier, len(list)),
	}
	for _, p := range list {
		c.byTier[p.Tier] = p
		if p.StripePriceID != "" {
			c.byPrice[p.StripePriceID] = p.Tier
		}
	}
	return c
}

// Plans returns the plans in tier order. The slice is a copy.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Plan returns the plan for a tier. Unknown tiers resolve to the free plan.
func (c *Catalog) Plan(t Tier) Plan {
	if p, ok := c.byTier[t]; ok {
		return p
	}
	return c.byTier[TierFree]
}

// TierForPriceID maps a billing price ID onto a tier. Empty or unrecognized
// price IDs map to free.
func (c *Catalog) TierForPriceID(priceID string) Tier {
	if t, ok := c.byPrice[priceID]; ok {
		return t
	}
	return TierFree
}

// PriceIDForTier returns the configured price ID for a tier, or empty when
// the plan is not purchasable.
func (c *Catalog) PriceIDForTier(t Tier) string {
	return c.Plan(t).StripePriceID
}
