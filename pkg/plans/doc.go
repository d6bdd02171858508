// Package plans defines the subscription plan catalog and the entitlement
// resolver that maps a stored subscription onto concrete feature limits.
//
// The catalog is built once at startup from configuration and injected by
// reference; it is immutable after construction:
//
//	catalog := plans.NewCatalog(cfg.Stripe.ProPriceID, cfg.Stripe.EnterprisePriceID)
//	tier := catalog.TierForPriceID(priceID)
//
// Entitlements are resolved from a subscription record (which may be nil):
//
//	limits := plans.Resolve(sub)
//	if limits.MessagesPerMonth.IsUnlimited() { ... }
package plans
