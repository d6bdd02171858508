// Package usage meters per-user message consumption over calendar-month
// periods and enforces plan quotas.
//
// The Gate is the single entry point for the send path:
//
//	gate := usage.NewGate(subStore, usageStore, logger, metrics)
//	decision, err := gate.TryConsumeMessage(ctx, userID)
//	if err != nil { ... }
//	if !decision.Allowed { /* quota exhausted */ }
//
// The decision is made with one conditional increment in the store, so two
// concurrent sends can never both consume the last message of a quota.
package usage
