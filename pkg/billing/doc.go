// Package billing integrates with Stripe for checkout, the customer portal,
// and webhook-driven subscription synchronization.
//
// All network access to Stripe goes through the Client interface so the
// synchronizer and handlers can be tested against a fake:
//
//	client := billing.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
//	sync := billing.NewSynchronizer(client, subStore, catalog, logger, metrics)
//	err := sync.HandleEvent(ctx, payload, signatureHeader)
//
// HandleEvent distinguishes signature failures (ErrInvalidSignature, a client
// error the provider must not retry) from processing failures (server errors
// the provider will retry).
package billing
