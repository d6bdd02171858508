// Package config loads application configuration from environment variables.
//
// Every knob is a LUMENCHAT_-prefixed environment variable with a sensible
// default where one exists. Secrets (Stripe keys, Flowise API key) have no
// defaults and are validated at startup so a misconfigured deployment fails
// fast instead of at the first billing call.
package config
