// Package api exposes the HTTP surface of the service: the billing and
// webhook endpoints, the subscription and usage read endpoints, and the chat
// proxy with its conversation CRUD.
//
// All routes live under /api/v1. Billing plans and the Stripe webhook are
// public; everything else requires a verified Bearer token. Handlers are
// grouped per concern and registered on a shared gorilla/mux router:
//
//	server := api.NewServer(deps)
//	http.ListenAndServe(":8080", server)
package api
