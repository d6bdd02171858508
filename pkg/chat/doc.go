// Package chat persists conversations and proxies message generation to the
// external chat-completion service.
//
// Service.Send is the write path for user messages: it consults the usage
// gate before anything else, so a user over quota never reaches the
// completion backend:
//
//	svc := chat.NewService(store, flowise, gate, logger, metrics)
//	result, err := svc.Send(ctx, userID, convID, "hello")
//	if result.Rejected() { /* quota exhausted, nothing was stored */ }
package chat
