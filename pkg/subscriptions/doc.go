// Package subscriptions stores per-user subscription records synchronized
// from the billing provider.
//
// The PostgresStore is the source of truth; CachedStore layers an in-process
// LRU and Redis in front of it for the hot read path (every chat message
// resolves the sender's subscription). Writes always go to Postgres and the
// billing synchronizer invalidates the cache afterwards:
//
//	store := subscriptions.NewPostgresStore(db)
//	cached := subscriptions.NewCachedStore(store, redisClient, logger, metrics)
//	sub, err := cached.Get(ctx, userID)
package subscriptions
