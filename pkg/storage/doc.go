// Package storage manages the PostgreSQL connections backing the service.
//
// A ConnectionManager holds the primary plus optional read replicas and
// hands out *sql.DB handles; writes go to Primary() and reads may go to
// Replica(), which round-robins and falls back to the primary when no
// replica is healthy:
//
//	cm, err := storage.NewConnectionManager(cfg.Database, logger)
//	subs := subscriptions.NewPostgresStore(cm.Primary())
package storage
