// Package async provides safe concurrent execution primitives for
// fire-and-forget background work such as cache invalidation fan-out and
// metric updates.
package async

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, 5*time.Second, "invalidate subscription cache", func(ctx context.Context) error {
//	    return cache.Invalidate(ctx, userID)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			// Log and continue; the caller decided this work is best-effort.
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}

// SafeGoDetached is like SafeGo but detaches from the parent context, for
// work that must outlive the originating request (e.g. post-response cache
// invalidation). The timeout still bounds execution.
func SafeGoDetached(timeout time.Duration, taskName string, fn func(context.Context) error) {
	SafeGo(context.Background(), timeout, taskName, fn)
}
