package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSafeGoRecoversFromPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "panicking task", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	// Reaching this point at all proves the panic did not escape.
}

func TestSafeGoEnforcesTimeout(t *testing.T) {
	expired := make(chan struct{})
	SafeGo(context.Background(), 10*time.Millisecond, "slow task", func(ctx context.Context) error {
		<-ctx.Done()
		close(expired)
		return ctx.Err()
	})

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("context never expired")
	}
}

func TestSafeGoDetachedRunsWithLiveContext(t *testing.T) {
	var ran atomic.Bool
	done := make(chan struct{})
	SafeGoDetached(time.Second, "detached task", func(ctx context.Context) error {
		defer close(done)
		if ctx.Err() != nil {
			return errors.New("context should be live")
		}
		ran.Store(true)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	if !ran.Load() {
		t.Fatal("detached task saw a dead context")
	}
}
