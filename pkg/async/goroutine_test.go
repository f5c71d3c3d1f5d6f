package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSafeGo_Success(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	var after atomic.Bool
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "panicking task", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	// The panic must not take down the test process
	after.Store(true)
	if !after.Load() {
		t.Fatal("unreachable")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	expired := make(chan struct{})
	SafeGo(context.Background(), 10*time.Millisecond, "slow task", func(ctx context.Context) error {
		<-ctx.Done()
		close(expired)
		return ctx.Err()
	})

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("timeout was not enforced")
	}
}

func TestSafeGo_ZeroTimeoutRunsUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	SafeGoNoError(ctx, 0, "long-lived task", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		close(stopped)
	})

	// Give the goroutine a moment to start, then cancel
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("zero timeout should defer to parent cancellation")
	}
}
