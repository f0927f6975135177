package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	redeliver := func() error {
		attempts++
		if attempts < 5 {
			return errors.New(fmt.Sprintf("peer unreachable, attempt %d", attempts))
		}
		return nil
	}
	if err := Retry(context.Background(), redeliver); err != nil {
		t.Fatalf("Retry returned %v, want nil after eventual success", err)
	}
	if attempts != 5 {
		t.Fatalf("attempts = %d, want 5", attempts)
	}
}

func TestRetryHonorsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	alwaysDown := func() error {
		return errors.New("partition still open")
	}
	if err := Retry(ctx, alwaysDown); err != context.DeadlineExceeded {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestRetryReturnsImmediatelyOnAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	if err := Retry(ctx, func() error { called = true; return nil }); err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if called {
		t.Errorf("try was called despite already-cancelled context")
	}
}
