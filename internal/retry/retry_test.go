package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), Config{MaxAttempts: 3, Delay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryWrapsLastError(t *testing.T) {
	err := WithRetry(context.Background(), Config{MaxAttempts: 2, Delay: time.Millisecond, Backoff: true}, func() error {
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Errorf("err = %v, want wrapping %v", err, errTransient)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := WithRetry(context.Background(), Config{
		MaxAttempts: 5,
		Delay:       time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}, func() error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Errorf("err = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, Config{MaxAttempts: 3, Delay: time.Hour}, func() error { return errTransient })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
