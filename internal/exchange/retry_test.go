package exchange

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_ExhaustsAndReturnsLastError(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	errFail := errors.New("still broken")
	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return errFail
	})
	if !errors.Is(err, errFail) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_InvalidInstrumentIsPermanent(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return ErrInvalidInstrument
	})
	if !errors.Is(err, ErrInvalidInstrument) {
		t.Fatalf("expected ErrInvalidInstrument, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
}

func TestRetryPolicy_ContextCancelStopsRetrying(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Backoff: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, "test", func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_OnRetryHook(t *testing.T) {
	retries := 0
	p := RetryPolicy{Attempts: 3, Backoff: time.Millisecond, OnRetry: func(op string) {
		if op != "place-entry" {
			t.Errorf("op = %q, want place-entry", op)
		}
		retries++
	}}

	p.Do(context.Background(), "place-entry", func() error { return errors.New("transient") })
	if retries != 2 {
		t.Errorf("retry hook fired %d times, want 2", retries)
	}
}
