package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	cause := errors.New("database is locked")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil, "fetch", func(context.Context) error {
		calls++
		return cause
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, cause) {
		t.Fatalf("expected exhausted error wrapping cause, got %v", err)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	cause := errors.New("not found")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil, "lookup", func(context.Context) error {
		calls++
		return Permanent(cause)
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Fatal("permanent errors must not report exhaustion")
	}
}

func TestDoHonorsCancellationWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	err := Do(ctx, Policy{Attempts: 3, BaseDelay: time.Hour}, nil, "fetch", func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call before cancellation, got %d", calls)
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected cancellation to interrupt the backoff wait")
	}
}

func TestPolicyDelayDoubles(t *testing.T) {
	if got := DefaultPolicy.Delay(1); got != time.Second {
		t.Fatalf("expected 1s first delay, got %s", got)
	}
	if got := DefaultPolicy.Delay(2); got != 2*time.Second {
		t.Fatalf("expected 2s second delay, got %s", got)
	}
}

func TestDoValueReturnsValue(t *testing.T) {
	value, err := DoValue(context.Background(), DefaultPolicy, nil, "value", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || value != 42 {
		t.Fatalf("unexpected result %d %v", value, err)
	}
}
