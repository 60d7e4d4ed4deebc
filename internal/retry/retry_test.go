package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	policy := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for attempt, ms := range want {
		if got := policy.Backoff(attempt); got != ms*time.Millisecond {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, ms*time.Millisecond)
		}
	}
	if got := policy.Backoff(100); got != time.Second {
		t.Errorf("Backoff(100) = %v, want cap", got)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var delays []time.Duration
	policy := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Sleep: recordingSleep(&delays)}

	calls := 0
	err := Do(context.Background(), policy, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("serialization failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(delays) != 2 || delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Fatalf("unexpected delays %v", delays)
	}
}

func TestDoGivesUpWithLastError(t *testing.T) {
	var delays []time.Duration
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: recordingSleep(&delays)}
	last := errors.New("third")

	calls := 0
	err := Do(context.Background(), policy, func(_ context.Context, attempt int) error {
		calls++
		if attempt == 2 {
			return last
		}
		return errors.New("earlier")
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 || !errors.Is(err, last) {
		t.Fatalf("unexpected exhausted error %+v", exhausted)
	}
	if calls != 3 || len(delays) != 2 {
		t.Fatalf("calls = %d delays = %v", calls, delays)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	cause := errors.New("malformed")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5}, func(context.Context, int) error {
		calls++
		return Permanent(cause)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, cause) || IsPermanent(err) {
		t.Fatalf("expected unwrapped cause, got %v", err)
	}
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour}, func(context.Context, int) error {
		return errors.New("busy")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
