package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialWait: time.Second, MaxWait: time.Minute, Multiplier: 2.0}
	b := NewBackoff(cfg)
	now := time.Unix(1000, 0)

	if !b.Ready(now) {
		t.Fatal("fresh backoff should be ready")
	}
	if !b.Fail(now) {
		t.Fatal("first failure should leave budget")
	}
	if b.Ready(now) {
		t.Error("should not be ready immediately after a failure")
	}
	if !b.Ready(now.Add(2 * time.Second)) {
		t.Error("should be ready after the wait elapses")
	}

	if !b.Fail(now) {
		t.Fatal("second failure should leave budget")
	}
	if b.Fail(now) {
		t.Error("third failure should exhaust the budget")
	}
	if b.Attempts() != 3 {
		t.Errorf("attempts = %d, want 3", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 || !b.Ready(now) {
		t.Error("reset should clear the schedule")
	}
}

func TestWaitCapped(t *testing.T) {
	cfg := Config{InitialWait: time.Second, MaxWait: 4 * time.Second, Multiplier: 10}
	if w := cfg.Wait(5); w > 4*time.Second {
		t.Errorf("wait %v exceeds cap", w)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), DefaultConfig(), func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesRetryable(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestIsRetryableUnwraps(t *testing.T) {
	inner := errors.New("inner")
	wrapped := Retryable(inner)
	if !IsRetryable(wrapped) {
		t.Error("wrapped error should be retryable")
	}
	if !errors.Is(wrapped, inner) {
		t.Error("retryable error should unwrap to the cause")
	}
	if IsRetryable(inner) {
		t.Error("bare error should not be retryable")
	}
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}
}
