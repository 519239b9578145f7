package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, DefaultConfig())

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}

	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
	}

	wantErr := errors.New("persistent")
	err := Do(context.Background(), func() error {
		calls++
		return wantErr
	}, cfg)

	if !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_RetryIf(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	cfg := Config{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		RetryIf:      func(err error) bool { return !errors.Is(err, permanent) },
	}

	err := Do(context.Background(), func() error {
		calls++
		return permanent
	}, cfg)

	if !errors.Is(err, permanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retries), got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func() error {
		return errors.New("should not matter")
	}, DefaultConfig())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	value, err := DoWithResult(context.Background(), func() (float64, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42.5, nil
	}, cfg)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 42.5 {
		t.Errorf("expected 42.5, got %v", value)
	}
}

func TestCalculateDelay_Capped(t *testing.T) {
	cfg := Config{
		MaxRetries:   10,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
	cfg.validate()

	// 1s, 2s, 4s, затем ограничение MaxDelay
	if d := cfg.calculateDelay(0); d != time.Second {
		t.Errorf("attempt 0: expected 1s, got %v", d)
	}
	if d := cfg.calculateDelay(2); d != 4*time.Second {
		t.Errorf("attempt 2: expected 4s, got %v", d)
	}
	if d := cfg.calculateDelay(5); d != 4*time.Second {
		t.Errorf("attempt 5: expected cap 4s, got %v", d)
	}
}

func TestRetryIfNotContext(t *testing.T) {
	if RetryIfNotContext(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
	if RetryIfNotContext(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded should not be retryable")
	}
	if !RetryIfNotContext(errors.New("network error")) {
		t.Error("ordinary error should be retryable")
	}
}
