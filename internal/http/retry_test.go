package http

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetry(max int) RetryConfig {
	return RetryConfig{
		MaxRetries:   max,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestExecuteWithRetry_Success(t *testing.T) {
	calls := 0
	err := ExecuteWithRetry(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecuteWithRetry_FatalError(t *testing.T) {
	calls := 0
	err := ExecuteWithRetry(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return fmt.Errorf("NoSuchBucket: the specified bucket does not exist")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry on fatal), got %d", calls)
	}
}

func TestExecuteWithRetry_RecoversFromThrottling(t *testing.T) {
	calls := 0
	var retries []ErrorType
	cfg := fastRetry(5)
	cfg.OnRetry = func(_ int, _ error, et ErrorType) { retries = append(retries, et) }

	err := ExecuteWithRetry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("SlowDown: please reduce your request rate")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retries) != 2 || retries[0] != ErrorTypeRetryable {
		t.Errorf("OnRetry saw %v", retries)
	}
}

func TestExecuteWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := ExecuteWithRetry(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteWithRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := ExecuteWithRetry(ctx, cfg, func(context.Context) error {
		return fmt.Errorf("connection reset")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected quick return after context cancel, took %v", elapsed)
	}
}

func TestExecuteWithRetry_InsufficientDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

	start := time.Now()
	err := ExecuteWithRetry(ctx, cfg, func(context.Context) error {
		return fmt.Errorf("i/o timeout")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected quick return due to insufficient deadline, took %v", elapsed)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{nil, ErrorTypeSuccess},
		{errors.New("ExpiredToken: the provided token has expired"), ErrorTypeCredential},
		{errors.New("AuthenticationFailed: server failed to authenticate the request"), ErrorTypeCredential},
		{errors.New("read tcp: connection reset by peer"), ErrorTypeNetwork},
		{errors.New("ServerBusy: the server is busy"), ErrorTypeRetryable},
		{errors.New("status 503"), ErrorTypeRetryable},
		{errors.New("NoSuchBucket"), ErrorTypeFatal},
		{context.Canceled, ErrorTypeFatal},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %s, want %s", ErrorTypeName(got), ErrorTypeName(tt.want))
			}
		})
	}
}

func TestCalculateBackoffBounds(t *testing.T) {
	if got := CalculateBackoff(0, time.Second, time.Minute); got != 0 {
		t.Errorf("attempt 0 backoff = %v, want 0", got)
	}
	for i := 0; i < 50; i++ {
		got := CalculateBackoff(10, 100*time.Millisecond, 2*time.Second)
		if got < 0 || got >= 2*time.Second {
			t.Fatalf("backoff %v outside [0, 2s)", got)
		}
	}
}
