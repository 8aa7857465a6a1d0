package bedrock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	"github.com/quarry-ai/quarry/internal/log"
)

// fastRetry keeps backoff negligible in tests.
func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttling code", &smithy.GenericAPIError{Code: "ThrottlingException"}, true},
		{"service unavailable code", &smithy.GenericAPIError{Code: "ServiceUnavailableException"}, true},
		{"validation code", &smithy.GenericAPIError{Code: "ValidationException"}, false},
		{"access denied code", &smithy.GenericAPIError{Code: "AccessDeniedException"}, false},
		{"wrapped throttle", fmt.Errorf("op: %w", &smithy.GenericAPIError{Code: "TooManyRequestsException"}), true},
		{"plain timeout", errors.New("dial tcp: i/o timeout"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"plain validation", errors.New("invalid model identifier"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	result, err := withRetry(context.Background(), fastRetry(), nil, log.NewNop(),
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &smithy.GenericAPIError{Code: "ThrottlingException"}
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	wantErr := &smithy.GenericAPIError{Code: "ValidationException"}
	_, err := withRetry(context.Background(), fastRetry(), nil, log.NewNop(),
		func(context.Context) (int, error) {
			calls++
			return 0, wantErr
		})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	cfg := fastRetry()
	calls := 0
	_, err := withRetry(context.Background(), cfg, nil, log.NewNop(),
		func(context.Context) (int, error) {
			calls++
			return 0, &smithy.GenericAPIError{Code: "ThrottlingException"}
		})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != cfg.MaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, cfg.MaxRetries+1)
	}
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxRetries: 5, InitialInterval: time.Hour, MaxInterval: time.Hour}
	_, err := withRetry(ctx, cfg, nil, log.NewNop(),
		func(context.Context) (int, error) {
			return 0, &smithy.GenericAPIError{Code: "ThrottlingException"}
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
