package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "context canceled",
			err:      context.Canceled,
			expected: false,
		},
		{
			name:     "context deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: false,
		},
		{
			name:     "connection refused",
			err:      &net.OpError{Err: syscall.ECONNREFUSED},
			expected: true,
		},
		{
			name:     "connection reset",
			err:      &net.OpError{Err: syscall.ECONNRESET},
			expected: true,
		},
		{
			name:     "broken pipe",
			err:      &net.OpError{Err: syscall.EPIPE},
			expected: true,
		},
		{
			name:     "generic error",
			err:      errors.New("some error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   bool
	}{
		{
			name:       "200 OK",
			statusCode: http.StatusOK,
			expected:   false,
		},
		{
			name:       "400 Bad Request",
			statusCode: http.StatusBadRequest,
			expected:   false,
		},
		{
			name:       "404 Not Found",
			statusCode: http.StatusNotFound,
			expected:   false,
		},
		{
			name:       "408 Request Timeout",
			statusCode: http.StatusRequestTimeout,
			expected:   true,
		},
		{
			name:       "429 Too Many Requests",
			statusCode: http.StatusTooManyRequests,
			expected:   true,
		},
		{
			name:       "500 Internal Server Error",
			statusCode: http.StatusInternalServerError,
			expected:   true,
		},
		{
			name:       "502 Bad Gateway",
			statusCode: http.StatusBadGateway,
			expected:   true,
		},
		{
			name:       "503 Service Unavailable",
			statusCode: http.StatusServiceUnavailable,
			expected:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableHTTPStatus(tt.statusCode)
			if result != tt.expected {
				t.Errorf("IsRetryableHTTPStatus(%d) = %v, want %v", tt.statusCode, result, tt.expected)
			}
		})
	}
}

func fastConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		MaxRetries:      3,
		Multiplier:      2.0,
	}
}

func TestWithBackoff_Success(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		return nil
	}

	if err := WithBackoff(context.Background(), fastConfig(), fn); err != nil {
		t.Errorf("WithBackoff() error = %v, want nil", err)
	}

	if attempts != 1 {
		t.Errorf("WithBackoff() attempts = %d, want 1", attempts)
	}
}

func TestWithBackoff_RetryableError(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return &net.OpError{Err: syscall.ECONNREFUSED}
		}
		return nil
	}

	if err := WithBackoff(context.Background(), fastConfig(), fn); err != nil {
		t.Errorf("WithBackoff() error = %v, want nil", err)
	}

	if attempts != 3 {
		t.Errorf("WithBackoff() attempts = %d, want 3", attempts)
	}
}

func TestWithBackoff_NonRetryableError(t *testing.T) {
	attempts := 0
	expectedErr := errors.New("non-retryable error")
	fn := func() error {
		attempts++
		return expectedErr
	}

	if err := WithBackoff(context.Background(), fastConfig(), fn); err == nil {
		t.Error("WithBackoff() error = nil, want non-nil")
	}

	if attempts != 1 {
		t.Errorf("WithBackoff() attempts = %d, want 1 (should not retry non-retryable errors)", attempts)
	}
}

func TestWithBackoff_MaxRetriesExceeded(t *testing.T) {
	cfg := fastConfig()
	attempts := 0
	fn := func() error {
		attempts++
		return &net.OpError{Err: syscall.ECONNREFUSED}
	}

	if err := WithBackoff(context.Background(), cfg, fn); err == nil {
		t.Error("WithBackoff() error = nil, want non-nil")
	}

	// Initial attempt plus MaxRetries.
	expectedAttempts := cfg.MaxRetries + 1
	if attempts != expectedAttempts {
		t.Errorf("WithBackoff() attempts = %d, want %d", attempts, expectedAttempts)
	}
}

func TestWithBackoff_ContextCanceled(t *testing.T) {
	cfg := BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		MaxRetries:      5,
		Multiplier:      2.0,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return &net.OpError{Err: syscall.ECONNREFUSED}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if err := WithBackoff(ctx, cfg, fn); err != context.Canceled {
		t.Errorf("WithBackoff() error = %v, want context.Canceled", err)
	}

	if attempts < 1 {
		t.Errorf("WithBackoff() attempts = %d, want at least 1", attempts)
	}
}

func TestWithBackoffAlways_RetriesDeadlineErrors(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			// Per-attempt deadline expiry must be retried here,
			// unlike in the classified variant.
			return context.DeadlineExceeded
		}
		return nil
	}

	if err := WithBackoffAlways(context.Background(), fastConfig(), fn); err != nil {
		t.Errorf("WithBackoffAlways() error = %v, want nil", err)
	}

	if attempts != 3 {
		t.Errorf("WithBackoffAlways() attempts = %d, want 3", attempts)
	}
}

func TestWithBackoffAlways_StopsOnCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	fn := func() error {
		attempts++
		cancel()
		return context.Canceled
	}

	if err := WithBackoffAlways(ctx, fastConfig(), fn); err == nil {
		t.Error("WithBackoffAlways() error = nil, want non-nil")
	}

	if attempts != 1 {
		t.Errorf("WithBackoffAlways() attempts = %d, want 1 after caller cancel", attempts)
	}
}

func TestWithBackoffHTTP_RetryableStatus(t *testing.T) {
	attempts := 0
	fn := func() (int, error) {
		attempts++
		if attempts < 3 {
			return http.StatusServiceUnavailable, nil
		}
		return http.StatusOK, nil
	}

	if err := WithBackoffHTTP(context.Background(), fastConfig(), fn); err != nil {
		t.Errorf("WithBackoffHTTP() error = %v, want nil", err)
	}

	if attempts != 3 {
		t.Errorf("WithBackoffHTTP() attempts = %d, want 3", attempts)
	}
}

func TestWithBackoffHTTP_NonRetryableStatus(t *testing.T) {
	attempts := 0
	fn := func() (int, error) {
		attempts++
		return http.StatusBadRequest, nil
	}

	if err := WithBackoffHTTP(context.Background(), fastConfig(), fn); err == nil {
		t.Error("WithBackoffHTTP() error = nil, want non-nil")
	}

	if attempts != 1 {
		t.Errorf("WithBackoffHTTP() attempts = %d, want 1 (should not retry 4xx errors)", attempts)
	}
}

func TestWithBackoffHTTP_RetryableErrorThenSuccess(t *testing.T) {
	attempts := 0
	fn := func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, &net.OpError{Err: syscall.ECONNREFUSED}
		}
		return http.StatusOK, nil
	}

	if err := WithBackoffHTTP(context.Background(), fastConfig(), fn); err != nil {
		t.Errorf("WithBackoffHTTP() error = %v, want nil", err)
	}

	if attempts != 2 {
		t.Errorf("WithBackoffHTTP() attempts = %d, want 2", attempts)
	}
}

func TestAgentServiceConfig(t *testing.T) {
	cfg := AgentServiceConfig()

	if cfg.InitialInterval != 2*time.Second {
		t.Errorf("AgentServiceConfig().InitialInterval = %v, want 2s", cfg.InitialInterval)
	}

	if cfg.MaxRetries != 2 {
		t.Errorf("AgentServiceConfig().MaxRetries = %d, want 2", cfg.MaxRetries)
	}

	// Second sleep doubles to 4s, within the cap.
	second := time.Duration(float64(cfg.InitialInterval) * cfg.Multiplier)
	if second != 4*time.Second {
		t.Errorf("second interval = %v, want 4s", second)
	}
	if second > cfg.MaxInterval {
		t.Errorf("second interval %v exceeds MaxInterval %v", second, cfg.MaxInterval)
	}
}
