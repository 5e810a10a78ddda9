package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "slow down",
			err:  &smithy.GenericAPIError{Code: "SlowDown", Message: "slow down"},
			want: true,
		},
		{
			name: "internal error",
			err:  &smithy.GenericAPIError{Code: "InternalError", Message: "internal"},
			want: true,
		},
		{
			name: "request timeout",
			err:  &smithy.GenericAPIError{Code: "RequestTimeout", Message: "timeout"},
			want: true,
		},
		{
			name: "access denied",
			err:  &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"},
			want: false,
		},
		{
			name: "no such key",
			err:  &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"},
			want: false,
		},
		{
			name: "unexpected eof",
			err:  io.ErrUnexpectedEOF,
			want: true,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryerRecoversFromTransientErrors(t *testing.T) {
	r := retryer{maxRetries: 3, baseDelay: time.Microsecond, maxDelay: time.Millisecond}

	attempts := 0
	err := r.do(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return &smithy.GenericAPIError{Code: "SlowDown"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryerStopsOnPermanentError(t *testing.T) {
	r := retryer{maxRetries: 3, baseDelay: time.Microsecond, maxDelay: time.Millisecond}

	permanent := errors.New("permanent")
	attempts := 0
	err := r.do(context.Background(), "test", func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("do error = %v, want the permanent error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryerGivesUpAfterMaxRetries(t *testing.T) {
	r := retryer{maxRetries: 2, baseDelay: time.Microsecond, maxDelay: time.Millisecond}

	attempts := 0
	err := r.do(context.Background(), "test", func() error {
		attempts++
		return &smithy.GenericAPIError{Code: "SlowDown"}
	})
	if err == nil {
		t.Fatal("do succeeded after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryerHonorsContext(t *testing.T) {
	r := retryer{maxRetries: 5, baseDelay: time.Hour, maxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.do(ctx, "test", func() error {
		return &smithy.GenericAPIError{Code: "SlowDown"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("do error = %v, want context.Canceled", err)
	}
}

func TestCalculateDelayBounds(t *testing.T) {
	r := newRetryer()
	for attempt := 0; attempt < 20; attempt++ {
		delay := r.calculateDelay(attempt)
		if delay < 0 {
			t.Fatalf("attempt %d: negative delay %v", attempt, delay)
		}
		if delay > r.maxDelay {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, delay, r.maxDelay)
		}
	}
}
