// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/sibyl-run/sibyl/pkg/errors"
)

func TestWithTimeoutResultCompletes(t *testing.T) {
	value, err := WithTimeoutResult(context.Background(), TimeoutConfig{Duration: time.Second},
		func(ctx context.Context) (any, error) {
			return "done", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "done" {
		t.Errorf("expected done, got %v", value)
	}
}

func TestWithTimeoutResultExpires(t *testing.T) {
	start := time.Now()
	_, err := WithTimeoutResult(context.Background(), TimeoutConfig{Duration: 20 * time.Millisecond},
		func(ctx context.Context) (any, error) {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if !errors.Is(err, errors.CodeTimeout) {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
	if !errors.IsRecoverable(err) {
		t.Errorf("timeouts must be recoverable")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout did not fire promptly: %v", elapsed)
	}
}

func TestWithTimeoutZeroDurationRunsInline(t *testing.T) {
	err := WithTimeout(context.Background(), TimeoutConfig{}, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Errorf("zero duration must not add a deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithTimeoutPropagatesFnError(t *testing.T) {
	want := errors.Newf(errors.CodeCapability, "boom")
	err := WithTimeout(context.Background(), TimeoutConfig{Duration: time.Second},
		func(ctx context.Context) error { return want })
	if !errors.Is(err, errors.CodeCapability) {
		t.Fatalf("expected fn error to pass through, got %v", err)
	}
}
