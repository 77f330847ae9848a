package scanerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetryRecoversTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryStopsOnTerminalErrors(t *testing.T) {
	for _, terminal := range []error{ErrCircuitOpen, ErrValidationFailed} {
		calls := 0
		err := Retry(context.Background(), 3, func(ctx context.Context) error {
			calls++
			return fmt.Errorf("wrapped: %w", terminal)
		})
		if !errors.Is(err, terminal) {
			t.Errorf("error = %v, want %v", err, terminal)
		}
		if calls != 1 {
			t.Errorf("%v: calls = %d, want 1 (no retry on terminal errors)", terminal, calls)
		}
	}
}

func TestRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, 3, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
