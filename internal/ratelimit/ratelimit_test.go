package ratelimit

import (
	"context"
	"errors"
	"testing"

	"scanner/internal/scanerr"
)

func TestGuardDoSuccess(t *testing.T) {
	g := NewGuard("example.com", Config{RefillPerSecond: 100, Burst: 10, ConsecutiveFailures: 5})
	called := false
	err := g.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !called {
		t.Fatal("expected fn to be invoked")
	}
}

func TestGuardTripsCircuitAfterConsecutiveFailures(t *testing.T) {
	g := NewGuard("flaky.example.com", Config{RefillPerSecond: 1000, Burst: 1000, ConsecutiveFailures: 3})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := g.Do(context.Background(), func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
	}

	err := g.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, scanerr.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after breaker trip, got %v", err)
	}
}

func TestRegistryReturnsSameGuardPerHost(t *testing.T) {
	reg := NewRegistry(nil)
	a := reg.Guard("host-a")
	b := reg.Guard("host-a")
	if a != b {
		t.Fatal("expected the same Guard instance for repeated calls with the same host")
	}
	c := reg.Guard("host-b")
	if a == c {
		t.Fatal("expected distinct Guards for distinct hosts")
	}
}
