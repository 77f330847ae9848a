// Package ratelimit provides the per-host token-bucket rate limiter and
// circuit breaker. A Guard combines both: every remote call acquires a
// token, then passes through the breaker, which fails fast with
// scanerr.ErrCircuitOpen once consecutive failures trip it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"scanner/internal/scanerr"
)

// Guard is a per-host rate limiter + circuit breaker pair. The scanner
// keeps one Guard per upstream host name (platform, reverse-image
// provider, AI-classification provider, thumbnail-storage service).
type Guard struct {
	host    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Config configures a single Guard's token bucket and breaker threshold.
type Config struct {
	// RefillPerSecond and Burst parameterize the token bucket.
	RefillPerSecond float64
	Burst           int
	// ConsecutiveFailures is the failure count that trips the breaker
	// (default 5).
	ConsecutiveFailures uint32
}

// DefaultConfig returns the standard defaults: refill is conservative since
// most upstream hosts here are scraped, not API-keyed partners.
func DefaultConfig() Config {
	return Config{RefillPerSecond: 2, Burst: 4, ConsecutiveFailures: 5}
}

// NewGuard constructs a Guard for host, named for breaker diagnostics the
// way github.com/sony/gobreaker expects (one breaker per external
// dependency name).
func NewGuard(host string, cfg Config) *Guard {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	settings := gobreaker.Settings{
		Name:     host,
		Interval: 0, // never auto-clear counts except on trip
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	}
	return &Guard{
		host:    host,
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Do acquires a rate-limit token (blocking the caller until one is
// available — rate-limit exhaustion never surfaces as an error),
// then runs fn through the circuit breaker. A breaker trip surfaces as
// scanerr.ErrCircuitOpen, which callers in internal/crawl special-case to
// abort a platform's tick while preserving cursor state.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: waiting for token on %s: %w", g.host, err)
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("ratelimit: %s: %w", g.host, scanerr.ErrCircuitOpen)
	}
	return err
}

// State reports the breaker's current state, used by admin/diagnostic
// surfaces outside this core.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// Registry holds one Guard per host, created lazily on first use. The
// scheduler and crawl providers share a single process-wide Registry so
// that concurrent workstreams throttle against the same buckets.
type Registry struct {
	mu     sync.Mutex
	guards map[string]*Guard
	cfg    func(host string) Config
}

// NewRegistry builds a Registry. cfg, if non-nil, customizes per-host
// limiter settings (e.g. a slower bucket for a heavily-rate-limited
// platform); nil means DefaultConfig for every host.
func NewRegistry(cfg func(host string) Config) *Registry {
	if cfg == nil {
		cfg = func(string) Config { return DefaultConfig() }
	}
	return &Registry{guards: make(map[string]*Guard), cfg: cfg}
}

// Guard returns the Guard for host, creating it on first access.
func (r *Registry) Guard(host string) *Guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guards[host]; ok {
		return g
	}
	g := NewGuard(host, r.cfg(host))
	r.guards[host] = g
	return g
}
