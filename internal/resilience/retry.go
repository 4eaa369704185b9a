// Package resilience retries provider API calls with exponential backoff.
// Providers in the failover chain are retried individually; exhausting the
// attempt budget hands the request to the next provider in the chain.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls how a call is retried. Zero values fall back to the
// package defaults.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first; default 3
	BaseDelay   time.Duration // delay before the first retry; default 500ms
	MaxDelay    time.Duration // backoff ceiling; default 30s
	Jitter      float64       // random fraction spread around each delay; default 0.25

	// ShouldRetry overrides the transient-error check. Nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = 0.25
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsTransient
	}
	return cfg
}

// DoVal calls fn until it succeeds, the error stops looking transient, the
// attempt budget runs out, or ctx is done. The last value and error are
// returned either way.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var last T
	var lastErr error
	for attempt := 1; ; attempt++ {
		last, lastErr = fn(ctx)
		if lastErr == nil {
			return last, nil
		}
		if ctx.Err() != nil || !cfg.ShouldRetry(lastErr) || attempt >= cfg.MaxAttempts {
			return last, lastErr
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(cfg.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, lastErr
		case <-timer.C:
		}
	}
}

// Do is DoVal for calls without a return value.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// backoff doubles per attempt up to MaxDelay. Jitter spreads concurrent
// retries apart so a rate-limited batch does not stampede the provider.
func (cfg RetryConfig) backoff(attempt int) time.Duration {
	d := cfg.BaseDelay << uint(attempt-1)
	if d <= 0 || d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * cfg.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}
	return d
}
