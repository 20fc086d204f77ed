// Package retry provides bounded retry with capped exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier applied to the delay after each failure.
	Factor float64
	// Jitter randomizes each delay within [0.5, 1.5] of its nominal value.
	Jitter bool
}

// DefaultConfig returns the retry configuration used when callers pass
// a zero Config.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Factor <= 0 {
		c.Factor = d.Factor
	}
	return c
}

// Do runs op until it succeeds, attempts are exhausted, or ctx is done.
// It returns nil on success, ctx.Err() on cancellation, and the last
// error from op otherwise. The attempt number passed to op is 1-based.
func Do(ctx context.Context, cfg Config, op func(attempt int) error) error {
	cfg = cfg.withDefaults()
	delay := cfg.InitialDelay

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if last = op(attempt); last == nil {
			return nil
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return last
}
