// Package fallback retries a primary operation against one or more
// fallback operations with exponential backoff, used by the connection
// pool to ride out a transient dial failure without failing the whole
// host.
package fallback

import (
	"context"
	"time"
)

// Config tunes the backoff schedule between attempts.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultConfig backs off from 100ms up to 5s, doubling each attempt with
// 10% jitter, across 3 attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Func is one attempt at producing a value, cancellable via ctx.
type Func func(ctx context.Context) (any, error)

// Handler drives a primary/fallback attempt sequence.
type Handler struct {
	config Config
}

// Result is the outcome of a Handler.Execute call: the produced value (or
// the last error), which attempt source produced it, and how many attempts
// were made in total.
type Result struct {
	Value    any
	Err      error
	Source   string // "primary", "fallback", or "exhausted"
	Attempts int
}

// NewHandler builds a Handler from cfg, filling in zero fields from
// DefaultConfig.
func NewHandler(cfg Config) *Handler {
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = defaults.Jitter
	}

	return &Handler{config: cfg}
}

// Execute tries primary, then each fallback in order, backing off between
// attempts. It stops at the first attempt that succeeds, or returns the
// last error once every fallback is exhausted. ctx cancellation is honored
// during the backoff sleep between attempts.
func (h *Handler) Execute(ctx context.Context, primary Func, fallbacks ...Func) *Result {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < len(fallbacks)+1; attempt++ {
		attempts++

		var fn Func
		var source string
		if attempt == 0 {
			fn = primary
			source = "primary"
		} else {
			fn = fallbacks[attempt-1]
			source = "fallback"
		}

		value, err := fn(ctx)
		if err == nil {
			return &Result{Value: value, Source: source, Attempts: attempts}
		}
		lastErr = err

		if attempt < len(fallbacks) {
			select {
			case <-ctx.Done():
				return &Result{Err: ctx.Err(), Source: source, Attempts: attempts}
			case <-time.After(h.delayForAttempt(attempt)):
			}
		}
	}

	return &Result{Err: lastErr, Source: "exhausted", Attempts: attempts}
}

func (h *Handler) delayForAttempt(attempt int) time.Duration {
	delay := float64(h.config.BaseDelay) * pow(h.config.Multiplier, float64(attempt))
	if delay > float64(h.config.MaxDelay) {
		delay = float64(h.config.MaxDelay)
	}

	jitterRange := delay * h.config.Jitter
	jitter := time.Duration(time.Now().UnixNano()) % time.Duration(2*jitterRange*float64(time.Second))
	delay = delay - jitterRange + float64(jitter)/float64(time.Second)
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay) * time.Millisecond
}

func pow(base, exp float64) float64 {
	result := 1.0
	expInt := int(exp)
	for expInt > 0 {
		if expInt%2 == 1 {
			result *= base
		}
		base *= base
		expInt /= 2
	}
	return result
}
