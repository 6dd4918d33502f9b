package recovery

import (
	"math"
	"math/rand"
	"time"

	"github.com/rustible/rustible/infrastructure/metrics"
	"github.com/rustible/rustible/internal/errs"
)

// RetryAction is the verdict a RetryPolicy returns for one failed attempt.
type RetryAction struct {
	ShouldRetry bool
	Delay       time.Duration
	Reason      string // populated when ShouldRetry is false
}

// Retry builds a RetryAction telling the caller to wait Delay before
// retrying.
func Retry(delay time.Duration) RetryAction {
	return RetryAction{ShouldRetry: true, Delay: delay}
}

// Stop builds a RetryAction telling the caller to give up.
func Stop(reason string) RetryAction {
	return RetryAction{ShouldRetry: false, Reason: reason}
}

// RetryContext accumulates the attempt count and error history for one
// retry-wrapped operation.
type RetryContext struct {
	Operation string
	Attempt   int
	History   []error
}

// NewRetryContext starts a fresh context for the named operation.
func NewRetryContext(operation string) *RetryContext {
	return &RetryContext{Operation: operation}
}

// RecordAttempt appends err to the history and advances the attempt count.
// Call this after a failed attempt, once the policy's verdict is known.
func (c *RetryContext) RecordAttempt(err error) {
	c.Attempt++
	c.History = append(c.History, err)
}

// BackoffStrategy names how the delay between attempts grows.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryConfig parameterizes a RetryPolicy.
type RetryConfig struct {
	MaxAttempts int
	Strategy    BackoffStrategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0-1, fraction of the computed delay to randomize
}

// RetryPolicy is a pure function (context, error) -> RetryAction. It decides
// whether an operation is worth retrying based on the error's own
// retriability (an errs.Kind trait) and the attempt budget, independent of
// any particular module or connection.
type RetryPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy builds a policy from an explicit configuration.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return RetryPolicy{cfg: cfg}
}

// SimpleRetryPolicy retries up to maxAttempts times with no delay growth.
func SimpleRetryPolicy(maxAttempts int) RetryPolicy {
	return NewRetryPolicy(RetryConfig{
		MaxAttempts: maxAttempts,
		Strategy:    BackoffFixed,
		BaseDelay:   0,
	})
}

// LinearBackoffPolicy grows the delay linearly with the attempt number, up
// to maxDelay.
func LinearBackoffPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) RetryPolicy {
	return NewRetryPolicy(RetryConfig{
		MaxAttempts: maxAttempts,
		Strategy:    BackoffLinear,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	})
}

// ExponentialBackoffPolicy doubles the delay on each attempt (capped at
// maxDelay, default 30s) and adds 10% jitter, matching the default the
// production recovery configuration uses.
func ExponentialBackoffPolicy(maxAttempts int, baseDelay time.Duration) RetryPolicy {
	return NewRetryPolicy(RetryConfig{
		MaxAttempts: maxAttempts,
		Strategy:    BackoffExponential,
		BaseDelay:   baseDelay,
		MaxDelay:    30 * time.Second,
		Jitter:      0.1,
	})
}

// DefaultRetryPolicy is a three-attempt exponential backoff starting at 1s,
// the default used when RecoveryConfig doesn't specify one.
func DefaultRetryPolicy() RetryPolicy {
	return ExponentialBackoffPolicy(3, time.Second)
}

// ShouldRetry evaluates the policy against the current context and the error
// just observed. An error is only retried if both the attempt budget remains
// and the error's Kind is marked retriable.
func (p RetryPolicy) ShouldRetry(ctx *RetryContext, err error) RetryAction {
	if !errs.KindKnownRetriable(err) {
		return Stop("error kind is not retriable")
	}
	if ctx.Attempt+1 >= p.cfg.MaxAttempts {
		return Stop("maximum attempts exhausted")
	}

	delay := p.delayForAttempt(ctx.Attempt)
	return Retry(delay)
}

func (p RetryPolicy) delayForAttempt(attempt int) time.Duration {
	var delay time.Duration

	switch p.cfg.Strategy {
	case BackoffLinear:
		delay = p.cfg.BaseDelay * time.Duration(attempt+1)
	case BackoffExponential:
		delay = time.Duration(float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	default: // BackoffFixed
		delay = p.cfg.BaseDelay
	}

	if p.cfg.MaxDelay > 0 && delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	if p.cfg.Jitter > 0 {
		jitterRange := float64(delay) * p.cfg.Jitter
		delay += time.Duration(jitterRange * (rand.Float64()*2 - 1))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// RetryExhausted is returned by WithRetry when all attempts fail.
type RetryExhausted = errs.RetryExhausted

// WithRetry wraps operation in a retry loop driven by policy, sleeping
// between attempts and returning a *RetryExhausted carrying the final cause
// when the budget runs out. The caller's sleeper is a parameter purely so
// tests can run the loop without real wall-clock delay.
func WithRetry[T any](operationName string, policy RetryPolicy, sleep func(time.Duration), operation func() (T, error)) (T, error) {
	ctx := NewRetryContext(operationName)

	for {
		result, err := operation()
		if err == nil {
			if ctx.Attempt > 0 {
				metrics.Global().RecordRetry(operationName, "succeeded")
			}
			return result, nil
		}

		action := policy.ShouldRetry(ctx, err)
		ctx.RecordAttempt(err)

		if !action.ShouldRetry {
			metrics.Global().RecordRetry(operationName, "exhausted")
			var zero T
			return zero, &errs.RetryExhausted{Attempts: ctx.Attempt, Cause: err}
		}

		metrics.Global().RecordRetry(operationName, "retry")

		if sleep != nil {
			sleep(action.Delay)
		}
	}
}
