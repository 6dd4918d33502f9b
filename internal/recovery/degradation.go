package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustible/rustible/infrastructure/logging"
	"github.com/rustible/rustible/infrastructure/metrics"
	"github.com/rustible/rustible/infrastructure/resilience"
)

// CircuitState mirrors resilience.State under recovery's own naming so
// callers of this package never need to import infrastructure/resilience
// directly.
type CircuitState = resilience.State

const (
	CircuitClosed   = resilience.StateClosed
	CircuitOpen     = resilience.StateOpen
	CircuitHalfOpen = resilience.StateHalfOpen
)

// ErrCircuitOpen is returned by CircuitBreakers.Call when the named breaker
// has tripped and is short-circuiting calls.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// CircuitBreakerConfig configures one named circuit breaker.
type CircuitBreakerConfig = resilience.Config

// DefaultCircuitBreakerConfig trips after 5 consecutive failures and waits
// 30s before probing again.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return resilience.DefaultConfig()
}

// CircuitBreakers keeps one resilience.CircuitBreaker per named service,
// created lazily on first use so callers don't need to pre-register every
// service up front.
type CircuitBreakers struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*resilience.CircuitBreaker
	logger   *logging.Logger
}

// NewCircuitBreakers builds a registry that creates breakers from cfg the
// first time each service name is seen.
func NewCircuitBreakers(cfg CircuitBreakerConfig, logger *logging.Logger) *CircuitBreakers {
	return &CircuitBreakers{
		cfg:      cfg,
		breakers: make(map[string]*resilience.CircuitBreaker),
		logger:   logger,
	}
}

func (c *CircuitBreakers) get(name string) *resilience.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[name]; ok {
		return cb
	}

	cfg := c.cfg
	logger := c.logger
	cfg.OnStateChange = func(from, to resilience.State) {
		if logger != nil {
			logger.LogCircuitState(context.Background(), name, from.String(), to.String())
		}
		metrics.Global().SetCircuitBreakerState(name, int(to))
	}
	cb := resilience.New(cfg)
	c.breakers[name] = cb
	return cb
}

// State returns the current state of the named breaker (Closed if it has
// never been used).
func (c *CircuitBreakers) State(name string) CircuitState {
	return c.get(name).State()
}

// Call executes fn through the named breaker, returning ErrCircuitOpen
// without calling fn at all when the breaker has tripped.
func (c *CircuitBreakers) Call(ctx context.Context, name string, fn func() error) error {
	return c.get(name).Execute(ctx, fn)
}

// DegradationLevel ranks how much of a service's normal functionality is
// still available, from fully operational down to refusing work outright.
type DegradationLevel int

const (
	// LevelNormal: everything works.
	LevelNormal DegradationLevel = iota
	// LevelReduced: degraded but still serving, e.g. skipping optional
	// facts gathering or using cached data instead of live lookups.
	LevelReduced
	// LevelMinimal: only critical operations proceed.
	LevelMinimal
	// LevelUnavailable: the service is refusing all work for this
	// criticality tier.
	LevelUnavailable
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelReduced:
		return "reduced"
	case LevelMinimal:
		return "minimal"
	case LevelUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Criticality classifies how essential an operation is, used to decide
// whether it still runs at a given DegradationLevel.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityNormal   Criticality = "normal"
	CriticalityOptional Criticality = "optional"
)

// FallbackAction is what a caller should do instead of the normal path when
// degraded: retry later, use a cached/stale value, skip entirely, or fail.
type FallbackAction string

const (
	FallbackNone       FallbackAction = "none"        // proceed normally
	FallbackUseCache   FallbackAction = "use_cache"
	FallbackSkip       FallbackAction = "skip"
	FallbackFailFast   FallbackAction = "fail_fast"
)

// DegradationPolicy maps consecutive-failure counts to a DegradationLevel
// and the FallbackAction each criticality tier should take at that level.
type DegradationPolicy struct {
	ReducedAfterFailures     int
	MinimalAfterFailures     int
	UnavailableAfterFailures int
}

// DefaultDegradationPolicy steps down after 3/6/10 consecutive failures.
func DefaultDegradationPolicy() DegradationPolicy {
	return DegradationPolicy{
		ReducedAfterFailures:     3,
		MinimalAfterFailures:     6,
		UnavailableAfterFailures: 10,
	}
}

func (p DegradationPolicy) levelForFailures(failures int) DegradationLevel {
	switch {
	case failures >= p.UnavailableAfterFailures:
		return LevelUnavailable
	case failures >= p.MinimalAfterFailures:
		return LevelMinimal
	case failures >= p.ReducedAfterFailures:
		return LevelReduced
	default:
		return LevelNormal
	}
}

// GracefulDegradation tracks a rolling consecutive-failure count per named
// component and derives a DegradationLevel from it, so callers can keep
// serving reduced functionality instead of failing outright when a
// dependency is unhealthy.
type GracefulDegradation struct {
	mu       sync.Mutex
	policy   DegradationPolicy
	failures map[string]int
}

// NewGracefulDegradation builds a tracker using policy.
func NewGracefulDegradation(policy DegradationPolicy) *GracefulDegradation {
	return &GracefulDegradation{policy: policy, failures: make(map[string]int)}
}

// ReportFailure records a failure for component, returning the new level.
func (d *GracefulDegradation) ReportFailure(component string) DegradationLevel {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[component]++
	level := d.policy.levelForFailures(d.failures[component])
	metrics.Global().SetDegradationLevel(component, int(level))
	return level
}

// ReportSuccess clears component's failure count, restoring LevelNormal.
func (d *GracefulDegradation) ReportSuccess(component string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, component)
	metrics.Global().SetDegradationLevel(component, int(LevelNormal))
}

// CurrentLevel returns component's level without mutating its failure count.
func (d *GracefulDegradation) CurrentLevel(component string) DegradationLevel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.policy.levelForFailures(d.failures[component])
}

// FallbackFor returns what an operation of the given criticality should do
// at component's current degradation level.
func (d *GracefulDegradation) FallbackFor(component string, criticality Criticality) FallbackAction {
	level := d.CurrentLevel(component)

	switch criticality {
	case CriticalityCritical:
		if level >= LevelUnavailable {
			return FallbackFailFast
		}
		return FallbackNone
	case CriticalityOptional:
		if level >= LevelReduced {
			return FallbackSkip
		}
		return FallbackNone
	default: // CriticalityNormal
		switch {
		case level >= LevelUnavailable:
			return FallbackFailFast
		case level >= LevelMinimal:
			return FallbackSkip
		case level >= LevelReduced:
			return FallbackUseCache
		default:
			return FallbackNone
		}
	}
}

// describeFallback renders a human-readable reason for logging, e.g. when a
// task is skipped because of degradation rather than an explicit `when`.
func describeFallback(component string, level DegradationLevel, action FallbackAction) string {
	return fmt.Sprintf("component %q at degradation level %s: %s", component, level, action)
}
