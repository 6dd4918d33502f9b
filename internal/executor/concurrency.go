package executor

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rustible/rustible/internal/modules"
)

// gate enforces a module's ParallelizationHint beyond the play's batch
// width: HostExclusive serializes per host, RateLimited paces admissions
// through a single global token bucket, GlobalExclusive allows only one
// in-flight instance across the whole inventory. FullyParallel is a no-op.
type gate struct {
	mu         sync.Mutex
	hostLocks  map[string]*sync.Mutex
	globalLock sync.Mutex
	limiters   map[float64]*rate.Limiter
}

func newGate() *gate {
	return &gate{
		hostLocks: map[string]*sync.Mutex{},
		limiters:  map[float64]*rate.Limiter{},
	}
}

func (g *gate) hostLock(host string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.hostLocks[host]
	if !ok {
		l = &sync.Mutex{}
		g.hostLocks[host] = l
	}
	return l
}

func (g *gate) limiter(rps float64) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[rps]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rps), 1)
		g.limiters[rps] = l
	}
	return l
}

// acquire blocks until the hint's constraint admits this invocation and
// returns a release function that must be called exactly once.
func (g *gate) acquire(ctx context.Context, host string, hint modules.ParallelizationHint) (func(), error) {
	switch hint.Kind {
	case modules.HostExclusive:
		lock := g.hostLock(host)
		lock.Lock()
		return lock.Unlock, nil
	case modules.RateLimited:
		if err := g.limiter(hint.RPS).Wait(ctx); err != nil {
			return nil, err
		}
		return func() {}, nil
	case modules.GlobalExclusive:
		g.globalLock.Lock()
		return g.globalLock.Unlock, nil
	default:
		return func() {}, nil
	}
}
