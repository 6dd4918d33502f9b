package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustible/rustible/infrastructure/fallback"
)

// poolKey identifies one pooled connection slot: one connection per
// (host, effective-user) pair, per the pooling contract.
type poolKey struct {
	host string
	user string
}

// Probe checks whether a pooled connection is still usable. A cheap
// liveness probe (e.g. `true` over Execute) is preferred to tearing a
// connection down and rebuilding it speculatively.
type Probe func(ctx context.Context, conn Connection) bool

// Pool hands out one shared Connection per (host, effective-user),
// replacing any connection a Probe reports as stale. It is shared across
// concurrently-running tasks, so acquisition of a given key is
// serialized but different keys proceed independently.
type Pool struct {
	mu      sync.Mutex
	dialers map[string]Dialer
	conns   map[poolKey]Connection
	probe   Probe
	retry   *fallback.Handler
}

// NewPool builds an empty pool. dialers maps a transport scheme
// ("ssh", "local", "vsock") to the Dialer used to open new connections for
// that scheme.
func NewPool(dialers map[string]Dialer, probe Probe) *Pool {
	if probe == nil {
		probe = defaultProbe
	}
	return &Pool{
		dialers: dialers,
		conns:   map[poolKey]Connection{},
		probe:   probe,
		retry:   fallback.NewHandler(fallback.DefaultConfig()),
	}
}

func defaultProbe(ctx context.Context, conn Connection) bool {
	result, err := conn.Execute(ctx, "true", ExecuteOptions{})
	return err == nil && result.Success
}

// Get returns the pooled connection for (scheme, host, user), dialing a
// new one if none exists yet or if the existing one fails the liveness
// probe.
func (p *Pool) Get(ctx context.Context, scheme, host, user string) (Connection, error) {
	key := poolKey{host: host, user: user}

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[key]; ok {
		if p.probe(ctx, conn) {
			return conn, nil
		}
		conn.Close()
		delete(p.conns, key)
	}

	dialer, ok := p.dialers[scheme]
	if !ok {
		return nil, fmt.Errorf("connection pool: no dialer registered for scheme %q", scheme)
	}
	conn, err := p.dialWithRetry(ctx, dialer, host, user)
	if err != nil {
		return nil, err
	}
	p.conns[key] = conn
	return conn, nil
}

// dialWithRetry retries a transient dial failure (connection refused while
// a host is still booting, a flaky network hop) with exponential backoff
// before giving up, since the alternative is failing the whole host for
// what is often a few seconds of bad timing.
func (p *Pool) dialWithRetry(ctx context.Context, dialer Dialer, host, user string) (Connection, error) {
	attempt := func(ctx context.Context) (interface{}, error) {
		return dialer.Dial(ctx, host, user)
	}

	res := p.retry.Execute(ctx, attempt, attempt, attempt)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value.(Connection), nil
}

// Evict closes and removes the pooled connection for (host, user), if any.
func (p *Pool) Evict(host, user string) {
	key := poolKey{host: host, user: user}

	p.mu.Lock()
	conn, ok := p.conns[key]
	delete(p.conns, key)
	p.mu.Unlock()

	if ok {
		conn.Close()
	}
}

// CloseAll closes every pooled connection. Intended for playbook shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = map[poolKey]Connection{}
	p.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// Size reports how many connections are currently pooled, for tests and
// telemetry.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
