package connection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id      string
	alive   bool
	closed  bool
	execLog []string
}

func (f *fakeConn) Identifier() string { return f.id }
func (f *fakeConn) Execute(ctx context.Context, command string, opts ExecuteOptions) (CommandResult, error) {
	f.execLog = append(f.execLog, command)
	return CommandResult{Success: f.alive, RC: 0}, nil
}
func (f *fakeConn) PutFile(ctx context.Context, local, remote string, opts ExecuteOptions) error {
	return nil
}
func (f *fakeConn) FetchFile(ctx context.Context, remote, local string, opts ExecuteOptions) error {
	return nil
}
func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct {
	dialed int
	alive  bool
}

func (d *fakeDialer) Dial(ctx context.Context, host, user string) (Connection, error) {
	d.dialed++
	return &fakeConn{id: host + "@" + user, alive: d.alive}, nil
}

func TestPool_GetReusesConnectionAcrossCalls(t *testing.T) {
	dialer := &fakeDialer{alive: true}
	pool := NewPool(map[string]Dialer{"fake": dialer}, nil)

	c1, err := pool.Get(context.Background(), "fake", "web01", "deploy")
	require.NoError(t, err)
	c2, err := pool.Get(context.Background(), "fake", "web01", "deploy")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, dialer.dialed)
}

func TestPool_GetRedialsAfterFailedProbe(t *testing.T) {
	dialer := &fakeDialer{alive: true}
	calls := 0
	probe := func(ctx context.Context, conn Connection) bool {
		calls++
		return calls > 1
	}
	pool := NewPool(map[string]Dialer{"fake": dialer}, probe)

	first, err := pool.Get(context.Background(), "fake", "web01", "deploy")
	require.NoError(t, err)
	firstFake := first.(*fakeConn)

	second, err := pool.Get(context.Background(), "fake", "web01", "deploy")
	require.NoError(t, err)

	assert.True(t, firstFake.closed)
	assert.Equal(t, 2, dialer.dialed)
	assert.NotSame(t, first, second)
}

type flakyDialer struct {
	failures int
	dialed   int
}

func (d *flakyDialer) Dial(ctx context.Context, host, user string) (Connection, error) {
	d.dialed++
	if d.dialed <= d.failures {
		return nil, assert.AnError
	}
	return &fakeConn{id: host + "@" + user, alive: true}, nil
}

func TestPool_GetRetriesTransientDialFailures(t *testing.T) {
	dialer := &flakyDialer{failures: 2}
	pool := NewPool(map[string]Dialer{"fake": dialer}, nil)

	conn, err := pool.Get(context.Background(), "fake", "web01", "deploy")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 3, dialer.dialed)
}

func TestPool_GetReturnsErrorForUnknownScheme(t *testing.T) {
	pool := NewPool(map[string]Dialer{}, nil)
	_, err := pool.Get(context.Background(), "missing", "web01", "deploy")
	assert.Error(t, err)
}

func TestPool_EvictClosesAndRemoves(t *testing.T) {
	dialer := &fakeDialer{alive: true}
	pool := NewPool(map[string]Dialer{"fake": dialer}, nil)

	conn, err := pool.Get(context.Background(), "fake", "web01", "deploy")
	require.NoError(t, err)
	pool.Evict("web01", "deploy")

	assert.True(t, conn.(*fakeConn).closed)
	assert.Equal(t, 0, pool.Size())
}

func TestPool_CloseAllClosesEveryConnection(t *testing.T) {
	dialer := &fakeDialer{alive: true}
	pool := NewPool(map[string]Dialer{"fake": dialer}, nil)

	c1, _ := pool.Get(context.Background(), "fake", "web01", "deploy")
	c2, _ := pool.Get(context.Background(), "fake", "web02", "deploy")
	pool.CloseAll()

	assert.True(t, c1.(*fakeConn).closed)
	assert.True(t, c2.(*fakeConn).closed)
	assert.Equal(t, 0, pool.Size())
}
