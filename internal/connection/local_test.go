package connection

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_ExecuteReturnsStdoutAndSuccess(t *testing.T) {
	l := NewLocal()
	result, err := l.Execute(context.Background(), "echo hello", ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.RC)
}

func TestLocal_ExecuteCapturesNonZeroExit(t *testing.T) {
	l := NewLocal()
	result, err := l.Execute(context.Background(), "exit 7", ExecuteOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 7, result.RC)
}

func TestLocal_PutFileAndFetchFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	l := NewLocal()
	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, l.PutFile(context.Background(), src, dst, ExecuteOptions{}))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	fetched := filepath.Join(dir, "fetched.txt")
	require.NoError(t, l.FetchFile(context.Background(), dst, fetched, ExecuteOptions{}))
	got, err = os.ReadFile(fetched)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestWrapEscalation_SudoWithUser(t *testing.T) {
	got := wrapEscalation("whoami", ExecuteOptions{EscalateMethod: EscalateSudo, EscalateUser: "deploy"})
	assert.Equal(t, "sudo -n -u deploy -- whoami", got)
}

func TestWrapEscalation_NoEscalation(t *testing.T) {
	got := wrapEscalation("whoami", ExecuteOptions{})
	assert.Equal(t, "whoami", got)
}
