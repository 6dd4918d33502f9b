package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustible/rustible/internal/connection"
)

type fakeEffectorConn struct {
	commands []string
	result   connection.CommandResult
	err      error
}

func (c *fakeEffectorConn) Identifier() string { return "fake" }
func (c *fakeEffectorConn) Execute(ctx context.Context, command string, opts connection.ExecuteOptions) (connection.CommandResult, error) {
	c.commands = append(c.commands, command)
	if c.err != nil {
		return connection.CommandResult{}, c.err
	}
	return c.result, nil
}
func (c *fakeEffectorConn) PutFile(ctx context.Context, local, remote string, opts connection.ExecuteOptions) error {
	return nil
}
func (c *fakeEffectorConn) FetchFile(ctx context.Context, remote, local string, opts connection.ExecuteOptions) error {
	return nil
}
func (c *fakeEffectorConn) Close() error { return nil }

func TestShellEffector_ChangeServiceStateRejectsUnknownTargetState(t *testing.T) {
	eff := NewShellEffector()
	conn := &fakeEffectorConn{result: connection.CommandResult{Success: true}}
	err := eff.ChangeServiceState(context.Background(), conn, "nginx", "quiescent")
	assert.Error(t, err)
	assert.Empty(t, conn.commands)
}

func TestShellEffector_InstallPackageIncludesVersionPin(t *testing.T) {
	eff := NewShellEffector()
	conn := &fakeEffectorConn{result: connection.CommandResult{Success: true}}
	require.NoError(t, eff.InstallPackage(context.Background(), conn, "curl", "7.88.0"))
	require.Len(t, conn.commands, 1)
	assert.Contains(t, conn.commands[0], "apt-get install -y 'curl=7.88.0'")
}

func TestShellEffector_NonZeroExitSurfacesAsError(t *testing.T) {
	eff := NewShellEffector()
	conn := &fakeEffectorConn{result: connection.CommandResult{Success: false, RC: 1, Stderr: "unit not found"}}
	err := eff.DeleteUser(context.Background(), conn, "deploy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit not found")
}

func TestShellEffector_RestoreUserWithoutBackupDataFails(t *testing.T) {
	eff := NewShellEffector()
	conn := &fakeEffectorConn{result: connection.CommandResult{Success: true}}
	err := eff.RestoreUser(context.Background(), conn, "deploy", nil)
	assert.Error(t, err)
	assert.Empty(t, conn.commands)
}

func TestShellEffector_RestoreUserUsesRecordedFields(t *testing.T) {
	eff := NewShellEffector()
	conn := &fakeEffectorConn{result: connection.CommandResult{Success: true}}
	err := eff.RestoreUser(context.Background(), conn, "deploy", map[string]any{
		"shell": "/bin/bash",
		"home":  "/home/deploy",
	})
	require.NoError(t, err)
	require.Len(t, conn.commands, 1)
	assert.Contains(t, conn.commands[0], "-s '/bin/bash'")
	assert.Contains(t, conn.commands[0], "-d '/home/deploy'")
}
