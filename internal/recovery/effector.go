package recovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/rustible/rustible/internal/connection"
)

// SystemEffector performs the host-level effects an undo operation needs.
// File operations run directly against the local filesystem (rollback's
// pre-image backups always live in a local checkpoint directory); service,
// package and user operations shell out through a connection.Connection,
// since those always act on the managed host rather than the control node,
// matching the original's "these are host-level effects" design.
type SystemEffector interface {
	ChangeServiceState(ctx context.Context, conn connection.Connection, service, targetState string) error
	RemovePackage(ctx context.Context, conn connection.Connection, name string) error
	InstallPackage(ctx context.Context, conn connection.Connection, name, version string) error
	DeleteUser(ctx context.Context, conn connection.Connection, username string) error
	RestoreUser(ctx context.Context, conn connection.Connection, username string, backupData map[string]any) error
}

// ConnectionResolver returns the live connection for host, used by
// RollbackManager to reach a SystemEffector's target without the rollback
// subsystem owning a connection pool itself.
type ConnectionResolver func(host string) (connection.Connection, error)

// serviceVerbs maps the StateChange.PreviousState values a service undo
// restores to onto the systemctl verb that reaches them.
var serviceVerbs = map[string]string{
	"running":   "start",
	"started":   "start",
	"active":    "start",
	"stopped":   "stop",
	"inactive":  "stop",
	"restarted": "restart",
	"enabled":   "enable",
	"disabled":  "disable",
}

// shellEffector is the default SystemEffector: it detects the host's
// service manager and package manager at the shell and issues the
// corresponding command, since rollback targets are arbitrary managed
// hosts rather than a single known distribution.
type shellEffector struct{}

// NewShellEffector returns the default SystemEffector, which shells out
// through whatever Connection it is given.
func NewShellEffector() SystemEffector {
	return shellEffector{}
}

func (shellEffector) ChangeServiceState(ctx context.Context, conn connection.Connection, service, targetState string) error {
	verb, ok := serviceVerbs[strings.ToLower(targetState)]
	if !ok {
		return fmt.Errorf("system effector: unsupported target service state %q", targetState)
	}
	return runEffectorCommand(ctx, conn, fmt.Sprintf("systemctl %s %s", verb, shellQuote(service)))
}

func (shellEffector) RemovePackage(ctx context.Context, conn connection.Connection, name string) error {
	return runEffectorCommand(ctx, conn, packageManagerScript(
		fmt.Sprintf("apt-get remove -y %s", shellQuote(name)),
		fmt.Sprintf("dnf remove -y %s", shellQuote(name)),
		fmt.Sprintf("yum remove -y %s", shellQuote(name)),
		fmt.Sprintf("apk del %s", shellQuote(name)),
	))
}

func (shellEffector) InstallPackage(ctx context.Context, conn connection.Connection, name, version string) error {
	spec := name
	if version != "" {
		spec = name + "=" + version
	}
	return runEffectorCommand(ctx, conn, packageManagerScript(
		fmt.Sprintf("apt-get install -y %s", shellQuote(spec)),
		fmt.Sprintf("dnf install -y %s", shellQuote(spec)),
		fmt.Sprintf("yum install -y %s", shellQuote(spec)),
		fmt.Sprintf("apk add %s", shellQuote(spec)),
	))
}

func (shellEffector) DeleteUser(ctx context.Context, conn connection.Connection, username string) error {
	return runEffectorCommand(ctx, conn, fmt.Sprintf("userdel -r %s", shellQuote(username)))
}

// RestoreUser recreates a user from the BackupData a ChangeUserModified or
// ChangeUserDeleted StateChange recorded. Only the fields the original
// backup actually carried are restored; a backup missing a field is
// skipped rather than guessed at.
func (shellEffector) RestoreUser(ctx context.Context, conn connection.Connection, username string, backupData map[string]any) error {
	if len(backupData) == 0 {
		return fmt.Errorf("system effector: no backup data recorded for user %q, cannot restore", username)
	}

	args := []string{"useradd", "-m"}
	if shell, ok := backupData["shell"].(string); ok && shell != "" {
		args = append(args, "-s", shellQuote(shell))
	}
	if home, ok := backupData["home"].(string); ok && home != "" {
		args = append(args, "-d", shellQuote(home))
	}
	if uid, ok := backupData["uid"].(string); ok && uid != "" {
		args = append(args, "-u", shellQuote(uid))
	}
	if groups, ok := backupData["groups"].(string); ok && groups != "" {
		args = append(args, "-G", shellQuote(groups))
	}
	args = append(args, shellQuote(username))

	return runEffectorCommand(ctx, conn, fmt.Sprintf(
		"id %s >/dev/null 2>&1 || %s", shellQuote(username), strings.Join(args, " "),
	))
}

// packageManagerScript builds a single shell command trying each package
// manager invocation in order, stopping at the first one whose binary is
// present, so one undo operation works across apt/dnf/yum/apk hosts
// without the rollback subsystem needing to know the target's distro.
func packageManagerScript(apt, dnf, yum, apk string) string {
	return fmt.Sprintf(
		"if command -v apt-get >/dev/null 2>&1; then %s; "+
			"elif command -v dnf >/dev/null 2>&1; then %s; "+
			"elif command -v yum >/dev/null 2>&1; then %s; "+
			"elif command -v apk >/dev/null 2>&1; then %s; "+
			"else echo 'no supported package manager found' >&2; exit 1; fi",
		apt, dnf, yum, apk,
	)
}

func runEffectorCommand(ctx context.Context, conn connection.Connection, command string) error {
	if conn == nil {
		return fmt.Errorf("system effector: no connection available to run %q", command)
	}
	result, err := conn.Execute(ctx, command, connection.ExecuteOptions{})
	if err != nil {
		return fmt.Errorf("system effector: %q failed: %w", command, err)
	}
	if !result.Success {
		return fmt.Errorf("system effector: %q exited %d: %s", command, result.RC, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
