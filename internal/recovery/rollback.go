// Package recovery implements the retry, checkpoint, rollback, transaction,
// circuit-breaker and graceful-degradation subsystems that sit above the
// executor. Each subsystem is independently opt-in through RecoveryConfig.
package recovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustible/rustible/infrastructure/logging"
	"github.com/rustible/rustible/infrastructure/metrics"
	"github.com/rustible/rustible/internal/connection"
)

// RollbackState is the lifecycle of a RollbackContext.
type RollbackState string

const (
	RollbackActive     RollbackState = "active"
	RollbackRollingBack RollbackState = "rolling_back"
	RollbackRolledBack RollbackState = "rolled_back"
	RollbackFailed     RollbackState = "failed"
	RollbackCommitted  RollbackState = "committed"
)

// StateChangeKind discriminates the StateChange union.
type StateChangeKind string

const (
	ChangeFileCreated          StateChangeKind = "file_created"
	ChangeFileModified         StateChangeKind = "file_modified"
	ChangeFileDeleted          StateChangeKind = "file_deleted"
	ChangeDirectoryCreated     StateChangeKind = "directory_created"
	ChangeServiceStateChanged  StateChangeKind = "service_state_changed"
	ChangePackageInstalled     StateChangeKind = "package_installed"
	ChangePackageRemoved       StateChangeKind = "package_removed"
	ChangeUserCreated          StateChangeKind = "user_created"
	ChangeUserModified         StateChangeKind = "user_modified"
	ChangeUserDeleted          StateChangeKind = "user_deleted"
	ChangeCustom               StateChangeKind = "custom"
)

// rollbackPriority gives each StateChangeKind its undo priority: higher runs
// first during rollback. Values mirror the magnitude of the blast radius of
// leaving the change in place (service state > user/package > file > dir).
var rollbackPriority = map[StateChangeKind]int{
	ChangeFileCreated:         10,
	ChangeFileModified:        20,
	ChangeFileDeleted:         20,
	ChangeDirectoryCreated:    5,
	ChangeServiceStateChanged: 30,
	ChangePackageInstalled:    15,
	ChangePackageRemoved:      15,
	ChangeUserCreated:         25,
	ChangeUserModified:        25,
	ChangeUserDeleted:         25,
	ChangeCustom:              0,
}

// StateChange records one reversible effect the executor (or a module
// callback) produced on a host. Exactly one of the optional fields is
// populated depending on Kind.
type StateChange struct {
	Kind StateChangeKind

	Path       string // file/directory changes
	BackupPath string // file_modified, file_deleted: where the pre-image lives

	Service          string // service_state_changed
	PreviousState    string
	NewState         string

	Name    string // package_installed/removed
	Version string

	Username     string            // user_* changes
	BackupData   map[string]any

	CustomDescription string // custom
	UndoCommand       string
	UndoArgs          []string

	// Host is the managed host the change happened on. Required for
	// service/package/user changes, which undo through that host's
	// connection rather than locally.
	Host string
}

// Description renders a human-readable summary, grounded on the same
// per-kind phrasing the original rollback log messages used.
func (c StateChange) Description() string {
	switch c.Kind {
	case ChangeFileCreated:
		return fmt.Sprintf("created file: %s", c.Path)
	case ChangeFileModified:
		return fmt.Sprintf("modified file: %s", c.Path)
	case ChangeFileDeleted:
		return fmt.Sprintf("deleted file: %s", c.Path)
	case ChangeDirectoryCreated:
		return fmt.Sprintf("created directory: %s", c.Path)
	case ChangeServiceStateChanged:
		return fmt.Sprintf("changed service %q from %s to %s", c.Service, c.PreviousState, c.NewState)
	case ChangePackageInstalled:
		if c.Version != "" {
			return fmt.Sprintf("installed package: %s=%s", c.Name, c.Version)
		}
		return fmt.Sprintf("installed package: %s", c.Name)
	case ChangePackageRemoved:
		return fmt.Sprintf("removed package: %s", c.Name)
	case ChangeUserCreated:
		return fmt.Sprintf("created user: %s", c.Username)
	case ChangeUserModified:
		return fmt.Sprintf("modified user: %s", c.Username)
	case ChangeUserDeleted:
		return fmt.Sprintf("deleted user: %s", c.Username)
	default:
		return c.CustomDescription
	}
}

// UndoOperationKind discriminates the UndoOperation union.
type UndoOperationKind string

const (
	UndoDeleteFile          UndoOperationKind = "delete_file"
	UndoRestoreFile         UndoOperationKind = "restore_file"
	UndoDeleteDirectory     UndoOperationKind = "delete_directory"
	UndoChangeServiceState  UndoOperationKind = "change_service_state"
	UndoRemovePackage       UndoOperationKind = "remove_package"
	UndoInstallPackage      UndoOperationKind = "install_package"
	UndoDeleteUser          UndoOperationKind = "delete_user"
	UndoRestoreUser         UndoOperationKind = "restore_user"
	UndoExecuteCommand      UndoOperationKind = "execute_command"
	UndoNoOp                UndoOperationKind = "no_op"
)

// UndoOperation is the concrete action a RollbackAction executes.
type UndoOperation struct {
	Kind UndoOperationKind

	Path       string
	BackupPath string
	Recursive  bool

	Service     string
	TargetState string

	Name    string
	Version string

	Username   string
	BackupData map[string]any

	Command string
	Args    []string

	Host   string
	Reason string
}

// RollbackAction pairs an UndoOperation with its scheduling metadata.
type RollbackAction struct {
	Operation      UndoOperation
	Description    string
	Priority       int
	Critical       bool
	OriginalChange *StateChange
}

// RollbackActionFromStateChange derives the undo action for a recorded
// change, matching the per-kind operation/description/priority table.
func RollbackActionFromStateChange(change StateChange) RollbackAction {
	var (
		op          UndoOperation
		description string
	)

	switch change.Kind {
	case ChangeFileCreated:
		op = UndoOperation{Kind: UndoDeleteFile, Path: change.Path}
		description = fmt.Sprintf("delete created file: %s", change.Path)

	case ChangeFileModified:
		if change.BackupPath == "" {
			op = UndoOperation{Kind: UndoNoOp, Reason: fmt.Sprintf("no backup available for modified file: %s", change.Path)}
			description = fmt.Sprintf("cannot restore file (no backup): %s", change.Path)
			break
		}
		op = UndoOperation{Kind: UndoRestoreFile, Path: change.Path, BackupPath: change.BackupPath}
		description = fmt.Sprintf("restore file from backup: %s", change.Path)

	case ChangeFileDeleted:
		op = UndoOperation{Kind: UndoRestoreFile, Path: change.Path, BackupPath: change.BackupPath}
		description = fmt.Sprintf("restore deleted file: %s", change.Path)

	case ChangeDirectoryCreated:
		op = UndoOperation{Kind: UndoDeleteDirectory, Path: change.Path, Recursive: true}
		description = fmt.Sprintf("delete created directory: %s", change.Path)

	case ChangeServiceStateChanged:
		op = UndoOperation{Kind: UndoChangeServiceState, Service: change.Service, TargetState: change.PreviousState, Host: change.Host}
		description = fmt.Sprintf("restore service %q to state: %s", change.Service, change.PreviousState)

	case ChangePackageInstalled:
		op = UndoOperation{Kind: UndoRemovePackage, Name: change.Name, Host: change.Host}
		description = fmt.Sprintf("remove installed package: %s", change.Name)

	case ChangePackageRemoved:
		op = UndoOperation{Kind: UndoInstallPackage, Name: change.Name, Version: change.Version, Host: change.Host}
		description = fmt.Sprintf("reinstall removed package: %s", change.Name)

	case ChangeUserCreated:
		op = UndoOperation{Kind: UndoDeleteUser, Username: change.Username, Host: change.Host}
		description = fmt.Sprintf("delete created user: %s", change.Username)

	case ChangeUserModified:
		op = UndoOperation{Kind: UndoRestoreUser, Username: change.Username, BackupData: change.BackupData, Host: change.Host}
		description = fmt.Sprintf("restore user %q to previous state", change.Username)

	case ChangeUserDeleted:
		op = UndoOperation{Kind: UndoRestoreUser, Username: change.Username, BackupData: change.BackupData, Host: change.Host}
		description = fmt.Sprintf("restore deleted user: %s", change.Username)

	default: // ChangeCustom
		if change.UndoCommand != "" {
			op = UndoOperation{Kind: UndoExecuteCommand, Command: change.UndoCommand, Args: change.UndoArgs}
		} else {
			op = UndoOperation{Kind: UndoNoOp, Reason: "no undo command specified"}
		}
		description = fmt.Sprintf("undo: %s", change.CustomDescription)
	}

	changeCopy := change
	return RollbackAction{
		Operation:      op,
		Description:    description,
		Priority:       rollbackPriority[change.Kind],
		Critical:       false,
		OriginalChange: &changeCopy,
	}
}

// RollbackPlan is the ordered set of actions synthesized for a context.
type RollbackPlan struct {
	ContextID string
	Actions   []RollbackAction
	Complete  bool
	CreatedAt time.Time
}

// SortByPriority orders actions highest-priority first, preserving the
// original (reverse-chronological) order as a stable tie-breaker.
func (p *RollbackPlan) SortByPriority() {
	sort.SliceStable(p.Actions, func(i, j int) bool {
		return p.Actions[i].Priority > p.Actions[j].Priority
	})
}

// RollbackContext tracks the changes recorded during one rollback-protected
// unit of work (typically a play or a block).
type RollbackContext struct {
	ID          string
	Description string
	State       RollbackState
	Changes     []StateChange
	CreatedAt   time.Time
}

func newRollbackID() string {
	id := uuid.New()
	random := binary.BigEndian.Uint32(id[:4])
	return fmt.Sprintf("rb-%d-%08x", time.Now().UnixNano(), random)
}

// RollbackManager hands out contexts, records state changes against them,
// and executes the resulting rollback plans.
type RollbackManager struct {
	mu       sync.Mutex
	contexts map[string]*RollbackContext
	plans    map[string]*RollbackPlan
	logger   *logging.Logger

	effector    SystemEffector
	connections ConnectionResolver
}

func NewRollbackManager(logger *logging.Logger) *RollbackManager {
	if logger == nil {
		logger = logging.NewFromEnv("recovery")
	}
	return &RollbackManager{
		contexts: make(map[string]*RollbackContext),
		plans:    make(map[string]*RollbackPlan),
		logger:   logger,
		effector: NewShellEffector(),
	}
}

// WithConnectionResolver attaches the resolver service/package/user undo
// operations use to reach the target host's connection. Without one, those
// operations fail with a descriptive error rather than silently no-op.
func (m *RollbackManager) WithConnectionResolver(resolver ConnectionResolver) *RollbackManager {
	m.connections = resolver
	return m
}

// WithEffector overrides the default shell-based SystemEffector, mainly for
// tests.
func (m *RollbackManager) WithEffector(effector SystemEffector) *RollbackManager {
	m.effector = effector
	return m
}

// BeginContext starts tracking a new rollback-protected unit of work.
func (m *RollbackManager) BeginContext() *RollbackContext {
	ctx := &RollbackContext{
		ID:        newRollbackID(),
		State:     RollbackActive,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.contexts[ctx.ID] = ctx
	m.mu.Unlock()
	return ctx
}

// RecordChange appends a state change to an active context.
func (m *RollbackManager) RecordChange(contextID string, change StateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.contexts[contextID]
	if !ok {
		return fmt.Errorf("rollback context not found: %s", contextID)
	}
	if ctx.State != RollbackActive {
		return fmt.Errorf("rollback context %s is not active (state: %s)", contextID, ctx.State)
	}
	ctx.Changes = append(ctx.Changes, change)
	return nil
}

// CreateRollbackPlan builds the ordered undo plan for a context: actions are
// derived in reverse-chronological order, then stably sorted by priority.
func (m *RollbackManager) CreateRollbackPlan(contextID string) (*RollbackPlan, error) {
	m.mu.Lock()
	ctx, ok := m.contexts[contextID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("rollback context not found: %s", contextID)
	}

	plan := &RollbackPlan{ContextID: contextID, CreatedAt: time.Now()}
	for i := len(ctx.Changes) - 1; i >= 0; i-- {
		plan.Actions = append(plan.Actions, RollbackActionFromStateChange(ctx.Changes[i]))
	}
	plan.SortByPriority()

	m.mu.Lock()
	m.plans[contextID] = plan
	m.mu.Unlock()

	return plan, nil
}

// ExecuteRollbackAction performs one undo operation. A failed action whose
// Critical flag is set is returned as an error to the caller (which aborts
// the rollback); non-critical failures are the caller's to log and skip.
func (m *RollbackManager) ExecuteRollbackAction(ctx context.Context, action RollbackAction) error {
	switch action.Operation.Kind {
	case UndoDeleteFile:
		return removeIfExists(action.Operation.Path, false)

	case UndoRestoreFile:
		return restoreFile(ctx, action.Operation.Path, action.Operation.BackupPath, m.logger)

	case UndoDeleteDirectory:
		return removeIfExists(action.Operation.Path, action.Operation.Recursive)

	case UndoChangeServiceState:
		conn, err := m.connectionFor(action.Operation.Host)
		if err != nil {
			return err
		}
		return m.effector.ChangeServiceState(ctx, conn, action.Operation.Service, action.Operation.TargetState)

	case UndoRemovePackage:
		conn, err := m.connectionFor(action.Operation.Host)
		if err != nil {
			return err
		}
		return m.effector.RemovePackage(ctx, conn, action.Operation.Name)

	case UndoInstallPackage:
		conn, err := m.connectionFor(action.Operation.Host)
		if err != nil {
			return err
		}
		return m.effector.InstallPackage(ctx, conn, action.Operation.Name, action.Operation.Version)

	case UndoDeleteUser:
		conn, err := m.connectionFor(action.Operation.Host)
		if err != nil {
			return err
		}
		return m.effector.DeleteUser(ctx, conn, action.Operation.Username)

	case UndoRestoreUser:
		conn, err := m.connectionFor(action.Operation.Host)
		if err != nil {
			return err
		}
		return m.effector.RestoreUser(ctx, conn, action.Operation.Username, action.Operation.BackupData)

	case UndoExecuteCommand:
		cmd := exec.CommandContext(ctx, action.Operation.Command, action.Operation.Args...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("rollback command failed: %s (%s): %w", action.Operation.Command, string(out), err)
		}
		return nil

	case UndoNoOp:
		return nil

	default:
		return fmt.Errorf("unknown undo operation: %s", action.Operation.Kind)
	}
}

// ExecuteRollback builds and runs the full plan for a context, logging (but
// not aborting on) non-critical action failures.
func (m *RollbackManager) ExecuteRollback(ctx context.Context, contextID string) error {
	plan, err := m.CreateRollbackPlan(contextID)
	if err != nil {
		return err
	}

	for _, action := range plan.Actions {
		err := m.ExecuteRollbackAction(ctx, action)
		m.logger.LogRollback(ctx, contextID, action.Operation.Kind.string(), action.Critical, err)
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		metrics.Global().RecordRollback(string(action.Operation.Kind), outcome)
		if err != nil {
			if action.Critical {
				return m.failRollback(contextID, fmt.Errorf("critical rollback action failed: %w", err))
			}
			continue
		}
	}

	return m.completeRollback(contextID)
}

func (m *RollbackManager) completeRollback(contextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[contextID]
	if !ok {
		return fmt.Errorf("rollback context not found: %s", contextID)
	}
	ctx.State = RollbackRolledBack
	return nil
}

func (m *RollbackManager) failRollback(contextID string, cause error) error {
	m.mu.Lock()
	ctx, ok := m.contexts[contextID]
	if ok {
		ctx.State = RollbackFailed
	}
	m.mu.Unlock()
	return cause
}

// Commit marks a context as needing no rollback.
func (m *RollbackManager) Commit(contextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[contextID]
	if !ok {
		return fmt.Errorf("rollback context not found: %s", contextID)
	}
	ctx.State = RollbackCommitted
	return nil
}

// Context returns the context by ID, if any.
func (m *RollbackManager) Context(contextID string) (*RollbackContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[contextID]
	return ctx, ok
}

// Plan returns the last plan built for a context, if any.
func (m *RollbackManager) Plan(contextID string) (*RollbackPlan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[contextID]
	return plan, ok
}

// connectionFor resolves the Connection a service/package/user undo
// operation needs, returning a descriptive error instead of reaching for a
// nil connection when no resolver was configured.
func (m *RollbackManager) connectionFor(host string) (connection.Connection, error) {
	if m.connections == nil {
		return nil, fmt.Errorf("rollback: no connection resolver configured, cannot reach host %q", host)
	}
	if host == "" {
		return nil, fmt.Errorf("rollback: undo operation has no host recorded")
	}
	return m.connections(host)
}

func (k UndoOperationKind) string() string { return string(k) }

func removeIfExists(path string, recursive bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if recursive {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}

func restoreFile(ctx context.Context, path, backupPath string, logger *logging.Logger) error {
	if _, err := os.Stat(backupPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warn(ctx, "backup file not found, cannot restore", map[string]interface{}{
				"path": path, "backup_path": backupPath,
			})
			return nil
		}
		return err
	}

	src, err := os.Open(backupPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
