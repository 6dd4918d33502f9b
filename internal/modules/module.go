// Package modules defines the unit-of-work contract every module
// implements and the registry the executor dispatches through.
package modules

import (
	"context"

	"github.com/rustible/rustible/internal/connection"
)

// Classification controls whether and how a module reaches a remote host.
type Classification string

const (
	// LocalLogic never touches a remote host; it runs entirely on the
	// control node regardless of the target, and is exempt from
	// connection setup.
	LocalLogic Classification = "local_logic"
	// NativeTransport runs on the control node but uses the
	// connection's primitive file/exec operations.
	NativeTransport Classification = "native_transport"
	// RemoteCommand shells out on the remote host via the connection.
	RemoteCommand Classification = "remote_command"
	// PythonFallback serializes arguments and invokes a compatibility
	// shim on the remote host.
	PythonFallback Classification = "python_fallback"
)

// ParallelizationHint is the scheduling constraint a module's
// classification and nature impose beyond the play's batch width.
type ParallelizationHint struct {
	Kind Hint
	RPS  float64 // only meaningful when Kind == RateLimited
}

// Hint enumerates the parallelization strategies a module may request.
type Hint string

const (
	FullyParallel  Hint = "fully_parallel"
	HostExclusive  Hint = "host_exclusive"
	RateLimited    Hint = "rate_limited"
	GlobalExclusive Hint = "global_exclusive"
)

// Status is the outcome classification of one module invocation.
type Status string

const (
	StatusChanged Status = "changed"
	StatusOk      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Diff describes a check-mode or real-run before/after comparison a
// module can optionally produce.
type Diff struct {
	Before string
	After  string
}

// Output is the result of one module invocation.
type Output struct {
	Changed bool
	Msg     string
	Status  Status
	Diff    *Diff
	Data    map[string]any
	Stdout  string
	Stderr  string
	RC      *int
}

// Validate enforces the status/changed invariants the contract requires:
// status == Changed implies changed == true, and Skipped/Failed always
// have changed == false.
func (o Output) Validate() error {
	if o.Status == StatusChanged && !o.Changed {
		return errInvariant("status Changed requires changed == true")
	}
	if (o.Status == StatusSkipped || o.Status == StatusFailed) && o.Changed {
		return errInvariant("status " + string(o.Status) + " requires changed == false")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }

// Context carries everything a module invocation needs beyond its args:
// execution mode flags, the layered variables and facts already
// flattened for template/condition use, and an optional connection for
// classifications that need one.
type Context struct {
	CheckMode  bool
	DiffMode   bool
	Vars       map[string]any
	Facts      map[string]any
	WorkDir    string
	BecomeUser   string
	BecomeMethod string
	Connection connection.Connection
}

// Module is a polymorphic unit of work matched by name from a task's
// invocation.
type Module interface {
	Name() string
	Description() string
	Classification() Classification
	ParallelizationHint() ParallelizationHint
	RequiredParams() []string
	OptionalParams() map[string]any
	ValidateParams(args map[string]any) error
	Execute(ctx context.Context, args map[string]any, mctx Context) (Output, error)
	Check(ctx context.Context, args map[string]any, mctx Context) (Output, error)
	Diff(ctx context.Context, args map[string]any, mctx Context) (*Diff, error)
}

// Base provides the descriptive metadata methods and the Diff default
// (none); a concrete module embeds Base, implements Execute and
// ValidateParams, and implements Check as a one-line call to
// CheckViaExecute against its own Execute.
type Base struct {
	ModuleName           string
	ModuleDescription     string
	ModuleClassification Classification
	Hint                 ParallelizationHint
	Required             []string
	Optional             map[string]any
}

func (b Base) Name() string                             { return b.ModuleName }
func (b Base) Description() string                      { return b.ModuleDescription }
func (b Base) Classification() Classification            { return b.ModuleClassification }
func (b Base) ParallelizationHint() ParallelizationHint  { return b.Hint }
func (b Base) RequiredParams() []string                  { return b.Required }
func (b Base) OptionalParams() map[string]any            { return b.Optional }

// Diff defaults to no diff.
func (b Base) Diff(ctx context.Context, args map[string]any, mctx Context) (*Diff, error) {
	return nil, nil
}

// CheckViaExecute implements the "check defaults to execute with
// check-mode set" rule as a reusable helper: a concrete module's own
// Check method calls this with its own Execute method as execute.
func CheckViaExecute(ctx context.Context, args map[string]any, mctx Context, execute func(context.Context, map[string]any, Context) (Output, error)) (Output, error) {
	mctx.CheckMode = true
	return execute(ctx, args, mctx)
}
