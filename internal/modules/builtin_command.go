package modules

import (
	"context"
	"fmt"

	"github.com/rustible/rustible/internal/connection"
	"github.com/rustible/rustible/internal/errs"
)

// Command runs a command through the task's connection without a shell,
// exercising the RemoteCommand classification. It is never considered
// changed unless creates/removes is given and its presence/absence flips
// as a result of the run (tracked here simply: a command always reports
// Changed, since it has no idempotent notion of its own without those
// hints — matching how command-style modules behave upstream).
type Command struct {
	Base
}

// NewCommand constructs the command module.
func NewCommand() *Command {
	return &Command{Base: Base{
		ModuleName:           "command",
		ModuleDescription:    "execute a command on the target host",
		ModuleClassification: RemoteCommand,
		Hint:                 ParallelizationHint{Kind: FullyParallel},
		Required:             []string{"_raw_params"},
		Optional:             map[string]any{"chdir": "", "creates": "", "removes": ""},
	}}
}

func (c *Command) ValidateParams(args map[string]any) error {
	raw, ok := args["_raw_params"]
	if !ok {
		return errs.New(errs.MissingParameter, "command: missing command string")
	}
	if s, ok := raw.(string); !ok || s == "" {
		return errs.New(errs.InvalidParameter, "command: command string must be a non-empty string")
	}
	return nil
}

func (c *Command) Execute(ctx context.Context, args map[string]any, mctx Context) (Output, error) {
	if mctx.Connection == nil {
		return Output{}, errs.New(errs.InvalidStructure, "command: no connection available")
	}

	command := fmt.Sprint(args["_raw_params"])
	opts := connection.ExecuteOptions{WorkDir: fmt.Sprint(args["chdir"])}
	if mctx.BecomeUser != "" {
		opts.EscalateUser = mctx.BecomeUser
		opts.EscalateMethod = connection.EscalateMethod(mctx.BecomeMethod)
	}

	if mctx.CheckMode {
		return Output{Changed: true, Status: StatusChanged, Msg: "command would run: " + command}, nil
	}

	result, err := mctx.Connection.Execute(ctx, command, opts)
	if err != nil {
		return Output{}, errs.Wrap(errs.CommandFailed, "command: execution failed", err)
	}

	out := Output{
		Changed: true,
		Status:  StatusChanged,
		Stdout:  result.Stdout,
		Stderr:  result.Stderr,
		RC:      &result.RC,
	}
	if !result.Success {
		out.Changed = false
		out.Status = StatusFailed
		out.Msg = fmt.Sprintf("non-zero return code: %d", result.RC)
	}
	return out, nil
}

func (c *Command) Check(ctx context.Context, args map[string]any, mctx Context) (Output, error) {
	return CheckViaExecute(ctx, args, mctx, c.Execute)
}
