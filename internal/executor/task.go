package executor

import (
	"context"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustible/rustible/infrastructure/metrics"
	"github.com/rustible/rustible/infrastructure/redaction"
	"github.com/rustible/rustible/internal/model"
	"github.com/rustible/rustible/internal/modules"
	"github.com/rustible/rustible/internal/vars"
)

// outputRedactor scrubs secret-shaped substrings (API keys, bearer tokens,
// passwords) out of module stdout/stderr as defense in depth, independent
// of whether the task itself is marked no_log.
var outputRedactor = redaction.NewRedactor(redaction.DefaultConfig())

// runTaskOnHost executes one task (a module invocation or a block) fully
// for one host and returns its terminal status. suppressLatch is true for
// block children that a sibling rescue might still recover from; such a
// child's own failure must not latch the host as permanently failed.
func (e *Executor) runTaskOnHost(ctx context.Context, play *model.Play, task *model.Task, host string, scopes map[string]*vars.Scope, pending *handlerSet, res *Result, fatal *atomic.Bool, suppressLatch bool) TaskStatus {
	if task.IsBlock() {
		return e.runBlockOnHost(ctx, play, task, host, scopes, pending, res, fatal)
	}
	return e.runSingleTaskOnHost(ctx, play, task, host, scopes, pending, res, fatal, suppressLatch)
}

func (e *Executor) runBlockOnHost(ctx context.Context, play *model.Play, block *model.Task, host string, scopes map[string]*vars.Scope, pending *handlerSet, res *Result, fatal *atomic.Bool) TaskStatus {
	blockFailed := false
	anyChanged := false
	hasRescue := len(block.Rescue) > 0

	for i := range block.Block {
		status := e.runTaskOnHost(ctx, play, &block.Block[i], host, scopes, pending, res, fatal, hasRescue)
		if status == StatusFailed {
			blockFailed = true
			break
		}
		if status == StatusChanged {
			anyChanged = true
		}
	}

	if blockFailed && hasRescue {
		blockFailed = false
		for i := range block.Rescue {
			status := e.runTaskOnHost(ctx, play, &block.Rescue[i], host, scopes, pending, res, fatal, false)
			if status == StatusFailed {
				blockFailed = true
				break
			}
			if status == StatusChanged {
				anyChanged = true
			}
		}
	}

	for i := range block.Always {
		status := e.runTaskOnHost(ctx, play, &block.Always[i], host, scopes, pending, res, fatal, false)
		if status == StatusFailed {
			blockFailed = true
		}
		if status == StatusChanged {
			anyChanged = true
		}
	}

	if blockFailed && !block.IgnoreErrors {
		res.latchFailure(host)
	}

	switch {
	case blockFailed:
		return StatusFailed
	case anyChanged:
		return StatusChanged
	default:
		return StatusOk
	}
}

func (e *Executor) runSingleTaskOnHost(ctx context.Context, play *model.Play, task *model.Task, host string, scopes map[string]*vars.Scope, pending *handlerSet, res *Result, fatal *atomic.Bool, suppressLatch bool) TaskStatus {
	if !taskRunsForTags(task.Tags, e.Opts.Tags) {
		return e.finish(res, host, task, modules.Output{Status: modules.StatusSkipped}, nil, time.Now(), time.Now(), 0, suppressLatch)
	}

	scope := scopes[host]
	if task.Vars != nil {
		scope = scope.With(vars.LevelTask, task.Vars)
	}

	if !task.When.IsEmpty() {
		ok, err := e.Evaluator.EvaluateCondition(ctx, task.When.Conditions, scope)
		if err != nil || !ok {
			return e.finish(res, host, task, modules.Output{Status: modules.StatusSkipped}, nil, time.Now(), time.Now(), 0, suppressLatch)
		}
	}

	loopNode := task.Loop
	if loopNode == nil {
		loopNode = task.WithItems
	}
	if loopNode == nil {
		return e.invokeOnce(ctx, play, task, host, scope, scopes, pending, res, fatal, nil, 0, suppressLatch)
	}

	items, err := e.resolveLoopItems(loopNode, scope)
	if err != nil {
		return e.finish(res, host, task, modules.Output{Status: modules.StatusFailed, Msg: err.Error()}, err, time.Now(), time.Now(), 0, suppressLatch)
	}

	worst := StatusSkipped
	for idx, item := range items {
		status := e.invokeOnce(ctx, play, task, host, scope, scopes, pending, res, fatal, item, idx, suppressLatch)
		worst = worseStatus(worst, status)
	}
	return worst
}

func (e *Executor) invokeOnce(ctx context.Context, play *model.Play, task *model.Task, host string, scope *vars.Scope, scopes map[string]*vars.Scope, pending *handlerSet, res *Result, fatal *atomic.Bool, item any, index int, suppressLatch bool) TaskStatus {
	iterScope := scope
	if item != nil {
		loopVar := task.LoopControl.LoopVar
		if loopVar == "" {
			loopVar = model.DefaultLoopVar
		}
		iterScope = scope.With(vars.LevelLoop, vars.LoopVars(loopVar, task.LoopControl.IndexVar, item, index))
	}

	args, err := e.renderArgs(task.Invocation.Args, iterScope)
	if err != nil {
		return e.finish(res, host, task, modules.Output{Status: modules.StatusFailed, Msg: err.Error()}, err, time.Now(), time.Now(), 0, suppressLatch)
	}

	mctx := modules.Context{
		CheckMode: e.Opts.CheckMode,
		DiffMode:  e.Opts.DiffMode,
		Vars:      iterScope.Flatten(),
		WorkDir:   "",
	}
	if task.Become != nil && task.Become.Enabled {
		mctx.BecomeUser = task.Become.User
		mctx.BecomeMethod = task.Become.Method
	}

	m, known := e.Registry.Lookup(task.Invocation.Module)
	var hint modules.ParallelizationHint
	if known {
		hint = m.ParallelizationHint()
		if m.Classification() != modules.LocalLogic {
			conn, cerr := e.Pool.Get(ctx, e.Scheme, host, mctx.BecomeUser)
			if cerr != nil {
				return e.finish(res, host, task, modules.Output{}, cerr, time.Now(), time.Now(), 0, suppressLatch)
			}
			mctx.Connection = conn
		}
	}

	release, gerr := e.gate.acquire(ctx, host, hint)
	if gerr != nil {
		return e.finish(res, host, task, modules.Output{}, gerr, time.Now(), time.Now(), 0, suppressLatch)
	}
	defer release()

	start := time.Now()
	attempts := 1
	if !task.Until.IsEmpty() {
		attempts = task.Retries + 1
		if attempts < 1 {
			attempts = 1
		}
	}

	var out modules.Output
	var callErr error
	attemptCount := 0
	for attempt := 0; attempt < attempts; attempt++ {
		attemptCount++
		out, callErr = e.Registry.Execute(ctx, task.Invocation.Module, args, mctx)
		if task.Until.IsEmpty() {
			break
		}
		resultScope := iterScope.Merge(vars.LevelFacts, registerBinding(out, callErr))
		ok, _ := e.Evaluator.EvaluateCondition(ctx, task.Until.Conditions, resultScope)
		if ok {
			break
		}
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				callErr = ctx.Err()
			case <-time.After(task.Delay):
			}
		}
	}
	finished := time.Now()

	overrideScope := iterScope.Merge(vars.LevelFacts, registerBinding(out, callErr))
	if !task.ChangedWhen.IsEmpty() {
		ok, _ := e.Evaluator.EvaluateCondition(ctx, task.ChangedWhen.Conditions, overrideScope)
		if ok {
			out.Changed = true
			out.Status = modules.StatusChanged
		} else {
			out.Changed = false
			if out.Status == modules.StatusChanged {
				out.Status = modules.StatusOk
			}
		}
	}
	if !task.FailedWhen.IsEmpty() {
		ok, _ := e.Evaluator.EvaluateCondition(ctx, task.FailedWhen.Conditions, overrideScope)
		if ok {
			out.Status = modules.StatusFailed
			callErr = nil
		} else if out.Status == modules.StatusFailed {
			out.Status = modules.StatusOk
			out.Changed = false
		}
	}

	if task.Register != "" {
		binding := registerBinding(out, callErr)
		scopes[host] = scopes[host].Merge(vars.LevelFacts, map[string]any{task.Register: binding})
	}

	status := e.finish(res, host, task, out, callErr, start, finished, attemptCount, suppressLatch)

	if status == StatusChanged && len(task.Notify) > 0 {
		pending.enqueue(host, task.Notify)
	}

	return status
}

// redactNoLog enforces spec's no_log guarantee: a no_log task persists
// only {module, status} plus the bookkeeping fields the store needs to key
// and time the record (host, task id, timestamps, attempt count). Args,
// stdout, stderr, rc and msg never reach the state store, telemetry spans,
// or a checkpoint for such a task.
func redactNoLog(rec TaskRecord) TaskRecord {
	rec.Args = nil
	rec.Stdout = ""
	rec.Stderr = ""
	rec.RC = nil
	rec.Msg = ""
	return rec
}

// finish classifies the module outcome, applies ignore_errors/
// ignore_unreachable downgrades for propagation, and records it.
func (e *Executor) finish(res *Result, host string, task *model.Task, out modules.Output, callErr error, start, end time.Time, attempts int, suppressLatch bool) TaskStatus {
	status := StatusFailed
	switch {
	case callErr != nil:
		status = StatusFailed
	default:
		status = statusFromModule(out.Status)
	}

	rec := TaskRecord{
		Host:         host,
		Module:       moduleNameOf(task),
		Status:       status,
		Stdout:       outputRedactor.RedactString(out.Stdout),
		Stderr:       outputRedactor.RedactString(out.Stderr),
		RC:           out.RC,
		Msg:          outputRedactor.RedactString(out.Msg),
		StartedAt:    start,
		FinishedAt:   end,
		AttemptCount: attempts,
		Err:          callErr,
	}
	if task.NoLog {
		rec = redactNoLog(rec)
	}
	res.record(rec)
	metrics.Global().RecordTask(rec.Module, string(status), end.Sub(start))

	if status == StatusFailed && !task.IgnoreErrors && !suppressLatch {
		res.latchFailure(host)
	}
	return status
}

func moduleNameOf(task *model.Task) string {
	if task.Invocation != nil {
		return task.Invocation.Module
	}
	return "block"
}

func registerBinding(out modules.Output, err error) map[string]any {
	binding := map[string]any{
		"changed": out.Changed,
		"failed":  err != nil || out.Status == modules.StatusFailed,
		"msg":     out.Msg,
		"stdout":  out.Stdout,
		"stderr":  out.Stderr,
		"data":    out.Data,
	}
	if out.RC != nil {
		binding["rc"] = *out.RC
	}
	return binding
}

func worseStatus(a, b TaskStatus) TaskStatus {
	rank := map[TaskStatus]int{
		StatusSkipped: 0, StatusOk: 1, StatusChanged: 2, StatusFailed: 3, StatusUnreachable: 4,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func taskRunsForTags(taskTags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range taskTags {
		if t == "always" {
			return true
		}
		for _, f := range filter {
			if t == f {
				return true
			}
		}
	}
	return false
}

// renderArgs templates every string value in a module's argument map
// against the current scope, leaving non-string values untouched.
func (e *Executor) renderArgs(args map[string]any, scope *vars.Scope) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		rendered, err := e.Evaluator.RenderValue(v, scope)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}

// resolveLoopItems evaluates a loop/with_items YAML node into its item
// list: a literal sequence decodes directly, while a scalar is rendered
// as a template (commonly a reference to a list-valued variable).
func (e *Executor) resolveLoopItems(node *yaml.Node, scope *vars.Scope) ([]any, error) {
	if node.Kind == yaml.SequenceNode {
		var raw []any
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		rendered := make([]any, len(raw))
		for i, item := range raw {
			v, err := e.Evaluator.RenderValue(item, scope)
			if err != nil {
				return nil, err
			}
			rendered[i] = v
		}
		return rendered, nil
	}

	var expr string
	if err := node.Decode(&expr); err != nil {
		return nil, err
	}
	value, err := e.Evaluator.RenderString(expr, scope)
	if err != nil {
		return nil, err
	}
	if items, ok := value.([]any); ok {
		return items, nil
	}
	return []any{value}, nil
}
