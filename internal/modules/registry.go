package modules

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustible/rustible/internal/errs"
)

// Registry is a case-sensitive name→Module map. execute() resolves,
// validates, and dispatches through it; the executor never calls a
// module's Execute/Check methods directly.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: map[string]Module{}}
}

// Register adds a module under its own Name(), overwriting any existing
// registration for that name.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// Lookup returns the module registered under name, if any.
func (r *Registry) Lookup(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names returns every registered module name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// Execute resolves name, validates args against required/optional
// params, and dispatches to Execute or Check depending on
// mctx.CheckMode, returning the module's Output.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, mctx Context) (Output, error) {
	m, ok := r.Lookup(name)
	if !ok {
		return Output{}, errs.New(errs.InvalidStructure, fmt.Sprintf("no module registered under name %q", name))
	}

	for _, required := range m.RequiredParams() {
		if _, ok := args[required]; !ok {
			return Output{}, errs.New(errs.MissingParameter, fmt.Sprintf("module %q: missing required parameter %q", name, required))
		}
	}

	if err := m.ValidateParams(args); err != nil {
		return Output{}, err
	}

	if m.Classification() != LocalLogic && mctx.Connection == nil {
		return Output{}, errs.New(errs.InvalidStructure, fmt.Sprintf("module %q: classification %s requires a connection", name, m.Classification()))
	}

	var (
		out Output
		err error
	)
	if mctx.CheckMode {
		out, err = m.Check(ctx, args, mctx)
	} else {
		out, err = m.Execute(ctx, args, mctx)
	}
	if err != nil {
		return out, err
	}
	if verr := out.Validate(); verr != nil {
		return out, errs.Wrap(errs.Unrecoverable, fmt.Sprintf("module %q produced an invalid output", name), verr)
	}
	return out, nil
}
