package modules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustible/rustible/internal/errs"
)

type fakeModule struct {
	Base
	executed  int
	checked   int
	returnErr error
	output    Output
}

func (f *fakeModule) ValidateParams(args map[string]any) error { return nil }

func (f *fakeModule) Execute(ctx context.Context, args map[string]any, mctx Context) (Output, error) {
	f.executed++
	return f.output, f.returnErr
}

func (f *fakeModule) Check(ctx context.Context, args map[string]any, mctx Context) (Output, error) {
	f.checked++
	return f.output, f.returnErr
}

func newFakeModule(name string, classification Classification, required []string, output Output) *fakeModule {
	return &fakeModule{
		Base:   Base{ModuleName: name, ModuleClassification: classification, Required: required},
		output: output,
	}
}

func TestRegistry_ExecuteDispatchesToExecuteWhenNotCheckMode(t *testing.T) {
	r := NewRegistry()
	m := newFakeModule("fake", LocalLogic, nil, Output{Status: StatusOk})
	r.Register(m)

	_, err := r.Execute(context.Background(), "fake", map[string]any{}, Context{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.executed)
	assert.Equal(t, 0, m.checked)
}

func TestRegistry_ExecuteDispatchesToCheckWhenCheckMode(t *testing.T) {
	r := NewRegistry()
	m := newFakeModule("fake", LocalLogic, nil, Output{Status: StatusOk})
	r.Register(m)

	_, err := r.Execute(context.Background(), "fake", map[string]any{}, Context{CheckMode: true})
	require.NoError(t, err)
	assert.Equal(t, 0, m.executed)
	assert.Equal(t, 1, m.checked)
}

func TestRegistry_ExecuteReturnsMissingParameterError(t *testing.T) {
	r := NewRegistry()
	m := newFakeModule("fake", LocalLogic, []string{"name"}, Output{Status: StatusOk})
	r.Register(m)

	_, err := r.Execute(context.Background(), "fake", map[string]any{}, Context{})
	require.Error(t, err)
	assert.Equal(t, errs.MissingParameter, errs.KindOf(err))
	assert.Equal(t, 0, m.executed)
}

func TestRegistry_ExecuteUnknownModuleNameErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "does-not-exist", nil, Context{})
	assert.Error(t, err)
}

func TestRegistry_ExecuteRequiresConnectionForNonLocalClassification(t *testing.T) {
	r := NewRegistry()
	m := newFakeModule("remote-thing", RemoteCommand, nil, Output{Status: StatusOk})
	r.Register(m)

	_, err := r.Execute(context.Background(), "remote-thing", map[string]any{}, Context{})
	assert.Error(t, err)
	assert.Equal(t, 0, m.executed)
}

func TestRegistry_ExecuteRejectsInvalidOutputInvariant(t *testing.T) {
	r := NewRegistry()
	m := newFakeModule("broken", LocalLogic, nil, Output{Status: StatusChanged, Changed: false})
	r.Register(m)

	_, err := r.Execute(context.Background(), "broken", map[string]any{}, Context{})
	assert.Error(t, err)
}

func TestOutput_ValidateCatchesInvariantViolations(t *testing.T) {
	assert.NoError(t, Output{Status: StatusChanged, Changed: true}.Validate())
	assert.Error(t, Output{Status: StatusChanged, Changed: false}.Validate())
	assert.Error(t, Output{Status: StatusSkipped, Changed: true}.Validate())
	assert.Error(t, Output{Status: StatusFailed, Changed: true}.Validate())
	assert.NoError(t, Output{Status: StatusOk, Changed: true}.Validate())
}
