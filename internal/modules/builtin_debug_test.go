package modules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebug_PrintsDefaultMessage(t *testing.T) {
	d := NewDebug()
	out, err := d.Execute(context.Background(), map[string]any{}, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", out.Msg)
	assert.False(t, out.Changed)
}

func TestDebug_PrintsVarValue(t *testing.T) {
	d := NewDebug()
	out, err := d.Execute(context.Background(), map[string]any{"var": "pkg_name"}, Context{
		Vars: map[string]any{"pkg_name": "nginx"},
	})
	require.NoError(t, err)
	assert.Equal(t, "nginx", out.Data["pkg_name"])
}

func TestDebug_UndefinedVarReportsPlaceholder(t *testing.T) {
	d := NewDebug()
	out, err := d.Execute(context.Background(), map[string]any{"var": "missing"}, Context{})
	require.NoError(t, err)
	assert.Contains(t, out.Data["missing"], "NOT DEFINED")
}

func TestCommand_ValidateParamsRejectsMissingRawParams(t *testing.T) {
	c := NewCommand()
	err := c.ValidateParams(map[string]any{})
	assert.Error(t, err)
}

func TestCommand_ValidateParamsAcceptsNonEmptyString(t *testing.T) {
	c := NewCommand()
	err := c.ValidateParams(map[string]any{"_raw_params": "echo hi"})
	assert.NoError(t, err)
}

func TestCommand_ExecuteRequiresConnection(t *testing.T) {
	c := NewCommand()
	_, err := c.Execute(context.Background(), map[string]any{"_raw_params": "echo hi"}, Context{})
	assert.Error(t, err)
}
