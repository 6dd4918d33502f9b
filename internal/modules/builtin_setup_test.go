package modules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_ExecuteGathersFacts(t *testing.T) {
	s := NewSetup()
	out, err := s.Execute(context.Background(), map[string]any{}, Context{})
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, StatusOk, out.Status)

	for _, key := range []string{
		"ansible_hostname",
		"ansible_os_family",
		"ansible_distribution",
		"ansible_kernel",
		"ansible_architecture",
		"ansible_processor_vcpus",
		"ansible_memtotal_mb",
		"ansible_virtualization_role",
	} {
		assert.Contains(t, out.Data, key)
	}

	hostname, ok := out.Data["ansible_hostname"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, hostname)
}

func TestSetup_CheckDoesNotChangeOutcome(t *testing.T) {
	s := NewSetup()
	out, err := s.Check(context.Background(), map[string]any{}, Context{})
	require.NoError(t, err)
	assert.Equal(t, StatusOk, out.Status)
	assert.False(t, out.Changed)
}

func TestSetup_ValidateParamsAlwaysSucceeds(t *testing.T) {
	s := NewSetup()
	assert.NoError(t, s.ValidateParams(map[string]any{"anything": "goes"}))
}
