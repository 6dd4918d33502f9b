package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWhen_UnmarshalsScalarAndSequence(t *testing.T) {
	var scalar When
	require.NoError(t, yaml.Unmarshal([]byte(`"ansible_os_family == 'Debian'"`), &scalar))
	assert.Equal(t, []string{"ansible_os_family == 'Debian'"}, scalar.Conditions)
	assert.False(t, scalar.IsEmpty())

	var list When
	require.NoError(t, yaml.Unmarshal([]byte("- a == 1\n- b == 2\n"), &list))
	assert.Equal(t, []string{"a == 1", "b == 2"}, list.Conditions)

	var empty When
	assert.True(t, empty.IsEmpty())
}

func TestWhen_MarshalRendersScalarForSingleCondition(t *testing.T) {
	single := When{Conditions: []string{"x == 1"}}
	out, err := single.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "x == 1", out)

	multi := When{Conditions: []string{"x == 1", "y == 2"}}
	out, err = multi.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, []string{"x == 1", "y == 2"}, out)
}
