package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPlay_RequiresHosts(t *testing.T) {
	var play Play
	err := yaml.Unmarshal([]byte(`name: broken play
tasks:
  - debug: {msg: hi}
`), &play)
	assert.Error(t, err)
}

func TestPlay_DefaultsStrategyAndGatherFacts(t *testing.T) {
	var play Play
	require.NoError(t, yaml.Unmarshal([]byte(`hosts: web
tasks:
  - debug: {msg: hi}
`), &play))
	assert.Equal(t, StrategyLinear, play.Strategy)
	assert.True(t, play.EffectiveGatherFacts())
}

func TestPlay_GatherFactsFalseIsHonored(t *testing.T) {
	var play Play
	require.NoError(t, yaml.Unmarshal([]byte(`hosts: web
gather_facts: false
tasks: []
`), &play))
	assert.False(t, play.EffectiveGatherFacts())
}

func TestPlay_ParsesBecomeAndSerial(t *testing.T) {
	var play Play
	require.NoError(t, yaml.Unmarshal([]byte(`hosts: web
become: true
become_method: sudo
serial:
  - 1
  - "30%"
tasks: []
`), &play))
	require.NotNil(t, play.Become)
	assert.True(t, play.Become.Enabled)
	assert.Equal(t, "sudo", play.Become.Method)
}

func TestPlay_HandlerByNameMatchesNameOrListenAlias(t *testing.T) {
	play := Play{
		Handlers: []Handler{
			{Task: Task{Name: "restart nginx", Listen: []string{"reload web stack"}}},
		},
	}
	h, ok := play.HandlerByName("restart nginx")
	require.True(t, ok)
	assert.Equal(t, "restart nginx", h.Name)

	h, ok = play.HandlerByName("reload web stack")
	require.True(t, ok)
	assert.Equal(t, "restart nginx", h.Name)

	_, ok = play.HandlerByName("does not exist")
	assert.False(t, ok)
}
