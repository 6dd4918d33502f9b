package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTask_ParsesModuleInvocation(t *testing.T) {
	src := `
name: install nginx
apt:
  name: nginx
  state: present
register: install_result
when: ansible_os_family == "Debian"
notify: restart nginx
tags: [web, packages]
`
	var task Task
	require.NoError(t, yaml.Unmarshal([]byte(src), &task))

	require.NotNil(t, task.Invocation)
	assert.Equal(t, "apt", task.Invocation.Module)
	assert.Equal(t, "nginx", task.Invocation.Args["name"])
	assert.Equal(t, "install_result", task.Register)
	assert.Equal(t, []string{`ansible_os_family == "Debian"`}, task.When.Conditions)
	assert.Equal(t, []string{"restart nginx"}, task.Notify)
	assert.Equal(t, []string{"web", "packages"}, task.Tags)
	assert.False(t, task.IsBlock())
}

func TestTask_ParsesRawCommandShorthand(t *testing.T) {
	var task Task
	require.NoError(t, yaml.Unmarshal([]byte(`command: echo hi`), &task))
	require.NotNil(t, task.Invocation)
	assert.Equal(t, "command", task.Invocation.Module)
	assert.Equal(t, "echo hi", task.Invocation.Args["_raw_params"])
}

func TestTask_ParsesBlockRescueAlways(t *testing.T) {
	src := `
block:
  - debug:
      msg: step one
rescue:
  - debug:
      msg: recovering
always:
  - debug:
      msg: cleanup
`
	var task Task
	require.NoError(t, yaml.Unmarshal([]byte(src), &task))
	assert.True(t, task.IsBlock())
	require.Len(t, task.Block, 1)
	require.Len(t, task.Rescue, 1)
	require.Len(t, task.Always, 1)
	assert.Nil(t, task.Invocation)
}

func TestTask_RejectsBothModuleAndBlock(t *testing.T) {
	src := `
block:
  - debug:
      msg: x
command: echo hi
`
	var task Task
	err := yaml.Unmarshal([]byte(src), &task)
	assert.Error(t, err)
}

func TestTask_RejectsMissingInvocation(t *testing.T) {
	var task Task
	err := yaml.Unmarshal([]byte(`name: nothing to do`), &task)
	assert.Error(t, err)
}

func TestTask_RejectsLoopAndWithItemsTogether(t *testing.T) {
	src := `
debug:
  msg: "{{ item }}"
loop: [1, 2, 3]
with_items: [1, 2, 3]
`
	var task Task
	err := yaml.Unmarshal([]byte(src), &task)
	assert.Error(t, err)
}

func TestTask_LoopControlDefaultsLoopVar(t *testing.T) {
	var task Task
	require.NoError(t, yaml.Unmarshal([]byte(`debug: {msg: "{{ item }}"}
loop: [1, 2]
`), &task))
	assert.Equal(t, DefaultLoopVar, task.LoopControl.LoopVar)
}

func TestTask_ParsesBecomeFields(t *testing.T) {
	var task Task
	require.NoError(t, yaml.Unmarshal([]byte(`
command: whoami
become: true
become_method: sudo
become_user: root
`), &task))
	require.NotNil(t, task.Become)
	assert.True(t, task.Become.Enabled)
	assert.Equal(t, "sudo", task.Become.Method)
	assert.Equal(t, "root", task.Become.User)
}
