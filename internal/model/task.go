package model

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LoopControl names the loop variable and, optionally, the index variable
// bound while iterating a task's loop.
type LoopControl struct {
	LoopVar  string `yaml:"loop_var,omitempty"`
	IndexVar string `yaml:"index_var,omitempty"`
}

// DefaultLoopVar is the binding name used when loop_control.loop_var is
// left unset.
const DefaultLoopVar = "item"

// ModuleInvocation is the module name and its (possibly templated)
// argument map, resolved from whichever non-reserved key a task carries.
type ModuleInvocation struct {
	Module string
	Args   map[string]any
}

// Task is a single invocation, or a block of child tasks, with the
// execution modifiers that apply regardless of which one it is. Exactly
// one of Module (via Invocation) or Block is populated — see IsBlock.
type Task struct {
	Name string

	Invocation *ModuleInvocation

	Block   []Task
	Rescue  []Task
	Always  []Task

	When          When
	Loop          *yaml.Node
	WithItems     *yaml.Node
	LoopControl   LoopControl
	Register      string
	Notify        []string
	Listen        []string
	ChangedWhen   When
	FailedWhen    When
	Until         When
	Retries       int
	Delay         time.Duration
	IgnoreErrors      bool
	IgnoreUnreachable bool
	NoLog             bool
	DelegateTo        string
	RunOnce           bool
	Async             time.Duration
	Poll              time.Duration
	Tags              []string
	Become            *BecomeSpec
	Environment       map[string]string
	Vars              map[string]any
}

// BecomeSpec requests privilege elevation for a task or play.
type BecomeSpec struct {
	Enabled bool
	Method  string
	User    string
}

// reservedTaskKeys are the execution-modifier keys recognized on a task
// mapping; anything else is treated as the module invocation.
var reservedTaskKeys = map[string]bool{
	"name": true, "block": true, "rescue": true, "always": true,
	"when": true, "loop": true, "with_items": true, "loop_control": true,
	"register": true, "notify": true, "listen": true, "changed_when": true,
	"failed_when": true, "until": true, "retries": true, "delay": true,
	"ignore_errors": true, "ignore_unreachable": true, "no_log": true,
	"delegate_to": true, "run_once": true, "async": true, "poll": true,
	"tags": true, "become": true, "become_method": true, "become_user": true,
	"environment": true, "vars": true,
}

// UnmarshalYAML parses a task mapping, separating execution modifiers from
// the single remaining key that names the invoked module (or recognizing
// the block/rescue/always structure instead).
func (t *Task) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return &yaml.TypeError{Errors: []string{"task: expected a mapping"}}
	}

	raw := map[string]yaml.Node{}
	var moduleKey string
	var moduleNode *yaml.Node

	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		if reservedTaskKeys[key] {
			raw[key] = *val
			continue
		}
		if moduleKey != "" {
			return fmt.Errorf("task: ambiguous module invocation: both %q and %q present", moduleKey, key)
		}
		moduleKey = key
		moduleNode = val
	}

	if n, ok := raw["name"]; ok {
		if err := n.Decode(&t.Name); err != nil {
			return fmt.Errorf("task.name: %w", err)
		}
	}
	if n, ok := raw["block"]; ok {
		if err := n.Decode(&t.Block); err != nil {
			return fmt.Errorf("task.block: %w", err)
		}
	}
	if n, ok := raw["rescue"]; ok {
		if err := n.Decode(&t.Rescue); err != nil {
			return fmt.Errorf("task.rescue: %w", err)
		}
	}
	if n, ok := raw["always"]; ok {
		if err := n.Decode(&t.Always); err != nil {
			return fmt.Errorf("task.always: %w", err)
		}
	}
	if n, ok := raw["when"]; ok {
		if err := n.Decode(&t.When); err != nil {
			return fmt.Errorf("task.when: %w", err)
		}
	}
	if n, ok := raw["loop"]; ok {
		node := n
		t.Loop = &node
	}
	if n, ok := raw["with_items"]; ok {
		node := n
		t.WithItems = &node
	}
	if t.Loop != nil && t.WithItems != nil {
		return fmt.Errorf("task: loop and with_items are mutually exclusive")
	}
	if n, ok := raw["loop_control"]; ok {
		if err := n.Decode(&t.LoopControl); err != nil {
			return fmt.Errorf("task.loop_control: %w", err)
		}
	}
	if t.LoopControl.LoopVar == "" {
		t.LoopControl.LoopVar = DefaultLoopVar
	}
	if n, ok := raw["register"]; ok {
		if err := n.Decode(&t.Register); err != nil {
			return fmt.Errorf("task.register: %w", err)
		}
	}
	if n, ok := raw["notify"]; ok {
		if err := decodeStringOrList(&n, &t.Notify); err != nil {
			return fmt.Errorf("task.notify: %w", err)
		}
	}
	if n, ok := raw["listen"]; ok {
		if err := decodeStringOrList(&n, &t.Listen); err != nil {
			return fmt.Errorf("task.listen: %w", err)
		}
	}
	if n, ok := raw["changed_when"]; ok {
		if err := n.Decode(&t.ChangedWhen); err != nil {
			return fmt.Errorf("task.changed_when: %w", err)
		}
	}
	if n, ok := raw["failed_when"]; ok {
		if err := n.Decode(&t.FailedWhen); err != nil {
			return fmt.Errorf("task.failed_when: %w", err)
		}
	}
	if n, ok := raw["until"]; ok {
		if err := n.Decode(&t.Until); err != nil {
			return fmt.Errorf("task.until: %w", err)
		}
	}
	if n, ok := raw["retries"]; ok {
		if err := n.Decode(&t.Retries); err != nil {
			return fmt.Errorf("task.retries: %w", err)
		}
	}
	if n, ok := raw["delay"]; ok {
		var seconds float64
		if err := n.Decode(&seconds); err != nil {
			return fmt.Errorf("task.delay: %w", err)
		}
		t.Delay = time.Duration(seconds * float64(time.Second))
	}
	if n, ok := raw["ignore_errors"]; ok {
		if err := n.Decode(&t.IgnoreErrors); err != nil {
			return fmt.Errorf("task.ignore_errors: %w", err)
		}
	}
	if n, ok := raw["ignore_unreachable"]; ok {
		if err := n.Decode(&t.IgnoreUnreachable); err != nil {
			return fmt.Errorf("task.ignore_unreachable: %w", err)
		}
	}
	if n, ok := raw["no_log"]; ok {
		if err := n.Decode(&t.NoLog); err != nil {
			return fmt.Errorf("task.no_log: %w", err)
		}
	}
	if n, ok := raw["delegate_to"]; ok {
		if err := n.Decode(&t.DelegateTo); err != nil {
			return fmt.Errorf("task.delegate_to: %w", err)
		}
	}
	if n, ok := raw["run_once"]; ok {
		if err := n.Decode(&t.RunOnce); err != nil {
			return fmt.Errorf("task.run_once: %w", err)
		}
	}
	if n, ok := raw["async"]; ok {
		var seconds float64
		if err := n.Decode(&seconds); err != nil {
			return fmt.Errorf("task.async: %w", err)
		}
		t.Async = time.Duration(seconds * float64(time.Second))
	}
	if n, ok := raw["poll"]; ok {
		var seconds float64
		if err := n.Decode(&seconds); err != nil {
			return fmt.Errorf("task.poll: %w", err)
		}
		t.Poll = time.Duration(seconds * float64(time.Second))
	}
	if n, ok := raw["tags"]; ok {
		if err := decodeStringOrList(&n, &t.Tags); err != nil {
			return fmt.Errorf("task.tags: %w", err)
		}
	}
	if n, ok := raw["environment"]; ok {
		if err := n.Decode(&t.Environment); err != nil {
			return fmt.Errorf("task.environment: %w", err)
		}
	}
	if n, ok := raw["vars"]; ok {
		if err := n.Decode(&t.Vars); err != nil {
			return fmt.Errorf("task.vars: %w", err)
		}
	}

	becomeEnabled, hasBecome := raw["become"]
	becomeMethod, hasMethod := raw["become_method"]
	becomeUser, hasUser := raw["become_user"]
	if hasBecome || hasMethod || hasUser {
		spec := &BecomeSpec{}
		if hasBecome {
			if err := becomeEnabled.Decode(&spec.Enabled); err != nil {
				return fmt.Errorf("task.become: %w", err)
			}
		}
		if hasMethod {
			if err := becomeMethod.Decode(&spec.Method); err != nil {
				return fmt.Errorf("task.become_method: %w", err)
			}
		}
		if hasUser {
			if err := becomeUser.Decode(&spec.User); err != nil {
				return fmt.Errorf("task.become_user: %w", err)
			}
		}
		t.Become = spec
	}

	if len(t.Block) > 0 {
		if moduleKey != "" {
			return fmt.Errorf("task: a block task cannot also invoke module %q", moduleKey)
		}
		return nil
	}

	if moduleKey == "" {
		return fmt.Errorf("task %q: no module invocation and no block", t.Name)
	}

	var args map[string]any
	if moduleNode.Kind == yaml.MappingNode {
		if err := moduleNode.Decode(&args); err != nil {
			return fmt.Errorf("task %q: module args: %w", moduleKey, err)
		}
	} else {
		// Free-form (string) module shorthand, e.g. `command: echo hi`.
		var raw string
		if err := moduleNode.Decode(&raw); err != nil {
			return fmt.Errorf("task %q: module args: %w", moduleKey, err)
		}
		args = map[string]any{"_raw_params": raw}
	}
	t.Invocation = &ModuleInvocation{Module: moduleKey, Args: args}
	return nil
}

func decodeStringOrList(node *yaml.Node, out *[]string) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*out = []string{s}
		return nil
	}
	return node.Decode(out)
}

// IsBlock reports whether this task is a block (has child tasks) rather
// than a single module invocation.
func (t Task) IsBlock() bool {
	return len(t.Block) > 0
}

// Handler is a Task that may additionally be addressed by listen aliases
// and fires at most once per play per unique notification key.
type Handler struct {
	Task
}
