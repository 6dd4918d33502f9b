// Package model defines the playbook data model: Playbook, Play, Task,
// Handler, and the supporting value types parsed from playbook YAML.
package model

import "gopkg.in/yaml.v3"

// When holds one or more condition expressions, all of which must evaluate
// truthy for a task to run. In YAML it may appear as a bare string or as a
// list of strings; both forms unmarshal into the same Conditions slice.
type When struct {
	Conditions []string
}

// UnmarshalYAML accepts either a scalar string or a sequence of strings.
func (w *When) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		w.Conditions = []string{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		w.Conditions = items
		return nil
	default:
		return &yaml.TypeError{Errors: []string{"when: expected a string or list of strings"}}
	}
}

// MarshalYAML renders a single condition as a bare scalar and multiple as a
// sequence, mirroring how playbooks are conventionally authored.
func (w When) MarshalYAML() (interface{}, error) {
	if len(w.Conditions) == 1 {
		return w.Conditions[0], nil
	}
	return w.Conditions, nil
}

// IsEmpty reports whether no conditions were specified, in which case the
// task is unconditionally eligible to run.
func (w When) IsEmpty() bool {
	return len(w.Conditions) == 0
}
