package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Playbook is an ordered sequence of plays loaded from a single source
// file.
type Playbook struct {
	Plays      []Play
	SourcePath string
}

// LoadPlaybook reads and parses a playbook file from disk.
func LoadPlaybook(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook %s: %w", path, err)
	}
	pb, err := ParsePlaybook(data)
	if err != nil {
		return nil, fmt.Errorf("parse playbook %s: %w", path, err)
	}
	pb.SourcePath = path
	return pb, nil
}

// ParsePlaybook decodes playbook YAML (a top-level sequence of plays) and
// validates the structural invariants that must hold before execution.
func ParsePlaybook(data []byte) (*Playbook, error) {
	var plays []Play
	if err := yaml.Unmarshal(data, &plays); err != nil {
		return nil, err
	}
	pb := &Playbook{Plays: plays}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return pb, nil
}

// Validate checks the structural invariants that parsing alone cannot
// express in the YAML schema: register-name well-formedness and notify
// resolution are deliberately left to later stages (variable scoping and
// execution respectively), since both depend on context parsing does not
// have.
func (pb Playbook) Validate() error {
	for i, play := range pb.Plays {
		if play.Hosts == "" {
			return fmt.Errorf("play %d (%q): hosts is required", i, play.Name)
		}
		if err := validateTasks(play.Tasks, play); err != nil {
			return err
		}
		if err := validateTasks(play.PreTasks, play); err != nil {
			return err
		}
		if err := validateTasks(play.PostTasks, play); err != nil {
			return err
		}
		for _, h := range play.Handlers {
			if err := validateTask(h.Task, play); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTasks(tasks []Task, play Play) error {
	for _, t := range tasks {
		if err := validateTask(t, play); err != nil {
			return err
		}
	}
	return nil
}

func validateTask(t Task, play Play) error {
	hasModule := t.Invocation != nil
	hasBlock := len(t.Block) > 0
	if hasModule == hasBlock {
		return fmt.Errorf("play %q: task %q: must have exactly one of a module invocation or a block", play.Name, t.Name)
	}
	if t.Loop != nil && t.WithItems != nil {
		return fmt.Errorf("play %q: task %q: loop and with_items are mutually exclusive", play.Name, t.Name)
	}
	if err := validateTasks(t.Block, play); err != nil {
		return err
	}
	if err := validateTasks(t.Rescue, play); err != nil {
		return err
	}
	if err := validateTasks(t.Always, play); err != nil {
		return err
	}
	return nil
}

// NotifyWarnings returns one warning message per notify/listen name used
// in the play that does not resolve to any declared handler. Per the
// execution contract this is a warning, not a parse error.
func (p Play) NotifyWarnings() []string {
	var warnings []string
	check := func(tasks []Task) {
		for _, t := range tasks {
			for _, name := range t.Notify {
				if _, ok := p.HandlerByName(name); !ok {
					warnings = append(warnings, fmt.Sprintf("play %q: notify %q does not match any handler", p.Name, name))
				}
			}
		}
	}
	check(p.PreTasks)
	check(p.Tasks)
	check(p.PostTasks)
	return warnings
}
