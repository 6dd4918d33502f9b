package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Strategy selects how a play advances its hosts through its task list.
type Strategy string

const (
	// StrategyLinear waits for every host to finish a task before any host
	// starts the next one; handlers fire at a coherent boundary shared by
	// all hosts.
	StrategyLinear Strategy = "linear"
	// StrategyFree lets each host advance through the task list at its own
	// pace; handlers still only fire at play boundaries.
	StrategyFree Strategy = "free"
)

// Play is one entry in a playbook: a host pattern plus the tasks run
// against the hosts it matches.
type Play struct {
	Name string `yaml:"name,omitempty"`

	Hosts string `yaml:"hosts"`

	GatherFacts *bool `yaml:"gather_facts,omitempty"`

	Become *BecomeSpec `yaml:"-"`

	Vars      map[string]any `yaml:"vars,omitempty"`
	VarsFiles []string       `yaml:"vars_files,omitempty"`
	Roles     []string       `yaml:"roles,omitempty"`

	PreTasks  []Task `yaml:"pre_tasks,omitempty"`
	Tasks     []Task `yaml:"tasks,omitempty"`
	PostTasks []Task `yaml:"post_tasks,omitempty"`

	Handlers []Handler `yaml:"handlers,omitempty"`

	Strategy Strategy `yaml:"strategy,omitempty"`

	Serial              []int `yaml:"-"`
	MaxFailPercentage   *int  `yaml:"max_fail_percentage,omitempty"`
	AnyErrorsFatal      bool  `yaml:"any_errors_fatal,omitempty"`

	Tags []string `yaml:"tags,omitempty"`
}

// UnmarshalYAML decodes a play, enforcing that hosts is present and
// normalizing the fields with non-trivial YAML shapes (become*, serial).
func (p *Play) UnmarshalYAML(node *yaml.Node) error {
	type playAlias Play
	aux := struct {
		playAlias   `yaml:",inline"`
		Become       *bool  `yaml:"become,omitempty"`
		BecomeMethod string `yaml:"become_method,omitempty"`
		BecomeUser   string `yaml:"become_user,omitempty"`
		Serial       yaml.Node `yaml:"serial,omitempty"`
	}{}

	if err := node.Decode(&aux); err != nil {
		return err
	}

	*p = Play(aux.playAlias)

	if aux.Become != nil || aux.BecomeMethod != "" || aux.BecomeUser != "" {
		spec := &BecomeSpec{Method: aux.BecomeMethod, User: aux.BecomeUser}
		if aux.Become != nil {
			spec.Enabled = *aux.Become
		}
		p.Become = spec
	}

	if aux.Serial.Kind != 0 {
		serial, err := decodeSerial(&aux.Serial)
		if err != nil {
			return fmt.Errorf("play.serial: %w", err)
		}
		p.Serial = serial
	}

	if p.Hosts == "" {
		name := p.Name
		if name == "" {
			name = "(unnamed)"
		}
		return fmt.Errorf("play %q: hosts is required", name)
	}

	if p.Strategy == "" {
		p.Strategy = StrategyLinear
	}

	for _, t := range p.Tasks {
		if t.Loop != nil && t.WithItems != nil {
			return fmt.Errorf("play %q: task %q: loop and with_items are mutually exclusive", p.Name, t.Name)
		}
	}

	return nil
}

// decodeSerial accepts a bare integer, a percentage string like "30%", or a
// sequence of such values describing successive batch sizes.
func decodeSerial(node *yaml.Node) ([]int, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var n int
		if err := node.Decode(&n); err != nil {
			return nil, err
		}
		return []int{n}, nil
	case yaml.SequenceNode:
		var ns []int
		if err := node.Decode(&ns); err != nil {
			return nil, err
		}
		return ns, nil
	default:
		return nil, fmt.Errorf("expected an integer or a list of integers")
	}
}

// EffectiveGatherFacts reports whether facts should be gathered for this
// play, defaulting to true when unset.
func (p Play) EffectiveGatherFacts() bool {
	if p.GatherFacts == nil {
		return true
	}
	return *p.GatherFacts
}

// HandlerByName resolves a notification name to the handler it addresses,
// matching either the handler's own name or one of its listen aliases.
func (p Play) HandlerByName(name string) (Handler, bool) {
	for _, h := range p.Handlers {
		if h.Name == name {
			return h, true
		}
		for _, alias := range h.Listen {
			if alias == name {
				return h, true
			}
		}
	}
	return Handler{}, false
}
