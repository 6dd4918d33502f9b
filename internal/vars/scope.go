// Package vars implements the layered variable view and Jinja-compatible
// template/condition evaluation used by the executor and the static
// analyzer.
package vars

// Level names one layer of the variable precedence table. Lower values are
// overridden by higher ones; Lookup walks from the highest level down and
// returns the first layer that defines the name.
type Level int

const (
	LevelRoleDefaults Level = iota
	LevelInventoryGroup
	LevelInventoryHost
	LevelPlay
	LevelFacts
	LevelRoleVars
	LevelBlock
	LevelTask
	LevelLoop
	LevelExtra
	numLevels
)

func (l Level) String() string {
	switch l {
	case LevelRoleDefaults:
		return "role_defaults"
	case LevelInventoryGroup:
		return "inventory_group"
	case LevelInventoryHost:
		return "inventory_host"
	case LevelPlay:
		return "play"
	case LevelFacts:
		return "facts"
	case LevelRoleVars:
		return "role_vars"
	case LevelBlock:
		return "block"
	case LevelTask:
		return "task"
	case LevelLoop:
		return "loop"
	case LevelExtra:
		return "extra"
	default:
		return "unknown"
	}
}

// Scope is an immutable, layered variable view for one task invocation.
// Each layer is a flat map; Lookup resolves a name by walking layers from
// LevelExtra down to LevelRoleDefaults and returning the first hit.
type Scope struct {
	layers [numLevels]map[string]any
}

// NewScope builds an empty scope with no layers populated.
func NewScope() *Scope {
	return &Scope{}
}

// With returns a new Scope identical to the receiver except that layer is
// replaced wholesale by values. The receiver is never mutated, so a Scope
// handed to one task can be safely reused as the base for sibling tasks.
func (s *Scope) With(layer Level, values map[string]any) *Scope {
	next := *s
	merged := make(map[string]any, len(values))
	for k, v := range values {
		merged[k] = v
	}
	next.layers[layer] = merged
	return &next
}

// Merge overlays values on top of whatever layer already holds, rather
// than replacing it outright. Used for set_fact/register, which add to the
// facts layer incrementally across tasks instead of resetting it.
func (s *Scope) Merge(layer Level, values map[string]any) *Scope {
	next := *s
	merged := make(map[string]any, len(s.layers[layer])+len(values))
	for k, v := range s.layers[layer] {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	next.layers[layer] = merged
	return &next
}

// Lookup resolves name to its highest-precedence value.
func (s *Scope) Lookup(name string) (any, bool) {
	for l := Level(numLevels - 1); l >= 0; l-- {
		if v, ok := s.layers[l][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Flatten collapses all layers into a single map, highest precedence
// winning, for handing to a template evaluator as its parameter set.
func (s *Scope) Flatten() map[string]any {
	out := map[string]any{}
	for l := Level(0); l < numLevels; l++ {
		for k, v := range s.layers[l] {
			out[k] = v
		}
	}
	return out
}

// LoopVars builds the LevelLoop layer for one iteration: the configured
// loop_var bound to item, optionally an index_var, plus the conventional
// "item" binding so templates written against either name resolve.
func LoopVars(loopVar, indexVar string, item any, index int) map[string]any {
	out := map[string]any{"item": item}
	if loopVar != "" && loopVar != "item" {
		out[loopVar] = item
	}
	if indexVar != "" {
		out[indexVar] = index
	}
	return out
}
