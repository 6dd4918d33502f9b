// Package inventory resolves host patterns against a named group
// hierarchy and merges per-host and per-group variables.
package inventory

// Host is one managed node. Vars holds variables attached directly to
// the host entry (host_vars/<name> and inline host-line assignments);
// group-level variables are resolved separately by Inventory.HostVars.
type Host struct {
	Name string
	Vars map[string]any
}

// Group is a named collection of host names plus child group names,
// mirroring the INI `[group:children]` / YAML `all.children` shape.
type Group struct {
	Name     string
	Hosts    map[string]struct{}
	Children map[string]struct{}
	Vars     map[string]any
}

func newGroup(name string) *Group {
	return &Group{
		Name:     name,
		Hosts:    map[string]struct{}{},
		Children: map[string]struct{}{},
		Vars:     map[string]any{},
	}
}
