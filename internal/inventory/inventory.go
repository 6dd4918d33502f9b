package inventory

import (
	"path/filepath"
	"sort"
	"strings"
)

// Inventory is a named host-set with group hierarchy. All hosts are
// implicitly members of the "all" group.
type Inventory struct {
	hosts  map[string]*Host
	groups map[string]*Group
}

// New returns an empty inventory with the implicit "all" and
// "ungrouped" groups already present.
func New() *Inventory {
	inv := &Inventory{
		hosts:  map[string]*Host{},
		groups: map[string]*Group{},
	}
	inv.group("all")
	inv.group("ungrouped")
	return inv
}

func (inv *Inventory) group(name string) *Group {
	g, ok := inv.groups[name]
	if !ok {
		g = newGroup(name)
		inv.groups[name] = g
	}
	return g
}

// AddHost registers a host with its directly-attached variables,
// defaulting it into "all" and "ungrouped" until a group claims it.
func (inv *Inventory) AddHost(name string, vars map[string]any) {
	if vars == nil {
		vars = map[string]any{}
	}
	if existing, ok := inv.hosts[name]; ok {
		for k, v := range vars {
			existing.Vars[k] = v
		}
	} else {
		inv.hosts[name] = &Host{Name: name, Vars: vars}
	}
	inv.group("all").Hosts[name] = struct{}{}
	inv.group("ungrouped").Hosts[name] = struct{}{}
}

// AddToGroup assigns an already- or not-yet-added host to a named
// group, creating the group if needed and removing the host from
// "ungrouped".
func (inv *Inventory) AddToGroup(groupName, hostName string) {
	if _, ok := inv.hosts[hostName]; !ok {
		inv.AddHost(hostName, nil)
	}
	inv.group(groupName).Hosts[hostName] = struct{}{}
	delete(inv.group("ungrouped").Hosts, hostName)
}

// AddChildGroup records that child is a subgroup of parent.
func (inv *Inventory) AddChildGroup(parent, child string) {
	inv.group(parent).Children[child] = struct{}{}
	inv.group(child)
}

// SetGroupVars attaches variables to a group, merging into any
// already-present group variables.
func (inv *Inventory) SetGroupVars(name string, vars map[string]any) {
	g := inv.group(name)
	for k, v := range vars {
		g.Vars[k] = v
	}
}

// SetHostVars attaches variables directly to a host, merging into any
// already-present host variables.
func (inv *Inventory) SetHostVars(name string, vars map[string]any) {
	if _, ok := inv.hosts[name]; !ok {
		inv.AddHost(name, nil)
	}
	for k, v := range vars {
		inv.hosts[name].Vars[k] = v
	}
}

// Hosts returns every registered host name, sorted.
func (inv *Inventory) Hosts() []string {
	names := make([]string, 0, len(inv.hosts))
	for name := range inv.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// groupMembers returns the transitive set of host names belonging to
// a group, following Children recursively. visited guards cycles.
func (inv *Inventory) groupMembers(name string, visited map[string]bool) map[string]bool {
	members := map[string]bool{}
	g, ok := inv.groups[name]
	if !ok {
		return members
	}
	if visited[name] {
		return members
	}
	visited[name] = true
	for h := range g.Hosts {
		members[h] = true
	}
	for child := range g.Children {
		for h := range inv.groupMembers(child, visited) {
			members[h] = true
		}
	}
	return members
}

// matchTerm resolves a single bare term (group name, host name, or
// glob) to the set of matching host names.
func (inv *Inventory) matchTerm(term string) map[string]bool {
	if term == "all" || term == "*" {
		return inv.groupMembers("all", map[string]bool{})
	}
	if _, ok := inv.groups[term]; ok {
		return inv.groupMembers(term, map[string]bool{})
	}
	matched := map[string]bool{}
	if _, ok := inv.hosts[term]; ok {
		matched[term] = true
		return matched
	}
	if strings.ContainsAny(term, "*?[") {
		for name := range inv.hosts {
			if ok, _ := filepath.Match(term, name); ok {
				matched[name] = true
			}
		}
	}
	return matched
}

// Resolve takes a host pattern and returns the ordered distinct list
// of matching host names. A pattern is a whitespace-separated list of
// terms; terms may be joined within a comma/colon-separated union
// group, each term optionally prefixed with "&" (intersect into the
// running set) or "!" (subtract from the running set). Terms are
// applied left to right: bare terms union, "&"-terms intersect,
// "!"-terms exclude.
func Resolve(inv *Inventory, pattern string) []string {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil
	}

	var result map[string]bool
	for _, field := range strings.Fields(pattern) {
		for _, term := range splitUnion(field) {
			switch {
			case strings.HasPrefix(term, "!"):
				if result == nil {
					result = map[string]bool{}
				}
				excluded := inv.matchTerm(strings.TrimPrefix(term, "!"))
				for h := range excluded {
					delete(result, h)
				}
			case strings.HasPrefix(term, "&"):
				matched := inv.matchTerm(strings.TrimPrefix(term, "&"))
				if result == nil {
					result = matched
					continue
				}
				for h := range result {
					if !matched[h] {
						delete(result, h)
					}
				}
			default:
				matched := inv.matchTerm(term)
				if result == nil {
					result = map[string]bool{}
				}
				for h := range matched {
					result[h] = true
				}
			}
		}
	}

	names := make([]string, 0, len(result))
	for h := range result {
		names = append(names, h)
	}
	sort.Strings(names)
	return names
}

func splitUnion(field string) []string {
	return strings.FieldsFunc(field, func(r rune) bool { return r == ':' || r == ',' })
}

// groupsOf returns every group name (transitively) a host belongs to,
// "all" included, used to assemble group-variable precedence.
func (inv *Inventory) groupsOf(host string) []string {
	var names []string
	for name := range inv.groups {
		if inv.groupMembers(name, map[string]bool{})[host] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HostVars merges a host's variables in Ansible's precedence order:
// "all" group vars lowest, then other groups in name order, then
// host-attached variables highest.
func (inv *Inventory) HostVars(host string) map[string]any {
	merged := map[string]any{}
	if g, ok := inv.groups["all"]; ok {
		for k, v := range g.Vars {
			merged[k] = v
		}
	}
	for _, name := range inv.groupsOf(host) {
		if name == "all" {
			continue
		}
		for k, v := range inv.groups[name].Vars {
			merged[k] = v
		}
	}
	if h, ok := inv.hosts[host]; ok {
		for k, v := range h.Vars {
			merged[k] = v
		}
	}
	return merged
}
