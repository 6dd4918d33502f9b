package inventory

import (
	"gopkg.in/yaml.v3"
)

// yamlGroup mirrors one node of the `all.children` tree: a group may
// carry hosts (a map of host name to its own var map), vars, and
// nested children groups.
type yamlGroup struct {
	Hosts    map[string]map[string]any `yaml:"hosts"`
	Vars     map[string]any            `yaml:"vars"`
	Children map[string]yamlGroup      `yaml:"children"`
}

type yamlRoot struct {
	All yamlGroup `yaml:"all"`
}

// ParseYAML reads the `all.children` tree format group_vars/host_vars
// convention files are merged into separately via SetGroupVars/SetHostVars.
func ParseYAML(data []byte) (*Inventory, error) {
	var root yamlRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	inv := New()
	walkYAMLGroup(inv, "all", root.All)
	return inv, nil
}

func walkYAMLGroup(inv *Inventory, name string, g yamlGroup) {
	inv.group(name)
	inv.SetGroupVars(name, g.Vars)
	for hostName, hostVars := range g.Hosts {
		inv.AddHost(hostName, hostVars)
		if name != "all" {
			inv.AddToGroup(name, hostName)
		}
	}
	for childName, child := range g.Children {
		inv.AddChildGroup(name, childName)
		walkYAMLGroup(inv, childName, child)
	}
}
