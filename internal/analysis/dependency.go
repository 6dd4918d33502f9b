package analysis

import (
	"fmt"
	"strings"

	"github.com/rustible/rustible/internal/model"
)

// analyzeDependencies delegates to the dependency graph: cycles become
// DEP001 errors; uses without any defining node (and not built-in) become
// DEP002 info findings.
func analyzeDependencies(pb *model.Playbook, g *Graph) []Finding {
	var findings []Finding

	for _, cycle := range g.DetectCycles() {
		names := make([]string, len(cycle))
		for i, id := range cycle {
			n := g.NodeByID(id)
			names[i] = nodeLabel(n, id)
		}
		findings = append(findings, Finding{
			RuleID: "DEP001", Category: CategoryDependency, Severity: SeverityError,
			Message:  fmt.Sprintf("circular dependency: %s", strings.Join(names, " -> ")),
			Location: locationFor(pb, cycle[0]),
			Metadata: map[string]any{"cycle": names},
		})
	}

	defined := map[string]bool{}
	for _, n := range g.Nodes {
		for v := range n.Defines {
			defined[v] = true
		}
	}
	seenUndefinedAt := map[string]bool{}
	for _, n := range g.Nodes {
		for v := range n.Uses {
			if defined[v] || isBuiltinOrFact(v) {
				continue
			}
			key := n.ID.String() + "\x00" + v
			if seenUndefinedAt[key] {
				continue
			}
			seenUndefinedAt[key] = true
			findings = append(findings, Finding{
				RuleID: "DEP002", Category: CategoryDependency, Severity: SeverityInfo,
				Message:  fmt.Sprintf("%q is used but not defined by any task in this playbook", v),
				Location: locationFor(pb, n.ID),
			})
		}
	}

	return findings
}

func (id NodeID) String() string {
	return fmt.Sprintf("play[%d].%s[%d]", id.PlayIndex, id.TaskType, id.TaskIndex)
}

func nodeLabel(n *Node, id NodeID) string {
	if n != nil && n.Name != "" {
		return n.Name
	}
	return id.String()
}

func locationFor(pb *model.Playbook, id NodeID) Location {
	loc := Location{PlayIndex: id.PlayIndex, TaskIndex: id.TaskIndex}
	if id.PlayIndex >= 0 && id.PlayIndex < len(pb.Plays) {
		loc.PlayName = pb.Plays[id.PlayIndex].Name
	}
	return loc
}
