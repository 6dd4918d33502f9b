package analysis

import (
	"sort"

	"github.com/rustible/rustible/internal/model"
	"github.com/rustible/rustible/internal/vars"
)

// EdgeType classifies why one node depends on another.
type EdgeType string

const (
	EdgeVariable EdgeType = "variable"
	EdgeHandler  EdgeType = "handler"
	EdgeFile     EdgeType = "file"
	EdgeService  EdgeType = "service"
	EdgeRole     EdgeType = "role"
	EdgeExplicit EdgeType = "explicit"
	EdgeImplicit EdgeType = "implicit"
)

// NodeID identifies one task within a playbook: which play, which section
// of that play, and its position within that section's flattened task
// list (block/rescue/always children are flattened into their parent
// section in traversal order).
type NodeID struct {
	PlayIndex int
	TaskType  string // "pre_task", "task", "post_task", "handler"
	TaskIndex int
}

// Node is one task's dependency-relevant facts.
type Node struct {
	ID       NodeID
	Name     string
	Defines  map[string]bool
	Uses     map[string]bool
	Notifies map[string]bool
}

// Edge is a typed, described dependency between two nodes.
type Edge struct {
	From        NodeID
	To          NodeID
	Type        EdgeType
	Description string
}

// Graph is the full dependency graph for one playbook.
type Graph struct {
	Nodes []*Node
	Edges []Edge

	byID map[NodeID]*Node
}

// NodeByID looks up a node, or nil if not present.
func (g *Graph) NodeByID(id NodeID) *Node { return g.byID[id] }

// Build walks every play's pre_tasks/tasks/post_tasks/handlers, extracting
// each task's defines/uses/notifies, then wires Variable and Handler
// edges per SPEC_FULL §4.6.
func Build(pb *model.Playbook) *Graph {
	g := &Graph{byID: map[NodeID]*Node{}}

	for playIdx, play := range pb.Plays {
		addSection(g, playIdx, "pre_task", play.PreTasks)
		addSection(g, playIdx, "task", play.Tasks)
		addSection(g, playIdx, "post_task", play.PostTasks)

		handlerTasks := make([]model.Task, len(play.Handlers))
		for i, h := range play.Handlers {
			handlerTasks[i] = h.Task
		}
		addSection(g, playIdx, "handler", handlerTasks)
	}

	definers := map[string]NodeID{}
	for _, n := range g.Nodes {
		for v := range n.Defines {
			definers[v] = n.ID
		}
	}

	for _, n := range g.Nodes {
		for v := range n.Uses {
			if def, ok := definers[v]; ok && def != n.ID {
				g.Edges = append(g.Edges, Edge{
					From: n.ID, To: def, Type: EdgeVariable,
					Description: "uses variable \"" + v + "\" defined by another task",
				})
			}
		}
		for name := range n.Notifies {
			for _, handler := range g.Nodes {
				if handler.ID.TaskType == "handler" && handler.Name == name {
					g.Edges = append(g.Edges, Edge{
						From: n.ID, To: handler.ID, Type: EdgeHandler,
						Description: "notifies handler \"" + name + "\"",
					})
				}
			}
		}
	}

	return g
}

func addSection(g *Graph, playIdx int, taskType string, tasks []model.Task) {
	idx := 0
	var walk func(t *model.Task)
	walk = func(t *model.Task) {
		if t.IsBlock() {
			for i := range t.Block {
				walk(&t.Block[i])
			}
			for i := range t.Rescue {
				walk(&t.Rescue[i])
			}
			for i := range t.Always {
				walk(&t.Always[i])
			}
			return
		}
		id := NodeID{PlayIndex: playIdx, TaskType: taskType, TaskIndex: idx}
		idx++
		n := &Node{
			ID:       id,
			Name:     t.Name,
			Defines:  taskDefines(t),
			Uses:     taskUses(t),
			Notifies: map[string]bool{},
		}
		for _, name := range t.Notify {
			n.Notifies[name] = true
		}
		g.byID[id] = n
		g.Nodes = append(g.Nodes, n)
	}
	for i := range tasks {
		walk(&tasks[i])
	}
}

func taskDefines(t *model.Task) map[string]bool {
	out := map[string]bool{}
	if t.Register != "" {
		out[t.Register] = true
	}
	if t.Invocation != nil && t.Invocation.Module == "set_fact" {
		for k := range t.Invocation.Args {
			if k != "cacheable" {
				out[k] = true
			}
		}
	}
	return out
}

func taskUses(t *model.Task) map[string]bool {
	out := map[string]bool{}
	add := func(ids []string) {
		for _, id := range ids {
			out[id] = true
		}
	}
	for _, c := range t.When.Conditions {
		add(vars.ExtractConditionIdentifiers(c))
	}
	for _, c := range t.ChangedWhen.Conditions {
		add(vars.ExtractConditionIdentifiers(c))
	}
	for _, c := range t.FailedWhen.Conditions {
		add(vars.ExtractConditionIdentifiers(c))
	}
	for _, c := range t.Until.Conditions {
		add(vars.ExtractConditionIdentifiers(c))
	}
	if t.Invocation != nil {
		for _, v := range t.Invocation.Args {
			if s, ok := v.(string); ok {
				add(vars.ExtractTemplateIdentifiers(s))
			}
		}
	}
	return out
}

// dependencyEdges returns edges that constrain execution order, excluding
// Handler edges, which SPEC_FULL §4.6 marks informational.
func (g *Graph) dependencyEdges() []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Type != EdgeHandler {
			out = append(out, e)
		}
	}
	return out
}

// DetectCycles finds every cycle via DFS with a recursion stack, reporting
// the participating nodes in traversal order.
func (g *Graph) DetectCycles() [][]NodeID {
	adjacency := map[NodeID][]NodeID{}
	for _, e := range g.dependencyEdges() {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[NodeID]int{}
	var stack []NodeID
	var cycles [][]NodeID

	var visit func(n NodeID)
	visit = func(n NodeID) {
		color[n] = gray
		stack = append(stack, n)
		for _, next := range adjacency[n] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle := append([]NodeID{}, stack[start:]...)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	order := g.sortedIDs()
	for _, id := range order {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// TopoOrder returns a topological order via Kahn's algorithm, or ok=false
// if the graph has a cycle (no total order exists).
func (g *Graph) TopoOrder() (order []NodeID, ok bool) {
	inDegree := map[NodeID]int{}
	adjacency := map[NodeID][]NodeID{}
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range g.dependencyEdges() {
		// Dependency edges point from dependent to definer; Kahn's
		// algorithm processes definers (dependencies) before dependents,
		// so we order by the reverse adjacency (definer -> dependent).
		adjacency[e.To] = append(adjacency[e.To], e.From)
		inDegree[e.From]++
	}

	var queue []NodeID
	for _, id := range g.sortedIDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		next := append([]NodeID{}, adjacency[n]...)
		sort.Slice(next, func(i, j int) bool { return idLess(next[i], next[j]) })
		for _, m := range next {
			inDegree[m]--
			if inDegree[m] == 0 {
				queue = append(queue, m)
			}
		}
	}

	return order, len(order) == len(g.Nodes)
}

// CriticalPath returns the longest dependency chain, measured in edge
// count, over the topological order. Returns nil if the graph has cycles.
func (g *Graph) CriticalPath() []NodeID {
	order, ok := g.TopoOrder()
	if !ok {
		return nil
	}

	adjacency := map[NodeID][]NodeID{}
	for _, e := range g.dependencyEdges() {
		adjacency[e.To] = append(adjacency[e.To], e.From)
	}

	if len(order) == 0 {
		return nil
	}

	dist := map[NodeID]int{}
	prev := map[NodeID]NodeID{}
	var best NodeID
	bestDist := -1
	for _, n := range order {
		if dist[n] > bestDist {
			bestDist = dist[n]
			best = n
		}
		for _, m := range adjacency[n] {
			if dist[n]+1 > dist[m] {
				dist[m] = dist[n] + 1
				prev[m] = n
			}
		}
	}

	var path []NodeID
	for at, ok := best, true; ok; at, ok = prev[at] {
		path = append([]NodeID{at}, path...)
		if _, has := prev[at]; !has {
			break
		}
	}
	return path
}

// EntryPoints returns nodes with no incoming dependency-chain edges
// (nothing depends on having run before them).
func (g *Graph) EntryPoints() []NodeID {
	hasIncoming := map[NodeID]bool{}
	for _, e := range g.dependencyEdges() {
		hasIncoming[e.To] = true
	}
	var out []NodeID
	for _, id := range g.sortedIDs() {
		if !hasIncoming[id] {
			out = append(out, id)
		}
	}
	return out
}

// ExitPoints returns nodes nothing depends on.
func (g *Graph) ExitPoints() []NodeID {
	hasOutgoing := map[NodeID]bool{}
	for _, e := range g.dependencyEdges() {
		hasOutgoing[e.From] = true
	}
	var out []NodeID
	for _, id := range g.sortedIDs() {
		if !hasOutgoing[id] {
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) sortedIDs() []NodeID {
	ids := make([]NodeID, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	return ids
}

func idLess(a, b NodeID) bool {
	if a.PlayIndex != b.PlayIndex {
		return a.PlayIndex < b.PlayIndex
	}
	if a.TaskType != b.TaskType {
		return a.TaskType < b.TaskType
	}
	return a.TaskIndex < b.TaskIndex
}
