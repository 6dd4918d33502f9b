package analysis

import (
	"fmt"

	"github.com/agext/levenshtein"

	"github.com/rustible/rustible/internal/model"
	"github.com/rustible/rustible/internal/vars"
)

// builtinIdentifiers are never reported as undefined: loop bindings and
// the result predicates every rendered/register scope carries.
var builtinIdentifiers = map[string]bool{
	"item": true, "ansible_loop": true,
	"changed": true, "failed": true, "skipped": true, "msg": true,
	"stdout": true, "stderr": true, "rc": true, "data": true,
}

func isBuiltinOrFact(name string) bool {
	if builtinIdentifiers[name] {
		return true
	}
	return len(name) > len("ansible_") && name[:len("ansible_")] == "ansible_"
}

// variableUsage is one definition site for a variable name.
type variableUsage struct {
	Name     string
	Scope    string // "play", "task", "register", "set_fact", "loop_var", "loop_index_var"
	Location Location
}

// analyzeVariables runs the two-pass variable analyzer from SPEC_FULL §4.7.
func analyzeVariables(pb *model.Playbook) []Finding {
	var findings []Finding

	definitions := map[string][]variableUsage{}
	defineAt := func(name, scope string, loc Location) {
		definitions[name] = append(definitions[name], variableUsage{Name: name, Scope: scope, Location: loc})
	}

	type use struct {
		Name string
		Loc  Location
	}
	var uses []use
	recordUses := func(ids []string, loc Location) {
		for _, id := range ids {
			uses = append(uses, use{Name: id, Loc: loc})
		}
	}

	for playIdx := range pb.Plays {
		play := &pb.Plays[playIdx]
		for name := range play.Vars {
			defineAt(name, "play", Location{PlayIndex: playIdx, PlayName: play.Name})
		}

		walkTasks := func(section string, tasks []model.Task) {
			var walk func(taskIdx int, t *model.Task)
			walk = func(taskIdx int, t *model.Task) {
				loc := Location{PlayIndex: playIdx, PlayName: play.Name, TaskIndex: taskIdx, TaskName: t.Name}
				if t.IsBlock() {
					for i := range t.Block {
						walk(i, &t.Block[i])
					}
					for i := range t.Rescue {
						walk(i, &t.Rescue[i])
					}
					for i := range t.Always {
						walk(i, &t.Always[i])
					}
					return
				}

				for name := range t.Vars {
					defineAt(name, "task", loc)
				}
				if t.Register != "" {
					defineAt(t.Register, "register", loc)
				}
				if t.Invocation != nil && t.Invocation.Module == "set_fact" {
					for k := range t.Invocation.Args {
						if k != "cacheable" {
							defineAt(k, "set_fact", loc)
						}
					}
				}
				if t.Loop != nil || t.WithItems != nil {
					loopVar := t.LoopControl.LoopVar
					if loopVar == "" {
						loopVar = model.DefaultLoopVar
					}
					defineAt(loopVar, "loop_var", loc)
					if t.LoopControl.IndexVar != "" {
						defineAt(t.LoopControl.IndexVar, "loop_index_var", loc)
					}
				}

				for _, c := range t.When.Conditions {
					recordUses(vars.ExtractConditionIdentifiers(c), loc)
				}
				for _, c := range t.ChangedWhen.Conditions {
					recordUses(vars.ExtractConditionIdentifiers(c), loc)
				}
				for _, c := range t.FailedWhen.Conditions {
					recordUses(vars.ExtractConditionIdentifiers(c), loc)
				}
				for _, c := range t.Until.Conditions {
					recordUses(vars.ExtractConditionIdentifiers(c), loc)
				}
				if t.Invocation != nil {
					for _, v := range t.Invocation.Args {
						if s, ok := v.(string); ok {
							recordUses(vars.ExtractTemplateIdentifiers(s), loc)
						}
					}
				}
				for _, v := range t.Environment {
					recordUses(vars.ExtractTemplateIdentifiers(v), loc)
				}
			}
			for i := range tasks {
				walk(i, &tasks[i])
			}
		}

		walkTasks("pre_task", play.PreTasks)
		walkTasks("task", play.Tasks)
		walkTasks("post_task", play.PostTasks)
		for i := range play.Handlers {
			walkTasks("handler", []model.Task{play.Handlers[i].Task})
		}
	}

	usedNames := map[string]bool{}
	for _, u := range uses {
		usedNames[u.Name] = true
		if len(definitions[u.Name]) > 0 || isBuiltinOrFact(u.Name) {
			continue
		}

		suggestion := closestName(u.Name, definitions)
		if suggestion != "" {
			findings = append(findings, Finding{
				RuleID: "VAR004", Category: CategoryVariable, Severity: SeverityWarning,
				Message:    fmt.Sprintf("undefined variable %q, did you mean %q?", u.Name, suggestion),
				Location:   u.Loc,
				Suggestion: suggestion,
			})
			continue
		}

		findings = append(findings, Finding{
			RuleID: "VAR001", Category: CategoryVariable, Severity: SeverityWarning,
			Message:  fmt.Sprintf("undefined variable %q", u.Name),
			Location: u.Loc,
		})
	}

	for name, defs := range definitions {
		if usedNames[name] {
			continue
		}
		for _, d := range defs {
			if d.Scope != "play" && d.Scope != "task" {
				continue
			}
			findings = append(findings, Finding{
				RuleID: "VAR002", Category: CategoryVariable, Severity: SeverityHint,
				Message:  fmt.Sprintf("variable %q is defined but never used", name),
				Location: d.Location,
			})
		}
	}

	shadowed := map[string]bool{}
	for name, defs := range definitions {
		hasPlay, hasTask := false, false
		var taskLoc Location
		for _, d := range defs {
			if d.Scope == "play" {
				hasPlay = true
			}
			if d.Scope == "task" {
				hasTask = true
				taskLoc = d.Location
			}
		}
		if hasPlay && hasTask && !shadowed[name] {
			shadowed[name] = true
			findings = append(findings, Finding{
				RuleID: "VAR003", Category: CategoryVariable, Severity: SeverityInfo,
				Message:  fmt.Sprintf("task variable %q shadows a play variable of the same name", name),
				Location: taskLoc,
			})
		}
	}

	return findings
}

func closestName(used string, definitions map[string][]variableUsage) string {
	threshold := 2
	if len(used) <= 4 {
		threshold = 1
	}
	best := ""
	bestDist := threshold + 1
	for name := range definitions {
		d := levenshtein.Distance(used, name, nil)
		if d <= threshold && d < bestDist {
			bestDist = d
			best = name
		}
	}
	return best
}
