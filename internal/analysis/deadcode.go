package analysis

import (
	"fmt"

	"github.com/rustible/rustible/internal/model"
)

// constantFalsity reports whether a when-condition list is a literal
// falsity, the simplest case the dead-code analyzer can prove statically.
func constantFalsity(w model.When) bool {
	for _, c := range w.Conditions {
		switch c {
		case "false", "False", "0 == 1", "1 == 0":
			return true
		}
	}
	return false
}

// analyzeDeadCode finds unreachable tasks (following a constant-false
// when, or following an unconditional fail within the same block),
// and handlers that are never notified.
func analyzeDeadCode(pb *model.Playbook) []Finding {
	var findings []Finding

	for playIdx := range pb.Plays {
		play := &pb.Plays[playIdx]

		check := func(section string, tasks []model.Task) {
			unreachableFrom := -1
			for i := range tasks {
				t := &tasks[i]
				loc := Location{PlayIndex: playIdx, PlayName: play.Name, TaskIndex: i, TaskName: t.Name}

				if unreachableFrom >= 0 {
					findings = append(findings, Finding{
						RuleID: "DEAD001", Category: CategoryDeadCode, Severity: SeverityWarning,
						Message:  fmt.Sprintf("task %q is unreachable: an earlier task in %s always fails or is constant-false", t.Name, section),
						Location: loc,
					})
					continue
				}

				if constantFalsity(t.When) {
					findings = append(findings, Finding{
						RuleID: "DEAD002", Category: CategoryDeadCode, Severity: SeverityInfo,
						Message:  fmt.Sprintf("task %q has a constant-false when condition and never runs", t.Name),
						Location: loc,
					})
					unreachableFrom = i
					continue
				}

				if t.Invocation != nil && t.Invocation.Module == "fail" && t.When.IsEmpty() && !t.IgnoreErrors {
					unreachableFrom = i
				}
			}
		}

		check("pre_tasks", play.PreTasks)
		check("tasks", play.Tasks)
		check("post_tasks", play.PostTasks)

		notified := map[string]bool{}
		collectNotify := func(tasks []model.Task) {
			var walk func(t *model.Task)
			walk = func(t *model.Task) {
				for _, n := range t.Notify {
					notified[n] = true
				}
				for i := range t.Block {
					walk(&t.Block[i])
				}
				for i := range t.Rescue {
					walk(&t.Rescue[i])
				}
				for i := range t.Always {
					walk(&t.Always[i])
				}
			}
			for i := range tasks {
				walk(&tasks[i])
			}
		}
		collectNotify(play.PreTasks)
		collectNotify(play.Tasks)
		collectNotify(play.PostTasks)

		for i := range play.Handlers {
			h := &play.Handlers[i]
			if notified[h.Name] {
				continue
			}
			listened := false
			for _, alias := range h.Listen {
				if notified[alias] {
					listened = true
					break
				}
			}
			if listened {
				continue
			}
			findings = append(findings, Finding{
				RuleID: "DEAD003", Category: CategoryDeadCode, Severity: SeverityHint,
				Message:  fmt.Sprintf("handler %q is never notified", h.Name),
				Location: Location{PlayIndex: playIdx, PlayName: play.Name, TaskName: h.Name},
			})
		}
	}

	return findings
}
