package analysis

import (
	"fmt"

	"github.com/rustible/rustible/internal/model"
)

// ComplexityThresholds configures when the complexity analyzer emits a
// finding instead of merely recording a metric.
type ComplexityThresholds struct {
	MaxCyclomatic    int
	MaxNestingDepth  int
	MinMaintainability float64
}

// DefaultComplexityThresholds mirrors common linting defaults: double
// digits before a play/task is considered hard to follow.
func DefaultComplexityThresholds() ComplexityThresholds {
	return ComplexityThresholds{MaxCyclomatic: 10, MaxNestingDepth: 4, MinMaintainability: 20}
}

// ComplexityMetrics is one play or task's computed complexity.
type ComplexityMetrics struct {
	Location           Location
	Cyclomatic         int
	NestingDepth       int
	MaintainabilityIndex float64
}

// taskComplexity computes 1 + branching-construct count (when, loop,
// block alternatives) and nesting depth, recursively over block/rescue/
// always.
func taskComplexity(t *model.Task, depth int) (cyclomatic, maxDepth int) {
	cyclomatic = 1
	maxDepth = depth
	if !t.When.IsEmpty() {
		cyclomatic += len(t.When.Conditions)
	}
	if t.Loop != nil || t.WithItems != nil {
		cyclomatic++
	}
	if t.IsBlock() {
		cyclomatic++ // block/rescue is itself a branching construct
		childDepth := depth + 1
		for _, children := range [][]model.Task{t.Block, t.Rescue, t.Always} {
			for i := range children {
				c, d := taskComplexity(&children[i], childDepth)
				cyclomatic += c
				if d > maxDepth {
					maxDepth = d
				}
			}
		}
	}
	return cyclomatic, maxDepth
}

func maintainabilityIndex(cyclomatic, taskCount int) float64 {
	// A simplified maintainability index in the conventional 0-100 band:
	// penalize cyclomatic complexity and task count, floor at 0.
	mi := 100.0 - float64(cyclomatic)*3 - float64(taskCount)*0.5
	if mi < 0 {
		mi = 0
	}
	return mi
}

// analyzeComplexity computes per-play and per-task metrics and emits a
// finding for anything exceeding thresholds.
func analyzeComplexity(pb *model.Playbook, thresholds ComplexityThresholds) ([]Finding, []ComplexityMetrics) {
	var findings []Finding
	var metrics []ComplexityMetrics

	for playIdx := range pb.Plays {
		play := &pb.Plays[playIdx]
		playCyclomatic := 1
		playMaxDepth := 0
		taskCount := 0

		walkSection := func(section string, tasks []model.Task) {
			for i := range tasks {
				t := &tasks[i]
				taskCount++
				cyc, depth := taskComplexity(t, 1)
				playCyclomatic += cyc
				if depth > playMaxDepth {
					playMaxDepth = depth
				}
				loc := Location{PlayIndex: playIdx, PlayName: play.Name, TaskIndex: i, TaskName: t.Name}
				mi := maintainabilityIndex(cyc, 1)
				metrics = append(metrics, ComplexityMetrics{Location: loc, Cyclomatic: cyc, NestingDepth: depth, MaintainabilityIndex: mi})

				if cyc > thresholds.MaxCyclomatic {
					findings = append(findings, Finding{
						RuleID: "CPX001", Category: CategoryComplexity, Severity: SeverityWarning,
						Message:  fmt.Sprintf("task %q has cyclomatic complexity %d (threshold %d)", t.Name, cyc, thresholds.MaxCyclomatic),
						Location: loc,
					})
				}
				if depth > thresholds.MaxNestingDepth {
					findings = append(findings, Finding{
						RuleID: "CPX002", Category: CategoryComplexity, Severity: SeverityWarning,
						Message:  fmt.Sprintf("task %q nests %d levels deep (threshold %d)", t.Name, depth, thresholds.MaxNestingDepth),
						Location: loc,
					})
				}
				if mi < thresholds.MinMaintainability {
					findings = append(findings, Finding{
						RuleID: "CPX003", Category: CategoryComplexity, Severity: SeverityHint,
						Message:  fmt.Sprintf("task %q has a low maintainability index (%.1f)", t.Name, mi),
						Location: loc,
					})
				}
			}
		}
		walkSection("pre_tasks", play.PreTasks)
		walkSection("tasks", play.Tasks)
		walkSection("post_tasks", play.PostTasks)

		playMI := maintainabilityIndex(playCyclomatic, taskCount)
		metrics = append(metrics, ComplexityMetrics{
			Location:             Location{PlayIndex: playIdx, PlayName: play.Name},
			Cyclomatic:           playCyclomatic,
			NestingDepth:         playMaxDepth,
			MaintainabilityIndex: playMI,
		})
		if playCyclomatic > thresholds.MaxCyclomatic {
			findings = append(findings, Finding{
				RuleID: "CPX001", Category: CategoryComplexity, Severity: SeverityWarning,
				Message:  fmt.Sprintf("play %q has cyclomatic complexity %d (threshold %d)", play.Name, playCyclomatic, thresholds.MaxCyclomatic),
				Location: Location{PlayIndex: playIdx, PlayName: play.Name},
			})
		}
	}

	return findings, metrics
}
