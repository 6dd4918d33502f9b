package state

import (
	"fmt"
	"reflect"
)

// FieldDiff is one changed field between two versions of the same record.
type FieldDiff struct {
	Field string
	Old   any
	New   any
}

// TaskDiff describes how one (host, task_id) key changed between snapshots.
type TaskDiff struct {
	Host   string
	TaskID string
	Fields []FieldDiff
}

// HostDiff describes how one host's counters changed between snapshots.
type HostDiff struct {
	Host   string
	Fields []FieldDiff
}

// DiffSummary is the aggregate shape a caller inspects first.
type DiffSummary struct {
	TasksAdded    int
	TasksRemoved  int
	TasksModified int
	HostsAdded    int
	HostsRemoved  int
	HostsModified int
	HasChanges    bool
}

// DiffReport is the full comparison between two snapshots.
type DiffReport struct {
	OldSnapshotID string
	NewSnapshotID string
	TasksAdded    []TaskStateRecord
	TasksRemoved  []TaskStateRecord
	TasksModified []TaskDiff
	HostsAdded    []string
	HostsRemoved  []string
	HostsModified []HostDiff
	StatsDelta    ExecutionStats
	Summary       DiffSummary
}

// Diff compares two snapshots keyed by (host, task_id): keys only in one
// side are Added/Removed; keys in both with a differing status, before/
// after state, or args are Modified with per-field value diffs.
func Diff(oldSnap, newSnap StateSnapshot) DiffReport {
	report := DiffReport{OldSnapshotID: oldSnap.ID, NewSnapshotID: newSnap.ID}

	oldByKey := indexTasks(oldSnap.Tasks)
	newByKey := indexTasks(newSnap.Tasks)

	for k, rec := range newByKey {
		if _, ok := oldByKey[k]; !ok {
			report.TasksAdded = append(report.TasksAdded, rec)
		}
	}
	for k, rec := range oldByKey {
		if _, ok := newByKey[k]; !ok {
			report.TasksRemoved = append(report.TasksRemoved, rec)
		}
	}
	for k, oldRec := range oldByKey {
		newRec, ok := newByKey[k]
		if !ok {
			continue
		}
		if fields := diffTaskFields(oldRec, newRec); len(fields) > 0 {
			report.TasksModified = append(report.TasksModified, TaskDiff{
				Host: newRec.Host, TaskID: newRec.TaskID, Fields: fields,
			})
		}
	}

	for h := range newSnap.HostStates {
		if _, ok := oldSnap.HostStates[h]; !ok {
			report.HostsAdded = append(report.HostsAdded, h)
		}
	}
	for h := range oldSnap.HostStates {
		if _, ok := newSnap.HostStates[h]; !ok {
			report.HostsRemoved = append(report.HostsRemoved, h)
		}
	}
	for h, oldHS := range oldSnap.HostStates {
		newHS, ok := newSnap.HostStates[h]
		if !ok {
			continue
		}
		if fields := diffHostFields(oldHS, newHS); len(fields) > 0 {
			report.HostsModified = append(report.HostsModified, HostDiff{Host: h, Fields: fields})
		}
	}

	report.StatsDelta = ExecutionStats{
		Ok:          newSnap.Stats.Ok - oldSnap.Stats.Ok,
		Changed:     newSnap.Stats.Changed - oldSnap.Stats.Changed,
		Failed:      newSnap.Stats.Failed - oldSnap.Stats.Failed,
		Skipped:     newSnap.Stats.Skipped - oldSnap.Stats.Skipped,
		Unreachable: newSnap.Stats.Unreachable - oldSnap.Stats.Unreachable,
	}

	report.Summary = DiffSummary{
		TasksAdded:    len(report.TasksAdded),
		TasksRemoved:  len(report.TasksRemoved),
		TasksModified: len(report.TasksModified),
		HostsAdded:    len(report.HostsAdded),
		HostsRemoved:  len(report.HostsRemoved),
		HostsModified: len(report.HostsModified),
	}
	report.Summary.HasChanges = report.Summary.TasksAdded > 0 ||
		report.Summary.TasksRemoved > 0 ||
		report.Summary.TasksModified > 0 ||
		report.Summary.HostsAdded > 0 ||
		report.Summary.HostsRemoved > 0 ||
		report.Summary.HostsModified > 0

	return report
}

func indexTasks(tasks []TaskStateRecord) map[string]TaskStateRecord {
	out := make(map[string]TaskStateRecord, len(tasks))
	for _, t := range tasks {
		out[t.key()] = t
	}
	return out
}

func diffTaskFields(old, new TaskStateRecord) []FieldDiff {
	var fields []FieldDiff
	if old.Status != new.Status {
		fields = append(fields, FieldDiff{Field: "status", Old: old.Status, New: new.Status})
	}
	if !reflect.DeepEqual(old.BeforeState, new.BeforeState) {
		fields = append(fields, FieldDiff{Field: "before_state", Old: old.BeforeState, New: new.BeforeState})
	}
	if !reflect.DeepEqual(old.AfterState, new.AfterState) {
		fields = append(fields, FieldDiff{Field: "after_state", Old: old.AfterState, New: new.AfterState})
	}
	if !reflect.DeepEqual(old.Args, new.Args) {
		fields = append(fields, FieldDiff{Field: "args", Old: old.Args, New: new.Args})
	}
	return fields
}

func diffHostFields(old, new HostState) []FieldDiff {
	var fields []FieldDiff
	check := func(name string, a, b int) {
		if a != b {
			fields = append(fields, FieldDiff{Field: name, Old: a, New: b})
		}
	}
	check("ok", old.Ok, new.Ok)
	check("changed", old.Changed, new.Changed)
	check("failed", old.Failed, new.Failed)
	check("skipped", old.Skipped, new.Skipped)
	check("unreachable", old.Unreachable, new.Unreachable)
	if old.FailedPermanently != new.FailedPermanently {
		fields = append(fields, FieldDiff{Field: "failed_permanently", Old: old.FailedPermanently, New: new.FailedPermanently})
	}
	return fields
}

func (d DiffReport) String() string {
	return fmt.Sprintf("diff %s..%s: +%d -%d ~%d tasks, +%d -%d ~%d hosts (changes=%v)",
		d.OldSnapshotID, d.NewSnapshotID,
		d.Summary.TasksAdded, d.Summary.TasksRemoved, d.Summary.TasksModified,
		d.Summary.HostsAdded, d.Summary.HostsRemoved, d.Summary.HostsModified,
		d.Summary.HasChanges)
}
