package state

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	infrastate "github.com/rustible/rustible/infrastructure/state"
)

// Store is the single source of truth for in-flight and historical
// execution of one playbook run. All mutation happens under mu; readers
// (Snapshot, Diff) take a consistent copy under the same lock rather than
// iterating live maps.
type Store struct {
	mu         sync.RWMutex
	playbook   string
	tasks      map[string]*TaskStateRecord // key: host\x00taskID
	order      []string                    // insertion order, for stable snapshots
	hostStates map[string]*HostState

	backend   infrastate.PersistenceBackend
	snapshots map[string]StateSnapshot
	bcast     *broadcaster
}

// New creates a Store for one playbook run. backend is optional; when set,
// every Snapshot call is also persisted so it can be loaded by id later
// (e.g. across a process restart).
func New(playbook string, backend infrastate.PersistenceBackend) *Store {
	return &Store{
		playbook:   playbook,
		tasks:      map[string]*TaskStateRecord{},
		hostStates: map[string]*HostState{},
		backend:    backend,
		snapshots:  map[string]StateSnapshot{},
		bcast:      newBroadcaster(),
	}
}

func (s *Store) hostState(host string) *HostState {
	hs, ok := s.hostStates[host]
	if !ok {
		hs = &HostState{}
		s.hostStates[host] = hs
	}
	return hs
}

// StartTask records a new in-flight TaskStateRecord. Status defaults to
// Running if the caller left it zero.
func (s *Store) StartTask(rec TaskStateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Status == "" {
		rec.Status = StatusRunning
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	k := rec.key()
	if _, exists := s.tasks[k]; !exists {
		s.order = append(s.order, k)
	}
	cp := rec
	s.tasks[k] = &cp
	s.bcast.publish(cp)
}

// FinishTask transitions (host, taskID) to a terminal status, recording the
// outcome and updating the host's counters.
func (s *Store) FinishTask(host, taskID string, status TaskStatus, afterState map[string]any, stdout, stderr string, rc *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := host + "\x00" + taskID
	rec, ok := s.tasks[k]
	if !ok {
		return fmt.Errorf("state: no in-flight record for host %q task %q", host, taskID)
	}

	rec.Status = status
	rec.AfterState = afterState
	rec.Stdout = stdout
	rec.Stderr = stderr
	rec.RC = rc
	rec.FinishedAt = time.Now()
	rec.AttemptCount++
	s.bcast.publish(*rec)

	hs := s.hostState(host)
	switch status {
	case StatusOk:
		hs.Ok++
	case StatusChanged:
		hs.Changed++
	case StatusFailed:
		hs.Failed++
	case StatusSkipped:
		hs.Skipped++
	case StatusUnreachable:
		hs.Unreachable++
	}
	return nil
}

// LatchFailure marks a host permanently failed, independent of its task
// counters (any_errors_fatal, ignore_errors==false).
func (s *Store) LatchFailure(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostState(host).FailedPermanently = true
}

func newSnapshotID() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("snap-%d-%08x", time.Now().UnixNano(), buf)
}

// Snapshot takes a consistent copy of the store's current state, suitable
// for Diff or for persisting as a checkpoint boundary.
func (s *Store) Snapshot(ctx context.Context) (StateSnapshot, error) {
	s.mu.RLock()
	snap := StateSnapshot{
		ID:         newSnapshotID(),
		Playbook:   s.playbook,
		Timestamp:  time.Now(),
		Tasks:      make([]TaskStateRecord, 0, len(s.order)),
		HostStates: make(map[string]HostState, len(s.hostStates)),
	}
	for _, k := range s.order {
		snap.Tasks = append(snap.Tasks, *s.tasks[k])
	}
	for h, hs := range s.hostStates {
		snap.HostStates[h] = *hs
		snap.Stats.Ok += hs.Ok
		snap.Stats.Changed += hs.Changed
		snap.Stats.Failed += hs.Failed
		snap.Stats.Skipped += hs.Skipped
		snap.Stats.Unreachable += hs.Unreachable
	}
	s.mu.RUnlock()

	s.mu.Lock()
	s.snapshots[snap.ID] = snap
	s.mu.Unlock()

	if s.backend != nil {
		data, err := json.Marshal(snap)
		if err != nil {
			return snap, err
		}
		if err := s.backend.Save(ctx, "snapshots/"+snap.ID, data); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// LoadSnapshot returns a previously taken snapshot by id, checking the
// in-memory cache before falling back to the persistence backend.
func (s *Store) LoadSnapshot(ctx context.Context, id string) (StateSnapshot, error) {
	s.mu.RLock()
	snap, ok := s.snapshots[id]
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}
	if s.backend == nil {
		return StateSnapshot{}, fmt.Errorf("state: snapshot %q not found", id)
	}
	data, err := s.backend.Load(ctx, "snapshots/"+id)
	if err != nil {
		return StateSnapshot{}, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return StateSnapshot{}, err
	}
	return snap, nil
}

// ListSnapshots returns every snapshot id known to the store, oldest first.
func (s *Store) ListSnapshots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
