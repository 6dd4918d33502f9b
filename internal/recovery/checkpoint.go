package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustible/rustible/infrastructure/metrics"
	infrastate "github.com/rustible/rustible/infrastructure/state"
)

// checkpointSchemaVersion is bumped whenever the on-disk Checkpoint layout
// changes incompatibly. Load rejects anything newer than it understands.
const checkpointSchemaVersion = 1

// CheckpointID identifies one saved Checkpoint.
type CheckpointID string

// TaskProgress records whether a single (host, task) pair has completed, so
// a resumed run can skip it.
type TaskProgress struct {
	Host     string
	TaskID   string
	Finished bool
	Changed  bool
}

// PlaybookState is the tuple a Checkpoint freezes: completed task ids per
// host, the per-host state snapshot, and the id of the last full state
// snapshot taken (for cross-referencing the state store's own history).
type PlaybookState struct {
	CompletedTasks map[string][]string // host -> ordered completed task ids
	HostFacts      map[string]map[string]any
	LastSnapshotID string
}

// IsCompleted reports whether (host, taskID) is already marked done in this
// state, letting the executor skip it on resume.
func (s PlaybookState) IsCompleted(host, taskID string) bool {
	for _, id := range s.CompletedTasks[host] {
		if id == taskID {
			return true
		}
	}
	return false
}

// Checkpoint is one persisted save point for a playbook run.
type Checkpoint struct {
	SchemaVersion int
	ID            CheckpointID
	PlaybookName  string
	State         PlaybookState
	Timestamp     time.Time
}

func newCheckpointID() CheckpointID {
	return CheckpointID(fmt.Sprintf("ckpt-%d", time.Now().UnixNano()))
}

// NewCheckpoint wraps a PlaybookState with a fresh ID and timestamp.
func NewCheckpoint(playbookName string, state PlaybookState) Checkpoint {
	return Checkpoint{
		SchemaVersion: checkpointSchemaVersion,
		ID:            newCheckpointID(),
		PlaybookName:  playbookName,
		State:         state,
		Timestamp:     time.Now(),
	}
}

// CheckpointCadence decides when the executor should save a checkpoint.
type CheckpointCadence struct {
	AfterEveryPlay   bool
	AfterNTasks      int // 0 disables
	AfterChangedTask bool
}

// CheckpointConfig configures a CheckpointStore.
type CheckpointConfig struct {
	Dir     string
	Cadence CheckpointCadence
}

// DefaultCheckpointConfig disables checkpointing cadence entirely; the
// executor only saves when explicitly asked to.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{Dir: "checkpoints"}
}

// ProductionCheckpointConfig saves after every play and after any task that
// reports Changed, in addition to an every-20-tasks safety net.
func ProductionCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Dir: "/var/lib/rustible/checkpoints",
		Cadence: CheckpointCadence{
			AfterEveryPlay:   true,
			AfterNTasks:      20,
			AfterChangedTask: true,
		},
	}
}

// ShouldCheckpoint reports whether, given the cadence policy, a checkpoint
// should be taken now.
func (c CheckpointCadence) ShouldCheckpoint(endOfPlay bool, tasksSinceLast int, lastTaskChanged bool) bool {
	if endOfPlay && c.AfterEveryPlay {
		return true
	}
	if c.AfterNTasks > 0 && tasksSinceLast >= c.AfterNTasks {
		return true
	}
	if c.AfterChangedTask && lastTaskChanged {
		return true
	}
	return false
}

// CheckpointStore persists and retrieves Checkpoints keyed by CheckpointID,
// backed by an atomic write-temp-then-rename file store.
type CheckpointStore struct {
	mu      sync.Mutex
	backend infrastate.PersistenceBackend
	config  CheckpointConfig
}

// NewCheckpointStore opens (creating if needed) a file-backed checkpoint
// store rooted at config.Dir.
func NewCheckpointStore(config CheckpointConfig) (*CheckpointStore, error) {
	backend, err := infrastate.NewFileBackend(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint error: %w", err)
	}
	return &CheckpointStore{backend: backend, config: config}, nil
}

// NewCheckpointStoreWithBackend allows tests (or callers wanting a Redis-
// backed store) to supply their own PersistenceBackend.
func NewCheckpointStoreWithBackend(backend infrastate.PersistenceBackend, config CheckpointConfig) *CheckpointStore {
	return &CheckpointStore{backend: backend, config: config}
}

type checkpointDoc struct {
	SchemaVersion int                         `yaml:"schema_version"`
	ID            string                      `yaml:"id"`
	PlaybookName  string                      `yaml:"playbook_name"`
	Timestamp     time.Time                   `yaml:"timestamp"`
	CompletedTasks map[string][]string        `yaml:"completed_tasks"`
	HostFacts      map[string]map[string]any  `yaml:"host_facts"`
	LastSnapshotID string                     `yaml:"last_snapshot_id"`
}

func toDoc(c Checkpoint) checkpointDoc {
	return checkpointDoc{
		SchemaVersion:  c.SchemaVersion,
		ID:             string(c.ID),
		PlaybookName:   c.PlaybookName,
		Timestamp:      c.Timestamp,
		CompletedTasks: c.State.CompletedTasks,
		HostFacts:      c.State.HostFacts,
		LastSnapshotID: c.State.LastSnapshotID,
	}
}

func fromDoc(d checkpointDoc) Checkpoint {
	return Checkpoint{
		SchemaVersion: d.SchemaVersion,
		ID:            CheckpointID(d.ID),
		PlaybookName:  d.PlaybookName,
		Timestamp:     d.Timestamp,
		State: PlaybookState{
			CompletedTasks: d.CompletedTasks,
			HostFacts:      d.HostFacts,
			LastSnapshotID: d.LastSnapshotID,
		},
	}
}

// Save persists checkpoint atomically and returns its ID.
func (s *CheckpointStore) Save(ctx context.Context, checkpoint Checkpoint) (CheckpointID, error) {
	if checkpoint.SchemaVersion == 0 {
		checkpoint.SchemaVersion = checkpointSchemaVersion
	}

	data, err := yaml.Marshal(toDoc(checkpoint))
	if err != nil {
		return "", fmt.Errorf("checkpoint error: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s/%s.yaml", checkpoint.PlaybookName, checkpoint.ID)
	if err := s.backend.Save(ctx, key, data); err != nil {
		metrics.Global().RecordCheckpoint("save", "failed")
		return "", fmt.Errorf("checkpoint error: %w", err)
	}
	metrics.Global().RecordCheckpoint("save", "ok")
	return checkpoint.ID, nil
}

// Load retrieves a checkpoint by ID, validating its schema version.
func (s *CheckpointStore) Load(ctx context.Context, playbookName string, id CheckpointID) (Checkpoint, error) {
	key := fmt.Sprintf("%s/%s.yaml", playbookName, id)

	data, err := s.backend.Load(ctx, key)
	if err != nil {
		metrics.Global().RecordCheckpoint("load", "failed")
		return Checkpoint{}, fmt.Errorf("checkpoint error: %w", err)
	}

	var doc checkpointDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		metrics.Global().RecordCheckpoint("load", "failed")
		return Checkpoint{}, fmt.Errorf("checkpoint error: decode: %w", err)
	}
	if doc.SchemaVersion > checkpointSchemaVersion {
		metrics.Global().RecordCheckpoint("load", "failed")
		return Checkpoint{}, fmt.Errorf("checkpoint error: unsupported schema version %d", doc.SchemaVersion)
	}

	metrics.Global().RecordCheckpoint("load", "ok")
	return fromDoc(doc), nil
}

// ListForPlaybook returns every checkpoint saved for playbookName, oldest
// first.
func (s *CheckpointStore) ListForPlaybook(ctx context.Context, playbookName string) ([]Checkpoint, error) {
	keys, err := s.backend.List(ctx, playbookName+"/")
	if err != nil {
		return nil, fmt.Errorf("checkpoint error: %w", err)
	}

	var checkpoints []Checkpoint
	for _, key := range keys {
		data, err := s.backend.Load(ctx, key)
		if err != nil {
			continue
		}
		var doc checkpointDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			continue
		}
		checkpoints = append(checkpoints, fromDoc(doc))
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].Timestamp.Before(checkpoints[j].Timestamp)
	})
	return checkpoints, nil
}

// Close releases the underlying backend.
func (s *CheckpointStore) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}
