package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrastate "github.com/rustible/rustible/infrastructure/state"
)

func newTestCheckpointStore(t *testing.T) *CheckpointStore {
	t.Helper()
	backend := infrastate.NewMemoryBackend(0)
	return NewCheckpointStoreWithBackend(backend, DefaultCheckpointConfig())
}

func TestCheckpointStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	state := PlaybookState{
		CompletedTasks: map[string][]string{
			"web01": {"install-nginx", "start-service"},
		},
		HostFacts: map[string]map[string]any{
			"web01": {"os_family": "Debian"},
		},
	}
	checkpoint := NewCheckpoint("site.yml", state)

	id, err := store.Save(ctx, checkpoint)
	require.NoError(t, err)

	loaded, err := store.Load(ctx, "site.yml", id)
	require.NoError(t, err)

	assert.True(t, loaded.State.IsCompleted("web01", "install-nginx"))
	assert.False(t, loaded.State.IsCompleted("web01", "never-ran"))
}

func TestCheckpointStore_ListForPlaybookReturnsOldestFirst(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	first := NewCheckpoint("site.yml", PlaybookState{})
	_, err := store.Save(ctx, first)
	require.NoError(t, err)

	second := NewCheckpoint("site.yml", PlaybookState{})
	second.Timestamp = first.Timestamp.Add(1)
	_, err = store.Save(ctx, second)
	require.NoError(t, err)

	checkpoints, err := store.ListForPlaybook(ctx, "site.yml")
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.False(t, checkpoints[0].Timestamp.After(checkpoints[1].Timestamp))
}

func TestCheckpointStore_LoadRejectsNewerSchemaVersion(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	checkpoint := NewCheckpoint("site.yml", PlaybookState{})
	checkpoint.SchemaVersion = checkpointSchemaVersion + 1
	id, err := store.Save(ctx, checkpoint)
	require.NoError(t, err)

	_, err = store.Load(ctx, "site.yml", id)
	assert.Error(t, err)
}

func TestCheckpointCadence_ShouldCheckpoint(t *testing.T) {
	cadence := CheckpointCadence{AfterEveryPlay: true, AfterNTasks: 5, AfterChangedTask: true}

	assert.True(t, cadence.ShouldCheckpoint(true, 0, false), "end-of-play should trigger a checkpoint")
	assert.True(t, cadence.ShouldCheckpoint(false, 5, false), "reaching the task count should trigger a checkpoint")
	assert.True(t, cadence.ShouldCheckpoint(false, 1, true), "a changed task should trigger a checkpoint")
	assert.False(t, cadence.ShouldCheckpoint(false, 1, false), "no trigger condition should mean no checkpoint")
}
