package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Subscribe_ReceivesStartAndFinishEvents(t *testing.T) {
	s := New("site.yml", nil)
	ch, unsubscribe := s.Subscribe(4)
	defer unsubscribe()

	s.StartTask(TaskStateRecord{TaskID: "t1", Host: "h1", Module: "debug"})
	require.NoError(t, s.FinishTask("h1", "t1", StatusOk, nil, "", "", nil))

	start := <-ch
	assert.Equal(t, StatusRunning, start.Status)
	finish := <-ch
	assert.Equal(t, StatusOk, finish.Status)
}

func TestStore_Subscribe_UnsubscribeClosesChannel(t *testing.T) {
	s := New("site.yml", nil)
	ch, unsubscribe := s.Subscribe(1)
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestStore_Subscribe_FullChannelDropsRatherThanBlocks(t *testing.T) {
	s := New("site.yml", nil)
	ch, unsubscribe := s.Subscribe(1)
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		s.StartTask(TaskStateRecord{TaskID: "t", Host: "h1", Module: "debug"})
	}
	assert.Len(t, ch, 1)
}
