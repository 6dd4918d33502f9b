package state

import "sync"

// subscriber receives a copy of every TaskStateRecord transition
// (StartTask and FinishTask) the Store records, used by the telemetry
// server's /events endpoint to stream live progress to an observer.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan TaskStateRecord
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: map[int]chan TaskStateRecord{}}
}

// Subscribe registers a new listener with the given channel buffer and
// returns the receive-only channel plus an unsubscribe func. A full
// channel drops the event rather than blocking the publishing task.
func (b *broadcaster) Subscribe(buffer int) (<-chan TaskStateRecord, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan TaskStateRecord, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			close(ch)
			delete(b.subs, id)
		}
	}
}

func (b *broadcaster) publish(rec TaskStateRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Subscribe exposes the store's live transition stream: one
// TaskStateRecord per StartTask/FinishTask call, in call order.
func (s *Store) Subscribe(buffer int) (<-chan TaskStateRecord, func()) {
	return s.bcast.Subscribe(buffer)
}
