package saga

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry is one live saga. mu serializes every step against the saga, so that
// lookup, handler execution and the eviction decision happen atomically per
// id.
type entry struct {
	mu         sync.Mutex
	saga       Saga
	sagaType   string
	lastActive time.Time
	evicted    bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

// registry maps correlation ids to live sagas. It is split into shards so
// that new sagas and lookups for unrelated ids rarely contend.
type registry struct {
	shards []*shard
}

func newRegistry(n int) *registry {
	if n < 1 {
		n = 1
	}
	r := &registry{shards: make([]*shard, n)}
	for i := range r.shards {
		r.shards[i] = &shard{entries: map[uuid.UUID]*entry{}}
	}
	return r
}

func (r *registry) shardFor(id uuid.UUID) *shard {
	// Version 4 uuids are random in every byte but the version and variant
	// nibbles, so the low bytes spread evenly.
	h := uint32(id[12])<<24 | uint32(id[13])<<16 | uint32(id[14])<<8 | uint32(id[15])
	return r.shards[h%uint32(len(r.shards))]
}

func (r *registry) get(id uuid.UUID) *entry {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (r *registry) put(id uuid.UUID, e *entry) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
}

// remove deletes the entry and marks it evicted so queued callers observe the
// eviction. The caller must hold e.mu.
func (r *registry) remove(id uuid.UUID, e *entry) {
	e.evicted = true
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
}

func (r *registry) len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// expire evicts entries idle since before cutoff and returns them. Entries
// that are busy handling a step are skipped since they are, by definition,
// active.
func (r *registry) expire(cutoff time.Time) map[uuid.UUID]*entry {
	expired := map[uuid.UUID]*entry{}
	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if !e.mu.TryLock() {
				continue
			}
			if e.lastActive.Before(cutoff) {
				e.evicted = true
				delete(s.entries, id)
				expired[id] = e
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return expired
}
