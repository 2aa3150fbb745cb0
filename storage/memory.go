package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps shard records in process memory. Used by tests and by
// single-node deployments that can afford to lose committed state on
// restart.
type MemoryStore struct {
	mutex  sync.RWMutex
	shards map[int]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shards: make(map[int]map[string][]byte)}
}

func (m *MemoryStore) Append(ctx context.Context, shardID int, key string, value []byte, cb AppendCallback) {
	m.mutex.Lock()
	shard, exist := m.shards[shardID]
	if !exist {
		shard = make(map[string][]byte)
		m.shards[shardID] = shard
	}
	if len(value) == 0 {
		delete(shard, key)
	} else {
		stored := make([]byte, len(value))
		copy(stored, value)
		shard[key] = stored
	}
	m.mutex.Unlock()
	if cb != nil {
		go cb(nil)
	}
}

func (m *MemoryStore) Load(ctx context.Context, shardID int, fn LoadFunc) error {
	m.mutex.RLock()
	shard := m.shards[shardID]
	snapshot := make(map[string][]byte, len(shard))
	for key, value := range shard {
		snapshot[key] = value
	}
	m.mutex.RUnlock()
	for key, value := range snapshot {
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
