package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/protocol-laboratory/group-coordinator-go/model"
	"github.com/protocol-laboratory/group-coordinator-go/protocol"
	"github.com/protocol-laboratory/group-coordinator-go/storage"
	"github.com/protocol-laboratory/group-coordinator-go/utils"
)

// offsetManager caches the latest committed offset per (group, topic,
// partition) and writes it through to the group's shard. Fetches answer from
// the cache; the durable records only matter at shard load.
type offsetManager struct {
	config   *Config
	store    storage.ShardStore
	shardFor func(groupID string) int

	// persistLimiter throttles durable offset writes per key; the cache
	// always holds the latest value regardless.
	persistLimiter *utils.KeyBasedRateLimiter

	mutex   sync.RWMutex
	entries map[string]*model.OffsetData
}

func newOffsetManager(config *Config, store storage.ShardStore, shardFor func(groupID string) int) *offsetManager {
	m := &offsetManager{
		config:   config,
		store:    store,
		shardFor: shardFor,
		entries:  make(map[string]*model.OffsetData),
	}
	if config.OffsetPersistentFrequency > 0 {
		m.persistLimiter = utils.NewKeyBasedRateLimiter(config.OffsetPersistentFrequency, 1)
	}
	return m
}

func (m *offsetManager) commit(groupID string, offsets []*protocol.OffsetCommitPartition) []*protocol.OffsetCommitPartitionResp {
	shardID := m.shardFor(groupID)
	now := time.Now()
	resps := make([]*protocol.OffsetCommitPartitionResp, 0, len(offsets))
	for _, o := range offsets {
		key := model.OffsetKey(groupID, o.Topic, o.Partition)
		data := &model.OffsetData{
			Offset:          o.Offset,
			Metadata:        o.Metadata,
			CommitTimestamp: now.UnixMilli(),
		}
		m.mutex.Lock()
		m.entries[key] = data
		m.mutex.Unlock()
		if m.persistLimiter == nil || m.persistLimiter.Acquire(key) {
			m.persist(shardID, key, data)
		}
		resps = append(resps, &protocol.OffsetCommitPartitionResp{
			Topic:     o.Topic,
			Partition: o.Partition,
			ErrorCode: protocol.NONE,
		})
	}
	return resps
}

func (m *offsetManager) persist(shardID int, key string, data *model.OffsetData) {
	value, err := model.EncodeOffsetData(data)
	if err != nil {
		logrus.Errorf("encode offset record %s failed: %s", key, err)
		return
	}
	m.store.Append(context.Background(), shardID, key, value, func(err error) {
		if err != nil {
			logrus.Errorf("persist offset record %s failed: %s", key, err)
		}
	})
}

func (m *offsetManager) fetch(groupID string, partitions []*protocol.OffsetFetchPartition) []*protocol.OffsetFetchPartitionResp {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if partitions == nil {
		return m.fetchAllLocked(groupID)
	}
	resps := make([]*protocol.OffsetFetchPartitionResp, 0, len(partitions))
	for _, p := range partitions {
		resp := &protocol.OffsetFetchPartitionResp{
			Topic:     p.Topic,
			Partition: p.Partition,
			Offset:    -1,
			ErrorCode: protocol.NONE,
		}
		if data, ok := m.entries[model.OffsetKey(groupID, p.Topic, p.Partition)]; ok {
			resp.Offset = data.Offset
			resp.Metadata = data.Metadata
		}
		resps = append(resps, resp)
	}
	return resps
}

func (m *offsetManager) fetchAllLocked(groupID string) []*protocol.OffsetFetchPartitionResp {
	prefix := model.OffsetKeyGroupPrefix(groupID)
	var resps []*protocol.OffsetFetchPartitionResp
	for key, data := range m.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		_, topic, partition, err := model.ParseOffsetKey(key)
		if err != nil {
			continue
		}
		resps = append(resps, &protocol.OffsetFetchPartitionResp{
			Topic:     topic,
			Partition: partition,
			Offset:    data.Offset,
			Metadata:  data.Metadata,
			ErrorCode: protocol.NONE,
		})
	}
	return resps
}

func (m *offsetManager) loadRecord(key string, value []byte) error {
	data, err := model.DecodeOffsetData(value)
	if err != nil {
		return err
	}
	m.mutex.Lock()
	m.entries[key] = data
	m.mutex.Unlock()
	return nil
}

// dropGroup forgets a group's cached offsets, leaving the durable records in
// place for whichever node loads the shard next.
func (m *offsetManager) dropGroup(groupID string) {
	prefix := model.OffsetKeyGroupPrefix(groupID)
	m.mutex.Lock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			if m.persistLimiter != nil {
				m.persistLimiter.Clean(key)
			}
		}
	}
	m.mutex.Unlock()
}

// expire tombstones offsets of groups that have sat Empty past the retention
// window; groups with live members keep their offsets indefinitely. Returns
// the number of keys tombstoned.
func (m *offsetManager) expire(isExpirable func(groupID string) bool, retention time.Duration, now time.Time) int {
	cutoff := now.Add(-retention).UnixMilli()
	var stale []string
	m.mutex.RLock()
	for key, data := range m.entries {
		if data.CommitTimestamp > cutoff {
			continue
		}
		groupID, _, _, err := model.ParseOffsetKey(key)
		if err != nil {
			continue
		}
		if isExpirable(groupID) {
			stale = append(stale, key)
		}
	}
	m.mutex.RUnlock()

	for _, key := range stale {
		key := key
		m.mutex.Lock()
		delete(m.entries, key)
		m.mutex.Unlock()
		if m.persistLimiter != nil {
			m.persistLimiter.Clean(key)
		}
		shardID := 0
		if groupID, _, _, err := model.ParseOffsetKey(key); err == nil {
			shardID = m.shardFor(groupID)
		}
		logrus.Infof("expiring offset record %s", key)
		m.store.Append(context.Background(), shardID, key, nil, func(err error) {
			if err != nil {
				logrus.Errorf("tombstone offset record %s failed: %s", key, err)
			}
		})
	}
	return len(stale)
}
