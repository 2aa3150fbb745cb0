package coordinator

import (
	"context"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/protocol-laboratory/group-coordinator-go/log"
	"github.com/protocol-laboratory/group-coordinator-go/metrics"
	"github.com/protocol-laboratory/group-coordinator-go/model"
	"github.com/protocol-laboratory/group-coordinator-go/protocol"
	"github.com/protocol-laboratory/group-coordinator-go/storage"
)

type shardState int

const (
	shardLoading shardState = iota
	shardActive
)

// Directory maps groups to shards of the coordination log and tracks which
// shards this node currently owns. A group is only reachable through the
// directory while its shard is owned and fully replayed.
type Directory struct {
	config  *Config
	store   storage.ShardStore
	offsets *offsetManager
	logger  log.Logger

	mutex  sync.RWMutex
	shards map[int]shardState
	groups map[string]*Group
}

func NewDirectory(config *Config, store storage.ShardStore, offsets *offsetManager, logger log.Logger) *Directory {
	return &Directory{
		config:  config,
		store:   store,
		offsets: offsets,
		logger:  logger,
		shards:  make(map[int]shardState),
		groups:  make(map[string]*Group),
	}
}

// ShardFor maps a group id to its shard by stable hash; every node of a
// cluster computes the same owner for the same group.
func (d *Directory) ShardFor(groupID string) int {
	return int(murmur3.Sum32([]byte(groupID)) % uint32(d.config.ShardCount))
}

// LoadShard takes ownership of a shard: it is marked loading, its records
// replayed into groups and offsets, then marked active. Requests for its
// groups answer COORDINATOR_LOAD_IN_PROGRESS while the replay runs. Loading
// an already-owned shard is a no-op.
func (d *Directory) LoadShard(ctx context.Context, shardID int) error {
	d.mutex.Lock()
	if _, owned := d.shards[shardID]; owned {
		d.mutex.Unlock()
		return nil
	}
	d.shards[shardID] = shardLoading
	d.mutex.Unlock()

	shardLogger := d.logger.ShardID(shardID)
	loaded := make(map[string]*Group)
	err := d.store.Load(ctx, shardID, func(key string, value []byte) error {
		switch {
		case model.IsGroupMetadataKey(key):
			group, err := d.replayGroupRecord(shardID, key, value)
			if err != nil {
				shardLogger.Errorf("skipping unreadable group record %s: %s", key, err)
				return nil
			}
			loaded[group.groupID] = group
		case model.IsOffsetKey(key):
			if err := d.offsets.loadRecord(key, value); err != nil {
				shardLogger.Errorf("skipping unreadable offset record %s: %s", key, err)
			}
		default:
			shardLogger.Warnf("skipping record with unknown key %s", key)
		}
		return nil
	})
	if err != nil {
		d.mutex.Lock()
		delete(d.shards, shardID)
		d.mutex.Unlock()
		return err
	}

	d.mutex.Lock()
	for groupID, group := range loaded {
		d.groups[groupID] = group
	}
	d.shards[shardID] = shardActive
	d.updateGaugesLocked()
	d.mutex.Unlock()
	shardLogger.Infof("loaded shard with %d groups", len(loaded))
	return nil
}

// replayGroupRecord rebuilds a group from its last committed metadata
// record. Membership is not durable, so the group comes back with its
// persisted generation and assignment but no members; clients rejoin.
func (d *Directory) replayGroupRecord(shardID int, key string, value []byte) (*Group, error) {
	groupID, err := model.ParseGroupMetadataKey(key)
	if err != nil {
		return nil, err
	}
	data, err := model.DecodeGroupMetadata(value)
	if err != nil {
		return nil, err
	}
	group := newGroup(groupID, shardID)
	group.generationID = data.GenerationID
	group.protocolType = data.ProtocolType
	group.protocol = data.Protocol
	group.leader = data.LeaderID
	if len(data.Assignments) > 0 {
		group.state = Stable
		group.persistedAssignments = make(map[string][]byte, len(data.Assignments))
		for _, a := range data.Assignments {
			group.persistedAssignments[a.MemberID] = a.Assignment
		}
	}
	return group, nil
}

// UnloadShard releases ownership of a shard and returns the groups that
// lived on it; the caller tears them down. Offsets of the shard's groups are
// dropped from the cache, the durable records stay where they are.
func (d *Directory) UnloadShard(shardID int) []*Group {
	d.mutex.Lock()
	if _, owned := d.shards[shardID]; !owned {
		d.mutex.Unlock()
		return nil
	}
	delete(d.shards, shardID)
	var evicted []*Group
	for groupID, group := range d.groups {
		if group.shardID == shardID {
			evicted = append(evicted, group)
			delete(d.groups, groupID)
		}
	}
	d.updateGaugesLocked()
	d.mutex.Unlock()

	for _, group := range evicted {
		d.offsets.dropGroup(group.groupID)
	}
	d.logger.ShardID(shardID).Infof("unloaded shard with %d groups", len(evicted))
	return evicted
}

// checkShard reports whether requests for the group's shard can be served.
func (d *Directory) checkShardLocked(groupID string) protocol.ErrorCode {
	state, owned := d.shards[d.ShardFor(groupID)]
	if !owned {
		return protocol.NOT_COORDINATOR
	}
	if state == shardLoading {
		return protocol.COORDINATOR_LOAD_IN_PROGRESS
	}
	return protocol.NONE
}

// GetGroup returns an existing group, or the error code explaining why it
// cannot be served.
func (d *Directory) GetGroup(groupID string) (*Group, protocol.ErrorCode) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if code := d.checkShardLocked(groupID); code != protocol.NONE {
		return nil, code
	}
	group, ok := d.groups[groupID]
	if !ok {
		return nil, protocol.GROUP_ID_NOT_FOUND
	}
	return group, protocol.NONE
}

// GetOrCreateGroup returns the group, creating an empty one if this node
// owns its shard and no group exists yet.
func (d *Directory) GetOrCreateGroup(groupID string) (*Group, protocol.ErrorCode) {
	d.mutex.RLock()
	code := d.checkShardLocked(groupID)
	group := d.groups[groupID]
	d.mutex.RUnlock()
	if code != protocol.NONE {
		return nil, code
	}
	if group != nil {
		return group, protocol.NONE
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if code := d.checkShardLocked(groupID); code != protocol.NONE {
		return nil, code
	}
	if group, ok := d.groups[groupID]; ok {
		return group, protocol.NONE
	}
	group = newGroup(groupID, d.ShardFor(groupID))
	d.groups[groupID] = group
	d.updateGaugesLocked()
	d.logger.GroupID(groupID).Infof("created group on shard %d", group.shardID)
	return group, protocol.NONE
}

func (d *Directory) ListGroups() []*Group {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	groups := make([]*Group, 0, len(d.groups))
	for _, group := range d.groups {
		groups = append(groups, group)
	}
	return groups
}

func (d *Directory) OwnedShards() []int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	shards := make([]int, 0, len(d.shards))
	for shardID := range d.shards {
		shards = append(shards, shardID)
	}
	return shards
}

func (d *Directory) updateGaugesLocked() {
	metrics.CoordinatorGroupCount.Set(float64(len(d.groups)))
	metrics.CoordinatorOwnedShardCount.Set(float64(len(d.shards)))
}
