package coordinator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/protocol-laboratory/group-coordinator-go/log"
	"github.com/protocol-laboratory/group-coordinator-go/metrics"
	"github.com/protocol-laboratory/group-coordinator-go/protocol"
	"github.com/protocol-laboratory/group-coordinator-go/purgatory"
	"github.com/protocol-laboratory/group-coordinator-go/storage"
)

// Coordinator wires the directory, the rebalance handler, the offset
// manager and the purgatory together behind the GroupCoordinator interface.
type Coordinator struct {
	config    *Config
	logger    log.Logger
	store     storage.ShardStore
	purgatory *purgatory.Purgatory
	handler   *rebalanceHandler
	offsets   *offsetManager
	directory *Directory

	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
	sweepDone chan struct{}
}

func NewCoordinator(config *Config, store storage.ShardStore) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		config:    config,
		logger:    log.NewLoggerWithLogrus(logrus.StandardLogger(), nil),
		store:     store,
		purgatory: purgatory.NewPurgatory(config.PurgatoryTickInterval),
		closeCh:   make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	c.handler = newRebalanceHandler(config, store, c.purgatory, c.logger)
	c.offsets = newOffsetManager(config, store, func(groupID string) int {
		return c.directory.ShardFor(groupID)
	})
	c.directory = NewDirectory(config, store, c.offsets, c.logger)
	go c.offsetRetentionSweeper()
	return c, nil
}

// Start loads every shard, which is the standalone deployment where one
// node owns the whole keyspace. Clustered deployments call BecomeShardOwner
// and ResignShardOwner as ownership moves.
func (c *Coordinator) Start(ctx context.Context) error {
	for shardID := 0; shardID < c.config.ShardCount; shardID++ {
		if err := c.BecomeShardOwner(ctx, shardID); err != nil {
			return err
		}
	}
	return nil
}

// BecomeShardOwner takes ownership of one shard and replays its records.
func (c *Coordinator) BecomeShardOwner(ctx context.Context, shardID int) error {
	if err := c.directory.LoadShard(ctx, shardID); err != nil {
		return err
	}
	c.started.Store(true)
	return nil
}

// availability gates every request on the coordinator's lifecycle: nothing
// is served before the first shard is owned or once shutdown has begun.
func (c *Coordinator) availability() protocol.ErrorCode {
	if !c.started.Load() || c.closing.Load() {
		return protocol.COORDINATOR_NOT_AVAILABLE
	}
	return protocol.NONE
}

// ResignShardOwner releases one shard. Every group on it is torn down and
// its parked requests are failed with NOT_COORDINATOR.
func (c *Coordinator) ResignShardOwner(shardID int) {
	for _, group := range c.directory.UnloadShard(shardID) {
		c.handler.Teardown(group)
	}
}

func (c *Coordinator) HandleJoinGroup(req *protocol.JoinGroupReq, cb protocol.JoinCallback) {
	if code := c.availability(); code != protocol.NONE {
		metrics.CoordinatorJoinGroupFailCount.Inc()
		cb(&protocol.JoinGroupResp{ErrorCode: code, MemberID: req.MemberID})
		return
	}
	if req.GroupID == "" {
		metrics.CoordinatorJoinGroupFailCount.Inc()
		cb(&protocol.JoinGroupResp{ErrorCode: protocol.INVALID_GROUP_ID, MemberID: req.MemberID})
		return
	}
	group, code := c.directory.GetOrCreateGroup(req.GroupID)
	if code != protocol.NONE {
		metrics.CoordinatorJoinGroupFailCount.Inc()
		cb(&protocol.JoinGroupResp{ErrorCode: code, MemberID: req.MemberID})
		return
	}
	start := time.Now()
	c.handler.JoinGroup(group, req, func(resp *protocol.JoinGroupResp) {
		if resp.ErrorCode == protocol.NONE {
			metrics.CoordinatorJoinGroupSuccessCount.Inc()
		} else {
			metrics.CoordinatorJoinGroupFailCount.Inc()
		}
		metrics.CoordinatorJoinGroupLatency.Observe(float64(time.Since(start).Milliseconds()))
		cb(resp)
	})
}

func (c *Coordinator) HandleSyncGroup(req *protocol.SyncGroupReq, cb protocol.SyncCallback) {
	if code := c.availability(); code != protocol.NONE {
		metrics.CoordinatorSyncGroupFailCount.Inc()
		cb(&protocol.SyncGroupResp{ErrorCode: code})
		return
	}
	group, code := c.directory.GetGroup(req.GroupID)
	if code != protocol.NONE {
		metrics.CoordinatorSyncGroupFailCount.Inc()
		cb(&protocol.SyncGroupResp{ErrorCode: syncLookupError(code)})
		return
	}
	start := time.Now()
	c.handler.SyncGroup(group, req, func(resp *protocol.SyncGroupResp) {
		if resp.ErrorCode == protocol.NONE {
			metrics.CoordinatorSyncGroupSuccessCount.Inc()
		} else {
			metrics.CoordinatorSyncGroupFailCount.Inc()
		}
		metrics.CoordinatorSyncGroupLatency.Observe(float64(time.Since(start).Milliseconds()))
		cb(resp)
	})
}

// syncLookupError maps a directory miss onto the sync error space: a group
// nobody ever joined cannot have a member either.
func syncLookupError(code protocol.ErrorCode) protocol.ErrorCode {
	if code == protocol.GROUP_ID_NOT_FOUND {
		return protocol.UNKNOWN_MEMBER_ID
	}
	return code
}

func (c *Coordinator) HandleHeartbeat(req *protocol.HeartbeatReq) *protocol.HeartbeatResp {
	if code := c.availability(); code != protocol.NONE {
		metrics.CoordinatorHeartbeatFailCount.Inc()
		return &protocol.HeartbeatResp{ErrorCode: code}
	}
	group, code := c.directory.GetGroup(req.GroupID)
	if code != protocol.NONE {
		metrics.CoordinatorHeartbeatFailCount.Inc()
		if code == protocol.GROUP_ID_NOT_FOUND {
			code = protocol.UNKNOWN_MEMBER_ID
		}
		return &protocol.HeartbeatResp{ErrorCode: code}
	}
	resp := c.handler.Heartbeat(group, req)
	if resp.ErrorCode == protocol.NONE || resp.ErrorCode == protocol.REBALANCE_IN_PROGRESS {
		metrics.CoordinatorHeartbeatSuccessCount.Inc()
	} else {
		metrics.CoordinatorHeartbeatFailCount.Inc()
	}
	return resp
}

func (c *Coordinator) HandleLeaveGroup(req *protocol.LeaveGroupReq) *protocol.LeaveGroupResp {
	if code := c.availability(); code != protocol.NONE {
		metrics.CoordinatorLeaveGroupFailCount.Inc()
		return &protocol.LeaveGroupResp{ErrorCode: code}
	}
	group, code := c.directory.GetGroup(req.GroupID)
	if code != protocol.NONE {
		metrics.CoordinatorLeaveGroupFailCount.Inc()
		return &protocol.LeaveGroupResp{ErrorCode: code}
	}
	resp := c.handler.LeaveGroup(group, req)
	if resp.ErrorCode == protocol.NONE {
		metrics.CoordinatorLeaveGroupSuccessCount.Inc()
	} else {
		metrics.CoordinatorLeaveGroupFailCount.Inc()
	}
	return resp
}

func (c *Coordinator) HandleOffsetCommit(req *protocol.OffsetCommitReq) *protocol.OffsetCommitResp {
	if code := c.availability(); code != protocol.NONE {
		metrics.CoordinatorOffsetCommitFailCount.Inc()
		return &protocol.OffsetCommitResp{ErrorCode: code}
	}
	if code := c.offsetCommitPrecondition(req); code != protocol.NONE {
		metrics.CoordinatorOffsetCommitFailCount.Inc()
		return &protocol.OffsetCommitResp{ErrorCode: code}
	}
	resp := &protocol.OffsetCommitResp{
		ErrorCode: protocol.NONE,
		Offsets:   c.offsets.commit(req.GroupID, req.Offsets),
	}
	metrics.CoordinatorOffsetCommitSuccessCount.Inc()
	return resp
}

// offsetCommitPrecondition validates membership for generation-bound
// commits. A commit with a negative generation and no member id is a
// standalone commit and only needs shard ownership.
func (c *Coordinator) offsetCommitPrecondition(req *protocol.OffsetCommitReq) protocol.ErrorCode {
	if req.GenerationID < 0 && req.MemberID == "" {
		_, code := c.directory.GetOrCreateGroup(req.GroupID)
		return code
	}
	group, code := c.directory.GetGroup(req.GroupID)
	if code != protocol.NONE {
		if code == protocol.GROUP_ID_NOT_FOUND {
			return protocol.ILLEGAL_GENERATION
		}
		return code
	}
	group.lock.Lock()
	defer group.lock.Unlock()
	if group.state == Dead {
		return protocol.COORDINATOR_NOT_AVAILABLE
	}
	if !group.has(req.MemberID) {
		return protocol.UNKNOWN_MEMBER_ID
	}
	if req.GenerationID != group.generationID {
		return protocol.ILLEGAL_GENERATION
	}
	if group.state == CompletingRebalance {
		return protocol.REBALANCE_IN_PROGRESS
	}
	return protocol.NONE
}

func (c *Coordinator) HandleOffsetFetch(req *protocol.OffsetFetchReq) *protocol.OffsetFetchResp {
	if code := c.availability(); code != protocol.NONE {
		return &protocol.OffsetFetchResp{ErrorCode: code}
	}
	d := c.directory
	d.mutex.RLock()
	code := d.checkShardLocked(req.GroupID)
	d.mutex.RUnlock()
	if code != protocol.NONE {
		return &protocol.OffsetFetchResp{ErrorCode: code}
	}
	return &protocol.OffsetFetchResp{
		ErrorCode: protocol.NONE,
		Offsets:   c.offsets.fetch(req.GroupID, req.Partitions),
	}
}

func (c *Coordinator) HandleListGroups() []*protocol.GroupOverview {
	groups := c.directory.ListGroups()
	overviews := make([]*protocol.GroupOverview, 0, len(groups))
	for _, group := range groups {
		group.lock.Lock()
		overviews = append(overviews, group.overview())
		group.lock.Unlock()
	}
	sort.Slice(overviews, func(i, j int) bool {
		return overviews[i].GroupID < overviews[j].GroupID
	})
	return overviews
}

func (c *Coordinator) HandleDescribeGroup(groupID string) (*protocol.GroupSummary, protocol.ErrorCode) {
	if code := c.availability(); code != protocol.NONE {
		return nil, code
	}
	group, code := c.directory.GetGroup(groupID)
	if code != protocol.NONE {
		return nil, code
	}
	group.lock.Lock()
	summary := group.summary()
	group.lock.Unlock()
	return summary, protocol.NONE
}

// offsetRetentionSweeper periodically tombstones offsets of groups that
// have been Empty longer than the retention window.
func (c *Coordinator) offsetRetentionSweeper() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.config.OffsetRetentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case now := <-ticker.C:
			expired := c.offsets.expire(c.groupExpirable, c.config.OffsetRetention, now)
			if expired > 0 {
				c.logger.Infof("offset retention sweep tombstoned %d records", expired)
			}
		}
	}
}

// groupExpirable reports whether a group's offsets may be retired: only
// groups with no members, or no group at all, qualify.
func (c *Coordinator) groupExpirable(groupID string) bool {
	c.directory.mutex.RLock()
	group := c.directory.groups[groupID]
	c.directory.mutex.RUnlock()
	if group == nil {
		return true
	}
	group.lock.Lock()
	defer group.lock.Unlock()
	return group.state == Empty || (group.state == Dead && len(group.members) == 0)
}

// Close stops background work and tears down every owned shard.
func (c *Coordinator) Close() {
	c.closing.Store(true)
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	<-c.sweepDone
	for _, shardID := range c.directory.OwnedShards() {
		c.ResignShardOwner(shardID)
	}
	c.purgatory.Close()
}
