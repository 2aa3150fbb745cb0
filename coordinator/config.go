package coordinator

import (
	"time"

	"github.com/pkg/errors"

	"github.com/protocol-laboratory/group-coordinator-go/constant"
)

type Config struct {
	NodeID int

	// ShardCount is the number of partitions of the durable coordination
	// log. A group maps to one shard by stable hash; this node handles a
	// group only while it owns that shard.
	ShardCount int

	GroupMinSessionTimeoutMs int
	GroupMaxSessionTimeoutMs int

	// GroupMaxSize caps members per group, 0 means unlimited.
	GroupMaxSize int

	// InitialDelayedJoinMs holds the first rebalance of a new group open so
	// that members starting together join in one generation instead of one
	// rebalance each. Negative disables the delay.
	InitialDelayedJoinMs int

	// OffsetRetention is how long committed offsets of an Empty group are
	// kept before being tombstoned.
	OffsetRetention              time.Duration
	OffsetRetentionSweepInterval time.Duration

	// OffsetPersistentFrequency rate-limits persisted offset records per
	// key to one write per this many seconds. 0 persists every commit.
	OffsetPersistentFrequency int

	PurgatoryTickInterval time.Duration
}

func (c *Config) Validate() error {
	if c.ShardCount == 0 {
		c.ShardCount = constant.DefaultShardCount
	}
	if c.ShardCount < 0 {
		return errors.Errorf("invalid shard count: %d", c.ShardCount)
	}
	if c.GroupMinSessionTimeoutMs == 0 {
		c.GroupMinSessionTimeoutMs = constant.DefaultGroupMinSessionTimeoutMs
	}
	if c.GroupMaxSessionTimeoutMs == 0 {
		c.GroupMaxSessionTimeoutMs = constant.DefaultGroupMaxSessionTimeoutMs
	}
	if c.GroupMinSessionTimeoutMs > c.GroupMaxSessionTimeoutMs {
		return errors.Errorf("invalid session timeout bounds: [%d, %d]",
			c.GroupMinSessionTimeoutMs, c.GroupMaxSessionTimeoutMs)
	}
	if c.InitialDelayedJoinMs == 0 {
		c.InitialDelayedJoinMs = constant.DefaultInitialDelayedJoinMs
	}
	if c.OffsetRetention == 0 {
		c.OffsetRetention = constant.DefaultOffsetRetention
	}
	if c.OffsetRetentionSweepInterval == 0 {
		c.OffsetRetentionSweepInterval = constant.DefaultOffsetRetentionSweep
	}
	if c.PurgatoryTickInterval == 0 {
		c.PurgatoryTickInterval = constant.DefaultPurgatoryTickInterval
	}
	return nil
}
