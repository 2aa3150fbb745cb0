package constant

import "time"

const (
	DefaultShardCount = 16

	DefaultGroupMinSessionTimeoutMs = 6000
	DefaultGroupMaxSessionTimeoutMs = 300000

	DefaultInitialDelayedJoinMs = 3000

	DefaultOffsetRetention       = 24 * time.Hour
	DefaultOffsetRetentionSweep  = time.Minute
	DefaultPurgatoryTickInterval = 200 * time.Millisecond
)
