// Package storage is the coordinator's view of the durable coordination
// log. Each shard is a compacted keyspace: the latest value per key wins,
// and an empty value is a tombstone.
package storage

import "context"

// AppendCallback reports the outcome of an Append. Implementations must
// invoke it on a goroutine other than the caller's; the coordinator submits
// appends while holding a group lock that the callback re-acquires.
type AppendCallback func(err error)

// LoadFunc receives one record during shard replay. Returning an error
// aborts the replay.
type LoadFunc func(key string, value []byte) error

type ShardStore interface {
	// Append durably records value under key in the given shard. An empty
	// value tombstones the key.
	Append(ctx context.Context, shardID int, key string, value []byte, cb AppendCallback)

	// Load streams every live record of a shard, latest value per key.
	Load(ctx context.Context, shardID int, fn LoadFunc) error

	Close() error
}
