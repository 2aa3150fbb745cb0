package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RedisStore persists each shard as one Redis hash, which gives the
// compacted latest-value-per-key semantics of the coordination log directly.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if config.Addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "group-coordinator"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrapf(err, "ping redis %s failed", config.Addr)
	}
	return &RedisStore{client: client, keyPrefix: config.KeyPrefix}, nil
}

func (r *RedisStore) shardKey(shardID int) string {
	return fmt.Sprintf("%s:shard:%d", r.keyPrefix, shardID)
}

func (r *RedisStore) Append(ctx context.Context, shardID int, key string, value []byte, cb AppendCallback) {
	go func() {
		var err error
		if len(value) == 0 {
			err = r.client.HDel(ctx, r.shardKey(shardID), key).Err()
		} else {
			err = r.client.HSet(ctx, r.shardKey(shardID), key, value).Err()
		}
		if err != nil {
			logrus.Errorf("append record to shard %d failed. key: %s, err: %s", shardID, key, err)
		}
		if cb != nil {
			cb(err)
		}
	}()
}

func (r *RedisStore) Load(ctx context.Context, shardID int, fn LoadFunc) error {
	records, err := r.client.HGetAll(ctx, r.shardKey(shardID)).Result()
	if err != nil {
		return errors.Wrapf(err, "load shard %d failed", shardID)
	}
	for key, value := range records {
		if err := fn(key, []byte(value)); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
