package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/protocol-laboratory/group-coordinator-go/admin"
	"github.com/protocol-laboratory/group-coordinator-go/coordinator"
	"github.com/protocol-laboratory/group-coordinator-go/storage"
)

var (
	adminAddr string
	debug     bool

	shardCount           int
	initialDelayedJoinMs int
	offsetRetentionHours int
	offsetPersistSeconds int
	minSessionTimeoutMs  int
	maxSessionTimeoutMs  int

	storageBackend string
	redisAddr      string
	redisPassword  string
	redisDB        int
	redisKeyPrefix string
)

func main() {
	root := &cobra.Command{
		Use:   "groupcoordinatord",
		Short: "group membership and rebalance coordinator",
		RunE:  run,
	}
	root.Flags().StringVar(&adminAddr, "admin-addr", ":9880", "admin http listen address")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.Flags().IntVar(&shardCount, "shard-count", 0, "number of coordination log shards, 0 uses the default")
	root.Flags().IntVar(&initialDelayedJoinMs, "initial-delayed-join-ms", 0, "initial rebalance delay of a new group, 0 uses the default")
	root.Flags().IntVar(&offsetRetentionHours, "offset-retention-hours", 0, "offset retention of empty groups, 0 uses the default")
	root.Flags().IntVar(&offsetPersistSeconds, "offset-persist-seconds", 0, "minimum seconds between durable offset writes per partition, 0 persists every commit")
	root.Flags().IntVar(&minSessionTimeoutMs, "min-session-timeout-ms", 0, "smallest session timeout a member may request, 0 uses the default")
	root.Flags().IntVar(&maxSessionTimeoutMs, "max-session-timeout-ms", 0, "largest session timeout a member may request, 0 uses the default")
	root.Flags().StringVar(&storageBackend, "storage", "memory", "storage backend, memory or redis")
	root.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	root.Flags().StringVar(&redisPassword, "redis-password", "", "redis password")
	root.Flags().IntVar(&redisDB, "redis-db", 0, "redis database")
	root.Flags().StringVar(&redisKeyPrefix, "redis-key-prefix", "group-coordinator", "redis key prefix")
	if err := root.Execute(); err != nil {
		logrus.Fatalf("groupcoordinatord failed: %s", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	store, err := newStore()
	if err != nil {
		return err
	}

	config := &coordinator.Config{
		ShardCount:                shardCount,
		GroupMinSessionTimeoutMs:  minSessionTimeoutMs,
		GroupMaxSessionTimeoutMs:  maxSessionTimeoutMs,
		InitialDelayedJoinMs:      initialDelayedJoinMs,
		OffsetRetention:           time.Duration(offsetRetentionHours) * time.Hour,
		OffsetPersistentFrequency: offsetPersistSeconds,
	}
	coord, err := coordinator.NewCoordinator(config, store)
	if err != nil {
		return err
	}
	if err := coord.Start(context.Background()); err != nil {
		return err
	}

	adminServer := admin.NewServer(adminAddr, coord)
	if err := adminServer.Start(); err != nil {
		return err
	}
	logrus.Infof("group coordinator started, storage %s", storageBackend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logrus.Infof("received signal %s, shutting down", sig)

	if err := adminServer.Close(); err != nil {
		logrus.Errorf("close admin server failed: %s", err)
	}
	coord.Close()
	if err := store.Close(); err != nil {
		logrus.Errorf("close storage failed: %s", err)
	}
	return nil
}

func newStore() (storage.ShardStore, error) {
	switch storageBackend {
	case "redis":
		return storage.NewRedisStore(storage.RedisConfig{
			Addr:      redisAddr,
			Password:  redisPassword,
			DB:        redisDB,
			KeyPrefix: redisKeyPrefix,
		})
	default:
		return storage.NewMemoryStore(), nil
	}
}
