package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CoordinatorJoinGroupSuccessCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "join_group_success_total")},
	)
	CoordinatorJoinGroupFailCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "join_group_fail_total")},
	)
	CoordinatorJoinGroupLatency = promauto.NewSummary(
		prometheus.SummaryOpts{
			Name:       prometheus.BuildFQName(namespace, "coordinator", "join_group_latency_ms"),
			Objectives: objectives},
	)
	CoordinatorSyncGroupSuccessCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "sync_group_success_total")},
	)
	CoordinatorSyncGroupFailCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "sync_group_fail_total")},
	)
	CoordinatorSyncGroupLatency = promauto.NewSummary(
		prometheus.SummaryOpts{
			Name:       prometheus.BuildFQName(namespace, "coordinator", "sync_group_latency_ms"),
			Objectives: objectives},
	)
	CoordinatorHeartbeatSuccessCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "heartbeat_success_total")},
	)
	CoordinatorHeartbeatFailCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "heartbeat_fail_total")},
	)
	CoordinatorLeaveGroupSuccessCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "leave_group_success_total")},
	)
	CoordinatorLeaveGroupFailCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "leave_group_fail_total")},
	)
	CoordinatorOffsetCommitSuccessCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "offset_commit_success_total")},
	)
	CoordinatorOffsetCommitFailCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "offset_commit_fail_total")},
	)
	CoordinatorRebalanceCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "rebalance_total")},
	)
	CoordinatorMemberEvictionCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "member_eviction_total")},
	)
	CoordinatorGroupCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "group_count")},
	)
	CoordinatorOwnedShardCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "coordinator", "owned_shard_count")},
	)
)
