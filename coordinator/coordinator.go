// Package coordinator implements group membership and rebalance
// coordination: members join a group, one is elected leader and computes the
// partition assignment, everyone syncs to receive it, and heartbeats keep
// the membership honest between rebalances.
package coordinator

import (
	"github.com/protocol-laboratory/group-coordinator-go/protocol"
)

// GroupCoordinator is the request surface of the coordinator. Join and sync
// answer through callbacks because a correct answer may only exist after a
// rebalance round completes; everything else answers inline.
type GroupCoordinator interface {
	HandleJoinGroup(req *protocol.JoinGroupReq, cb protocol.JoinCallback)

	HandleSyncGroup(req *protocol.SyncGroupReq, cb protocol.SyncCallback)

	HandleHeartbeat(req *protocol.HeartbeatReq) *protocol.HeartbeatResp

	HandleLeaveGroup(req *protocol.LeaveGroupReq) *protocol.LeaveGroupResp

	HandleOffsetCommit(req *protocol.OffsetCommitReq) *protocol.OffsetCommitResp

	HandleOffsetFetch(req *protocol.OffsetFetchReq) *protocol.OffsetFetchResp

	HandleListGroups() []*protocol.GroupOverview

	HandleDescribeGroup(groupID string) (*protocol.GroupSummary, protocol.ErrorCode)
}
