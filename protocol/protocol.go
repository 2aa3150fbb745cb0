// Package protocol holds the parsed request and response model of the group
// coordinator. Wire framing and deserialization happen before these structs
// are built; the coordinator only ever sees parsed arguments and answers
// through the response types or callbacks below.
package protocol

// GroupProtocol is one (protocol name, opaque metadata) pair a member
// declares support for at join time.
type GroupProtocol struct {
	ProtocolName     string
	ProtocolMetadata []byte
}

type JoinGroupReq struct {
	ClientID           string
	ClientHost         string
	GroupID            string
	MemberID           string
	ProtocolType       string
	SessionTimeoutMs   int
	RebalanceTimeoutMs int
	Protocols          []*GroupProtocol
}

// Member is a member description returned to the elected leader so it can
// compute the assignment.
type Member struct {
	MemberID string
	Metadata []byte
}

type JoinGroupResp struct {
	ErrorCode    ErrorCode
	GenerationID int
	ProtocolType string
	ProtocolName string
	LeaderID     string
	MemberID     string
	Members      []*Member
}

// GroupAssignment carries the leader-computed assignment for one member.
type GroupAssignment struct {
	MemberID         string
	MemberAssignment []byte
}

type SyncGroupReq struct {
	GroupID          string
	MemberID         string
	GenerationID     int
	GroupAssignments []*GroupAssignment
}

type SyncGroupResp struct {
	ErrorCode        ErrorCode
	MemberAssignment []byte
}

type HeartbeatReq struct {
	GroupID      string
	MemberID     string
	GenerationID int
}

type HeartbeatResp struct {
	ErrorCode ErrorCode
}

type LeaveGroupMember struct {
	MemberID string
}

type LeaveGroupReq struct {
	GroupID string
	Members []*LeaveGroupMember
}

type LeaveGroupResp struct {
	ErrorCode ErrorCode
	Members   []*LeaveGroupMember
}

type OffsetCommitPartition struct {
	Topic     string
	Partition int
	Offset    int64
	Metadata  string
}

type OffsetCommitReq struct {
	GroupID      string
	MemberID     string
	GenerationID int
	Offsets      []*OffsetCommitPartition
}

type OffsetCommitPartitionResp struct {
	Topic     string
	Partition int
	ErrorCode ErrorCode
}

type OffsetCommitResp struct {
	ErrorCode ErrorCode
	Offsets   []*OffsetCommitPartitionResp
}

type OffsetFetchPartition struct {
	Topic     string
	Partition int
}

type OffsetFetchReq struct {
	GroupID string
	// Partitions nil means fetch every committed offset of the group.
	Partitions []*OffsetFetchPartition
}

type OffsetFetchPartitionResp struct {
	Topic     string
	Partition int
	Offset    int64
	Metadata  string
	ErrorCode ErrorCode
}

type OffsetFetchResp struct {
	ErrorCode ErrorCode
	Offsets   []*OffsetFetchPartitionResp
}

// GroupOverview is the list-groups view of one group.
type GroupOverview struct {
	GroupID      string
	State        string
	ProtocolType string
}

type MemberSummary struct {
	MemberID   string
	ClientID   string
	ClientHost string
	Metadata   []byte
	Assignment []byte
}

// GroupSummary is the describe-group view of one group.
type GroupSummary struct {
	GroupID      string
	State        string
	ProtocolType string
	Protocol     string
	LeaderID     string
	GenerationID int
	Members      []*MemberSummary
}

// JoinCallback delivers the join response once the rebalance allows it.
type JoinCallback func(*JoinGroupResp)

// SyncCallback delivers the sync response once the assignment is durable.
type SyncCallback func(*SyncGroupResp)
