package protocol

// ErrorCode is the protocol-level result of a coordinator operation. All of
// these are recoverable by the caller through rejoin/retry; none are fatal
// inside the coordinator.
type ErrorCode int16

const (
	NONE                 ErrorCode = 0
	UNKNOWN_SERVER_ERROR ErrorCode = -1

	// COORDINATOR_LOAD_IN_PROGRESS means the shard owning this group has just
	// transferred in and replay is incomplete. Retry shortly.
	COORDINATOR_LOAD_IN_PROGRESS ErrorCode = 14
	// NOT_COORDINATOR means this node does not own the group's shard. The
	// caller must re-resolve the coordinator and retry elsewhere.
	NOT_COORDINATOR ErrorCode = 16
	// COORDINATOR_NOT_AVAILABLE means the coordinator is not started or is
	// shutting down.
	COORDINATOR_NOT_AVAILABLE ErrorCode = 15

	ILLEGAL_GENERATION          ErrorCode = 22
	INCONSISTENT_GROUP_PROTOCOL ErrorCode = 23
	INVALID_GROUP_ID            ErrorCode = 24
	UNKNOWN_MEMBER_ID           ErrorCode = 25
	INVALID_SESSION_TIMEOUT     ErrorCode = 26
	REBALANCE_IN_PROGRESS       ErrorCode = 27
	GROUP_ID_NOT_FOUND          ErrorCode = 69
)

func (e ErrorCode) String() string {
	switch e {
	case NONE:
		return "NONE"
	case UNKNOWN_SERVER_ERROR:
		return "UNKNOWN_SERVER_ERROR"
	case COORDINATOR_LOAD_IN_PROGRESS:
		return "COORDINATOR_LOAD_IN_PROGRESS"
	case NOT_COORDINATOR:
		return "NOT_COORDINATOR"
	case COORDINATOR_NOT_AVAILABLE:
		return "COORDINATOR_NOT_AVAILABLE"
	case ILLEGAL_GENERATION:
		return "ILLEGAL_GENERATION"
	case INCONSISTENT_GROUP_PROTOCOL:
		return "INCONSISTENT_GROUP_PROTOCOL"
	case INVALID_GROUP_ID:
		return "INVALID_GROUP_ID"
	case UNKNOWN_MEMBER_ID:
		return "UNKNOWN_MEMBER_ID"
	case INVALID_SESSION_TIMEOUT:
		return "INVALID_SESSION_TIMEOUT"
	case REBALANCE_IN_PROGRESS:
		return "REBALANCE_IN_PROGRESS"
	case GROUP_ID_NOT_FOUND:
		return "GROUP_ID_NOT_FOUND"
	}
	return "UNKNOWN"
}
