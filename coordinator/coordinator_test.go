package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocol-laboratory/group-coordinator-go/protocol"
	"github.com/protocol-laboratory/group-coordinator-go/storage"
)

func testConfig() *Config {
	return &Config{
		ShardCount:                   4,
		GroupMinSessionTimeoutMs:     10,
		GroupMaxSessionTimeoutMs:     300000,
		InitialDelayedJoinMs:         -1,
		OffsetRetention:              time.Hour,
		OffsetRetentionSweepInterval: time.Hour,
		PurgatoryTickInterval:        5 * time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, config *Config, store storage.ShardStore) *Coordinator {
	t.Helper()
	coord, err := NewCoordinator(config, store)
	require.NoError(t, err)
	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(coord.Close)
	return coord
}

func rangeProtocols() []*protocol.GroupProtocol {
	return []*protocol.GroupProtocol{
		{ProtocolName: "range", ProtocolMetadata: []byte("topic-a")},
	}
}

func joinReq(groupID, memberID, clientID string) *protocol.JoinGroupReq {
	return &protocol.JoinGroupReq{
		ClientID:           clientID,
		ClientHost:         "127.0.0.1",
		GroupID:            groupID,
		MemberID:           memberID,
		ProtocolType:       "consumer",
		SessionTimeoutMs:   10000,
		RebalanceTimeoutMs: 10000,
		Protocols:          rangeProtocols(),
	}
}

func startJoin(coord *Coordinator, req *protocol.JoinGroupReq) chan *protocol.JoinGroupResp {
	ch := make(chan *protocol.JoinGroupResp, 1)
	coord.HandleJoinGroup(req, func(resp *protocol.JoinGroupResp) {
		ch <- resp
	})
	return ch
}

func awaitJoin(t *testing.T, ch chan *protocol.JoinGroupResp) *protocol.JoinGroupResp {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(3 * time.Second):
		t.Fatal("join response never arrived")
		return nil
	}
}

func startSync(coord *Coordinator, req *protocol.SyncGroupReq) chan *protocol.SyncGroupResp {
	ch := make(chan *protocol.SyncGroupResp, 1)
	coord.HandleSyncGroup(req, func(resp *protocol.SyncGroupResp) {
		ch <- resp
	})
	return ch
}

func awaitSync(t *testing.T, ch chan *protocol.SyncGroupResp) *protocol.SyncGroupResp {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(3 * time.Second):
		t.Fatal("sync response never arrived")
		return nil
	}
}

// stabilizeSingleMemberGroup drives one member through join and sync and
// returns its member id.
func stabilizeSingleMemberGroup(t *testing.T, coord *Coordinator, groupID, clientID string) string {
	t.Helper()
	joinResp := awaitJoin(t, startJoin(coord, joinReq(groupID, "", clientID)))
	require.Equal(t, protocol.NONE, joinResp.ErrorCode)
	syncResp := awaitSync(t, startSync(coord, &protocol.SyncGroupReq{
		GroupID:      groupID,
		MemberID:     joinResp.MemberID,
		GenerationID: joinResp.GenerationID,
		GroupAssignments: []*protocol.GroupAssignment{
			{MemberID: joinResp.MemberID, MemberAssignment: []byte("p0,p1")},
		},
	}))
	require.Equal(t, protocol.NONE, syncResp.ErrorCode)
	return joinResp.MemberID
}

func TestFirstMemberBecomesLeader(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	resp := awaitJoin(t, startJoin(coord, joinReq("g1", "", "c1")))
	require.Equal(t, protocol.NONE, resp.ErrorCode)
	assert.Equal(t, 1, resp.GenerationID)
	assert.NotEmpty(t, resp.MemberID)
	assert.Equal(t, resp.MemberID, resp.LeaderID)
	assert.Equal(t, "consumer", resp.ProtocolType)
	assert.Equal(t, "range", resp.ProtocolName)
	require.Len(t, resp.Members, 1)
	assert.Equal(t, []byte("topic-a"), resp.Members[0].Metadata)
}

func TestLeaderSyncStabilizesGroup(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	memberID := stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	hb := coord.HandleHeartbeat(&protocol.HeartbeatReq{
		GroupID: "g1", MemberID: memberID, GenerationID: 1,
	})
	assert.Equal(t, protocol.NONE, hb.ErrorCode)

	summary, code := coord.HandleDescribeGroup("g1")
	require.Equal(t, protocol.NONE, code)
	assert.Equal(t, "Stable", summary.State)
	assert.Equal(t, 1, summary.GenerationID)
	require.Len(t, summary.Members, 1)
	assert.Equal(t, []byte("p0,p1"), summary.Members[0].Assignment)
}

func TestSecondJoinTriggersRebalance(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	m1 := stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	// The newcomer parks until the incumbent rejoins.
	join2 := startJoin(coord, joinReq("g1", "", "c2"))
	hb := coord.HandleHeartbeat(&protocol.HeartbeatReq{
		GroupID: "g1", MemberID: m1, GenerationID: 1,
	})
	require.Equal(t, protocol.REBALANCE_IN_PROGRESS, hb.ErrorCode)

	join1 := startJoin(coord, joinReq("g1", m1, "c1"))
	resp1 := awaitJoin(t, join1)
	resp2 := awaitJoin(t, join2)
	require.Equal(t, protocol.NONE, resp1.ErrorCode)
	require.Equal(t, protocol.NONE, resp2.ErrorCode)
	assert.Equal(t, 2, resp1.GenerationID)
	assert.Equal(t, 2, resp2.GenerationID)
	assert.Equal(t, resp1.LeaderID, resp2.LeaderID)
	// The newcomer's join opened this rebalance, so it leads the generation.
	assert.Equal(t, resp2.MemberID, resp2.LeaderID)
	assert.Len(t, resp2.Members, 2)
	assert.Empty(t, resp1.Members)
}

func TestSyncFillsUncoveredMembersWithEmptyAssignment(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	m1 := stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	join2 := startJoin(coord, joinReq("g1", "", "c2"))
	join1 := startJoin(coord, joinReq("g1", m1, "c1"))
	resp1 := awaitJoin(t, join1)
	resp2 := awaitJoin(t, join2)
	leaderID := resp2.MemberID

	// The leader only assigns itself; the other member must still get a
	// definite, empty assignment.
	sync1 := startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: resp1.MemberID, GenerationID: resp1.GenerationID,
	})
	sync2 := startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: leaderID, GenerationID: resp2.GenerationID,
		GroupAssignments: []*protocol.GroupAssignment{
			{MemberID: leaderID, MemberAssignment: []byte("everything")},
		},
	})
	follower := awaitSync(t, sync1)
	leader := awaitSync(t, sync2)
	require.Equal(t, protocol.NONE, follower.ErrorCode)
	require.Equal(t, protocol.NONE, leader.ErrorCode)
	assert.Equal(t, []byte("everything"), leader.MemberAssignment)
	assert.Empty(t, follower.MemberAssignment)
}

func TestConcurrentJoinsLandInOneGeneration(t *testing.T) {
	config := testConfig()
	config.InitialDelayedJoinMs = 100
	coord := newTestCoordinator(t, config, storage.NewMemoryStore())

	const memberCount = 5
	channels := make([]chan *protocol.JoinGroupResp, memberCount)
	for i := 0; i < memberCount; i++ {
		req := joinReq("g1", "", "c"+string(rune('0'+i)))
		req.RebalanceTimeoutMs = 5000
		channels[i] = startJoin(coord, req)
	}
	leaders := 0
	leaderID := ""
	for _, ch := range channels {
		resp := awaitJoin(t, ch)
		require.Equal(t, protocol.NONE, resp.ErrorCode)
		assert.Equal(t, 1, resp.GenerationID)
		if leaderID == "" {
			leaderID = resp.LeaderID
		}
		assert.Equal(t, leaderID, resp.LeaderID)
		if resp.MemberID == resp.LeaderID {
			leaders++
			assert.Len(t, resp.Members, memberCount)
		} else {
			assert.Empty(t, resp.Members)
		}
	}
	assert.Equal(t, 1, leaders)
}

func TestSessionExpiryEmptiesSingleMemberGroup(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	req := joinReq("g1", "", "c1")
	req.SessionTimeoutMs = 50
	resp := awaitJoin(t, startJoin(coord, req))
	require.Equal(t, protocol.NONE, resp.ErrorCode)
	syncResp := awaitSync(t, startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: resp.MemberID, GenerationID: resp.GenerationID,
		GroupAssignments: []*protocol.GroupAssignment{
			{MemberID: resp.MemberID, MemberAssignment: []byte("p0")},
		},
	}))
	require.Equal(t, protocol.NONE, syncResp.ErrorCode)

	// No heartbeats from here on; the session reaper must empty the group.
	require.Eventually(t, func() bool {
		summary, code := coord.HandleDescribeGroup("g1")
		return code == protocol.NONE && summary.State == "Empty"
	}, 3*time.Second, 10*time.Millisecond)

	summary, code := coord.HandleDescribeGroup("g1")
	require.Equal(t, protocol.NONE, code)
	assert.Equal(t, 2, summary.GenerationID)
	assert.Empty(t, summary.Members)
}

func TestSessionExpiryRebalancesSurvivors(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	m1 := stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	// Bring in a second member with a short session.
	req2 := joinReq("g1", "", "c2")
	req2.SessionTimeoutMs = 60
	join2 := startJoin(coord, req2)
	join1 := startJoin(coord, joinReq("g1", m1, "c1"))
	resp1 := awaitJoin(t, join1)
	resp2 := awaitJoin(t, join2)
	require.Equal(t, protocol.NONE, resp1.ErrorCode)
	require.Equal(t, protocol.NONE, resp2.ErrorCode)
	leaderID := resp2.MemberID

	sync1 := startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: m1, GenerationID: resp1.GenerationID,
	})
	sync2 := startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: leaderID, GenerationID: resp2.GenerationID,
		GroupAssignments: []*protocol.GroupAssignment{
			{MemberID: m1, MemberAssignment: []byte("a")},
			{MemberID: leaderID, MemberAssignment: []byte("b")},
		},
	})
	require.Equal(t, protocol.NONE, awaitSync(t, sync1).ErrorCode)
	require.Equal(t, protocol.NONE, awaitSync(t, sync2).ErrorCode)

	// m1 keeps heartbeating, the short-session member goes silent. m1 must
	// eventually be told to rejoin.
	require.Eventually(t, func() bool {
		hb := coord.HandleHeartbeat(&protocol.HeartbeatReq{
			GroupID: "g1", MemberID: m1, GenerationID: resp1.GenerationID,
		})
		return hb.ErrorCode == protocol.REBALANCE_IN_PROGRESS
	}, 3*time.Second, 20*time.Millisecond)

	rejoined := awaitJoin(t, startJoin(coord, joinReq("g1", m1, "c1")))
	require.Equal(t, protocol.NONE, rejoined.ErrorCode)
	assert.Equal(t, 3, rejoined.GenerationID)
	assert.Equal(t, m1, rejoined.LeaderID)
	assert.Len(t, rejoined.Members, 1)
}

func TestLeaveGroupEmptiesGroup(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	memberID := stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	resp := coord.HandleLeaveGroup(&protocol.LeaveGroupReq{
		GroupID: "g1",
		Members: []*protocol.LeaveGroupMember{{MemberID: memberID}},
	})
	require.Equal(t, protocol.NONE, resp.ErrorCode)
	require.Len(t, resp.Members, 1)

	summary, code := coord.HandleDescribeGroup("g1")
	require.Equal(t, protocol.NONE, code)
	assert.Equal(t, "Empty", summary.State)
	assert.Equal(t, 2, summary.GenerationID)
}

func TestStaleGenerationRejected(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	memberID := stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	hb := coord.HandleHeartbeat(&protocol.HeartbeatReq{
		GroupID: "g1", MemberID: memberID, GenerationID: 7,
	})
	assert.Equal(t, protocol.ILLEGAL_GENERATION, hb.ErrorCode)

	syncResp := awaitSync(t, startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: memberID, GenerationID: 7,
	}))
	assert.Equal(t, protocol.ILLEGAL_GENERATION, syncResp.ErrorCode)
}

func TestUnknownMemberRejected(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	hb := coord.HandleHeartbeat(&protocol.HeartbeatReq{
		GroupID: "g1", MemberID: "nobody", GenerationID: 1,
	})
	assert.Equal(t, protocol.UNKNOWN_MEMBER_ID, hb.ErrorCode)

	syncResp := awaitSync(t, startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: "nobody", GenerationID: 1,
	}))
	assert.Equal(t, protocol.UNKNOWN_MEMBER_ID, syncResp.ErrorCode)

	hb = coord.HandleHeartbeat(&protocol.HeartbeatReq{
		GroupID: "no-such-group", MemberID: "nobody", GenerationID: 1,
	})
	assert.Equal(t, protocol.UNKNOWN_MEMBER_ID, hb.ErrorCode)
}

func TestJoinValidation(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())

	resp := awaitJoin(t, startJoin(coord, joinReq("", "", "c1")))
	assert.Equal(t, protocol.INVALID_GROUP_ID, resp.ErrorCode)

	tooShort := joinReq("g1", "", "c1")
	tooShort.SessionTimeoutMs = 1
	resp = awaitJoin(t, startJoin(coord, tooShort))
	assert.Equal(t, protocol.INVALID_SESSION_TIMEOUT, resp.ErrorCode)

	stabilizeSingleMemberGroup(t, coord, "g1", "c1")
	mismatch := joinReq("g1", "", "c2")
	mismatch.Protocols = []*protocol.GroupProtocol{
		{ProtocolName: "sticky", ProtocolMetadata: []byte("x")},
	}
	resp = awaitJoin(t, startJoin(coord, mismatch))
	assert.Equal(t, protocol.INCONSISTENT_GROUP_PROTOCOL, resp.ErrorCode)
}

func TestResignedShardRejectsRequests(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	coord.ResignShardOwner(coord.directory.ShardFor("g1"))

	resp := awaitJoin(t, startJoin(coord, joinReq("g1", "", "c2")))
	assert.Equal(t, protocol.NOT_COORDINATOR, resp.ErrorCode)
	_, code := coord.HandleDescribeGroup("g1")
	assert.Equal(t, protocol.NOT_COORDINATOR, code)
}

func TestTeardownFailsParkedJoins(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	// Parks until the incumbent rejoins, which it never does.
	parked := startJoin(coord, joinReq("g1", "", "c2"))
	coord.ResignShardOwner(coord.directory.ShardFor("g1"))

	resp := awaitJoin(t, parked)
	assert.Equal(t, protocol.NOT_COORDINATOR, resp.ErrorCode)
}

func TestGroupSurvivesReload(t *testing.T) {
	store := storage.NewMemoryStore()
	first, err := NewCoordinator(testConfig(), store)
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	memberID := stabilizeSingleMemberGroup(t, first, "g1", "c1")
	first.Close()

	second := newTestCoordinator(t, testConfig(), store)
	summary, code := second.HandleDescribeGroup("g1")
	require.Equal(t, protocol.NONE, code)
	assert.Equal(t, "Stable", summary.State)
	assert.Equal(t, 1, summary.GenerationID)
	assert.Equal(t, memberID, summary.LeaderID)
	require.Len(t, summary.Members, 1)
	assert.Equal(t, memberID, summary.Members[0].MemberID)
	assert.Equal(t, []byte("p0,p1"), summary.Members[0].Assignment)

	// The reloaded group has no live members; the old id must rejoin and a
	// fresh id is handed out.
	resp := awaitJoin(t, startJoin(second, joinReq("g1", memberID, "c1")))
	require.Equal(t, protocol.NONE, resp.ErrorCode)
	assert.Equal(t, 2, resp.GenerationID)
	assert.NotEqual(t, memberID, resp.MemberID)
}

// refusingStore delegates to a MemoryStore but fails every append while
// failing is set, as a crashed or partitioned coordination log would.
type refusingStore struct {
	*storage.MemoryStore
	mutex   sync.Mutex
	failing bool
}

func newRefusingStore() *refusingStore {
	return &refusingStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *refusingStore) setFailing(failing bool) {
	s.mutex.Lock()
	s.failing = failing
	s.mutex.Unlock()
}

func (s *refusingStore) Append(ctx context.Context, shardID int, key string, value []byte, cb storage.AppendCallback) {
	s.mutex.Lock()
	failing := s.failing
	s.mutex.Unlock()
	if failing {
		if cb != nil {
			go cb(assert.AnError)
		}
		return
	}
	s.MemoryStore.Append(ctx, shardID, key, value, cb)
}

func TestAssignmentCommitFailureReopensRebalance(t *testing.T) {
	store := newRefusingStore()
	coord := newTestCoordinator(t, testConfig(), store)

	joinResp := awaitJoin(t, startJoin(coord, joinReq("g1", "", "c1")))
	require.Equal(t, protocol.NONE, joinResp.ErrorCode)

	// The leader's assignment cannot be made durable, so the sync must fail
	// and the group must go back to rebalancing.
	store.setFailing(true)
	syncResp := awaitSync(t, startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: joinResp.MemberID, GenerationID: joinResp.GenerationID,
		GroupAssignments: []*protocol.GroupAssignment{
			{MemberID: joinResp.MemberID, MemberAssignment: []byte("p0")},
		},
	}))
	require.Equal(t, protocol.REBALANCE_IN_PROGRESS, syncResp.ErrorCode)

	summary, code := coord.HandleDescribeGroup("g1")
	require.Equal(t, protocol.NONE, code)
	assert.Equal(t, "PreparingRebalance", summary.State)
	assert.Equal(t, 1, summary.GenerationID)

	// Once the store recovers the member rejoins and stabilizes normally.
	store.setFailing(false)
	rejoined := awaitJoin(t, startJoin(coord, joinReq("g1", joinResp.MemberID, "c1")))
	require.Equal(t, protocol.NONE, rejoined.ErrorCode)
	assert.Equal(t, 2, rejoined.GenerationID)
	syncResp = awaitSync(t, startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: rejoined.MemberID, GenerationID: rejoined.GenerationID,
		GroupAssignments: []*protocol.GroupAssignment{
			{MemberID: rejoined.MemberID, MemberAssignment: []byte("p0")},
		},
	}))
	require.Equal(t, protocol.NONE, syncResp.ErrorCode)
}

func TestJoinDuringSyncPhaseReopensRebalance(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	m1 := stabilizeSingleMemberGroup(t, coord, "g1", "c1")

	join2 := startJoin(coord, joinReq("g1", "", "c2"))
	join1 := startJoin(coord, joinReq("g1", m1, "c1"))
	resp1 := awaitJoin(t, join1)
	resp2 := awaitJoin(t, join2)
	require.Equal(t, protocol.NONE, resp1.ErrorCode)
	require.Equal(t, protocol.NONE, resp2.ErrorCode)
	m2 := resp2.MemberID

	// The follower's sync parks while the leader is still assigning.
	parkedSync := startSync(coord, &protocol.SyncGroupReq{
		GroupID: "g1", MemberID: m1, GenerationID: resp1.GenerationID,
	})

	// A third member arrives mid-sync: the parked sync must be failed and
	// the group reopened.
	join3 := startJoin(coord, joinReq("g1", "", "c3"))
	require.Equal(t, protocol.REBALANCE_IN_PROGRESS, awaitSync(t, parkedSync).ErrorCode)

	summary, code := coord.HandleDescribeGroup("g1")
	require.Equal(t, protocol.NONE, code)
	assert.Equal(t, "PreparingRebalance", summary.State)

	rejoin1 := startJoin(coord, joinReq("g1", m1, "c1"))
	rejoin2 := startJoin(coord, joinReq("g1", m2, "c2"))
	for _, ch := range []chan *protocol.JoinGroupResp{rejoin1, rejoin2, join3} {
		resp := awaitJoin(t, ch)
		require.Equal(t, protocol.NONE, resp.ErrorCode)
		assert.Equal(t, resp1.GenerationID+1, resp.GenerationID)
		if resp.MemberID == resp.LeaderID {
			assert.Len(t, resp.Members, 3)
		}
	}
}

func TestCoordinatorUnavailableBeforeStartAndAfterClose(t *testing.T) {
	coord, err := NewCoordinator(testConfig(), storage.NewMemoryStore())
	require.NoError(t, err)

	resp := awaitJoin(t, startJoin(coord, joinReq("g1", "", "c1")))
	assert.Equal(t, protocol.COORDINATOR_NOT_AVAILABLE, resp.ErrorCode)
	hb := coord.HandleHeartbeat(&protocol.HeartbeatReq{
		GroupID: "g1", MemberID: "m", GenerationID: 1,
	})
	assert.Equal(t, protocol.COORDINATOR_NOT_AVAILABLE, hb.ErrorCode)

	require.NoError(t, coord.Start(context.Background()))
	stabilizeSingleMemberGroup(t, coord, "g1", "c1")
	coord.Close()

	resp = awaitJoin(t, startJoin(coord, joinReq("g1", "", "c2")))
	assert.Equal(t, protocol.COORDINATOR_NOT_AVAILABLE, resp.ErrorCode)
	commit := coord.HandleOffsetCommit(&protocol.OffsetCommitReq{
		GroupID: "g1", GenerationID: -1,
	})
	assert.Equal(t, protocol.COORDINATOR_NOT_AVAILABLE, commit.ErrorCode)
	_, code := coord.HandleDescribeGroup("g1")
	assert.Equal(t, protocol.COORDINATOR_NOT_AVAILABLE, code)
}

func TestListGroups(t *testing.T) {
	coord := newTestCoordinator(t, testConfig(), storage.NewMemoryStore())
	stabilizeSingleMemberGroup(t, coord, "g1", "c1")
	stabilizeSingleMemberGroup(t, coord, "g2", "c2")

	overviews := coord.HandleListGroups()
	require.Len(t, overviews, 2)
	assert.Equal(t, "g1", overviews[0].GroupID)
	assert.Equal(t, "g2", overviews[1].GroupID)
	assert.Equal(t, "Stable", overviews[0].State)
}
