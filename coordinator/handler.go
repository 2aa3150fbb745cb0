package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/protocol-laboratory/group-coordinator-go/log"
	"github.com/protocol-laboratory/group-coordinator-go/metrics"
	"github.com/protocol-laboratory/group-coordinator-go/model"
	"github.com/protocol-laboratory/group-coordinator-go/protocol"
	"github.com/protocol-laboratory/group-coordinator-go/purgatory"
	"github.com/protocol-laboratory/group-coordinator-go/storage"
)

// rebalanceHandler drives the group state machine. Each entry point locks
// the group, mutates state, and records response callbacks, purgatory
// registrations and key notifications in a followUp; the followUp runs only
// after the group lock is released, so purgatory predicates are free to take
// the lock themselves.
type rebalanceHandler struct {
	config    *Config
	store     storage.ShardStore
	purgatory *purgatory.Purgatory
	logger    log.Logger
}

func newRebalanceHandler(config *Config, store storage.ShardStore, purg *purgatory.Purgatory, logger log.Logger) *rebalanceHandler {
	return &rebalanceHandler{
		config:    config,
		store:     store,
		purgatory: purg,
		logger:    logger,
	}
}

type registration struct {
	op   *purgatory.Operation
	keys []string
}

type followUp struct {
	completions   []func()
	registrations []registration
	notifyKeys    []string
}

func (f *followUp) complete(fn func()) {
	f.completions = append(f.completions, fn)
}

func (f *followUp) register(op *purgatory.Operation, keys ...string) {
	f.registrations = append(f.registrations, registration{op: op, keys: keys})
}

func (f *followUp) notify(keys ...string) {
	f.notifyKeys = append(f.notifyKeys, keys...)
}

// apply runs the collected work: respond first, then arm new operations,
// then notify. Notification after arming is safe because a freshly armed
// operation's predicate only fires on events recorded after it was built.
func (h *rebalanceHandler) apply(fu *followUp) {
	for _, fn := range fu.completions {
		fn()
	}
	for _, r := range fu.registrations {
		h.purgatory.TryCompleteElseWatch(r.op, r.keys)
	}
	for _, key := range fu.notifyKeys {
		h.purgatory.CheckAndComplete(key)
	}
}

func joinKey(groupID string) string {
	return "join/" + groupID
}

func syncKey(groupID string) string {
	return "sync/" + groupID
}

func heartbeatKey(groupID, memberID string) string {
	return "heartbeat/" + groupID + "/" + memberID
}

func generateMemberID(clientID string) string {
	return clientID + "-" + uuid.New().String()
}

// JoinGroup handles one join request. The response is delivered through cb,
// immediately on error, otherwise once the rebalance completes.
func (h *rebalanceHandler) JoinGroup(g *Group, req *protocol.JoinGroupReq, cb protocol.JoinCallback) {
	fu := &followUp{}
	g.lock.Lock()
	h.joinLocked(g, req, cb, fu)
	g.lock.Unlock()
	h.apply(fu)
}

func (h *rebalanceHandler) joinLocked(g *Group, req *protocol.JoinGroupReq, cb protocol.JoinCallback, fu *followUp) {
	if g.state == Dead {
		fu.complete(func() {
			cb(&protocol.JoinGroupResp{ErrorCode: protocol.COORDINATOR_NOT_AVAILABLE, MemberID: req.MemberID})
		})
		return
	}
	if req.SessionTimeoutMs < h.config.GroupMinSessionTimeoutMs ||
		req.SessionTimeoutMs > h.config.GroupMaxSessionTimeoutMs {
		fu.complete(func() {
			cb(&protocol.JoinGroupResp{ErrorCode: protocol.INVALID_SESSION_TIMEOUT, MemberID: req.MemberID})
		})
		return
	}
	if g.state == Empty {
		if req.ProtocolType == "" || len(req.Protocols) == 0 {
			fu.complete(func() {
				cb(&protocol.JoinGroupResp{ErrorCode: protocol.INCONSISTENT_GROUP_PROTOCOL, MemberID: req.MemberID})
			})
			return
		}
	} else if req.ProtocolType != g.protocolType || !g.supportsProtocols(req.Protocols) {
		fu.complete(func() {
			cb(&protocol.JoinGroupResp{ErrorCode: protocol.INCONSISTENT_GROUP_PROTOCOL, MemberID: req.MemberID})
		})
		return
	}

	memberID := req.MemberID
	member := g.members[memberID]
	if memberID == "" || member == nil {
		// Unknown or absent member id: the coordinator owns id generation,
		// so hand out a fresh one and treat this as a brand-new member.
		if h.config.GroupMaxSize > 0 && len(g.members) >= h.config.GroupMaxSize {
			fu.complete(func() {
				cb(&protocol.JoinGroupResp{ErrorCode: protocol.UNKNOWN_MEMBER_ID, MemberID: req.MemberID})
			})
			return
		}
		memberID = generateMemberID(req.ClientID)
		member = nil
	}

	switch g.state {
	case Empty:
		h.addMemberLocked(g, memberID, req, cb)
		h.prepareRebalanceLocked(g, memberID, "first member "+memberID+" joined", fu)
	case PreparingRebalance:
		if member == nil {
			h.addMemberLocked(g, memberID, req, cb)
		} else {
			h.updateMemberLocked(g, member, req, cb, fu)
		}
		if g.leader == "" {
			g.leader = memberID
		}
		fu.notify(joinKey(g.groupID))
	case CompletingRebalance, Stable:
		if member == nil {
			h.addMemberLocked(g, memberID, req, cb)
			h.prepareRebalanceLocked(g, memberID, "member "+memberID+" joined", fu)
			return
		}
		if memberID == g.leader || !protocolsEqual(member.protocols, req.Protocols) {
			// A leader rejoin or a metadata change invalidates the current
			// assignment.
			h.updateMemberLocked(g, member, req, cb, fu)
			h.prepareRebalanceLocked(g, memberID, "member "+memberID+" rejoined with new state", fu)
			return
		}
		// An unchanged follower rejoin is answered from the current
		// generation without disturbing the group.
		member.lastHeartbeat = time.Now()
		resp := h.joinResponseLocked(g, memberID)
		fu.complete(func() {
			cb(resp)
		})
		h.scheduleHeartbeatLocked(g, member, fu)
	}
}

func (h *rebalanceHandler) addMemberLocked(g *Group, memberID string, req *protocol.JoinGroupReq, cb protocol.JoinCallback) *memberMetadata {
	rebalanceTimeoutMs := req.RebalanceTimeoutMs
	if rebalanceTimeoutMs <= 0 {
		rebalanceTimeoutMs = req.SessionTimeoutMs
	}
	member := &memberMetadata{
		memberID:           memberID,
		clientID:           req.ClientID,
		clientHost:         req.ClientHost,
		protocolType:       req.ProtocolType,
		protocols:          req.Protocols,
		sessionTimeoutMs:   req.SessionTimeoutMs,
		rebalanceTimeoutMs: rebalanceTimeoutMs,
		isNew:              true,
		lastHeartbeat:      time.Now(),
		pending:            pendingJoin,
		joinCallback:       cb,
	}
	if g.state == Empty {
		g.protocolType = req.ProtocolType
	}
	g.members[memberID] = member
	g.updateSupportedProtocols(req.Protocols, true)
	g.newMemberAdded = true
	logrus.Infof("group %s added member %s from %s", g.groupID, memberID, req.ClientHost)
	return member
}

func (h *rebalanceHandler) updateMemberLocked(g *Group, member *memberMetadata, req *protocol.JoinGroupReq, cb protocol.JoinCallback, fu *followUp) {
	g.updateSupportedProtocols(member.protocols, false)
	member.protocols = req.Protocols
	g.updateSupportedProtocols(req.Protocols, true)
	member.sessionTimeoutMs = req.SessionTimeoutMs
	if req.RebalanceTimeoutMs > 0 {
		member.rebalanceTimeoutMs = req.RebalanceTimeoutMs
	}
	member.lastHeartbeat = time.Now()
	if member.pending == pendingJoin && member.joinCallback != nil {
		// The client retried; the older in-flight join is superseded.
		stale := member.joinCallback
		memberID := member.memberID
		fu.complete(func() {
			stale(&protocol.JoinGroupResp{ErrorCode: protocol.REBALANCE_IN_PROGRESS, MemberID: memberID})
		})
	}
	if member.pending == pendingSync && member.syncCallback != nil {
		// Rejoining abandons the sync phase; the parked sync must not be
		// left dangling.
		staleSync := member.syncCallback
		member.syncCallback = nil
		fu.complete(func() {
			staleSync(&protocol.SyncGroupResp{ErrorCode: protocol.REBALANCE_IN_PROGRESS})
		})
	}
	member.pending = pendingJoin
	member.joinCallback = cb
}

func (h *rebalanceHandler) joinResponseLocked(g *Group, memberID string) *protocol.JoinGroupResp {
	resp := &protocol.JoinGroupResp{
		ErrorCode:    protocol.NONE,
		GenerationID: g.generationID,
		ProtocolType: g.protocolType,
		ProtocolName: g.protocol,
		LeaderID:     g.leader,
		MemberID:     memberID,
	}
	if memberID == g.leader {
		resp.Members = g.memberInfos()
	}
	return resp
}

// prepareRebalanceLocked moves the group into PreparingRebalance and arms
// the deferred join for this rebalance round. triggerMemberID, when known,
// becomes the leader candidate for the next generation since its join was
// the first one processed.
func (h *rebalanceHandler) prepareRebalanceLocked(g *Group, triggerMemberID, reason string, fu *followUp) {
	if g.state == PreparingRebalance {
		return
	}
	if g.state == CompletingRebalance {
		h.failPendingSyncsLocked(g, protocol.REBALANCE_IN_PROGRESS, fu)
	}
	wasEmpty := g.state == Empty
	g.state = PreparingRebalance
	g.rebalanceSeq++
	g.leader = ""
	if triggerMemberID != "" && g.has(triggerMemberID) {
		g.leader = triggerMemberID
	}
	g.newMemberAdded = false
	g.initialDelayDone = !wasEmpty || h.config.InitialDelayedJoinMs <= 0
	metrics.CoordinatorRebalanceCount.Inc()
	logrus.Infof("group %s preparing rebalance at generation %d: %s", g.groupID, g.generationID, reason)
	if g.initialDelayDone {
		h.armDelayedJoinLocked(g, fu)
	} else {
		h.armInitialDelayLocked(g, fu)
	}
}

func (h *rebalanceHandler) armDelayedJoinLocked(g *Group, fu *followUp) {
	seq := g.rebalanceSeq
	timeout := time.Duration(g.maxRebalanceTimeoutMs()) * time.Millisecond
	op := purgatory.NewOperation(timeout,
		func() bool {
			return h.tryCompleteJoin(g, seq)
		},
		func() {
			h.completeJoin(g, seq)
		},
		nil)
	fu.register(op, joinKey(g.groupID))
}

// armInitialDelayLocked schedules the first segment of the initial join
// delay of a new group. Each segment that saw a newcomer extends the delay
// by another segment, up to the group's rebalance timeout, so a fleet of
// consumers starting at once joins in a single generation.
func (h *rebalanceHandler) armInitialDelayLocked(g *Group, fu *followUp) {
	delay := time.Duration(h.config.InitialDelayedJoinMs) * time.Millisecond
	remaining := time.Duration(g.maxRebalanceTimeoutMs())*time.Millisecond - delay
	h.armInitialDelaySegmentLocked(g, delay, remaining, fu)
}

func (h *rebalanceHandler) armInitialDelaySegmentLocked(g *Group, delay, remaining time.Duration, fu *followUp) {
	seq := g.rebalanceSeq
	g.newMemberAdded = false
	op := purgatory.NewOperation(delay,
		func() bool {
			// The initial delay never completes early; it always runs its
			// course so late starters can make the first generation.
			return false
		},
		func() {
			h.onInitialDelayElapsed(g, seq, delay, remaining)
		},
		nil)
	fu.register(op, "initial-delay/"+g.groupID)
}

func (h *rebalanceHandler) onInitialDelayElapsed(g *Group, seq uint64, delay, remaining time.Duration) {
	fu := &followUp{}
	g.lock.Lock()
	if g.state == PreparingRebalance && g.rebalanceSeq == seq {
		if g.newMemberAdded && remaining > 0 {
			next := delay
			if next > remaining {
				next = remaining
			}
			h.armInitialDelaySegmentLocked(g, next, remaining-next, fu)
		} else {
			g.initialDelayDone = true
			if g.allMembersRejoined() {
				h.completeJoinLocked(g, fu)
			} else {
				h.armDelayedJoinLocked(g, fu)
			}
		}
	}
	g.lock.Unlock()
	h.apply(fu)
}

func (h *rebalanceHandler) tryCompleteJoin(g *Group, seq uint64) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.state != PreparingRebalance || g.rebalanceSeq != seq {
		// The rebalance this operation belongs to is over; let it complete
		// as a no-op so teardown can flush it.
		return true
	}
	return g.initialDelayDone && g.allMembersRejoined()
}

func (h *rebalanceHandler) completeJoin(g *Group, seq uint64) {
	fu := &followUp{}
	g.lock.Lock()
	if g.state == PreparingRebalance && g.rebalanceSeq == seq && g.initialDelayDone {
		h.completeJoinLocked(g, fu)
	}
	g.lock.Unlock()
	h.apply(fu)
}

// completeJoinLocked closes the join phase: members that did not rejoin in
// time are evicted, the generation is bumped, a protocol is elected and
// every parked join request is answered.
func (h *rebalanceHandler) completeJoinLocked(g *Group, fu *followUp) {
	for _, id := range g.sortedMemberIDs() {
		member := g.members[id]
		if member.pending != pendingJoin {
			logrus.Warnf("group %s evicting member %s: no rejoin before rebalance deadline", g.groupID, id)
			metrics.CoordinatorMemberEvictionCount.Inc()
			h.removeMemberLocked(g, member, fu)
		}
	}
	if len(g.members) == 0 {
		h.transitionEmptyLocked(g)
		return
	}
	if g.leader == "" || !g.has(g.leader) {
		g.leader = g.sortedMemberIDs()[0]
	}
	g.generationID++
	g.protocol = g.voteProtocol()
	g.state = CompletingRebalance
	logrus.Infof("group %s completing rebalance: generation %d, protocol %s, leader %s, %d members",
		g.groupID, g.generationID, g.protocol, g.leader, len(g.members))

	memberInfos := g.memberInfos()
	now := time.Now()
	for _, id := range g.sortedMemberIDs() {
		member := g.members[id]
		resp := h.joinResponseLocked(g, id)
		if id == g.leader {
			resp.Members = memberInfos
		}
		joinCb := member.joinCallback
		member.joinCallback = nil
		member.pending = pendingNone
		member.isNew = false
		member.lastHeartbeat = now
		if joinCb != nil {
			fu.complete(func() {
				joinCb(resp)
			})
		}
		h.scheduleHeartbeatLocked(g, member, fu)
	}
	h.armDelayedSyncLocked(g, fu)
}

func (h *rebalanceHandler) transitionEmptyLocked(g *Group) {
	g.generationID++
	g.state = Empty
	g.leader = ""
	g.protocol = ""
	g.persistedAssignments = nil
	logrus.Infof("group %s is now empty at generation %d", g.groupID, g.generationID)
	h.persistGroupMetadataLocked(g, nil)
}

// SyncGroup handles one sync request. Followers park until the leader's
// assignment is durable; the leader's request also carries the assignment.
func (h *rebalanceHandler) SyncGroup(g *Group, req *protocol.SyncGroupReq, cb protocol.SyncCallback) {
	fu := &followUp{}
	g.lock.Lock()
	h.syncLocked(g, req, cb, fu)
	g.lock.Unlock()
	h.apply(fu)
}

func (h *rebalanceHandler) syncLocked(g *Group, req *protocol.SyncGroupReq, cb protocol.SyncCallback, fu *followUp) {
	if g.state == Dead {
		fu.complete(func() {
			cb(&protocol.SyncGroupResp{ErrorCode: protocol.COORDINATOR_NOT_AVAILABLE})
		})
		return
	}
	member := g.members[req.MemberID]
	if member == nil {
		fu.complete(func() {
			cb(&protocol.SyncGroupResp{ErrorCode: protocol.UNKNOWN_MEMBER_ID})
		})
		return
	}
	if req.GenerationID != g.generationID {
		fu.complete(func() {
			cb(&protocol.SyncGroupResp{ErrorCode: protocol.ILLEGAL_GENERATION})
		})
		return
	}
	switch g.state {
	case Empty:
		fu.complete(func() {
			cb(&protocol.SyncGroupResp{ErrorCode: protocol.UNKNOWN_MEMBER_ID})
		})
	case PreparingRebalance:
		fu.complete(func() {
			cb(&protocol.SyncGroupResp{ErrorCode: protocol.REBALANCE_IN_PROGRESS})
		})
	case Stable:
		// A retransmit after the group stabilized; answer from the current
		// assignment.
		member.lastHeartbeat = time.Now()
		assignment := member.assignment
		fu.complete(func() {
			cb(&protocol.SyncGroupResp{ErrorCode: protocol.NONE, MemberAssignment: assignment})
		})
		h.scheduleHeartbeatLocked(g, member, fu)
	case CompletingRebalance:
		if member.pending == pendingSync && member.syncCallback != nil {
			stale := member.syncCallback
			fu.complete(func() {
				stale(&protocol.SyncGroupResp{ErrorCode: protocol.REBALANCE_IN_PROGRESS})
			})
		}
		member.pending = pendingSync
		member.syncCallback = cb
		member.lastHeartbeat = time.Now()
		if req.MemberID == g.leader {
			h.commitAssignmentLocked(g, req.GroupAssignments, fu)
		}
	}
}

// commitAssignmentLocked persists the leader's assignment. The append is
// submitted while the group lock is held; the store invokes the callback
// from another goroutine, which re-locks the group and checks that the
// generation it wrote for is still the current one.
func (h *rebalanceHandler) commitAssignmentLocked(g *Group, groupAssignments []*protocol.GroupAssignment, fu *followUp) {
	assignments := make(map[string][]byte, len(g.members))
	for _, ga := range groupAssignments {
		assignments[ga.MemberID] = ga.MemberAssignment
	}
	// Members the leader did not cover receive an empty assignment rather
	// than a stale or missing one.
	for id := range g.members {
		if _, ok := assignments[id]; !ok {
			assignments[id] = []byte{}
		}
	}
	logrus.Infof("group %s received assignment from leader %s for generation %d", g.groupID, g.leader, g.generationID)

	record := &model.GroupMetadataData{
		ProtocolType: g.protocolType,
		Protocol:     g.protocol,
		GenerationID: g.generationID,
		LeaderID:     g.leader,
	}
	for _, id := range sortedAssignmentIDs(assignments) {
		record.Assignments = append(record.Assignments, model.MemberAssignmentData{
			MemberID:   id,
			Assignment: assignments[id],
		})
	}
	value, err := model.EncodeGroupMetadata(record)
	if err != nil {
		logrus.Errorf("group %s encode metadata record failed: %s", g.groupID, err)
		h.failPendingSyncsLocked(g, protocol.UNKNOWN_SERVER_ERROR, fu)
		return
	}
	generationID := g.generationID
	h.store.Append(context.Background(), g.shardID, model.GroupMetadataKey(g.groupID), value, func(err error) {
		h.onAssignmentCommitted(g, generationID, assignments, err)
	})
}

func (h *rebalanceHandler) onAssignmentCommitted(g *Group, generationID int, assignments map[string][]byte, err error) {
	fu := &followUp{}
	g.lock.Lock()
	if g.state == CompletingRebalance && g.generationID == generationID {
		if err != nil {
			logrus.Errorf("group %s assignment commit for generation %d failed: %s", g.groupID, generationID, err)
			h.failPendingSyncsLocked(g, protocol.REBALANCE_IN_PROGRESS, fu)
			h.prepareRebalanceLocked(g, "", "assignment commit failed", fu)
		} else {
			h.stabilizeLocked(g, assignments, fu)
		}
	}
	// A mismatched generation means the group moved on while the write was
	// in flight; the outcome is simply discarded.
	g.lock.Unlock()
	h.apply(fu)
}

func (h *rebalanceHandler) stabilizeLocked(g *Group, assignments map[string][]byte, fu *followUp) {
	g.persistedAssignments = assignments
	g.state = Stable
	logrus.Infof("group %s is now stable at generation %d", g.groupID, g.generationID)
	now := time.Now()
	for _, id := range g.sortedMemberIDs() {
		member := g.members[id]
		member.assignment = assignments[id]
		if member.pending != pendingSync {
			continue
		}
		syncCb := member.syncCallback
		assignment := member.assignment
		member.syncCallback = nil
		member.pending = pendingNone
		member.lastHeartbeat = now
		if syncCb != nil {
			fu.complete(func() {
				syncCb(&protocol.SyncGroupResp{ErrorCode: protocol.NONE, MemberAssignment: assignment})
			})
		}
		h.scheduleHeartbeatLocked(g, member, fu)
	}
	fu.notify(syncKey(g.groupID))
}

func (h *rebalanceHandler) failPendingSyncsLocked(g *Group, code protocol.ErrorCode, fu *followUp) {
	for _, member := range g.members {
		if member.pending != pendingSync {
			continue
		}
		syncCb := member.syncCallback
		member.syncCallback = nil
		member.pending = pendingNone
		if syncCb != nil {
			fu.complete(func() {
				syncCb(&protocol.SyncGroupResp{ErrorCode: code})
			})
		}
	}
}

func (h *rebalanceHandler) armDelayedSyncLocked(g *Group, fu *followUp) {
	generationID := g.generationID
	timeout := time.Duration(g.maxRebalanceTimeoutMs()) * time.Millisecond
	op := purgatory.NewOperation(timeout,
		func() bool {
			return h.tryCompleteSync(g, generationID)
		},
		func() {},
		func() {
			h.onSyncExpired(g, generationID)
		})
	fu.register(op, syncKey(g.groupID))
}

func (h *rebalanceHandler) tryCompleteSync(g *Group, generationID int) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	// Completes once this generation's sync phase is over, whether it ended
	// in Stable or fell back into another rebalance.
	return g.state != CompletingRebalance || g.generationID != generationID
}

func (h *rebalanceHandler) onSyncExpired(g *Group, generationID int) {
	fu := &followUp{}
	g.lock.Lock()
	if g.state == CompletingRebalance && g.generationID == generationID {
		for _, id := range g.sortedMemberIDs() {
			member := g.members[id]
			if member.pending != pendingSync {
				logrus.Warnf("group %s evicting member %s: no sync before rebalance deadline", g.groupID, id)
				metrics.CoordinatorMemberEvictionCount.Inc()
				h.removeMemberLocked(g, member, fu)
			}
		}
		if len(g.members) == 0 {
			h.transitionEmptyLocked(g)
		} else {
			h.prepareRebalanceLocked(g, "", "sync phase timed out", fu)
		}
	}
	g.lock.Unlock()
	h.apply(fu)
}

// Heartbeat answers immediately; liveness deferral is carried by a separate
// per-member operation re-armed on every sign of life.
func (h *rebalanceHandler) Heartbeat(g *Group, req *protocol.HeartbeatReq) *protocol.HeartbeatResp {
	fu := &followUp{}
	g.lock.Lock()
	resp := h.heartbeatLocked(g, req, fu)
	g.lock.Unlock()
	h.apply(fu)
	return resp
}

func (h *rebalanceHandler) heartbeatLocked(g *Group, req *protocol.HeartbeatReq, fu *followUp) *protocol.HeartbeatResp {
	if g.state == Dead || g.state == Empty {
		return &protocol.HeartbeatResp{ErrorCode: protocol.UNKNOWN_MEMBER_ID}
	}
	member := g.members[req.MemberID]
	if member == nil {
		return &protocol.HeartbeatResp{ErrorCode: protocol.UNKNOWN_MEMBER_ID}
	}
	if req.GenerationID != g.generationID {
		return &protocol.HeartbeatResp{ErrorCode: protocol.ILLEGAL_GENERATION}
	}
	member.lastHeartbeat = time.Now()
	h.scheduleHeartbeatLocked(g, member, fu)
	if g.state == PreparingRebalance || g.state == CompletingRebalance {
		return &protocol.HeartbeatResp{ErrorCode: protocol.REBALANCE_IN_PROGRESS}
	}
	return &protocol.HeartbeatResp{ErrorCode: protocol.NONE}
}

// scheduleHeartbeatLocked completes the member's previous liveness operation
// and arms the next one at the member's session deadline.
func (h *rebalanceHandler) scheduleHeartbeatLocked(g *Group, member *memberMetadata, fu *followUp) {
	memberID := member.memberID
	armedAt := member.lastHeartbeat
	timeout := time.Until(member.lastHeartbeat.Add(time.Duration(member.sessionTimeoutMs) * time.Millisecond))
	op := purgatory.NewOperation(timeout,
		func() bool {
			return h.tryCompleteHeartbeat(g, memberID, armedAt)
		},
		func() {},
		func() {
			h.onHeartbeatExpired(g, memberID)
		})
	key := heartbeatKey(g.groupID, memberID)
	fu.register(op, key)
	fu.notify(key)
}

func (h *rebalanceHandler) tryCompleteHeartbeat(g *Group, memberID string, armedAt time.Time) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	member := g.members[memberID]
	if member == nil {
		return true
	}
	// A member with a parked join or sync is alive by definition; so is one
	// that showed a newer heartbeat than this operation was armed with.
	return member.pending != pendingNone || member.leaving || member.lastHeartbeat.After(armedAt)
}

func (h *rebalanceHandler) onHeartbeatExpired(g *Group, memberID string) {
	fu := &followUp{}
	g.lock.Lock()
	member := g.members[memberID]
	if member != nil && member.pending == pendingNone && !member.leaving && g.state != PreparingRebalance {
		// During PreparingRebalance a silent member keeps its seat until the
		// rebalance deadline; the deferred join evicts non-rejoiners there.
		deadline := member.lastHeartbeat.Add(time.Duration(member.sessionTimeoutMs) * time.Millisecond)
		if time.Now().Before(deadline) {
			// The reaper fired off an older arming; re-arm for the true
			// remaining session.
			h.scheduleHeartbeatLocked(g, member, fu)
		} else {
			h.logger.GroupID(g.groupID).MemberID(memberID).Warn("evicting member: session timed out")
			metrics.CoordinatorMemberEvictionCount.Inc()
			h.removeMemberLocked(g, member, fu)
			if len(g.members) == 0 && g.state != Empty {
				h.transitionEmptyLocked(g)
			} else if g.state == Stable || g.state == CompletingRebalance {
				h.prepareRebalanceLocked(g, "", "member "+memberID+" session timed out", fu)
			}
		}
	}
	g.lock.Unlock()
	h.apply(fu)
}

// LeaveGroup removes the named members immediately and rebalances the
// survivors.
func (h *rebalanceHandler) LeaveGroup(g *Group, req *protocol.LeaveGroupReq) *protocol.LeaveGroupResp {
	fu := &followUp{}
	g.lock.Lock()
	resp := h.leaveLocked(g, req, fu)
	g.lock.Unlock()
	h.apply(fu)
	return resp
}

func (h *rebalanceHandler) leaveLocked(g *Group, req *protocol.LeaveGroupReq, fu *followUp) *protocol.LeaveGroupResp {
	if g.state == Dead {
		return &protocol.LeaveGroupResp{ErrorCode: protocol.COORDINATOR_NOT_AVAILABLE}
	}
	resp := &protocol.LeaveGroupResp{ErrorCode: protocol.NONE}
	removed := false
	for _, lm := range req.Members {
		resp.Members = append(resp.Members, &protocol.LeaveGroupMember{MemberID: lm.MemberID})
		member := g.members[lm.MemberID]
		if member == nil {
			continue
		}
		member.leaving = true
		logrus.Infof("group %s member %s left", g.groupID, lm.MemberID)
		h.removeMemberLocked(g, member, fu)
		removed = true
	}
	if !removed {
		return resp
	}
	switch {
	case len(g.members) == 0 && g.state != Empty:
		h.transitionEmptyLocked(g)
	case g.state == Stable || g.state == CompletingRebalance:
		h.prepareRebalanceLocked(g, "", "member left", fu)
	case g.state == PreparingRebalance:
		fu.notify(joinKey(g.groupID))
	}
	return resp
}

// removeMemberLocked detaches a member, failing any parked request it still
// holds. Callers decide what the departure means for the group state.
func (h *rebalanceHandler) removeMemberLocked(g *Group, member *memberMetadata, fu *followUp) {
	delete(g.members, member.memberID)
	g.updateSupportedProtocols(member.protocols, false)
	if g.leader == member.memberID {
		g.leader = ""
	}
	memberID := member.memberID
	if member.pending == pendingJoin && member.joinCallback != nil {
		joinCb := member.joinCallback
		fu.complete(func() {
			joinCb(&protocol.JoinGroupResp{ErrorCode: protocol.UNKNOWN_MEMBER_ID, MemberID: memberID})
		})
	}
	if member.pending == pendingSync && member.syncCallback != nil {
		syncCb := member.syncCallback
		fu.complete(func() {
			syncCb(&protocol.SyncGroupResp{ErrorCode: protocol.UNKNOWN_MEMBER_ID})
		})
	}
	member.joinCallback = nil
	member.syncCallback = nil
	member.pending = pendingNone
	fu.notify(heartbeatKey(g.groupID, memberID))
}

// persistGroupMetadataLocked writes the group's current durable view without
// waiting for the outcome; a failed write surfaces in the log and the next
// stabilization rewrites the record anyway.
func (h *rebalanceHandler) persistGroupMetadataLocked(g *Group, assignments map[string][]byte) {
	record := &model.GroupMetadataData{
		ProtocolType: g.protocolType,
		Protocol:     g.protocol,
		GenerationID: g.generationID,
		LeaderID:     g.leader,
	}
	for _, id := range sortedAssignmentIDs(assignments) {
		record.Assignments = append(record.Assignments, model.MemberAssignmentData{
			MemberID:   id,
			Assignment: assignments[id],
		})
	}
	value, err := model.EncodeGroupMetadata(record)
	if err != nil {
		logrus.Errorf("group %s encode metadata record failed: %s", g.groupID, err)
		return
	}
	groupID := g.groupID
	h.store.Append(context.Background(), g.shardID, model.GroupMetadataKey(g.groupID), value, func(err error) {
		if err != nil {
			logrus.Errorf("group %s persist metadata failed: %s", groupID, err)
		}
	})
}

// Teardown kills a group whose shard is being unloaded: every parked request
// is failed with NOT_COORDINATOR so clients rediscover their coordinator.
func (h *rebalanceHandler) Teardown(g *Group) {
	fu := &followUp{}
	g.lock.Lock()
	g.state = Dead
	for _, id := range g.sortedMemberIDs() {
		member := g.members[id]
		memberID := id
		if member.pending == pendingJoin && member.joinCallback != nil {
			joinCb := member.joinCallback
			fu.complete(func() {
				joinCb(&protocol.JoinGroupResp{ErrorCode: protocol.NOT_COORDINATOR, MemberID: memberID})
			})
		}
		if member.pending == pendingSync && member.syncCallback != nil {
			syncCb := member.syncCallback
			fu.complete(func() {
				syncCb(&protocol.SyncGroupResp{ErrorCode: protocol.NOT_COORDINATOR})
			})
		}
		member.joinCallback = nil
		member.syncCallback = nil
		member.pending = pendingNone
		fu.notify(heartbeatKey(g.groupID, id))
	}
	g.members = make(map[string]*memberMetadata)
	g.supportedProtocolCounts = make(map[string]int)
	fu.notify(joinKey(g.groupID), syncKey(g.groupID))
	g.lock.Unlock()
	h.apply(fu)
	logrus.Infof("group %s torn down", g.groupID)
}
