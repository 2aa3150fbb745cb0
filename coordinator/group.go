package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/protocol-laboratory/group-coordinator-go/protocol"
)

type GroupState int

const (
	PreparingRebalance GroupState = 1 + iota
	CompletingRebalance
	Stable
	Dead
	Empty
)

func (s GroupState) String() string {
	switch s {
	case PreparingRebalance:
		return "PreparingRebalance"
	case CompletingRebalance:
		return "CompletingRebalance"
	case Stable:
		return "Stable"
	case Dead:
		return "Dead"
	case Empty:
		return "Empty"
	default:
		return "Unknown"
	}
}

type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingJoin
	pendingSync
)

type memberMetadata struct {
	memberID   string
	clientID   string
	clientHost string

	protocolType       string
	protocols          []*protocol.GroupProtocol
	sessionTimeoutMs   int
	rebalanceTimeoutMs int

	// isNew marks a member between its first join request and its first
	// join response; such a member has never held a generation.
	isNew         bool
	leaving       bool
	lastHeartbeat time.Time

	pending      pendingKind
	joinCallback protocol.JoinCallback
	syncCallback protocol.SyncCallback

	assignment []byte
}

// metadata returns the member's advertised metadata bytes for one protocol,
// nil if the member does not support it.
func (m *memberMetadata) metadata(protocolName string) []byte {
	for _, p := range m.protocols {
		if p.ProtocolName == protocolName {
			return p.ProtocolMetadata
		}
	}
	return nil
}

func (m *memberMetadata) supports(protocolName string) bool {
	for _, p := range m.protocols {
		if p.ProtocolName == protocolName {
			return true
		}
	}
	return false
}

// Group is one consumer group. Every field below lock is guarded by it; the
// handler collects work to run after unlock so no response callback and no
// purgatory call ever happens while the lock is held.
type Group struct {
	groupID string
	shardID int

	lock sync.Mutex

	state        GroupState
	generationID int
	// rebalanceSeq identifies one entry into PreparingRebalance, so a
	// deferred join armed for an earlier rebalance can never act on a
	// later one.
	rebalanceSeq uint64

	protocolType string
	protocol     string
	leader       string

	members map[string]*memberMetadata
	// supportedProtocolCounts tracks, per protocol name, how many members
	// support it; the elected protocol must be supported by all.
	supportedProtocolCounts map[string]int

	// newMemberAdded extends the initial join delay of a brand-new group
	// once per newcomer, so a fleet starting together lands in one
	// generation.
	newMemberAdded   bool
	initialDelayDone bool

	// persistedAssignments mirrors the last committed assignment record,
	// kept so a reloaded group answers describe requests before anyone
	// rejoins.
	persistedAssignments map[string][]byte
}

func newGroup(groupID string, shardID int) *Group {
	return &Group{
		groupID:                 groupID,
		shardID:                 shardID,
		state:                   Empty,
		members:                 make(map[string]*memberMetadata),
		supportedProtocolCounts: make(map[string]int),
	}
}

func (g *Group) has(memberID string) bool {
	_, ok := g.members[memberID]
	return ok
}

func (g *Group) sortedMemberIDs() []string {
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Group) updateSupportedProtocols(protocols []*protocol.GroupProtocol, add bool) {
	for _, p := range protocols {
		if add {
			g.supportedProtocolCounts[p.ProtocolName]++
		} else {
			g.supportedProtocolCounts[p.ProtocolName]--
			if g.supportedProtocolCounts[p.ProtocolName] <= 0 {
				delete(g.supportedProtocolCounts, p.ProtocolName)
			}
		}
	}
}

// supportsProtocols reports whether a candidate's protocol list has at least
// one protocol every current member also supports. Vacuously true for an
// empty group.
func (g *Group) supportsProtocols(protocols []*protocol.GroupProtocol) bool {
	if len(g.members) == 0 {
		return len(protocols) > 0
	}
	for _, p := range protocols {
		if g.supportedProtocolCounts[p.ProtocolName] == len(g.members) {
			return true
		}
	}
	return false
}

// voteProtocol elects the group's protocol: each member votes for its most
// preferred protocol among those every member supports, most votes wins.
func (g *Group) voteProtocol() string {
	votes := make(map[string]int)
	for _, m := range g.members {
		for _, p := range m.protocols {
			if g.supportedProtocolCounts[p.ProtocolName] == len(g.members) {
				votes[p.ProtocolName]++
				break
			}
		}
	}
	elected := ""
	most := -1
	for _, name := range sortedKeys(votes) {
		if votes[name] > most {
			elected = name
			most = votes[name]
		}
	}
	return elected
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func protocolsEqual(a, b []*protocol.GroupProtocol) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProtocolName != b[i].ProtocolName {
			return false
		}
		if string(a[i].ProtocolMetadata) != string(b[i].ProtocolMetadata) {
			return false
		}
	}
	return true
}

func (g *Group) maxRebalanceTimeoutMs() int {
	max := 0
	for _, m := range g.members {
		if m.rebalanceTimeoutMs > max {
			max = m.rebalanceTimeoutMs
		}
	}
	return max
}

func (g *Group) allMembersRejoined() bool {
	for _, m := range g.members {
		if m.pending != pendingJoin {
			return false
		}
	}
	return len(g.members) > 0
}

// memberInfos lists every member with its metadata for the elected protocol,
// in member id order. This is what the leader receives to compute an
// assignment from.
func (g *Group) memberInfos() []*protocol.Member {
	infos := make([]*protocol.Member, 0, len(g.members))
	for _, id := range g.sortedMemberIDs() {
		infos = append(infos, &protocol.Member{
			MemberID: id,
			Metadata: g.members[id].metadata(g.protocol),
		})
	}
	return infos
}

func (g *Group) overview() *protocol.GroupOverview {
	return &protocol.GroupOverview{
		GroupID:      g.groupID,
		State:        g.state.String(),
		ProtocolType: g.protocolType,
	}
}

func (g *Group) summary() *protocol.GroupSummary {
	summary := &protocol.GroupSummary{
		GroupID:      g.groupID,
		State:        g.state.String(),
		ProtocolType: g.protocolType,
		Protocol:     g.protocol,
		LeaderID:     g.leader,
		GenerationID: g.generationID,
	}
	for _, id := range g.sortedMemberIDs() {
		m := g.members[id]
		summary.Members = append(summary.Members, &protocol.MemberSummary{
			MemberID:   id,
			ClientID:   m.clientID,
			ClientHost: m.clientHost,
			Metadata:   m.metadata(g.protocol),
			Assignment: m.assignment,
		})
	}
	if len(summary.Members) == 0 {
		for _, id := range sortedAssignmentIDs(g.persistedAssignments) {
			summary.Members = append(summary.Members, &protocol.MemberSummary{
				MemberID:   id,
				Assignment: g.persistedAssignments[id],
			})
		}
	}
	return summary
}

func sortedAssignmentIDs(assignments map[string][]byte) []string {
	ids := make([]string, 0, len(assignments))
	for id := range assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
