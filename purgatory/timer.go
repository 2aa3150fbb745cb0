package purgatory

import (
	"sync"
	"time"

	"github.com/twmb/go-rbtree"
)

// timerEntry orders operations by deadline; seq breaks ties so every entry
// is unique in the tree.
type timerEntry struct {
	deadline time.Time
	seq      uint64
	op       *Operation
}

func (e *timerEntry) Less(other rbtree.Item) bool {
	o := other.(*timerEntry)
	if e.deadline.Equal(o.deadline) {
		return e.seq < o.seq
	}
	return e.deadline.Before(o.deadline)
}

// deadlineTimer is the deadline index of the purgatory: a red-black tree
// keyed by (deadline, seq). Expiry only ever pops from the minimum, so an
// idle operation costs nothing per tick.
type deadlineTimer struct {
	mutex sync.Mutex
	tree  rbtree.Tree
	seq   uint64
}

func (t *deadlineTimer) add(op *Operation) {
	t.mutex.Lock()
	t.seq++
	entry := &timerEntry{deadline: op.deadline, seq: t.seq, op: op}
	t.tree.FindWithOrInsertWith(
		func(n *rbtree.Node) int {
			if entry.Less(n.Item) {
				return -1
			}
			return 1
		},
		func() rbtree.Item { return entry },
	)
	t.mutex.Unlock()
}

// popExpired removes and returns every entry whose deadline has passed.
func (t *deadlineTimer) popExpired(now time.Time) []*timerEntry {
	var expired []*timerEntry
	t.mutex.Lock()
	for {
		n := t.tree.Min()
		if n == nil {
			break
		}
		entry := n.Item.(*timerEntry)
		if entry.deadline.After(now) {
			break
		}
		t.tree.Delete(n)
		expired = append(expired, entry)
	}
	t.mutex.Unlock()
	return expired
}

func (t *deadlineTimer) size() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.tree.Len()
}
