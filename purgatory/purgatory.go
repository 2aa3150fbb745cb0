// Package purgatory holds requests the coordinator cannot answer yet. An
// operation parks here with a completion predicate and a deadline; it is
// woken either by an explicit key-based notification or by the expiry
// reaper, whichever comes first, and completes exactly once.
package purgatory

import (
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/protocol-laboratory/group-coordinator-go/metrics"
)

const watcherBuckets = 64

type watcherBucket struct {
	mutex    sync.Mutex
	watchers map[string][]*Operation
}

type Purgatory struct {
	timer   *deadlineTimer
	buckets [watcherBuckets]*watcherBucket

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewPurgatory(tickInterval time.Duration) *Purgatory {
	p := &Purgatory{
		timer:  &deadlineTimer{},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for i := range p.buckets {
		p.buckets[i] = &watcherBucket{watchers: make(map[string][]*Operation)}
	}
	go p.expirationReaper(tickInterval)
	return p
}

func (p *Purgatory) bucket(key string) *watcherBucket {
	return p.buckets[murmur3.Sum32([]byte(key))%watcherBuckets]
}

// TryCompleteElseWatch attempts the operation immediately; if its condition
// already holds, the success callback runs on the caller's goroutine and
// true is returned. Otherwise the operation is watched under every key and
// armed on the deadline index, and false is returned.
func (p *Purgatory) TryCompleteElseWatch(op *Operation, keys []string) bool {
	if op.maybeTryComplete() {
		metrics.PurgatoryCompletedCount.Inc()
		return true
	}
	for _, key := range keys {
		p.watch(key, op)
	}
	// A notification may have slipped in between the first attempt and the
	// watch registration; try once more so it cannot be lost.
	if op.maybeTryComplete() {
		metrics.PurgatoryCompletedCount.Inc()
		return true
	}
	p.timer.add(op)
	return false
}

func (p *Purgatory) watch(key string, op *Operation) {
	bucket := p.bucket(key)
	bucket.mutex.Lock()
	bucket.watchers[key] = append(bucket.watchers[key], op)
	bucket.mutex.Unlock()
}

// CheckAndComplete re-evaluates every pending operation watching key and
// completes those whose condition now holds. Returns the number completed.
// Safe to call for keys nothing watches, and idempotent for operations that
// already completed.
func (p *Purgatory) CheckAndComplete(key string) int {
	bucket := p.bucket(key)
	bucket.mutex.Lock()
	watching := bucket.watchers[key]
	snapshot := make([]*Operation, len(watching))
	copy(snapshot, watching)
	bucket.mutex.Unlock()

	completed := 0
	for _, op := range snapshot {
		if op.IsCompleted() {
			continue
		}
		if op.maybeTryComplete() {
			completed++
			metrics.PurgatoryCompletedCount.Inc()
		}
	}
	p.purgeCompleted(bucket, key)
	return completed
}

func (p *Purgatory) purgeCompleted(bucket *watcherBucket, key string) {
	bucket.mutex.Lock()
	watching := bucket.watchers[key]
	live := watching[:0]
	for _, op := range watching {
		if !op.IsCompleted() {
			live = append(live, op)
		}
	}
	if len(live) == 0 {
		delete(bucket.watchers, key)
	} else {
		bucket.watchers[key] = live
	}
	bucket.mutex.Unlock()
}

func (p *Purgatory) expirationReaper(tickInterval time.Duration) {
	defer close(p.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.AdvanceClock(now)
		}
	}
}

// AdvanceClock expires every operation whose deadline is at or before now.
// The reaper drives this; tests may call it directly.
func (p *Purgatory) AdvanceClock(now time.Time) {
	for _, entry := range p.timer.popExpired(now) {
		if entry.op.IsCompleted() {
			continue
		}
		if entry.op.expire() {
			metrics.PurgatoryExpiredCount.Inc()
		}
	}
	metrics.PurgatoryPendingCount.Set(float64(p.Pending()))
	metrics.PurgatoryWatchedCount.Set(float64(p.Watched()))
}

// Pending counts operations still on the deadline index, completed or not;
// completed operations fall off lazily at their deadline.
func (p *Purgatory) Pending() int {
	return p.timer.size()
}

// Watched counts watch-list entries across all keys.
func (p *Purgatory) Watched() int {
	total := 0
	for _, bucket := range p.buckets {
		bucket.mutex.Lock()
		for _, watching := range bucket.watchers {
			total += len(watching)
		}
		bucket.mutex.Unlock()
	}
	return total
}

// Close stops the expiry reaper. Pending operations are not force-expired;
// whoever owns them fails them during teardown.
func (p *Purgatory) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.doneCh
}
