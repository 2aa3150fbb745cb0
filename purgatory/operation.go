package purgatory

import (
	"sync"
	"sync/atomic"
	"time"
)

// Operation is one deferred unit of work: a completion predicate, a success
// callback, an optional expiry callback and a deadline. An operation
// completes at most once, no matter how completion attempts and expiry race.
type Operation struct {
	deadline time.Time

	// tryComplete reports whether the operation's condition holds. It is
	// called without any purgatory lock held and may take locks of its own.
	tryComplete func() bool
	// onComplete runs exactly once when the condition was met.
	onComplete func()
	// onExpire runs instead of onComplete when the deadline fired first.
	// A nil onExpire routes expiry through onComplete.
	onExpire func()

	// mutex serializes predicate evaluation so that two notifiers cannot
	// both observe the predicate true and race into completion.
	mutex     sync.Mutex
	completed int32
	expired   int32
}

func NewOperation(timeout time.Duration, tryComplete func() bool, onComplete func(), onExpire func()) *Operation {
	return &Operation{
		deadline:    time.Now().Add(timeout),
		tryComplete: tryComplete,
		onComplete:  onComplete,
		onExpire:    onExpire,
	}
}

func (o *Operation) IsCompleted() bool {
	return atomic.LoadInt32(&o.completed) == 1
}

// IsExpired reports whether completion happened through the expiry path.
func (o *Operation) IsExpired() bool {
	return atomic.LoadInt32(&o.expired) == 1
}

func (o *Operation) Deadline() time.Time {
	return o.deadline
}

// maybeTryComplete evaluates the predicate and completes the operation if it
// holds. Returns true if the operation is completed (now or previously).
func (o *Operation) maybeTryComplete() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.IsCompleted() {
		return true
	}
	if !o.tryComplete() {
		return false
	}
	return o.forceComplete()
}

func (o *Operation) forceComplete() bool {
	if !atomic.CompareAndSwapInt32(&o.completed, 0, 1) {
		return false
	}
	o.onComplete()
	return true
}

// expire completes the operation through its expiry path. Loses quietly if
// the operation completed first.
func (o *Operation) expire() bool {
	if !atomic.CompareAndSwapInt32(&o.completed, 0, 1) {
		return false
	}
	atomic.StoreInt32(&o.expired, 1)
	if o.onExpire != nil {
		o.onExpire()
	} else {
		o.onComplete()
	}
	return true
}
