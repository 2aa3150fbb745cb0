package purgatory

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteImmediately(t *testing.T) {
	p := NewPurgatory(10 * time.Millisecond)
	defer p.Close()
	completions := int32(0)
	op := NewOperation(time.Minute,
		func() bool { return true },
		func() { atomic.AddInt32(&completions, 1) },
		nil)
	require.True(t, p.TryCompleteElseWatch(op, []string{"key"}))
	assert.True(t, op.IsCompleted())
	assert.False(t, op.IsExpired())
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))
	assert.Equal(t, 0, p.Pending())
}

func TestCompleteOnNotify(t *testing.T) {
	p := NewPurgatory(10 * time.Millisecond)
	defer p.Close()
	ready := int32(0)
	completions := int32(0)
	op := NewOperation(time.Minute,
		func() bool { return atomic.LoadInt32(&ready) == 1 },
		func() { atomic.AddInt32(&completions, 1) },
		nil)
	require.False(t, p.TryCompleteElseWatch(op, []string{"key"}))
	assert.Equal(t, 1, p.Pending())
	assert.Equal(t, 1, p.Watched())

	assert.Equal(t, 0, p.CheckAndComplete("key"))
	assert.False(t, op.IsCompleted())

	atomic.StoreInt32(&ready, 1)
	assert.Equal(t, 1, p.CheckAndComplete("key"))
	assert.True(t, op.IsCompleted())
	assert.False(t, op.IsExpired())
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))

	// The watch list is purged once the operation completed.
	assert.Equal(t, 0, p.Watched())
	// Re-notifying a completed operation is a no-op.
	assert.Equal(t, 0, p.CheckAndComplete("key"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))
}

func TestCompleteOnAnyWatchKey(t *testing.T) {
	p := NewPurgatory(10 * time.Millisecond)
	defer p.Close()
	ready := int32(0)
	op := NewOperation(time.Minute,
		func() bool { return atomic.LoadInt32(&ready) == 1 },
		func() {},
		nil)
	require.False(t, p.TryCompleteElseWatch(op, []string{"left", "right"}))
	assert.Equal(t, 2, p.Watched())

	atomic.StoreInt32(&ready, 1)
	assert.Equal(t, 1, p.CheckAndComplete("right"))
	assert.True(t, op.IsCompleted())
}

func TestExpiry(t *testing.T) {
	p := NewPurgatory(time.Hour)
	defer p.Close()
	completions := int32(0)
	expirations := int32(0)
	op := NewOperation(20*time.Millisecond,
		func() bool { return false },
		func() { atomic.AddInt32(&completions, 1) },
		func() { atomic.AddInt32(&expirations, 1) })
	require.False(t, p.TryCompleteElseWatch(op, []string{"key"}))

	p.AdvanceClock(time.Now())
	assert.False(t, op.IsCompleted())

	p.AdvanceClock(time.Now().Add(time.Second))
	assert.True(t, op.IsCompleted())
	assert.True(t, op.IsExpired())
	assert.Equal(t, int32(0), atomic.LoadInt32(&completions))
	assert.Equal(t, int32(1), atomic.LoadInt32(&expirations))
	assert.Equal(t, 0, p.Pending())
}

func TestExpiryRoutesThroughOnCompleteWhenNoOnExpire(t *testing.T) {
	p := NewPurgatory(time.Hour)
	defer p.Close()
	completions := int32(0)
	op := NewOperation(10*time.Millisecond,
		func() bool { return false },
		func() { atomic.AddInt32(&completions, 1) },
		nil)
	require.False(t, p.TryCompleteElseWatch(op, []string{"key"}))
	p.AdvanceClock(time.Now().Add(time.Second))
	assert.True(t, op.IsExpired())
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))
}

func TestCompletedOperationDoesNotExpire(t *testing.T) {
	p := NewPurgatory(time.Hour)
	defer p.Close()
	expirations := int32(0)
	ready := int32(0)
	op := NewOperation(10*time.Millisecond,
		func() bool { return atomic.LoadInt32(&ready) == 1 },
		func() {},
		func() { atomic.AddInt32(&expirations, 1) })
	require.False(t, p.TryCompleteElseWatch(op, []string{"key"}))

	atomic.StoreInt32(&ready, 1)
	require.Equal(t, 1, p.CheckAndComplete("key"))

	p.AdvanceClock(time.Now().Add(time.Second))
	assert.False(t, op.IsExpired())
	assert.Equal(t, int32(0), atomic.LoadInt32(&expirations))
}

func TestCompletionHappensExactlyOnceUnderContention(t *testing.T) {
	p := NewPurgatory(time.Hour)
	defer p.Close()
	completions := int32(0)
	ready := int32(0)
	op := NewOperation(50*time.Millisecond,
		func() bool { return atomic.LoadInt32(&ready) == 1 },
		func() { atomic.AddInt32(&completions, 1) },
		nil)
	require.False(t, p.TryCompleteElseWatch(op, []string{"key"}))

	atomic.StoreInt32(&ready, 1)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.CheckAndComplete("key")
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.AdvanceClock(time.Now().Add(time.Second))
	}()
	wg.Wait()
	assert.True(t, op.IsCompleted())
	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))
}

func TestReaperExpiresWithoutNotify(t *testing.T) {
	p := NewPurgatory(5 * time.Millisecond)
	defer p.Close()
	expired := make(chan struct{})
	op := NewOperation(20*time.Millisecond,
		func() bool { return false },
		func() {},
		func() { close(expired) })
	require.False(t, p.TryCompleteElseWatch(op, []string{"key"}))
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("operation never expired")
	}
}

func TestTimerPopsInDeadlineOrder(t *testing.T) {
	timer := &deadlineTimer{}
	var order []string
	makeOp := func(name string, timeout time.Duration) *Operation {
		return NewOperation(timeout,
			func() bool { return false },
			func() {},
			func() { order = append(order, name) })
	}
	timer.add(makeOp("third", 30*time.Millisecond))
	timer.add(makeOp("first", 10*time.Millisecond))
	timer.add(makeOp("second", 20*time.Millisecond))
	require.Equal(t, 3, timer.size())

	for _, entry := range timer.popExpired(time.Now().Add(time.Second)) {
		entry.op.expire()
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, 0, timer.size())
}

func TestPopExpiredLeavesFutureEntries(t *testing.T) {
	timer := &deadlineTimer{}
	near := NewOperation(5*time.Millisecond, func() bool { return false }, func() {}, nil)
	far := NewOperation(time.Hour, func() bool { return false }, func() {}, nil)
	timer.add(near)
	timer.add(far)

	expired := timer.popExpired(time.Now().Add(time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, near, expired[0].op)
	assert.Equal(t, 1, timer.size())
}
