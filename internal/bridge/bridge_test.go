package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowscript/internal/events"
	"github.com/lyzr/flowscript/internal/flowerrors"
)

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestSubscribe_UnknownExecutionIsRejected(t *testing.T) {
	b := New(0, 0, nil)
	_, err := b.Subscribe("ghost", func(events.Event) {}, nil)
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindUnknownExecution, flowerrors.KindOf(err))
}

func TestPublish_BufferedEventsDeliverOnLateSubscribe(t *testing.T) {
	b := New(0, 0, nil)
	b.CreateLane("ex1")
	b.Publish("ex1", events.Event{Event: events.WorkflowStarted})
	b.Publish("ex1", events.Event{Event: events.NodeExecuting})

	var mu sync.Mutex
	var got []events.Event
	unsub, err := b.Subscribe("ex1", func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer unsub()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	assert.Equal(t, events.WorkflowStarted, got[0].Event)
	assert.Equal(t, events.NodeExecuting, got[1].Event)
}

func TestPublish_LiveEventsFanOutToMultipleSubscribers(t *testing.T) {
	b := New(0, 0, nil)
	b.CreateLane("ex1")

	var mu sync.Mutex
	countA, countB := 0, 0
	unsubA, err := b.Subscribe("ex1", func(events.Event) { mu.Lock(); countA++; mu.Unlock() }, nil)
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := b.Subscribe("ex1", func(events.Event) { mu.Lock(); countB++; mu.Unlock() }, nil)
	require.NoError(t, err)
	defer unsubB()

	b.Publish("ex1", events.Event{Event: events.NodeCompleted})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return countA == 1 && countB == 1
	})
}

func TestSubscribe_OnCaughtUpFiresOnceAfterAttaching(t *testing.T) {
	b := New(0, 0, nil)
	b.CreateLane("ex1")
	b.Publish("ex1", events.Event{Event: events.WorkflowStarted})

	var mu sync.Mutex
	delivered := 0
	caughtUp := 0
	unsub, err := b.Subscribe("ex1",
		func(ev events.Event) { mu.Lock(); delivered++; mu.Unlock() },
		func() { mu.Lock(); caughtUp++; mu.Unlock() },
	)
	require.NoError(t, err)
	defer unsub()

	// onCaughtUp is invoked synchronously by Subscribe itself, so it has
	// already fired by the time Subscribe returns.
	mu.Lock()
	assert.Equal(t, 1, caughtUp)
	mu.Unlock()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	})
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	b := New(0, 0, nil)
	b.CreateLane("ex1")

	var mu sync.Mutex
	count := 0
	unsub, err := b.Subscribe("ex1", func(events.Event) { mu.Lock(); count++; mu.Unlock() }, nil)
	require.NoError(t, err)

	unsub()
	b.Publish("ex1", events.Event{Event: events.NodeCompleted})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestUnsubscribe_IsSafeToCallTwice(t *testing.T) {
	b := New(0, 0, nil)
	b.CreateLane("ex1")
	unsub, err := b.Subscribe("ex1", func(events.Event) {}, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		unsub()
		unsub()
	})
}

func TestPublish_BufferOverflowDropsOldest(t *testing.T) {
	b := New(2, 0, nil)
	b.CreateLane("ex1")
	b.Publish("ex1", events.Event{Event: events.WorkflowStarted, Data: map[string]interface{}{"n": 1}})
	b.Publish("ex1", events.Event{Event: events.NodeExecuting, Data: map[string]interface{}{"n": 2}})
	b.Publish("ex1", events.Event{Event: events.NodeCompleted, Data: map[string]interface{}{"n": 3}})

	var mu sync.Mutex
	var got []events.Event
	unsub, err := b.Subscribe("ex1", func(ev events.Event) { mu.Lock(); got = append(got, ev); mu.Unlock() }, nil)
	require.NoError(t, err)
	defer unsub()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	assert.Equal(t, events.NodeExecuting, got[0].Event)
	assert.Equal(t, events.NodeCompleted, got[1].Event)
}

func TestTerminal_RejectsFurtherPublishesAndEvictsAfterGrace(t *testing.T) {
	b := New(0, 10*time.Millisecond, nil)
	b.CreateLane("ex1")
	b.Terminal("ex1")

	b.Publish("ex1", events.Event{Event: events.WorkflowCompleted})
	assert.True(t, b.LaneExists("ex1"), "lane survives until the grace period elapses")

	waitFor(t, func() bool { return !b.LaneExists("ex1") })
}

func TestSubscribe_BufferedEventsNeverReorderedByConcurrentPublish(t *testing.T) {
	// Regression for a race where a concurrent Publish could enqueue a live
	// event onto a subscriber's channel ahead of the buffered replay, since
	// the replay loop used to run after l.mu was released. Run many trials:
	// each buffered event must always precede the concurrently-published one.
	for trial := 0; trial < 200; trial++ {
		b := New(0, 0, nil)
		b.CreateLane("ex1")
		b.Publish("ex1", events.Event{Event: events.WorkflowStarted, Data: map[string]interface{}{"n": 0}})

		var mu sync.Mutex
		var got []events.Event
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish("ex1", events.Event{Event: events.NodeExecuting, Data: map[string]interface{}{"n": 1}})
		}()

		unsub, err := b.Subscribe("ex1", func(ev events.Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}, nil)
		require.NoError(t, err)

		wg.Wait()
		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 2
		})
		unsub()

		mu.Lock()
		require.Len(t, got, 2)
		assert.Equal(t, 0, got[0].Data["n"], "trial %d: buffered event must be delivered first", trial)
		assert.Equal(t, 1, got[1].Data["n"], "trial %d: concurrently-published event must be delivered second", trial)
		mu.Unlock()
	}
}

func TestPublish_StuckSubscriberDoesNotBlockPublication(t *testing.T) {
	b := New(2, 0, nil)
	b.CreateLane("ex1")

	release := make(chan struct{})
	defer close(release)

	// This subscriber's pump blocks forever on the first delivery, so its
	// send channel (cap 2) fills and later publishes must drop-oldest
	// instead of blocking.
	unsub, err := b.Subscribe("ex1", func(events.Event) { <-release }, nil)
	require.NoError(t, err)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish("ex1", events.Event{Event: events.NodeCompleted, Data: map[string]interface{}{"n": i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a stuck subscriber must not block Publish")
	}
}

func TestSubscriber_PanicIsIsolated(t *testing.T) {
	b := New(0, 0, nil)
	b.CreateLane("ex1")

	var mu sync.Mutex
	otherCount := 0
	_, err := b.Subscribe("ex1", func(events.Event) { panic("boom") }, nil)
	require.NoError(t, err)
	unsubOther, err := b.Subscribe("ex1", func(events.Event) { mu.Lock(); otherCount++; mu.Unlock() }, nil)
	require.NoError(t, err)
	defer unsubOther()

	assert.NotPanics(t, func() {
		b.Publish("ex1", events.Event{Event: events.NodeCompleted})
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return otherCount == 1
	})
}
