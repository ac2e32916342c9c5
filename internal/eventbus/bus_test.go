package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *Subscription, n int, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-sub.Events:
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestPublishDeliversInOrderWithIncreasingSequence(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("task_1")
	defer sub.Close()

	bus.Publish("task_1", EventStepStarted, StepStartedData{StepNumber: 1})
	bus.Publish("task_1", EventStepCompleted, StepCompletedData{StepNumber: 1})

	events := drain(t, sub, 2, time.Second)
	assert.Equal(t, EventStepStarted, events[0].Type)
	assert.Equal(t, EventStepCompleted, events[1].Type)
	assert.Less(t, events[0].Sequence, events[1].Sequence)
}

func TestMultipleSubscribersEachReceiveAllEvents(t *testing.T) {
	bus := New()
	sub1 := bus.Subscribe("task_2")
	sub2 := bus.Subscribe("task_2")
	defer sub1.Close()
	defer sub2.Close()

	bus.Publish("task_2", EventTaskStarted, nil)

	e1 := drain(t, sub1, 1, time.Second)
	e2 := drain(t, sub2, 1, time.Second)
	assert.Equal(t, EventTaskStarted, e1[0].Type)
	assert.Equal(t, EventTaskStarted, e2[0].Type)
}

func TestDifferentTasksAreIsolated(t *testing.T) {
	bus := New()
	subA := bus.Subscribe("task_a")
	subB := bus.Subscribe("task_b")
	defer subA.Close()
	defer subB.Close()

	bus.Publish("task_a", EventTaskStarted, nil)

	drain(t, subA, 1, time.Second)
	select {
	case ev := <-subB.Events:
		t.Fatalf("task_b subscriber should not see task_a events, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOverflowDropsOldestAndInsertsLagMarker(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("task_overflow")
	defer sub.Close()

	for i := 0; i < subscriberBufferSize+5; i++ {
		bus.Publish("task_overflow", EventStepStarted, StepStartedData{StepNumber: i})
	}

	var sawLag bool
	for i := 0; i < subscriberBufferSize; i++ {
		select {
		case ev := <-sub.Events:
			if ev.Type == EventLag {
				sawLag = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out draining overflowed subscriber")
		}
	}
	assert.True(t, sawLag, "expected a LAG marker after overflowing the subscriber buffer")
}

func TestCloseUnsubscribesAndStopsHeartbeat(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("task_close")
	sub.Close()
	sub.Close() // idempotent

	bus.mu.Lock()
	_, exists := bus.topics["task_close"]
	bus.mu.Unlock()
	assert.False(t, exists)
}

func TestPublishToTopicWithNoSubscribersDoesNotBlock(t *testing.T) {
	bus := New()
	done := make(chan struct{})
	go func() {
		bus.Publish("task_none", EventTaskStarted, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish with no subscribers should not block")
	}
}

func TestCloseTopicRemovesTopicState(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("task_terminal")
	bus.Publish("task_terminal", EventTaskEnded, nil)
	drain(t, sub, 1, time.Second)
	sub.Close()

	bus.CloseTopic("task_terminal")
	bus.mu.Lock()
	_, exists := bus.topics["task_terminal"]
	bus.mu.Unlock()
	require.False(t, exists)
}
