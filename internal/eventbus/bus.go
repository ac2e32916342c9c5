package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBufferSize is the bounded per-subscription channel depth (§4.8
// default 64). When full, the oldest queued event is dropped in favor of the
// new one and a LAG marker is inserted so the subscriber knows it missed
// something; the bus itself never blocks the producer.
const subscriberBufferSize = 64

// heartbeatInterval: a subscription that has seen no other event for this
// long receives a synthetic heartbeat so clients can detect a silently dead
// connection.
const heartbeatInterval = 15 * time.Second

// Subscription is a single observer's bounded view onto one task's topic.
type Subscription struct {
	Events <-chan Event

	bus    *Bus
	taskID string
	id     uint64
	done   chan struct{}
	closed atomic.Bool
}

// Close unregisters the subscription and stops its heartbeat goroutine. Safe
// to call more than once.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.bus.unsubscribe(s.taskID, s.id)
}

// topic is one task's fan-out state: a monotonic sequence counter and the
// set of live subscriptions.
type topic struct {
	mu          sync.Mutex
	seq         int64
	subscribers map[uint64]chan Event
	lastEventAt time.Time
}

// Bus is the process-wide event bus. One Bus instance is shared across all
// tasks; each task gets its own topic on first Publish or Subscribe.
type Bus struct {
	mu      sync.Mutex
	topics  map[string]*topic
	nextSub uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

func (b *Bus) topicFor(taskID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[taskID]
	if !ok {
		t = &topic{subscribers: make(map[uint64]chan Event), lastEventAt: time.Now()}
		b.topics[taskID] = t
	}
	return t
}

// Publish appends an event to taskID's topic, stamping it with the next
// sequence number, and fans it out to every live subscriber without
// blocking: a full subscriber buffer drops its oldest event and receives a
// LAG marker instead.
func (b *Bus) Publish(taskID string, eventType EventType, data any) Event {
	t := b.topicFor(taskID)

	t.mu.Lock()
	t.seq++
	ev := Event{TaskID: taskID, Sequence: t.seq, Type: eventType, Timestamp: time.Now(), Data: data}
	t.lastEventAt = ev.Timestamp
	subs := make([]chan Event, 0, len(t.subscribers))
	for _, ch := range t.subscribers {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		deliver(ch, ev)
	}
	return ev
}

// deliver performs a non-blocking send; on a full buffer it drops the two
// oldest queued events and inserts a LAG marker ahead of the new event.
func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		default:
		}
	}
	select {
	case ch <- Event{TaskID: ev.TaskID, Type: EventLag, Timestamp: time.Now()}:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Subscribe registers a new observer on taskID's topic. The returned
// Subscription's Events channel delivers events in production order with
// occasional LAG markers on overflow, plus periodic heartbeats when
// otherwise silent. Callers must call Close when done observing.
func (b *Bus) Subscribe(taskID string) *Subscription {
	t := b.topicFor(taskID)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)

	t.mu.Lock()
	t.subscribers[id] = ch
	t.mu.Unlock()

	sub := &Subscription{Events: ch, bus: b, taskID: taskID, id: id, done: make(chan struct{})}
	go b.heartbeatLoop(t, ch, sub.done)
	return sub
}

func (b *Bus) heartbeatLoop(t *topic, ch chan Event, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			t.mu.Lock()
			silent := now.Sub(t.lastEventAt) >= heartbeatInterval
			t.mu.Unlock()
			if silent {
				deliver(ch, Event{Type: EventHeartbeat, Timestamp: now, Data: HeartbeatData{Now: now}})
			}
		}
	}
}

func (b *Bus) unsubscribe(taskID string, id uint64) {
	b.mu.Lock()
	t, ok := b.topics[taskID]
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subscribers, id)
	empty := len(t.subscribers) == 0
	t.mu.Unlock()

	if empty {
		b.mu.Lock()
		if len(t.subscribers) == 0 {
			delete(b.topics, taskID)
		}
		b.mu.Unlock()
	}
}

// CloseTopic removes a task's topic entirely, e.g. once its task reaches a
// terminal state and the drain timeout elapses (§3's Subscription lifecycle).
func (b *Bus) CloseTopic(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, taskID)
}
