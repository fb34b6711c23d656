package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscriber buffer.
const DefaultQueueSize = 2048

// Subscription is one subscriber's bounded queue. C is closed when the
// subscription ends, either by Unsubscribe or by eviction.
type Subscription struct {
	id      string
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	evicted atomic.Bool
}

func (s *Subscription) ID() string { return s.id }

// C delivers events in publish order.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Evicted reports whether the subscription was dropped for being full.
func (s *Subscription) Evicted() bool { return s.evicted.Load() }

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

// Broadcast fans events out to subscribers. Publish never blocks: a
// subscriber whose queue is full is removed instead of receiving the event.
type Broadcast struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	queueSize int
	closed    bool
}

func NewBroadcast(queueSize int) *Broadcast {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcast{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a new empty queue. After Close the returned
// subscription is already closed.
func (b *Broadcast) Subscribe() *Subscription {
	sub := &Subscription{
		id:   uuid.NewString(),
		ch:   make(chan Event, b.queueSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Unknown or already
// removed subscriptions are ignored.
func (b *Broadcast) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		sub.close()
	}
}

// Publish enqueues ev on every subscriber. It returns how many subscribers
// were evicted because their queue was full.
func (b *Broadcast) Publish(ev Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(b.subs, id)
			sub.evicted.Store(true)
			sub.close()
			evicted++
		}
	}
	return evicted
}

// Len returns the number of active subscribers.
func (b *Broadcast) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Closed reports whether Close has been called.
func (b *Broadcast) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close ends every subscription. Later publishes are dropped.
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.close()
	}
}
