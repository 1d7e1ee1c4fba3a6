// Package bus fans typed progress events out to any number of subscribers
// without ever blocking the producer (a worker driving an external
// process). Each subscriber gets its own fixed-capacity ring buffer; when a
// slow subscriber falls behind, the bus drops that subscriber's oldest
// buffered events rather than the newest, so a terminal event always wins
// out over stale progress ticks sitting at the head of the queue.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Kind discriminates the tagged Event variants.
type Kind int

const (
	JobStarted Kind = iota
	JobProgress
	JobCompleted
	JobFailed
	JobCancelled
	QueueUpdated
)

// Event is the fan-out payload. Only the fields relevant to Kind are set;
// this mirrors the teacher's combined JobEvent shape rather than a Go sum
// type via interfaces, since every field here is a cheap scalar.
type Event struct {
	Kind Kind

	JobID      uuid.UUID
	InputPath  string // JobStarted
	OutputPath string // JobStarted

	Progress   float64  // JobProgress, 0..100
	FPS        *float64 // JobProgress, optional
	ETASeconds *uint64  // JobProgress, optional

	DurationSeconds uint64 // JobCompleted

	Error string // JobFailed

	PendingCount   int // QueueUpdated
	RunningCount   int // QueueUpdated
	CompletedCount int // QueueUpdated
}

// subscriber owns one buffered channel and a mutex serializing the
// drop-oldest-and-retry sequence against concurrent producers.
type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Bus is the progress fan-out bus. The zero value is not usable; use New.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscriber
	nextID   int
	capacity int
}

// New constructs a Bus whose subscribers each buffer up to capacity events.
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{subs: make(map[int]*subscriber), capacity: capacity}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	Events <-chan Event

	bus *Bus
	id  int
}

// Subscribe registers a new subscriber and returns a handle whose Events
// channel delivers future events in submission order.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	s := &subscriber{ch: make(chan Event, b.capacity)}
	b.subs[id] = s

	return &Subscription{Events: s.ch, bus: b, id: id}
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	sub, ok := s.bus.subs[s.id]
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	if ok {
		// Take sub.mu so this can never race a concurrent deliver() that
		// already passed the subs-map lookup in Report and is mid-send: Report
		// snapshots subscribers under b.mu.RLock before calling deliver, so by
		// the time deliver runs the map delete above may already have
		// happened. Closing without this lock could close the channel out
		// from under an in-flight send and panic; marking it closed makes a
		// later deliver skip it instead of sending on the closed channel.
		sub.mu.Lock()
		sub.closed = true
		close(sub.ch)
		sub.mu.Unlock()
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Report delivers event to every current subscriber, never blocking. When
// there are no subscribers the event is silently discarded. When a
// subscriber's buffer is full, its oldest buffered event is dropped to make
// room for the new one.
func (b *Bus) Report(event Event) {
	b.mu.RLock()
	// Snapshot under the read lock; Subscribe/Unsubscribe may run
	// concurrently with delivery. A subscriber unsubscribed after the
	// snapshot is marked closed, and deliver skips it.
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.deliver(event)
	}
}

func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- event:
			return
		default:
			select {
			case <-s.ch:
				// dropped oldest, retry insert
			default:
				// the reader drained the buffer between the two
				// selects (the lock excludes other producers, not
				// readers); nothing to drop, and the retry insert
				// succeeds since capacity is always >= 1.
			}
		}
	}
}
