package session

import (
	"sync"
	"time"

	"github.com/mikeboe/sales-research/pkg/metrics"
)

// EventKind classifies events delivered to observers.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
)

// Terminal reports whether the event ends the session's event stream.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventError
}

// Event is what observers receive for every change of a session.
type Event struct {
	Kind      EventKind `json:"event"`
	Snapshot  Snapshot  `json:"snapshot"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster fans session events out to subscribers. Publish never waits for
// a subscriber: every subscription has its own unbounded queue drained by a
// goroutine, so a slow reader delays only itself and sees events in order.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	last   *Event
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{topics: make(map[string]*topic)}
}

// Open makes sessionID available for subscription. Opening twice is harmless.
func (b *Broadcaster) Open(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[sessionID]; !ok {
		b.topics[sessionID] = &topic{subs: make(map[*Subscription]struct{})}
	}
}

// Close ends every subscription of sessionID and forgets the session.
func (b *Broadcaster) Close(sessionID string) {
	b.mu.Lock()
	t, ok := b.topics[sessionID]
	delete(b.topics, sessionID)
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for sub := range t.subs {
		sub.stop()
	}
	t.subs = nil
}

// Subscribe registers a new observer of sessionID. The latest published event,
// if any, is replayed first, so an observer arriving after the session ended
// still receives the terminal snapshot. It returns false for unknown sessions.
func (b *Broadcaster) Subscribe(sessionID string) (*Subscription, bool) {
	t, ok := b.topic(sessionID)
	if !ok {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Close may have run between the lookup and the lock.
	if t.closed {
		return nil, false
	}
	sub := newSubscription(sessionID)
	if t.last != nil {
		sub.enqueue(*t.last)
	}
	if t.last == nil || !t.last.Kind.Terminal() {
		t.subs[sub] = struct{}{}
	}
	return sub, true
}

// Unsubscribe stops delivery to sub. It is safe to call more than once.
func (b *Broadcaster) Unsubscribe(sessionID string, sub *Subscription) {
	if sub == nil {
		return
	}
	if t, ok := b.topic(sessionID); ok {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
	}
	sub.stop()
}

// Publish delivers ev to every current subscriber of sessionID. Events after a
// terminal event are dropped.
func (b *Broadcaster) Publish(sessionID string, ev Event) {
	t, ok := b.topic(sessionID)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || (t.last != nil && t.last.Kind.Terminal()) {
		return
	}
	t.last = &ev
	for sub := range t.subs {
		sub.enqueue(ev)
	}
	if ev.Kind.Terminal() {
		// Subscriptions close themselves once the terminal event is read.
		clear(t.subs)
	}
}

// Subscribers returns the number of open subscriptions for sessionID.
func (b *Broadcaster) Subscribers(sessionID string) int {
	t, ok := b.topic(sessionID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (b *Broadcaster) topic(sessionID string) (*topic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[sessionID]
	return t, ok
}

// Subscription is one observer's view of a session. Events is closed after
// the terminal event has been received, or when the subscription is stopped.
type Subscription struct {
	SessionID string

	mu       sync.Mutex
	queue    []Event
	finished bool

	signal   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	out      chan Event
}

func newSubscription(sessionID string) *Subscription {
	s := &Subscription{
		SessionID: sessionID,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		out:       make(chan Event),
	}
	metrics.ObserversActive.Inc()
	go s.pump()
	return s
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Done is closed when the subscription has been stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	if ev.Kind.Terminal() {
		s.finished = true
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Subscription) pump() {
	defer metrics.ObserversActive.Dec()
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
