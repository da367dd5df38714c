package resultbus

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("resultbus: subscriber id already exists")

	// ErrSubscriberNotFound is returned for an unknown id.
	ErrSubscriberNotFound = errors.New("resultbus: subscriber id not found")

	// ErrBusClosed is returned when subscribing to a closed bus.
	ErrBusClosed = errors.New("resultbus: bus is closed")

	// ErrNilChannel is returned when Subscribe gets a nil channel.
	ErrNilChannel = errors.New("resultbus: subscriber channel cannot be nil")
)

// Policy is how a subscriber loses results when it falls behind.
type Policy int

const (
	DropNew Policy = iota
	DropOld
)

func (p Policy) String() string {
	if p == DropOld {
		return "drop_old"
	}
	return "drop_new"
}

// Stats is a snapshot of the bus.
type Stats struct {
	TotalPublished uint64                     `json:"total_published"`
	TotalSent      uint64                     `json:"total_sent"`
	TotalDropped   uint64                     `json:"total_dropped"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats tracks a single subscriber.
type SubscriberStats struct {
	Policy  string `json:"policy"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type subscriber[T any] struct {
	policy  Policy
	ch      chan<- T
	latest  *latest[T]
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes values of type T. The zero value is not usable; call New.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	closed      bool

	totalPublished atomic.Uint64
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subscribers: make(map[string]*subscriber[T])}
}

// Subscribe registers ch with DropNew semantics. The bus never closes ch.
func (b *Bus[T]) Subscribe(id string, ch chan<- T) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber[T]{policy: DropNew, ch: ch})
}

// SubscribeLatest registers a DropOld subscriber.
func (b *Bus[T]) SubscribeLatest(id string) (*Receiver[T], error) {
	l := newLatest[T]()
	if err := b.add(id, &subscriber[T]{policy: DropOld, latest: l}); err != nil {
		return nil, err
	}
	return &Receiver[T]{l: l}, nil
}

func (b *Bus[T]) add(id string, s *subscriber[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

// Unsubscribe removes a subscriber. A DropOld receiver is closed.
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.close()
	}
	delete(b.subscribers, id)
	return nil
}

// Publish offers v to every subscriber without blocking. Publishing on a
// closed bus is a no-op.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.totalPublished.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- v:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
			}
		case DropOld:
			// An overwritten unread value moves from sent to dropped.
			if s.latest.set(v) {
				s.dropped.Add(1)
			} else {
				s.sent.Add(1)
			}
		}
	}
}

// Stats returns a snapshot. Concurrent publishes may land after it is taken.
func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Stats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		st := SubscriberStats{
			Policy:  s.policy.String(),
			Sent:    s.sent.Load(),
			Dropped: s.dropped.Load(),
		}
		out.TotalSent += st.Sent
		out.TotalDropped += st.Dropped
		out.Subscribers[id] = st
	}
	return out
}

// SubscriberStats returns counters for one subscriber.
func (b *Bus[T]) SubscriberStats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.subscribers[id]
	if !ok {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Policy:  s.policy.String(),
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
	}, nil
}

// Close stops delivery. Channels handed to Subscribe are left open; DropOld
// receivers are closed. Idempotent.
func (b *Bus[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.close()
		}
	}
	return nil
}
