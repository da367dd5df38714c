package resultbus

import (
	"context"
	"sync"
)

// Receiver is the read side of a DropOld subscription.
type Receiver[T any] struct {
	l *latest[T]
}

// Receive blocks until a value newer than the last one returned is
// available, the subscription is closed, or ctx is done. ok is false in
// the latter two cases.
func (r *Receiver[T]) Receive(ctx context.Context) (v T, ok bool) {
	return r.l.receive(ctx)
}

// TryReceive returns the newest value, if any was ever published, without
// consuming it.
func (r *Receiver[T]) TryReceive() (T, bool) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return r.l.v, r.l.seq > 0
}

type latest[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	v      T
	seq    uint64
	read   uint64
	closed bool
}

func newLatest[T any]() *latest[T] {
	l := &latest[T]{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// set stores v and reports whether an unread value was overwritten.
func (l *latest[T]) set(v T) (overwrote bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	overwrote = l.seq > l.read
	l.v = v
	l.seq++
	l.cond.Broadcast()
	return overwrote
}

func (l *latest[T]) receive(ctx context.Context) (T, bool) {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	for l.seq == l.read && !l.closed && ctx.Err() == nil {
		l.cond.Wait()
	}
	if l.seq == l.read {
		var zero T
		return zero, false
	}
	l.read = l.seq
	return l.v, true
}

func (l *latest[T]) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
}
