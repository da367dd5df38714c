package syncdeque

import (
	"context"
	"errors"
	"sync"
)

// ErrEmpty is the panic value of the non-try accessors on an empty deque.
var ErrEmpty = errors.New("syncdeque: empty deque")

const minCapacity = 8

// Deque is a thread-safe double-ended queue. Create with New.
type Deque[T any] struct {
	// --- Data ---

	mu    sync.Mutex
	buf   []T // ring buffer, len(buf) is a power of two
	head  int // index of the front element
	count int

	// --- Wakeup ---

	sleepMu sync.Mutex
	sleep   *sync.Cond
}

// New returns an empty deque.
func New[T any]() *Deque[T] {
	d := &Deque[T]{buf: make([]T, minCapacity)}
	d.sleep = sync.NewCond(&d.sleepMu)
	return d
}

// PushBack appends v and wakes one waiter.
func (d *Deque[T]) PushBack(v T) {
	d.mu.Lock()
	d.grow()
	d.buf[d.index(d.count)] = v
	d.count++
	d.mu.Unlock()

	d.notify()
}

// PushFront prepends v and wakes one waiter.
func (d *Deque[T]) PushFront(v T) {
	d.mu.Lock()
	d.grow()
	d.head = d.index(len(d.buf) - 1)
	d.buf[d.head] = v
	d.count++
	d.mu.Unlock()

	d.notify()
}

// PopFront removes and returns the front element. Panics if empty.
func (d *Deque[T]) PopFront() T {
	v, ok := d.TryPopFront()
	if !ok {
		panic(ErrEmpty)
	}
	return v
}

// PopBack removes and returns the back element. Panics if empty.
func (d *Deque[T]) PopBack() T {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count == 0 {
		panic(ErrEmpty)
	}
	i := d.index(d.count - 1)
	v := d.buf[i]
	var zero T
	d.buf[i] = zero
	d.count--
	return v
}

// TryPopFront removes and returns the front element if there is one.
// It never blocks on the wakeup side.
func (d *Deque[T]) TryPopFront() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var zero T
	if d.count == 0 {
		return zero, false
	}
	v := d.buf[d.head]
	d.buf[d.head] = zero
	d.head = d.index(1)
	d.count--
	return v, true
}

// Front returns the front element without removing it. Panics if empty.
func (d *Deque[T]) Front() T {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count == 0 {
		panic(ErrEmpty)
	}
	return d.buf[d.head]
}

// Back returns the back element without removing it. Panics if empty.
func (d *Deque[T]) Back() T {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count == 0 {
		panic(ErrEmpty)
	}
	return d.buf[d.index(d.count-1)]
}

// Empty reports whether the deque holds no elements.
func (d *Deque[T]) Empty() bool {
	return d.Count() == 0
}

// Count returns the number of queued elements.
func (d *Deque[T]) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Clear drops every element.
func (d *Deque[T]) Clear() {
	d.Drain(nil)
}

// Drain removes every element and, front to back, hands each one to fn
// after the lock is released. fn may be nil.
func (d *Deque[T]) Drain(fn func(T)) int {
	d.mu.Lock()
	if d.count == 0 {
		d.mu.Unlock()
		return 0
	}
	items := make([]T, 0, d.count)
	for d.count > 0 {
		items = append(items, d.buf[d.head])
		var zero T
		d.buf[d.head] = zero
		d.head = d.index(1)
		d.count--
	}
	d.head = 0
	d.mu.Unlock()

	if fn != nil {
		for _, v := range items {
			fn(v)
		}
	}
	return len(items)
}

// Wait blocks until the deque is non-empty or ctx is done.
//
// A nil return means an element was present when Wait observed the deque;
// with several consumers another one may take it first, so callers pop with
// TryPopFront and wait again on a miss.
func (d *Deque[T]) Wait(ctx context.Context) error {
	if !d.Empty() {
		return nil
	}

	d.sleepMu.Lock()
	defer d.sleepMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		d.sleepMu.Lock()
		d.sleep.Broadcast()
		d.sleepMu.Unlock()
	})
	defer stop()

	for d.Empty() {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.sleep.Wait()
	}
	return nil
}

func (d *Deque[T]) notify() {
	d.sleepMu.Lock()
	d.sleep.Signal()
	d.sleepMu.Unlock()
}

// index maps a logical offset from head to a slot in buf.
func (d *Deque[T]) index(off int) int {
	return (d.head + off) & (len(d.buf) - 1)
}

// grow doubles the ring when full. Caller holds mu.
func (d *Deque[T]) grow() {
	if d.count < len(d.buf) {
		return
	}
	next := make([]T, len(d.buf)*2)
	for i := 0; i < d.count; i++ {
		next[i] = d.buf[d.index(i)]
	}
	d.buf = next
	d.head = 0
}
