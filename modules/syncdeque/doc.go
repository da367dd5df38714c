// Package syncdeque implements a thread-safe double-ended queue with
// blocking wait-for-non-empty semantics.
//
// It is the hand-off point between the tracker goroutine (producer) and the
// presentation loop (consumer), and the free list behind framepool.Pool.
//
// # Locking
//
// Two independent lock domains:
//
//	mu       guards the element ring (every mutation holds it end to end)
//	sleepMu  guards the condition variable used by Wait
//
// A push mutates under mu, releases it, then signals one waiter under
// sleepMu. Wait holds sleepMu while it re-checks emptiness and parks, so a
// push racing with a waiter entering Wait cannot slip its signal in between
// the check and the park:
//
//	producer                         waiter
//	--------                         ------
//	mu.Lock; append; mu.Unlock       sleepMu.Lock
//	sleepMu.Lock (blocks) ...        Empty()? yes -> cond.Wait (releases sleepMu)
//	cond.Signal; sleepMu.Unlock      wakes, Empty()? no -> return
//
// # Usage
//
//	q := syncdeque.New[Result]()
//
//	// producer
//	q.PushBack(r)
//
//	// consumer that must not block (render loop)
//	if r, ok := q.TryPopFront(); ok {
//	    show(r)
//	}
//
//	// consumer that may block
//	if err := q.Wait(ctx); err != nil {
//	    return err
//	}
//	r, _ := q.TryPopFront()
//
// PopFront, PopBack, Front and Back on an empty deque are programming errors
// and panic. Use TryPopFront, or Wait followed by a pop when a single
// consumer owns the deque.
//
// The deque has no capacity limit. Memory in flight is bounded by whoever
// produces the elements (see framepool).
package syncdeque
