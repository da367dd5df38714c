// Package framepool implements a bounded generic object pool with lazy
// preallocation and blocking acquire on exhaustion.
//
// Instances are exclusively owned: either the pool's free list holds one, or
// exactly one caller does between Acquire and Release.
//
// # Acquire
//
//  1. Free list non-empty: pop and return (no allocation).
//  2. Allocated < Max: reserve a slot and build a new instance with the factory.
//  3. Otherwise park on the free list until some owner calls Release.
//
// Exhaustion is backpressure, not an error. A producer that outruns its
// consumer stalls in step 3 instead of allocating without bound.
//
// # Factory failures
//
// A failed construction gives its reserved slot back, so the ceiling keeps
// counting live instances only. The caller gets an error wrapping
// ErrFactory and the underlying cause. An Acquire already parked in step 3
// when the failure happens is woken by the next Release, not by the freed
// slot.
//
// # Reuse order
//
// Release pushes to the front and Acquire pops from the front, so the most
// recently released instance is handed out first.
//
// # Usage
//
//	pool, err := framepool.New(ctx, newTexture, framepool.Config{Preallocate: 3, Max: 5},
//	    framepool.WithDestroy(func(f *gpuframe.Frame) { f.Close() }))
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	f, err := pool.Acquire(ctx) // may block at the ceiling
//	if err != nil {
//	    return err
//	}
//	defer pool.Release(f)
package framepool
