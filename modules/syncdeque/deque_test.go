package syncdeque_test

import (
	"context"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-tracker/modules/syncdeque"
)

// TestFIFO verifies that PushBack/PopFront preserves order.
//
// Property: for any sequence pushed at the back, popping from the front
// returns the same sequence.
func TestFIFO(t *testing.T) {
	property := func(values []int) bool {
		q := syncdeque.New[int]()
		for _, v := range values {
			q.PushBack(v)
		}
		if q.Count() != len(values) {
			return false
		}
		for _, want := range values {
			if got := q.PopFront(); got != want {
				return false
			}
		}
		return q.Empty()
	}

	require.NoError(t, quick.Check(property, nil))
}

// TestDoubleEnded covers the front/back accessors across a ring wrap.
func TestDoubleEnded(t *testing.T) {
	q := syncdeque.New[string]()

	q.PushBack("b")
	q.PushFront("a")
	q.PushBack("c")

	assert.Equal(t, "a", q.Front())
	assert.Equal(t, "c", q.Back())
	assert.Equal(t, "c", q.PopBack())
	assert.Equal(t, "a", q.PopFront())
	assert.Equal(t, "b", q.PopFront())
	assert.True(t, q.Empty())

	// Force growth with the head in the middle of the ring.
	for i := 0; i < 5; i++ {
		q.PushBack("x")
	}
	for i := 0; i < 5; i++ {
		q.PopFront()
	}
	for i := 0; i < 20; i++ {
		q.PushFront(string(rune('a' + i)))
	}
	require.Equal(t, 20, q.Count())
	assert.Equal(t, "t", q.Front())
	assert.Equal(t, "a", q.Back())
}

// TestEmptyAccessorsPanic verifies misuse of the non-try calls is loud.
func TestEmptyAccessorsPanic(t *testing.T) {
	q := syncdeque.New[int]()

	assert.PanicsWithValue(t, syncdeque.ErrEmpty, func() { q.PopFront() })
	assert.PanicsWithValue(t, syncdeque.ErrEmpty, func() { q.PopBack() })
	assert.PanicsWithValue(t, syncdeque.ErrEmpty, func() { q.Front() })
	assert.PanicsWithValue(t, syncdeque.ErrEmpty, func() { q.Back() })
}

// TestTryPopFrontNeverBlocks verifies the render-side drain.
//
// Scenario:
//  1. Several goroutines hammer the deque with push/pop pairs
//  2. Meanwhile TryPopFront on the (mostly empty) deque must return promptly
func TestTryPopFrontNeverBlocks(t *testing.T) {
	q := syncdeque.New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				q.PushBack(1)
				q.TryPopFront()
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		start := time.Now()
		q.TryPopFront()
		if d := time.Since(start); d > 100*time.Millisecond {
			t.Fatalf("TryPopFront took %v", d)
		}
	}

	cancel()
	wg.Wait()

	v, ok := syncdeque.New[int]().TryPopFront()
	assert.False(t, ok)
	assert.Zero(t, v)
}

// TestWaitBlocksUntilPush verifies Wait parks on an empty deque and returns
// once another goroutine pushes.
func TestWaitBlocksUntilPush(t *testing.T) {
	q := syncdeque.New[int]()

	done := make(chan error, 1)
	go func() {
		done <- q.Wait(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Wait returned on an empty deque")
	case <-time.After(50 * time.Millisecond):
	}

	q.PushBack(7)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe the push")
	}
	assert.Equal(t, 7, q.PopFront())
}

// TestWaitNoLostWakeup races pushes against waiters entering Wait.
//
// Every push must be consumed by exactly one waiter; a lost wakeup shows up
// as a waiter that never returns.
func TestWaitNoLostWakeup(t *testing.T) {
	const rounds = 2000
	q := syncdeque.New[int]()

	consumed := make(chan int, rounds)
	go func() {
		for i := 0; i < rounds; i++ {
			for {
				if err := q.Wait(context.Background()); err != nil {
					return
				}
				if v, ok := q.TryPopFront(); ok {
					consumed <- v
					break
				}
			}
		}
		close(consumed)
	}()

	for i := 0; i < rounds; i++ {
		q.PushBack(i)
	}

	deadline := time.After(5 * time.Second)
	got := 0
	for got < rounds {
		select {
		case v, ok := <-consumed:
			if !ok {
				t.Fatalf("consumer stopped after %d items", got)
			}
			require.Equal(t, got, v)
			got++
		case <-deadline:
			t.Fatalf("lost wakeup: consumed %d of %d", got, rounds)
		}
	}
}

// TestWaitCancel verifies a parked waiter is released by its context.
func TestWaitCancel(t *testing.T) {
	q := syncdeque.New[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- q.Wait(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait ignored cancellation")
	}
}

// TestDrain verifies elements are handed out front to back and the deque is
// reusable afterwards.
func TestDrain(t *testing.T) {
	q := syncdeque.New[int]()
	for i := 1; i <= 3; i++ {
		q.PushBack(i)
	}

	var seen []int
	n := q.Drain(func(v int) { seen = append(seen, v) })

	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.True(t, q.Empty())

	q.Clear()
	q.PushBack(9)
	assert.Equal(t, 9, q.Front())
}
