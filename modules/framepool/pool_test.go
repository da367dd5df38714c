package framepool_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-tracker/modules/framepool"
)

type item struct {
	id int
}

// counter is a factory that numbers the instances it builds.
type counter struct {
	built     atomic.Int64
	destroyed atomic.Int64
	failNext  atomic.Bool
}

func (c *counter) factory(ctx context.Context) (*item, error) {
	if c.failNext.CompareAndSwap(true, false) {
		return nil, errors.New("out of textures")
	}
	return &item{id: int(c.built.Add(1))}, nil
}

func (c *counter) destroy(*item) {
	c.destroyed.Add(1)
}

func newPool(t *testing.T, c *counter, pre, max int) *framepool.Pool[*item] {
	t.Helper()
	p, err := framepool.New(context.Background(), c.factory,
		framepool.Config{Preallocate: pre, Max: max},
		framepool.WithDestroy(c.destroy),
	)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// TestPreallocation verifies Init builds exactly Preallocate instances.
func TestPreallocation(t *testing.T) {
	c := &counter{}
	p := newPool(t, c, framepool.DefaultPreallocate, framepool.DefaultMax)

	st := p.Stats()
	assert.EqualValues(t, 3, c.built.Load())
	assert.Equal(t, 3, st.Allocated)
	assert.Equal(t, 3, st.Free)
	assert.Equal(t, 5, st.Max)
	assert.Zero(t, st.InUse)
}

// TestConfigValidate covers capacity bounds.
func TestConfigValidate(t *testing.T) {
	assert.NoError(t, framepool.DefaultConfig().Validate())
	assert.NoError(t, framepool.Config{Preallocate: 0, Max: 1}.Validate())
	assert.Error(t, framepool.Config{Preallocate: 0, Max: 0}.Validate())
	assert.Error(t, framepool.Config{Preallocate: -1, Max: 2}.Validate())
	assert.Error(t, framepool.Config{Preallocate: 3, Max: 2}.Validate())
}

// TestInitLifecycle verifies the one-time Init contract.
func TestInitLifecycle(t *testing.T) {
	c := &counter{}
	var p framepool.Pool[*item]

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, framepool.ErrNotInitialized)

	require.NoError(t, p.Init(context.Background(), c.factory, framepool.Config{Preallocate: 1, Max: 2}))
	defer p.Close()

	err = p.Init(context.Background(), c.factory, framepool.Config{Preallocate: 1, Max: 2})
	assert.ErrorIs(t, err, framepool.ErrAlreadyInitialized)
	assert.EqualValues(t, 1, c.built.Load(), "second Init must not build")
}

// TestInitFactoryFailure verifies a failed preallocation leaves nothing behind.
func TestInitFactoryFailure(t *testing.T) {
	built := 0
	destroyed := 0
	factory := func(ctx context.Context) (*item, error) {
		if built == 2 {
			return nil, errors.New("device lost")
		}
		built++
		return &item{id: built}, nil
	}

	var p framepool.Pool[*item]
	err := p.Init(context.Background(), factory, framepool.Config{Preallocate: 3, Max: 5},
		framepool.WithDestroy(func(*item) { destroyed++ }))

	require.ErrorIs(t, err, framepool.ErrFactory)
	assert.Equal(t, 2, destroyed)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, framepool.ErrNotInitialized)
}

// TestReuseIdentity verifies a released instance is the next one handed out.
func TestReuseIdentity(t *testing.T) {
	c := &counter{}
	p := newPool(t, c, 3, 5)
	ctx := context.Background()

	x, err := p.Acquire(ctx)
	require.NoError(t, err)
	y, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Release(x)
	got, err := p.Acquire(ctx)
	require.NoError(t, err)

	assert.Same(t, x, got)
	assert.EqualValues(t, 3, c.built.Load(), "reuse must not allocate")

	p.Release(got)
	p.Release(y)
}

// TestLazyGrowthToCeiling verifies allocation happens only once the free
// list is empty and stops at Max.
func TestLazyGrowthToCeiling(t *testing.T) {
	c := &counter{}
	p := newPool(t, c, 1, 3)
	ctx := context.Background()

	held := make([]*item, 0, 3)
	for i := 0; i < 3; i++ {
		v, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, v)
	}
	assert.EqualValues(t, 3, c.built.Load())
	assert.True(t, p.Stats().Exhausted())

	tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err := p.Acquire(tctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 3, c.built.Load())
	assert.EqualValues(t, 1, p.Stats().Waits)

	for _, v := range held {
		p.Release(v)
	}
}

// TestAcquireBlocksAtCeiling is the Preallocate=1, Max=2 scenario.
//
// Scenario:
//  1. Acquire twice (both immediate, allocated=2)
//  2. Third Acquire on another goroutine blocks
//  3. Release one of the held instances
//  4. Blocked Acquire returns exactly that instance
func TestAcquireBlocksAtCeiling(t *testing.T) {
	c := &counter{}
	p := newPool(t, c, 1, 2)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, p.Stats().Allocated)

	got := make(chan *item, 1)
	go func() {
		v, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("Acquire() failed: %v", err)
		}
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("third Acquire did not block at the ceiling")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(b)

	select {
	case v := <-got:
		assert.Same(t, b, v)
	case <-time.After(time.Second):
		t.Fatal("blocked Acquire not released")
	}

	assert.EqualValues(t, 2, c.built.Load())
	p.Release(a)
}

// TestCeilingUnderLoad hammers the pool and checks the ceiling properties.
//
// Property: instances in circulation never exceed Max, and the factory never
// runs more than Max times.
func TestCeilingUnderLoad(t *testing.T) {
	const max = 4
	c := &counter{}
	p := newPool(t, c, 2, max)

	var inCirculation, peak atomic.Int64
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				v, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire() failed: %v", err)
					return
				}
				n := inCirculation.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				if rng.Intn(4) == 0 {
					time.Sleep(time.Microsecond * time.Duration(rng.Intn(50)))
				}
				inCirculation.Add(-1)
				p.Release(v)
			}
		}(int64(g))
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(max))
	assert.LessOrEqual(t, c.built.Load(), int64(max))
	st := p.Stats()
	assert.Zero(t, st.InUse)
	assert.Equal(t, st.Allocated, st.Free)
}

// TestFactoryFailureRollsBack verifies a failed construction does not eat a
// ceiling slot.
func TestFactoryFailureRollsBack(t *testing.T) {
	c := &counter{}
	p := newPool(t, c, 0, 1)
	ctx := context.Background()

	c.failNext.Store(true)
	_, err := p.Acquire(ctx)
	require.ErrorIs(t, err, framepool.ErrFactory)

	st := p.Stats()
	assert.Zero(t, st.Allocated)
	assert.EqualValues(t, 1, st.FactoryErrors)

	v, err := p.Acquire(ctx)
	require.NoError(t, err, "slot must be available again after rollback")
	assert.Equal(t, 1, p.Stats().Allocated)
	p.Release(v)
}

// TestCloseReleasesWaiters verifies Close fails parked Acquire calls and
// destroys instances as they come back.
func TestCloseReleasesWaiters(t *testing.T) {
	c := &counter{}
	p, err := framepool.New(context.Background(), c.factory,
		framepool.Config{Preallocate: 1, Max: 1},
		framepool.WithDestroy(c.destroy),
	)
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, framepool.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the parked Acquire")
	}

	assert.Zero(t, c.destroyed.Load(), "held instance is not destroyed by Close")
	p.Release(held)
	assert.EqualValues(t, 1, c.destroyed.Load())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, framepool.ErrClosed)
	p.Close()
}

func TestStatsJSONKeys(t *testing.T) {
	data, err := json.Marshal(framepool.Stats{Allocated: 3, Max: 5, InUse: 1, FactoryErrors: 2})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.EqualValues(t, 3, m["allocated"])
	assert.EqualValues(t, 5, m["max"])
	assert.EqualValues(t, 1, m["in_use"])
	assert.EqualValues(t, 2, m["factory_errors"])
	assert.NotContains(t, m, "InUse")
}
