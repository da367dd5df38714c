package framepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-tracker/modules/syncdeque"
)

const (
	// DefaultPreallocate is the number of instances built by Init.
	DefaultPreallocate = 3
	// DefaultMax is the default ceiling on instances ever built.
	DefaultMax = 5
)

var (
	ErrNotInitialized     = errors.New("framepool: pool not initialized")
	ErrAlreadyInitialized = errors.New("framepool: pool already initialized")
	ErrClosed             = errors.New("framepool: pool closed")
	ErrFactory            = errors.New("framepool: factory failed")
)

// Factory builds one pooled instance.
type Factory[T any] func(ctx context.Context) (T, error)

// Config sets the pool capacity.
type Config struct {
	Preallocate int `yaml:"preallocate"`
	Max         int `yaml:"max"`
}

// DefaultConfig returns Preallocate=3, Max=5.
func DefaultConfig() Config {
	return Config{Preallocate: DefaultPreallocate, Max: DefaultMax}
}

// Validate checks capacity bounds.
func (c Config) Validate() error {
	if c.Max < 1 {
		return fmt.Errorf("framepool: max must be >= 1 (got %d)", c.Max)
	}
	if c.Preallocate < 0 {
		return fmt.Errorf("framepool: preallocate must be >= 0 (got %d)", c.Preallocate)
	}
	if c.Preallocate > c.Max {
		return fmt.Errorf("framepool: preallocate (%d) exceeds max (%d)", c.Preallocate, c.Max)
	}
	return nil
}

// Option customizes a Pool at Init.
type Option[T any] func(*Pool[T])

// WithDestroy sets the function run on every instance when the pool closes.
func WithDestroy[T any](fn func(T)) Option[T] {
	return func(p *Pool[T]) { p.destroy = fn }
}

// WithLogger sets the pool logger (default slog.Default()).
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) { p.logger = logger }
}

// Pool is a bounded pool of exclusively-owned T. The zero value must be
// initialized with Init before use.
type Pool[T any] struct {
	// --- Configuration (immutable after Init) ---

	factory Factory[T]
	destroy func(T)
	logger  *slog.Logger
	max     int64

	// --- State ---

	free      *syncdeque.Deque[T]
	allocated atomic.Int64 // instances ever built and not rolled back
	inUse     atomic.Int64

	initMu      sync.Mutex
	initialized atomic.Bool

	closeMu sync.RWMutex // serializes Close against Release
	closed  atomic.Bool
	life    context.Context
	cancel  context.CancelFunc

	// --- Stats ---

	acquires      atomic.Uint64
	releases      atomic.Uint64
	waits         atomic.Uint64
	factoryErrors atomic.Uint64
}

// New builds and initializes a pool.
func New[T any](ctx context.Context, factory Factory[T], cfg Config, opts ...Option[T]) (*Pool[T], error) {
	p := &Pool[T]{}
	if err := p.Init(ctx, factory, cfg, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

// Init configures the pool and builds cfg.Preallocate instances.
//
// It may succeed only once. If preallocation fails the instances built so
// far are destroyed and the pool stays uninitialized.
func (p *Pool[T]) Init(ctx context.Context, factory Factory[T], cfg Config, opts ...Option[T]) error {
	if factory == nil {
		return errors.New("framepool: nil factory")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.initialized.Load() {
		return ErrAlreadyInitialized
	}

	p.factory = factory
	p.max = int64(cfg.Max)
	p.logger = slog.Default()
	for _, opt := range opts {
		opt(p)
	}
	p.free = syncdeque.New[T]()

	built := make([]T, 0, cfg.Preallocate)
	for i := 0; i < cfg.Preallocate; i++ {
		v, err := factory(ctx)
		if err != nil {
			for _, b := range built {
				p.destroyOne(b)
			}
			p.factoryErrors.Add(1)
			return fmt.Errorf("%w: preallocating instance %d: %w", ErrFactory, i, err)
		}
		built = append(built, v)
	}
	for _, v := range built {
		p.free.PushBack(v)
	}
	p.allocated.Store(int64(len(built)))

	p.life, p.cancel = context.WithCancel(context.Background())
	p.initialized.Store(true)

	p.logger.Debug("pool initialized",
		"preallocated", cfg.Preallocate,
		"max", cfg.Max,
	)
	return nil
}

// Acquire returns an owned instance, building one if the ceiling allows or
// waiting for a Release otherwise.
//
// Returns ctx.Err() if ctx ends while waiting, ErrClosed once the pool is
// closed and an error wrapping ErrFactory if construction fails.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	if !p.initialized.Load() {
		return zero, ErrNotInitialized
	}
	p.acquires.Add(1)

	waited := false
	for {
		if p.closed.Load() {
			return zero, ErrClosed
		}

		if v, ok := p.free.TryPopFront(); ok {
			p.inUse.Add(1)
			return v, nil
		}

		if p.reserve() {
			v, err := p.factory(ctx)
			if err != nil {
				p.allocated.Add(-1)
				p.factoryErrors.Add(1)
				p.logger.Warn("pool factory failed",
					"error", err,
					"allocated", p.allocated.Load(),
				)
				return zero, fmt.Errorf("%w: %w", ErrFactory, err)
			}
			p.inUse.Add(1)
			p.logger.Debug("pool grew", "allocated", p.allocated.Load(), "max", p.max)
			return v, nil
		}

		if !waited {
			waited = true
			p.waits.Add(1)
		}
		if err := p.wait(ctx); err != nil {
			if p.closed.Load() {
				return zero, ErrClosed
			}
			return zero, err
		}
	}
}

// Release hands v back to the pool and wakes one blocked Acquire.
//
// After Close the instance is destroyed instead.
func (p *Pool[T]) Release(v T) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	p.inUse.Add(-1)
	p.releases.Add(1)

	if p.closed.Load() {
		p.destroyOne(v)
		return
	}
	p.free.PushFront(v)
}

// Close destroys every instance on the free list and fails pending and
// future Acquire calls with ErrClosed. Instances still held are destroyed
// when released.
func (p *Pool[T]) Close() {
	if !p.initialized.Load() {
		return
	}

	p.closeMu.Lock()
	if p.closed.Swap(true) {
		p.closeMu.Unlock()
		return
	}
	p.cancel()
	n := p.free.Drain(p.destroyOne)
	p.closeMu.Unlock()

	p.logger.Debug("pool closed",
		"destroyed", n,
		"in_use", p.inUse.Load(),
	)
}

// reserve claims one slot under the ceiling.
func (p *Pool[T]) reserve() bool {
	for {
		n := p.allocated.Load()
		if n >= p.max {
			return false
		}
		if p.allocated.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// wait parks on the free list until an instance shows up, ctx ends or the
// pool closes.
func (p *Pool[T]) wait(ctx context.Context) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.life, cancel)
	defer stop()

	return p.free.Wait(wctx)
}

func (p *Pool[T]) destroyOne(v T) {
	if p.destroy != nil {
		p.destroy(v)
	}
}
