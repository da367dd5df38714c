package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-tracker/modules/framepool"
	"github.com/e7canasta/orion-tracker/modules/framesource"
	"github.com/e7canasta/orion-tracker/modules/gpuframe"
	"github.com/e7canasta/orion-tracker/modules/recognizer"
	"github.com/e7canasta/orion-tracker/modules/syncdeque"
)

// Config sizes the pipeline.
type Config struct {
	Width        int
	Height       int
	Pool         framepool.Config
	FenceTimeout time.Duration
	Annotator    AnnotatorConfig
}

// Deps are the collaborators the pipeline drives.
type Deps struct {
	// Device allocates the pooled frames. Preallocation runs on the
	// goroutine calling NewPipeline; later growth runs on the worker.
	Device gpuframe.Device

	// WorkerDevice is bound to the worker thread (defaults to Device when
	// it implements gpuframe.ThreadBinder).
	WorkerDevice gpuframe.Device

	Source   framesource.Source
	Faces    recognizer.FaceFinder
	Blob     recognizer.BlobFinder
	OnResult func(Annotation)
	Logger   *slog.Logger
}

// Pipeline owns the deque, the pool, the worker and the presenter.
type Pipeline struct {
	queue     *syncdeque.Deque[RecognizedFrame]
	pool      *framepool.Pool[*gpuframe.Frame]
	worker    *Worker
	presenter *Presenter
	ended     Flag
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPipeline builds the pool (preallocating frames on dev) and wires the
// worker and presenter. Nothing runs until Start.
func NewPipeline(ctx context.Context, cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Device == nil {
		return nil, errors.New("tracker: pipeline needs a device")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("tracker: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FenceTimeout <= 0 {
		cfg.FenceTimeout = gpuframe.DefaultFenceTimeout
	}
	if cfg.Annotator.Width == 0 {
		cfg.Annotator.Width, cfg.Annotator.Height = cfg.Width, cfg.Height
	}

	annotator, err := NewAnnotator(cfg.Annotator, deps.Blob)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	factory := func(ctx context.Context) (*gpuframe.Frame, error) {
		return gpuframe.NewFrame(deps.Device, cfg.Width, cfg.Height, gpuframe.WithFenceTimeout(cfg.FenceTimeout))
	}
	destroy := func(f *gpuframe.Frame) {
		if err := f.Close(); err != nil {
			logger.Warn("frame close failed", "texture", f.ID(), "error", err)
		}
	}

	pool, err := framepool.New(ctx, factory, cfg.Pool,
		framepool.WithDestroy(destroy),
		framepool.WithLogger[*gpuframe.Frame](logger),
	)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		queue:  syncdeque.New[RecognizedFrame](),
		pool:   pool,
		logger: logger,
	}

	workerDev := deps.WorkerDevice
	if workerDev == nil {
		if _, ok := deps.Device.(gpuframe.ThreadBinder); ok {
			workerDev = deps.Device
		}
	}

	p.worker, err = NewWorker(WorkerConfig{
		Source:    deps.Source,
		Pool:      pool,
		Queue:     p.queue,
		Faces:     deps.Faces,
		Annotator: annotator,
		Ended:     &p.ended,
		Device:    workerDev,
		OnResult:  deps.OnResult,
		Logger:    logger,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	p.presenter = NewPresenter(p.queue, pool, logger)
	return p, nil
}

// Start launches the worker goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("tracker: pipeline already started")
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.worker.Run(ctx); err != nil {
			p.logger.Error("tracker worker failed", "error", err)
		}
	}()
	return nil
}

// Presenter returns the render-side handle.
func (p *Pipeline) Presenter() *Presenter { return p.presenter }

// Worker returns the producer.
func (p *Pipeline) Worker() *Worker { return p.worker }

// Ended reports whether either side asked to stop.
func (p *Pipeline) Ended() bool { return p.ended.IsSet() }

// End raises the shared flag (window closed, signal received).
func (p *Pipeline) End() { p.ended.Set() }

// Wait blocks until the worker goroutine returns.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Err returns the worker's terminal error, if any.
func (p *Pipeline) Err() error { return p.worker.Err() }

// Stop ends the worker, returns every frame to the pool and destroys the
// pool. Call from the render goroutine. Idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	p.ended.Set()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.presenter.Close()
	p.pool.Close()

	p.logger.Info("tracker pipeline stopped",
		"frames", p.worker.frames.Load(),
		"adopted", p.presenter.adopted.Load(),
	)
}

// Stats returns a snapshot of every component.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Worker:     p.worker.Stats(),
		Presenter:  p.presenter.Stats(),
		Pool:       p.pool.Stats(),
		QueueDepth: p.queue.Count(),
		Ended:      p.ended.IsSet(),
	}
}
