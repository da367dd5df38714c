package tracker

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-tracker/modules/framepool"
	"github.com/e7canasta/orion-tracker/modules/framesource"
	"github.com/e7canasta/orion-tracker/modules/gpuframe"
	"github.com/e7canasta/orion-tracker/modules/syncdeque"
)

// View is what the display draws on a tick.
type View struct {
	// Frame is nil while the placeholder is shown.
	Frame *gpuframe.Frame
	Annotation

	Placeholder bool
	Fresh       bool // adopted on this tick
}

// Presenter is the consumer side of the pipeline. Tick, Rendered and Close
// belong to the render goroutine; Stats may be called from anywhere.
type Presenter struct {
	queue  *syncdeque.Deque[RecognizedFrame]
	pool   *framepool.Pool[*gpuframe.Frame]
	logger *slog.Logger
	meter  *framesource.Meter

	mu      sync.Mutex
	current RecognizedFrame
	has     bool
	closed  bool
	err     error // upload fence failure; the presenter stops adopting

	ticks     atomic.Uint64
	adopted   atomic.Uint64
	adoptedNs atomic.Int64
}

// NewPresenter returns a presenter showing the placeholder.
func NewPresenter(queue *syncdeque.Deque[RecognizedFrame], pool *framepool.Pool[*gpuframe.Frame], logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{
		queue:  queue,
		pool:   pool,
		logger: logger.With("component", "presenter"),
		meter:  framesource.NewMeter(framesource.DefaultMeterInterval),
	}
}

// Tick takes at most one new record without waiting on the queue. A new
// record's upload fence is waited on before it is shown, then the
// previously shown frame goes back to the pool.
//
// If that wait fails the record is handed back unshown, the previous view
// stays, and Rendered reports the error from then on.
func (p *Presenter) Tick() View {
	p.ticks.Add(1)
	if p.meter.Update() {
		p.logger.Debug("render fps", "fps", fmt.Sprintf("%.1f", p.meter.FPS()))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.err != nil {
		return p.viewLocked(false)
	}

	rec, ok := p.queue.TryPopFront()
	if !ok {
		return p.viewLocked(false)
	}

	// The worker uploaded on its own context; the texture is complete
	// only once its fence signals.
	if err := rec.Frame.FenceWait(); err != nil {
		p.err = fmt.Errorf("tracker: upload of seq %d: %w", rec.Seq, err)
		p.pool.Release(rec.Frame)
		p.logger.Error("frame upload did not complete", "seq", rec.Seq, "error", err)
		return p.viewLocked(false)
	}

	if p.has {
		p.pool.Release(p.current.Frame)
	}
	p.current = rec
	p.has = true
	p.adopted.Add(1)
	p.adoptedNs.Store(time.Now().UnixNano())

	return p.viewLocked(true)
}

// Current returns the view without consuming anything.
func (p *Presenter) Current() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked(false)
}

// HasResult reports whether any record was adopted yet.
func (p *Presenter) HasResult() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.has
}

func (p *Presenter) viewLocked(fresh bool) View {
	if !p.has {
		return View{Placeholder: true}
	}
	return View{
		Frame:      p.current.Frame,
		Annotation: p.current.Annotation,
		Fresh:      fresh,
	}
}

// Rendered fences the shown frame after the draw commands that sample it
// were submitted. No-op on the placeholder. Returns the upload failure
// recorded by Tick, if any.
func (p *Presenter) Rendered() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if !p.has || p.closed {
		return nil
	}
	return p.current.Frame.FenceSync()
}

// Close hands the shown frame and anything still queued back to the pool.
// Call it after the worker has stopped.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.has {
		p.pool.Release(p.current.Frame)
		p.current = RecognizedFrame{}
		p.has = false
	}
	n := p.queue.Drain(func(rec RecognizedFrame) {
		p.pool.Release(rec.Frame)
	})

	p.logger.Debug("presenter closed", "drained", n, "adopted", p.adopted.Load())
}
