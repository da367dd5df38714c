package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-tracker/modules/framepool"
	"github.com/e7canasta/orion-tracker/modules/framesource"
	"github.com/e7canasta/orion-tracker/modules/gpuframe"
	"github.com/e7canasta/orion-tracker/modules/recognizer"
	"github.com/e7canasta/orion-tracker/modules/syncdeque"
)

// State is the worker lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerConfig wires a Worker. Source, Pool, Queue, Annotator and Ended are
// required.
type WorkerConfig struct {
	Source    framesource.Source
	Pool      *framepool.Pool[*gpuframe.Frame]
	Queue     *syncdeque.Deque[RecognizedFrame]
	Faces     recognizer.FaceFinder
	Annotator *Annotator
	Ended     *Flag

	// Device, when set, is bound to the worker's OS thread for the whole
	// run (see gpuframe.BindThread).
	Device gpuframe.Device

	// OnResult receives every annotation after it is queued. It runs on
	// the worker goroutine and must not block.
	OnResult func(Annotation)

	Logger *slog.Logger
}

// Worker is the producer side of the pipeline.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger
	meter  *framesource.Meter

	state atomic.Int32
	seq   atomic.Uint64

	// --- Stats ---

	frames       atomic.Uint64
	facesSeen    atomic.Uint64
	lastResultNs atomic.Int64

	errMu sync.Mutex
	err   error
}

// NewWorker validates cfg.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("tracker: worker needs a source")
	case cfg.Pool == nil:
		return nil, errors.New("tracker: worker needs a pool")
	case cfg.Queue == nil:
		return nil, errors.New("tracker: worker needs a queue")
	case cfg.Annotator == nil:
		return nil, errors.New("tracker: worker needs an annotator")
	case cfg.Ended == nil:
		return nil, errors.New("tracker: worker needs an ended flag")
	}
	if cfg.Faces == nil {
		cfg.Faces = recognizer.NoFaces
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Worker{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "tracker-worker"),
		meter:  framesource.NewMeter(framesource.DefaultMeterInterval),
	}, nil
}

// Run loops until the source ends, Ended is set, ctx is cancelled or a
// step fails. It always sets Ended on the way out.
//
// End of stream and cancellation return nil; anything else is returned and
// also kept for Err.
func (w *Worker) Run(ctx context.Context) (err error) {
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("tracker: worker already started")
	}
	defer func() {
		w.cfg.Ended.Set()
		w.state.Store(int32(StateStopped))
		w.setErr(err)
		w.logger.Info("tracker worker stopped",
			"frames", w.frames.Load(),
			"error", err,
		)
	}()

	if w.cfg.Device != nil {
		release, err := gpuframe.BindThread(w.cfg.Device)
		if err != nil {
			return fmt.Errorf("tracker: binding device: %w", err)
		}
		defer release()
	}

	w.logger.Info("tracker worker started", "mode", w.cfg.Annotator.Mode())

	for {
		if w.cfg.Ended.IsSet() || ctx.Err() != nil {
			w.state.Store(int32(StateStopping))
			return nil
		}

		frame, err := w.cfg.Pool.Acquire(ctx)
		if err != nil {
			w.state.Store(int32(StateStopping))
			if ctx.Err() != nil || errors.Is(err, framepool.ErrClosed) {
				return nil
			}
			return fmt.Errorf("tracker: acquiring frame: %w", err)
		}

		rec, err := w.process(ctx, frame)
		if err != nil {
			w.cfg.Pool.Release(frame)
			w.state.Store(int32(StateStopping))

			switch {
			case errors.Is(err, framesource.ErrEndOfStream):
				w.logger.Warn("camera disconnected or end of stream", "error", err)
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}

		w.cfg.Queue.PushBack(rec)

		w.frames.Add(1)
		w.facesSeen.Add(uint64(len(rec.Faces)))
		w.lastResultNs.Store(time.Now().UnixNano())
		if w.meter.Update() {
			w.logger.Debug("tracker fps", "fps", fmt.Sprintf("%.1f", w.meter.FPS()))
		}
		if w.cfg.OnResult != nil {
			w.cfg.OnResult(rec.Annotation)
		}
	}
}

// process runs one iteration on an acquired frame.
func (w *Worker) process(ctx context.Context, frame *gpuframe.Frame) (RecognizedFrame, error) {
	if err := frame.FenceWait(); err != nil {
		return RecognizedFrame{}, fmt.Errorf("tracker: frame %d not reusable: %w", frame.ID(), err)
	}

	img, err := w.cfg.Source.Read(ctx)
	if err != nil {
		return RecognizedFrame{}, err
	}
	capturedAt := time.Now()

	faces, err := w.cfg.Faces.FindFaces(img)
	if err != nil {
		return RecognizedFrame{}, fmt.Errorf("tracker: face recognition: %w", err)
	}

	out, blob := w.cfg.Annotator.Annotate(img, faces)

	if err := frame.ReplaceImage(out); err != nil {
		return RecognizedFrame{}, fmt.Errorf("tracker: uploading frame: %w", err)
	}
	if err := frame.FenceSync(); err != nil {
		return RecognizedFrame{}, fmt.Errorf("tracker: fencing upload: %w", err)
	}

	return RecognizedFrame{
		Frame: frame,
		Annotation: Annotation{
			Seq:        w.seq.Add(1),
			TraceID:    uuid.New().String(),
			Faces:      faces,
			Blob:       blob,
			CapturedAt: capturedAt,
			Mode:       string(w.cfg.Annotator.Mode()),
		},
	}, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Err returns the error that stopped the worker, if any.
func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *Worker) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	w.err = err
}
