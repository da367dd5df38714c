package tracker

import (
	"time"

	"github.com/e7canasta/orion-tracker/modules/framepool"
)

// idleThreshold marks the worker idle when no result was produced for
// this long while it is still running.
const idleThreshold = 30 * time.Second

// WorkerStats is a snapshot of the worker.
type WorkerStats struct {
	State        string    `json:"state"`
	Frames       uint64    `json:"frames"`
	FacesSeen    uint64    `json:"faces_seen"`
	FPS          float64   `json:"fps"`
	LastResultAt time.Time `json:"last_result_at"`
	Idle         bool      `json:"idle"`
	Error        string    `json:"error,omitempty"`
}

// PresenterStats is a snapshot of the presenter.
type PresenterStats struct {
	Ticks       uint64    `json:"ticks"`
	Adopted     uint64    `json:"adopted"`
	FPS         float64   `json:"fps"`
	ShowingSeq  uint64    `json:"showing_seq"`
	Placeholder bool      `json:"placeholder"`
	AdoptedAt   time.Time `json:"adopted_at"`
}

// Stats is a snapshot of the whole pipeline.
type Stats struct {
	Worker     WorkerStats     `json:"worker"`
	Presenter  PresenterStats  `json:"presenter"`
	Pool       framepool.Stats `json:"pool"`
	QueueDepth int             `json:"queue_depth"`
	Ended      bool            `json:"ended"`
}

// Stats returns worker counters.
func (w *Worker) Stats() WorkerStats {
	st := WorkerStats{
		State:     w.State().String(),
		Frames:    w.frames.Load(),
		FacesSeen: w.facesSeen.Load(),
		FPS:       w.meter.FPS(),
	}
	if ns := w.lastResultNs.Load(); ns > 0 {
		st.LastResultAt = time.Unix(0, ns)
	}
	if w.State() == StateRunning && !st.LastResultAt.IsZero() {
		st.Idle = time.Since(st.LastResultAt) > idleThreshold
	}
	if err := w.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Stats returns presenter counters.
func (p *Presenter) Stats() PresenterStats {
	view := p.Current()
	st := PresenterStats{
		Ticks:       p.ticks.Load(),
		Adopted:     p.adopted.Load(),
		FPS:         p.meter.FPS(),
		ShowingSeq:  view.Seq,
		Placeholder: view.Placeholder,
	}
	if ns := p.adoptedNs.Load(); ns > 0 {
		st.AdoptedAt = time.Unix(0, ns)
	}
	return st
}
