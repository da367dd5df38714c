package tracker

import (
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-tracker/modules/gpuframe"
	"github.com/e7canasta/orion-tracker/modules/recognizer"
)

// Annotation is what recognition found in one camera frame.
type Annotation struct {
	Seq        uint64             `json:"seq" msgpack:"seq"`
	TraceID    string             `json:"trace_id" msgpack:"trace_id"`
	Faces      []recognizer.Point `json:"faces" msgpack:"faces"`
	Blob       recognizer.Point   `json:"blob" msgpack:"blob"`
	CapturedAt time.Time          `json:"captured_at" msgpack:"captured_at"`
	Mode       string             `json:"mode" msgpack:"mode"`
}

// RecognizedFrame travels from the worker to the presenter. Whoever holds
// it owns Frame and must eventually hand it back to the pool.
type RecognizedFrame struct {
	Frame *gpuframe.Frame
	Annotation
}

// Flag is the shared "ended" signal between the worker and the render loop.
type Flag struct {
	v atomic.Bool
}

// Set raises the flag. It reports whether this call raised it.
func (f *Flag) Set() bool { return f.v.CompareAndSwap(false, true) }

// IsSet reports whether the flag is raised.
func (f *Flag) IsSet() bool { return f.v.Load() }
