// Package tracker runs the two-role frame pipeline: a Worker goroutine that
// captures, recognizes and annotates camera frames into pooled GPU frames,
// and a Presenter driven by the render loop that always has something to
// show.
//
// # Protocol
//
//	camera ─▶ Worker ──────────────▶ Deque[RecognizedFrame] ──▶ Presenter ─▶ display
//	            ▲  acquire (blocks at ceiling)                      │ release previous
//	            └────────────── Pool[*gpuframe.Frame] ◀─────────────┘
//
// Per iteration the worker:
//
//  1. acquires a frame from the pool (backpressure: blocks at the ceiling)
//  2. waits for the frame's fence so the GPU is done reading it
//  3. reads one camera frame; an empty read ends the worker and sets Ended
//  4. runs face and blob recognition
//  5. draws the annotations and uploads the result into the frame
//  6. fences the upload and pushes the RecognizedFrame
//
// The presenter never blocks on tracking data. Each Tick takes at most one
// record from the deque (results are shown in production order, none are
// skipped); when a record arrives the previously shown frame goes back to
// the pool. With nothing new it keeps showing the last record, or the
// placeholder checkerboard before the first one.
//
// # Shutdown
//
// A shared Flag ("ended") is set by whichever side stops first. The worker
// also observes its context, so a worker parked in pool.Acquire or a slow
// source is released by cancellation rather than needing a matching
// Release. Pipeline.Stop sets the flag, cancels, joins the worker, hands
// every frame back and closes the pool, in that order.
//
// # Errors
//
// Worker errors stay on the worker: it sets Ended, records the error and
// returns. The presenter keeps showing its last result indefinitely.
package tracker
