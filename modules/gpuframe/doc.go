// Package gpuframe implements a poolable GPU-resident image guarded by a
// completion fence.
//
// A Frame is reused across pool cycles. When it goes back to the pool the
// renderer may still have commands in flight that sample it, so every
// submission that references the texture is followed by FenceSync, and
// every CPU-side write is preceded by FenceWait:
//
//	render goroutine                    tracker goroutine
//	----------------                    -----------------
//	draw(frame.ID())
//	frame.FenceSync()
//	pool.Release(frame)  ───────────▶   frame, _ := pool.Acquire(ctx)
//	                                    frame.FenceWait()     // GPU done with it
//	                                    frame.ReplaceImage(img)
//	                                    frame.FenceSync()
//
// ReplaceImage performs the FenceWait itself, so content is never written
// while a fence is pending. A fence that times out or fails is kept, and
// the error is returned to the caller; the frame stays unusable until a
// later FenceWait succeeds.
//
// # Devices
//
// Device abstracts the graphics API. gldevice implements it on OpenGL 4.1
// core; SoftDevice is an in-process stand-in whose fences complete after a
// fixed latency or on demand, used by tests and headless runs.
//
// Devices that need a current context on the calling OS thread implement
// ThreadBinder; BindThread handles both cases.
package gpuframe
