// Package framesource defines the camera side of the tracker pipeline.
//
// A Source delivers one decoded RGBA frame per Read call and blocks until
// the frame is available. A missing or empty frame is reported as
// ErrEndOfStream, which the tracker treats as fatal for its goroutine:
// there is no retry once a source has started delivering frames.
//
// Implementations:
//
//	Synthetic   generated frames (gradient + moving red disc), no hardware
//	Sequence    scripted frames; a nil entry is an empty read
//	gstsource   GStreamer pipeline ending in an appsink (RTSP, v4l2, files)
//	cvsource    OpenCV VideoCapture (camera index or file)
//
// The package also carries the stream measurement helpers used around
// sources: Meter (rolling FPS) and Warmup/CalculateFPSStats (startup
// stability check).
package framesource
