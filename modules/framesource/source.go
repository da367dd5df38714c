package framesource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrEndOfStream is returned by Read when the source produced an empty
// frame or has no more frames.
var ErrEndOfStream = errors.New("framesource: end of stream")

// Source is a blocking frame reader. Read and Close are called from the
// goroutine that owns the source.
type Source interface {
	// Read blocks until the next frame is decoded.
	// The returned image is owned by the caller.
	Read(ctx context.Context) (*image.RGBA, error)

	Close() error
}

// Stats describes a source's activity.
type Stats struct {
	FramesRead  uint64
	FPSTarget   float64
	FPSReal     float64
	LastFrameAt time.Time
	Resolution  string
	Reconnects  uint32
	IsConnected bool
}

// StatsProvider is implemented by sources that report Stats.
type StatsProvider interface {
	Stats() Stats
}

// Resolution formats a frame size as "WxH".
func Resolution(size image.Point) string {
	return fmt.Sprintf("%dx%d", size.X, size.Y)
}
