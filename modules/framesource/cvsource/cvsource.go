// Package cvsource reads frames with OpenCV's VideoCapture.
package cvsource

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/e7canasta/orion-tracker/modules/framesource"
)

// Config selects the capture device.
type Config struct {
	// Device is a camera index ("0") or a file/URL understood by OpenCV.
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// Source is a framesource.Source over gocv.VideoCapture. Read blocks in
// OpenCV and does not observe ctx until the next frame returns.
type Source struct {
	cfg Config
	mu  sync.Mutex
	vc  *gocv.VideoCapture
	bgr gocv.Mat

	started    time.Time
	frameCount atomic.Uint64
	lastNs     atomic.Int64
	closed     atomic.Bool
}

// Open starts capturing.
func Open(cfg Config) (*Source, error) {
	var device interface{} = cfg.Device
	if id, err := strconv.Atoi(cfg.Device); err == nil {
		device = id
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("cvsource: opening %q: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cvsource: device %q not opened", cfg.Device)
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	slog.Info("cvsource: opened",
		"device", cfg.Device,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS),
	)

	return &Source{
		cfg:     cfg,
		vc:      vc,
		bgr:     gocv.NewMat(),
		started: time.Now(),
	}, nil
}

// Read implements framesource.Source. An empty mat is end of stream.
func (s *Source) Read(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, framesource.ErrEndOfStream
	}
	if !s.vc.Read(&s.bgr) || s.bgr.Empty() {
		return nil, framesource.ErrEndOfStream
	}

	rgba, err := toRGBA(s.bgr)
	if err != nil {
		return nil, err
	}

	s.frameCount.Add(1)
	s.lastNs.Store(time.Now().UnixNano())
	return rgba, nil
}

// toRGBA converts a BGR capture mat. gocv's ToImage already swaps the
// channels of a CV8UC3 mat into an *image.RGBA.
func toRGBA(bgr gocv.Mat) (*image.RGBA, error) {
	if bgr.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("cvsource: unsupported mat type %v", bgr.Type())
	}
	img, err := bgr.ToImage()
	if err != nil {
		return nil, fmt.Errorf("cvsource: converting frame: %w", err)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		return nil, fmt.Errorf("cvsource: unexpected image type %T", img)
	}
	return rgba, nil
}

// Close releases the device.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bgr.Close()
	return s.vc.Close()
}

// Stats implements framesource.StatsProvider.
func (s *Source) Stats() framesource.Stats {
	var last time.Time
	if ns := s.lastNs.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	n := s.frameCount.Load()
	var fpsReal float64
	if elapsed := time.Since(s.started).Seconds(); elapsed > 0 {
		fpsReal = float64(n) / elapsed
	}
	return framesource.Stats{
		FramesRead:  n,
		FPSTarget:   float64(s.cfg.FPS),
		FPSReal:     fpsReal,
		LastFrameAt: last,
		Resolution:  framesource.Resolution(image.Pt(s.cfg.Width, s.cfg.Height)),
		IsConnected: !s.closed.Load(),
	}
}
