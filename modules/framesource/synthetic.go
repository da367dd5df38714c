package framesource

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"time"
)

// SyntheticConfig configures a Synthetic source.
type SyntheticConfig struct {
	Width  int
	Height int
	FPS    float64
	// Limit ends the stream after this many frames (0 = endless).
	Limit uint64
}

// Synthetic renders frames with a red disc orbiting the image center, so
// the red blob finder always has something to track.
type Synthetic struct {
	cfg    SyntheticConfig
	period time.Duration

	mu        sync.Mutex
	seq       uint64
	next      time.Time
	startedAt time.Time
	lastAt    time.Time
	closed    bool
}

// NewSynthetic validates cfg and returns a source.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("framesource: invalid synthetic size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("framesource: synthetic fps must be > 0 (got %v)", cfg.FPS)
	}

	slog.Info("synthetic source created",
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
		"limit", cfg.Limit,
	)

	return &Synthetic{
		cfg:    cfg,
		period: time.Duration(float64(time.Second) / cfg.FPS),
	}, nil
}

// Read paces frames at the configured FPS.
func (s *Synthetic) Read(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	if s.closed || (s.cfg.Limit > 0 && s.seq >= s.cfg.Limit) {
		s.mu.Unlock()
		return nil, ErrEndOfStream
	}
	now := time.Now()
	if s.next.IsZero() {
		s.next = now
		s.startedAt = now
	}
	wait := s.next.Sub(now)
	s.next = s.next.Add(s.period)
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	img := s.render(seq)

	s.mu.Lock()
	s.lastAt = time.Now()
	s.mu.Unlock()
	return img, nil
}

func (s *Synthetic) render(seq uint64) *image.RGBA {
	w, h := s.cfg.Width, s.cfg.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		shade := uint8(40 + 80*y/h)
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: shade / 2, G: shade, B: uint8(60 + 100*x/w), A: 0xff})
		}
	}

	angle := float64(seq) * 2 * math.Pi / 90
	cx := float64(w)/2 + float64(w)/4*math.Cos(angle)
	cy := float64(h)/2 + float64(h)/4*math.Sin(angle)
	r := float64(min(w, h)) / 12
	for y := int(cy - r); y <= int(cy+r); y++ {
		for x := int(cx - r); x <= int(cx+r); x++ {
			if (float64(x)-cx)*(float64(x)-cx)+(float64(y)-cy)*(float64(y)-cy) <= r*r {
				img.SetRGBA(x, y, color.RGBA{R: 0xe0, G: 0x18, B: 0x18, A: 0xff})
			}
		}
	}
	return img
}

// Close makes later reads return ErrEndOfStream.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats implements StatsProvider.
func (s *Synthetic) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fpsReal float64
	if s.seq > 0 && !s.lastAt.IsZero() {
		if elapsed := s.lastAt.Sub(s.startedAt).Seconds(); elapsed > 0 {
			fpsReal = float64(s.seq-1) / elapsed
		}
	}
	return Stats{
		FramesRead:  s.seq,
		FPSTarget:   s.cfg.FPS,
		FPSReal:     fpsReal,
		LastFrameAt: s.lastAt,
		Resolution:  Resolution(image.Pt(s.cfg.Width, s.cfg.Height)),
		IsConnected: !s.closed,
	}
}
