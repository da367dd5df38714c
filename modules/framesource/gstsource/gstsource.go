// Package gstsource reads frames from a GStreamer pipeline through an
// appsink.
//
// The pipeline comes either from a URL (rtsp://, file://, v4l2://) or from
// a custom gst-launch description that contains an appsink named "sink"
// producing video/x-raw,format=RGBA.
//
// Opening retries with exponential backoff. Once frames flow, any bus error
// or EOS is final: Read returns framesource.ErrEndOfStream and the tracker
// stops. The source keeps only the newest decoded frame; older undelivered
// frames are dropped and counted.
package gstsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-tracker/modules/framesource"
)

const (
	sinkName            = "sink"
	defaultStallTimeout = 10 * time.Second
	playingTimeout      = 10 * time.Second
)

// Config describes the pipeline to open.
type Config struct {
	URL      string `yaml:"url"`
	Pipeline string `yaml:"pipeline"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// StallTimeout ends the stream when no frame arrives for this long.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	if c.URL == "" && c.Pipeline == "" {
		return errors.New("gstsource: url or pipeline is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("gstsource: invalid size %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		c.FPS = 30
	}
	if c.Pipeline != "" && !strings.Contains(c.Pipeline, "name="+sinkName) {
		return fmt.Errorf("gstsource: pipeline must contain an appsink named %q", sinkName)
	}
	if c.Reconnect == (ReconnectConfig{}) {
		c.Reconnect = DefaultReconnectConfig()
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = defaultStallTimeout
	}
	return nil
}

// LaunchString returns the gst-launch description for cfg.
func LaunchString(cfg Config) (string, error) {
	if cfg.Pipeline != "" {
		return cfg.Pipeline, nil
	}

	caps := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1", cfg.Width, cfg.Height, cfg.FPS)
	tail := fmt.Sprintf("videoconvert ! videoscale ! videorate ! %s ! appsink name=%s max-buffers=1 drop=true sync=false", caps, sinkName)

	switch {
	case strings.HasPrefix(cfg.URL, "rtsp://"):
		// protocols=4 forces TCP transport.
		return fmt.Sprintf("rtspsrc location=%s protocols=4 latency=200 ! rtph264depay ! h264parse ! avdec_h264 ! %s", cfg.URL, tail), nil
	case strings.HasPrefix(cfg.URL, "v4l2://"):
		return fmt.Sprintf("v4l2src device=%s ! %s", strings.TrimPrefix(cfg.URL, "v4l2://"), tail), nil
	case strings.HasPrefix(cfg.URL, "file://"), strings.HasPrefix(cfg.URL, "http://"), strings.HasPrefix(cfg.URL, "https://"):
		return fmt.Sprintf("uridecodebin uri=%s ! %s", cfg.URL, tail), nil
	default:
		return "", fmt.Errorf("gstsource: unsupported url %q", cfg.URL)
	}
}

// Source is a framesource.Source backed by a GStreamer pipeline.
type Source struct {
	cfg    Config
	launch string

	pipeline *gst.Pipeline
	frames   chan *image.RGBA

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fatal     chan struct{}
	fatalOnce sync.Once
	fatalErr  error

	closeOnce sync.Once

	// --- Stats ---

	started     time.Time
	frameCount  atomic.Uint64
	dropped     atomic.Uint64
	bytesRead   atomic.Uint64
	reconnects  atomic.Uint32
	lastFrameNs atomic.Int64
	errCounts   [4]atomic.Uint64 // indexed by ErrorCategory
}

// Open builds the pipeline and waits until it plays, retrying per
// cfg.Reconnect.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkGStreamer(); err != nil {
		return nil, err
	}
	launch, err := LaunchString(cfg)
	if err != nil {
		return nil, err
	}

	s := &Source{
		cfg:    cfg,
		launch: launch,
		frames: make(chan *image.RGBA, 1),
		fatal:  make(chan struct{}),
	}

	slog.Info("gstsource: opening", "pipeline", launch)

	attempts, err := openWithRetry(ctx, cfg.Reconnect, s.start)
	s.reconnects.Store(uint32(attempts))
	if err != nil {
		return nil, err
	}

	s.started = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.monitor()

	slog.Info("gstsource: playing",
		"resolution", framesource.Resolution(image.Pt(cfg.Width, cfg.Height)),
		"fps", cfg.FPS,
		"attempts", attempts+1,
	)
	return s, nil
}

// start creates the pipeline and waits for PLAYING.
func (s *Source) start(ctx context.Context) error {
	pipeline, err := gst.NewPipelineFromString(s.launch)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return fmt.Errorf("appsink %q not found: %w", sinkName, err)
	}
	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(playingTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			pipeline.SetState(gst.StateNull)
			return err
		}

		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			category := Classify(gerr)
			s.errCounts[category].Add(1)
			pipeline.SetState(gst.StateNull)
			return fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error())

		case gst.MessageEOS:
			pipeline.SetState(gst.StateNull)
			return errors.New("end of stream before playing")

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			if _, state := msg.ParseStateChanged(); state == gst.StatePlaying {
				s.pipeline = pipeline
				return nil
			}
		}
	}

	pipeline.SetState(gst.StateNull)
	return fmt.Errorf("pipeline did not reach PLAYING within %v", playingTimeout)
}

// onNewSample copies the sample into an RGBA image and keeps it as the
// newest frame.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	data := mapInfo.Bytes()

	img := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	if len(data) < len(img.Pix) {
		buffer.Unmap()
		slog.Warn("gstsource: short buffer", "size", len(data), "expected", len(img.Pix))
		return gst.FlowOK
	}
	copy(img.Pix, data)
	buffer.Unmap()

	s.frameCount.Add(1)
	s.bytesRead.Add(uint64(len(data)))
	s.lastFrameNs.Store(time.Now().UnixNano())

	for {
		select {
		case s.frames <- img:
			return gst.FlowOK
		default:
		}
		select {
		case <-s.frames:
			s.dropped.Add(1)
		default:
		}
	}
}

// monitor watches the bus and turns EOS or errors into end of stream.
func (s *Source) monitor() {
	defer s.wg.Done()

	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstsource: end of stream",
				"uptime", time.Since(s.started),
				"frames", s.frameCount.Load(),
			)
			s.fail(errors.New("end of stream"))
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			category := Classify(gerr)
			s.errCounts[category].Add(1)
			slog.Error("gstsource: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"uptime", time.Since(s.started),
				"frames", s.frameCount.Load(),
			)
			s.fail(fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error()))
			return
		}
	}
}

func (s *Source) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = err
		close(s.fatal)
	})
}

// Read implements framesource.Source.
func (s *Source) Read(ctx context.Context) (*image.RGBA, error) {
	timer := time.NewTimer(s.cfg.StallTimeout)
	defer timer.Stop()

	select {
	case img := <-s.frames:
		return img, nil
	case <-s.fatal:
		select {
		case img := <-s.frames:
			return img, nil
		default:
		}
		return nil, fmt.Errorf("%w: %w", framesource.ErrEndOfStream, s.fatalErr)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no frame for %v", framesource.ErrEndOfStream, s.cfg.StallTimeout)
	}
}

// Close stops the monitor and tears the pipeline down. Safe to call more
// than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.fail(errors.New("closed"))
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			slog.Warn("gstsource: monitor did not stop within 3s")
		}

		if s.pipeline != nil {
			s.pipeline.SetState(gst.StateNull)
		}
		slog.Info("gstsource: closed",
			"frames", s.frameCount.Load(),
			"dropped", s.dropped.Load(),
		)
	})
	return nil
}

// Stats implements framesource.StatsProvider.
func (s *Source) Stats() framesource.Stats {
	var last time.Time
	if ns := s.lastFrameNs.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}

	var fpsReal float64
	if elapsed := time.Since(s.started).Seconds(); elapsed > 0 {
		fpsReal = float64(s.frameCount.Load()) / elapsed
	}

	connected := true
	select {
	case <-s.fatal:
		connected = false
	default:
	}

	return framesource.Stats{
		FramesRead:  s.frameCount.Load(),
		FPSTarget:   float64(s.cfg.FPS),
		FPSReal:     fpsReal,
		LastFrameAt: last,
		Resolution:  framesource.Resolution(image.Pt(s.cfg.Width, s.cfg.Height)),
		Reconnects:  s.reconnects.Load(),
		IsConnected: connected,
	}
}

// Dropped returns frames overwritten before Read picked them up.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Errors returns pipeline error counts by category.
func (s *Source) Errors() map[ErrorCategory]uint64 {
	out := make(map[ErrorCategory]uint64, len(s.errCounts))
	for i := range s.errCounts {
		out[ErrorCategory(i)] = s.errCounts[i].Load()
	}
	return out
}

// checkGStreamer fails fast when GStreamer or the app plugin is missing.
func checkGStreamer() error {
	gst.Init(nil)
	elem, err := gst.NewElement("appsink")
	if err != nil {
		return fmt.Errorf("gstsource: gstreamer app plugin not available: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
