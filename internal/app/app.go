// Package app wires configuration, camera, recognizers, the tracker
// pipeline and the outer surfaces (display, MQTT, health) into one service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-tracker/internal/config"
	"github.com/e7canasta/orion-tracker/internal/control"
	"github.com/e7canasta/orion-tracker/internal/display"
	"github.com/e7canasta/orion-tracker/internal/emitter"
	"github.com/e7canasta/orion-tracker/internal/health"
	"github.com/e7canasta/orion-tracker/modules/framesource"
	"github.com/e7canasta/orion-tracker/modules/framesource/cvsource"
	"github.com/e7canasta/orion-tracker/modules/framesource/gstsource"
	"github.com/e7canasta/orion-tracker/modules/gpuframe"
	"github.com/e7canasta/orion-tracker/modules/recognizer"
	"github.com/e7canasta/orion-tracker/modules/recognizer/cvface"
	"github.com/e7canasta/orion-tracker/modules/resultbus"
	"github.com/e7canasta/orion-tracker/modules/tracker"
)

const (
	statsInterval  = 10 * time.Second
	headlessTick   = 16 * time.Millisecond
	maxTrackerRate = 30.0
	mqttSubscriber = "mqtt"
)

// App is the tracker service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	source   framesource.Source
	faces    *cvface.Finder
	window   *display.Window
	pipeline *tracker.Pipeline
	bus      *resultbus.Bus[tracker.Annotation]
	emitter  *emitter.MQTTEmitter
	control  *control.Handler
	health   *health.Server

	started time.Time
	wg      sync.WaitGroup
}

// New returns an App for cfg; nothing is opened yet.
func New(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		bus:    resultbus.New[tracker.Annotation](),
	}
}

// Run opens everything and blocks until ctx ends, the window closes or,
// headless, the tracker stops. With a display it must be called from the
// main goroutine with the OS thread locked. Shutdown must follow.
func (a *App) Run(ctx context.Context) error {
	a.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Info("tracker service starting",
		"instance_id", a.cfg.InstanceID,
		"camera", a.cfg.Camera.Kind,
		"gpu", a.cfg.GPU.Backend,
		"display", a.cfg.Display.Enabled,
	)

	src, err := OpenSource(ctx, a.cfg.Camera)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	a.source = src
	a.warmup(ctx)

	faces, blob, err := a.recognizers()
	if err != nil {
		return err
	}

	var dev gpuframe.Device
	switch a.cfg.GPU.Backend {
	case config.GPUGL:
		if a.window, err = display.Open(a.cfg.Display, a.logger); err != nil {
			return err
		}
		dev = a.window.Device()
	default:
		dev = gpuframe.NewSoftDevice(a.cfg.GPU.SoftLatency)
	}

	mode, err := tracker.ParseMode(a.cfg.Tracker.Mode)
	if err != nil {
		return err
	}

	a.pipeline, err = tracker.NewPipeline(ctx, tracker.Config{
		Width:        a.cfg.Camera.Width,
		Height:       a.cfg.Camera.Height,
		Pool:         a.cfg.Pool,
		FenceTimeout: a.cfg.GPU.FenceTimeout,
		Annotator: tracker.AnnotatorConfig{
			Mode:         mode,
			LockImage:    a.cfg.Tracker.LockImage,
			WarningImage: a.cfg.Tracker.WarningImage,
		},
	}, tracker.Deps{
		Device:   dev,
		Source:   a.source,
		Faces:    faces,
		Blob:     blob,
		OnResult: a.bus.Publish,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	if a.cfg.MQTT.Enabled {
		if err := a.startEmitter(ctx); err != nil {
			return err
		}
		if err := a.startControl(ctx, cancel); err != nil {
			return err
		}
	}
	if a.cfg.Health.Enabled {
		if err := a.startHealth(); err != nil {
			return err
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logStats(ctx)
	}()

	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("tracker service running")

	if a.window != nil {
		return a.window.Run(ctx, a.pipeline)
	}
	return a.runHeadless(ctx)
}

// runHeadless plays the presentation role without a window: it adopts
// results at display rate so frames flow back to the pool.
func (a *App) runHeadless(ctx context.Context) error {
	p := a.pipeline.Presenter()
	ticker := time.NewTicker(headlessTick)
	defer ticker.Stop()

	for !a.pipeline.Ended() {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		p.Tick()
		if err := p.Rendered(); err != nil {
			return err
		}
	}
	return a.pipeline.Err()
}

// Shutdown stops everything Run started, in dependency order.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down tracker service")

	var errs []error
	if a.pipeline != nil {
		a.pipeline.Stop()
		if err := a.pipeline.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	a.bus.Close()

	if a.source != nil {
		if err := a.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing camera: %w", err))
		}
	}
	if a.faces != nil {
		a.faces.Close()
	}
	if a.health != nil {
		if err := a.health.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for goroutines: %w", ctx.Err()))
	}

	if a.control != nil {
		a.control.Stop()
	}
	if a.emitter != nil {
		a.emitter.Disconnect()
	}
	if a.window != nil {
		a.window.Close()
	}

	a.logger.Info("tracker service shutdown complete", "uptime", time.Since(a.started).Round(time.Second))
	return errors.Join(errs...)
}

// OpenSource opens the camera described by c.
func OpenSource(ctx context.Context, c config.CameraConfig) (framesource.Source, error) {
	switch c.Kind {
	case config.CameraGStreamer:
		src, err := gstsource.Open(ctx, gstsource.Config{
			URL:      c.URL,
			Pipeline: c.Pipeline,
			Width:    c.Width,
			Height:   c.Height,
			FPS:      int(c.FPS),
			Reconnect: gstsource.ReconnectConfig{
				MaxRetries:    c.Reconnect.MaxRetries,
				RetryDelay:    c.Reconnect.RetryDelay,
				MaxRetryDelay: c.Reconnect.MaxRetryDelay,
			},
			StallTimeout: c.StallTimeout,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.CameraOpenCV:
		src, err := cvsource.Open(cvsource.Config{
			Device: c.Device,
			Width:  c.Width,
			Height: c.Height,
			FPS:    int(c.FPS),
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		src, err := framesource.NewSynthetic(framesource.SyntheticConfig{
			Width:  c.Width,
			Height: c.Height,
			FPS:    c.FPS,
			Limit:  c.Limit,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func (a *App) warmup(ctx context.Context) {
	if a.cfg.Camera.Warmup <= 0 {
		return
	}
	stats, err := framesource.Warmup(ctx, a.source, a.cfg.Camera.Warmup)
	if err != nil {
		a.logger.Warn("camera warm-up failed, continuing without FPS stats", "error", err)
		return
	}
	a.logger.Info("camera warm-up complete",
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"stable", stats.IsStable,
		"tracker_rate_hz", fmt.Sprintf("%.2f", framesource.TrackerRate(stats, maxTrackerRate)),
	)
}

func (a *App) recognizers() (recognizer.FaceFinder, recognizer.BlobFinder, error) {
	var faces recognizer.FaceFinder = recognizer.NoFaces
	if a.cfg.Tracker.Faces == "cascade" {
		f, err := cvface.New(a.cfg.Tracker.Cascade)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load face cascade: %w", err)
		}
		a.faces = f
		faces = f
	}

	var blob recognizer.BlobFinder = recognizer.NoBlob
	if a.cfg.Tracker.Blob == "red" {
		blob = recognizer.NewRedFinder()
	}
	return faces, blob, nil
}

func (a *App) startEmitter(ctx context.Context) error {
	a.emitter = emitter.NewMQTTEmitter(a.cfg.InstanceID, a.cfg.MQTT)
	if err := a.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	ch := make(chan tracker.Annotation, a.cfg.MQTT.Buffer)
	if err := a.bus.Subscribe(mqttSubscriber, ch); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.emitter.Run(ctx, ch)
	}()
	return nil
}

// startControl listens for commands on <topic>/control. A shutdown
// command cancels Run.
func (a *App) startControl(ctx context.Context, cancel context.CancelFunc) error {
	a.control = control.NewHandler(a.emitter.Client(), a.cfg.MQTT.Topic+"/control", a.cfg.MQTT.QoS, control.Callbacks{
		OnGetStatus: a.status,
		OnShutdown: func() {
			a.logger.Warn("shutdown requested via control plane")
			cancel()
		},
	})
	if err := a.control.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	return nil
}

func (a *App) status() map[string]any {
	st := map[string]any{
		"instance_id": a.cfg.InstanceID,
		"uptime_s":    int64(time.Since(a.started).Seconds()),
		"pipeline":    a.pipeline.Stats(),
		"bus":         a.bus.Stats(),
	}
	if a.emitter != nil {
		st["mqtt"] = a.emitter.Stats()
	}
	return st
}

func (a *App) startHealth() error {
	src := health.Sources{
		Pipeline: a.pipeline.Stats,
		Bus:      a.bus.Stats,
	}
	if a.emitter != nil {
		src.MQTT = a.emitter.Connected
	}
	a.health = health.New(src)
	_, err := a.health.Start(a.cfg.Health.Addr)
	return err
}

// logStats reports pipeline counters periodically and publishes them on
// MQTT when enabled.
func (a *App) logStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := a.pipeline.Stats()
		attrs := []any{
			"frames", st.Worker.Frames,
			"faces_seen", st.Worker.FacesSeen,
			"tracker_fps", fmt.Sprintf("%.1f", st.Worker.FPS),
			"render_fps", fmt.Sprintf("%.1f", st.Presenter.FPS),
			"pool_in_use", st.Pool.InUse,
			"pool_allocated", st.Pool.Allocated,
			"pool_waits", st.Pool.Waits,
			"queue_depth", st.QueueDepth,
		}
		if sp, ok := a.source.(framesource.StatsProvider); ok {
			cs := sp.Stats()
			attrs = append(attrs, "camera_fps", fmt.Sprintf("%.1f", cs.FPSReal), "camera_connected", cs.IsConnected)
		}
		a.logger.Info("tracker stats", attrs...)

		if st.Worker.Idle {
			a.logger.Warn("tracker idle", "last_result_at", st.Worker.LastResultAt)
		}
		if a.emitter != nil && a.emitter.Connected() {
			if err := a.emitter.PublishHealth(st); err != nil {
				a.logger.Debug("health not published", "error", err)
			}
		}
	}
}
