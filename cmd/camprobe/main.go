// Command camprobe opens a camera the way trackd does, measures its frame
// rate and prints what the tracker would see.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e7canasta/orion-tracker/internal/app"
	"github.com/e7canasta/orion-tracker/internal/config"
	"github.com/e7canasta/orion-tracker/modules/framesource"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Optional trackd configuration file; its camera section is probed")
	kind := flag.String("kind", "", "Camera kind override: synthetic, gstreamer, opencv")
	url := flag.String("url", "", "RTSP URL override (gstreamer)")
	device := flag.String("device", "", "Device override (opencv)")
	warmup := flag.Duration("warmup", 5*time.Second, "FPS stability measurement window (0 skips it)")
	maxFrames := flag.Int("max-frames", 0, "Frames to read after warm-up (0 = until Ctrl+C)")
	statsInterval := flag.Duration("stats-interval", 5*time.Second, "Interval between stats reports")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("camprobe %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	cam := cfg.Camera
	if *kind != "" {
		cam.Kind = *kind
	}
	if *url != "" {
		cam.URL = *url
	}
	if *device != "" {
		cam.Device = *device
	}
	if cam.Kind == config.CameraOpenCV && cam.Device == "" {
		cam.Device = "0"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║              Camera Probe - Orion Tracker                 ║\n")
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("  Kind:        %s\n", cam.Kind)
	fmt.Printf("  Resolution:  %dx%d\n", cam.Width, cam.Height)
	fmt.Printf("  Target FPS:  %.2f\n", cam.FPS)
	if cam.URL != "" {
		fmt.Printf("  URL:         %s\n", cam.URL)
	}
	fmt.Printf("\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := app.OpenSource(ctx, cam)
	if err != nil {
		log.Fatalf("Failed to open camera: %v", err)
	}
	defer src.Close()

	if *warmup > 0 {
		fmt.Printf("Running warm-up (%v) to measure stream stability...\n", *warmup)
		stats, err := framesource.Warmup(ctx, src, *warmup)
		if err != nil {
			log.Fatalf("Warm-up failed: %v", err)
		}
		printWarmup(stats)
	}

	fmt.Printf("Reading frames, press Ctrl+C to stop\n\n")
	if err := probe(ctx, src, *maxFrames, *statsInterval); err != nil {
		log.Fatalf("Probe failed: %v", err)
	}
}

func probe(ctx context.Context, src framesource.Source, maxFrames int, interval time.Duration) error {
	meter := framesource.NewMeter(interval)
	start := time.Now()
	frames := 0

	for maxFrames == 0 || frames < maxFrames {
		img, err := src.Read(ctx)
		switch {
		case errors.Is(err, framesource.ErrEndOfStream):
			fmt.Printf("Stream ended after %d frames\n", frames)
			return nil
		case ctx.Err() != nil:
			fmt.Printf("\nStopped after %d frames in %v\n", frames, time.Since(start).Round(time.Second))
			return nil
		case err != nil:
			return err
		}
		frames++

		if meter.Update() {
			line := fmt.Sprintf("frames=%d fps=%.2f size=%v", frames, meter.FPS(), img.Rect.Size())
			if sp, ok := src.(framesource.StatsProvider); ok {
				st := sp.Stats()
				line += fmt.Sprintf(" camera_fps=%.2f reconnects=%d connected=%v", st.FPSReal, st.Reconnects, st.IsConnected)
			}
			fmt.Println(line)
		}
	}
	fmt.Printf("Read %d frames in %v\n", frames, time.Since(start).Round(time.Millisecond))
	return nil
}

func printWarmup(s *framesource.WarmupStats) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Warm-up Complete\n")
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Received:    %6d frames\n", s.FramesReceived)
	fmt.Printf("│ Duration:           %6.1f seconds\n", s.Duration.Seconds())
	fmt.Printf("│ FPS Mean:           %6.2f fps\n", s.FPSMean)
	fmt.Printf("│ FPS StdDev:         %6.2f fps\n", s.FPSStdDev)
	fmt.Printf("│ Jitter Mean:        %6.3f s\n", s.JitterMean)
	fmt.Printf("│ Stable:             %6v\n", s.IsStable)
	fmt.Printf("│ Tracker Rate:       %6.2f Hz\n", framesource.TrackerRate(s, 30))
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n\n")
	if !s.IsStable {
		fmt.Printf("WARNING: stream is unstable (high FPS variance or jitter)\n\n")
	}
}
