package framesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	// fpsStabilityThreshold: stable if instantaneous FPS stddev < 15% of mean.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold: stable if mean jitter < 20% of the expected
	// inter-frame interval.
	jitterStabilityThreshold = 0.20
)

// WarmupStats summarizes frame arrival during warmup.
type WarmupStats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64 // minimum instantaneous FPS
	FPSMax         float64 // maximum instantaneous FPS
	IsStable       bool
	JitterMean     float64 // seconds
	JitterStdDev   float64 // seconds
	JitterMax      float64 // seconds
}

// Warmup reads and discards frames from src for duration, measuring
// arrival times. The source is left open and positioned after the last
// frame read.
//
// Fails if the source ends, ctx is cancelled or fewer than 2 frames arrive.
func Warmup(ctx context.Context, src Source, duration time.Duration) (*WarmupStats, error) {
	slog.Info("warmup: starting", "duration", duration)

	start := time.Now()
	frameTimes := make([]time.Time, 0, 64)

	wctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	for {
		_, err := src.Read(wctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return nil, fmt.Errorf("warmup: %w", err)
		}
		frameTimes = append(frameTimes, time.Now())
	}

	elapsed := time.Since(start)
	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("warmup: insufficient frames (got %d in %v)", len(frameTimes), elapsed)
	}

	stats := CalculateFPSStats(frameTimes, elapsed)
	slog.Info("warmup: complete",
		"frames", stats.FramesReceived,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"jitter_mean_ms", fmt.Sprintf("%.1f", stats.JitterMean*1000),
		"stable", stats.IsStable,
	)
	if !stats.IsStable {
		slog.Warn("warmup: stream FPS unstable, tracker cadence will vary")
	}
	return stats, nil
}

// CalculateFPSStats computes FPS and jitter statistics from frame arrival
// times over totalDuration.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	n := len(frameTimes)
	stats := &WarmupStats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1/interval)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		d := fps - stats.FPSMean
		sumSquares += d * d
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1 / stats.FPSMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		d := j - stats.JitterMean
		jitterSquares += d * d
	}
	stats.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}

// TrackerRate caps the tracker's processing rate to what the stream can
// deliver: maxRate, or 90% of the measured FPS when the stream is slower.
func TrackerRate(stats *WarmupStats, maxRate float64) float64 {
	if stats == nil || stats.FPSMean >= maxRate {
		return maxRate
	}
	return stats.FPSMean * 0.9
}
