package gpuframe_test

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-tracker/modules/gpuframe"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func pixels(t *testing.T, f *gpuframe.Frame) *image.RGBA {
	t.Helper()
	tex, ok := f.Texture().(*gpuframe.SoftTexture)
	require.True(t, ok)
	return tex.Pixels()
}

// TestNewFrameShowsPlaceholder verifies fresh frames carry the checkerboard.
func TestNewFrameShowsPlaceholder(t *testing.T) {
	dev := gpuframe.NewSoftDevice(0)
	f, err := gpuframe.NewFrame(dev, 4, 4)
	require.NoError(t, err)
	defer f.Close()

	px := pixels(t, f)
	assert.NotEqual(t, px.RGBAAt(0, 0), px.RGBAAt(2, 0), "checker cells must alternate")
	assert.Equal(t, px.RGBAAt(0, 0), px.RGBAAt(2, 2))
	assert.False(t, f.Pending())
}

// TestPlaceholderShared verifies the placeholder is built once.
func TestPlaceholderShared(t *testing.T) {
	done := make(chan *image.RGBA, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- gpuframe.Placeholder() }()
	}
	first := <-done
	for i := 1; i < 8; i++ {
		assert.Same(t, first, <-done)
	}
}

// TestReplaceImageWaitsForFence checks fence discipline.
//
// Scenario:
//  1. FenceSync with a fence that only completes on SignalAll
//  2. ReplaceImage on another goroutine must stay blocked
//  3. After SignalAll the upload goes through, with no dirty upload recorded
func TestReplaceImageWaitsForFence(t *testing.T) {
	dev := gpuframe.NewSoftDevice(0)
	f, err := gpuframe.NewFrame(dev, 2, 2)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.FenceSync())
	require.True(t, f.Pending())
	before := dev.Uploads()

	red := solid(2, 2, color.RGBA{R: 255, A: 255})
	done := make(chan error, 1)
	go func() { done <- f.ReplaceImage(red) }()

	select {
	case err := <-done:
		t.Fatalf("ReplaceImage returned before the fence completed (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, before, dev.Uploads(), "content must not change while fenced")

	dev.SignalAll()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReplaceImage still blocked after fence completion")
	}

	assert.Equal(t, before+1, dev.Uploads())
	assert.Zero(t, dev.DirtyUploads())
	assert.False(t, f.Pending())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, pixels(t, f).RGBAAt(1, 1))
}

// TestFenceWaitNoop verifies waiting without a pending fence returns at once.
func TestFenceWaitNoop(t *testing.T) {
	dev := gpuframe.NewSoftDevice(0)
	f, err := gpuframe.NewFrame(dev, 2, 2)
	require.NoError(t, err)
	defer f.Close()

	start := time.Now()
	require.NoError(t, f.FenceWait())
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

// TestFenceTimeoutKeepsFence verifies a timed-out wait is surfaced and the
// frame stays guarded.
func TestFenceTimeoutKeepsFence(t *testing.T) {
	dev := gpuframe.NewSoftDevice(0)
	f, err := gpuframe.NewFrame(dev, 2, 2, gpuframe.WithFenceTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.FenceSync())

	err = f.ReplaceImage(solid(2, 2, color.RGBA{G: 255, A: 255}))
	assert.ErrorIs(t, err, gpuframe.ErrFenceTimeout)
	assert.True(t, f.Pending())
	assert.Zero(t, dev.DirtyUploads())

	dev.SignalAll()
	require.NoError(t, f.FenceWait())
	assert.False(t, f.Pending())
}

// TestFenceFailureSurfaced verifies driver errors propagate.
func TestFenceFailureSurfaced(t *testing.T) {
	dev := gpuframe.NewSoftDevice(0)
	f, err := gpuframe.NewFrame(dev, 2, 2)
	require.NoError(t, err)

	lost := errors.New("context lost")
	require.NoError(t, f.FenceSync())
	dev.FailFences(lost)

	assert.ErrorIs(t, f.FenceWait(), lost)
	assert.True(t, f.Pending())

	assert.ErrorIs(t, f.Close(), lost)
	assert.Zero(t, dev.LiveTextures(), "texture is freed even when the wait fails")
}

// TestFenceSyncReplacesPending verifies a second FenceSync supersedes the first.
func TestFenceSyncReplacesPending(t *testing.T) {
	dev := gpuframe.NewSoftDevice(0)
	f, err := gpuframe.NewFrame(dev, 2, 2)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.FenceSync())
	require.NoError(t, f.FenceSync())
	assert.Equal(t, 1, dev.PendingFences())
	assert.EqualValues(t, 2, dev.Fences())
}

// TestLatencyFence verifies fences complete on their own with a latency.
func TestLatencyFence(t *testing.T) {
	dev := gpuframe.NewSoftDevice(5 * time.Millisecond)
	f, err := gpuframe.NewFrame(dev, 2, 2)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.FenceSync())
	require.NoError(t, f.ReplaceImage(solid(2, 2, color.RGBA{B: 255, A: 255})))
	assert.EqualValues(t, 1, f.Uploads())
}

// TestReplaceImageScales verifies mismatched images are fitted to the texture.
func TestReplaceImageScales(t *testing.T) {
	dev := gpuframe.NewSoftDevice(0)
	f, err := gpuframe.NewFrame(dev, 4, 2)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.ReplaceImage(solid(16, 8, color.RGBA{R: 10, G: 20, B: 30, A: 255})))
	got := pixels(t, f).RGBAAt(3, 1)
	assert.InDelta(t, 10, int(got.R), 1)
	assert.InDelta(t, 20, int(got.G), 1)
	assert.InDelta(t, 30, int(got.B), 1)

	// Offset bounds go through the copy path.
	sub := solid(8, 4, color.RGBA{R: 1, A: 255}).SubImage(image.Rect(4, 2, 8, 4))
	require.NoError(t, f.ReplaceImage(sub))
	assert.Equal(t, color.RGBA{R: 1, A: 255}, pixels(t, f).RGBAAt(0, 0))
}

// TestCloseWaitsAndDeletes verifies Close is scoped release.
func TestCloseWaitsAndDeletes(t *testing.T) {
	dev := gpuframe.NewSoftDevice(20 * time.Millisecond)
	f, err := gpuframe.NewFrame(dev, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 1, dev.LiveTextures())

	require.NoError(t, f.FenceSync())
	start := time.Now()
	require.NoError(t, f.Close())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "Close must wait for the fence")
	assert.Zero(t, dev.LiveTextures())

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.ReplaceImage(gpuframe.Placeholder()), gpuframe.ErrClosed)
	assert.ErrorIs(t, f.FenceSync(), gpuframe.ErrClosed)
}

// TestBindThreadSoft verifies BindThread works for devices without contexts.
func TestBindThreadSoft(t *testing.T) {
	release, err := gpuframe.BindThread(gpuframe.NewSoftDevice(0))
	require.NoError(t, err)
	release()
}
