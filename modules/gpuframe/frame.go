package gpuframe

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// DefaultFenceTimeout bounds a single FenceWait.
const DefaultFenceTimeout = 2 * time.Second

var (
	ErrFenceTimeout = errors.New("gpuframe: fence wait timed out")
	ErrClosed       = errors.New("gpuframe: frame closed")
)

// FrameOption customizes NewFrame.
type FrameOption func(*Frame)

// WithFenceTimeout overrides DefaultFenceTimeout.
func WithFenceTimeout(d time.Duration) FrameOption {
	return func(f *Frame) { f.fenceTimeout = d }
}

// WithScaler sets the interpolator used when ReplaceImage gets an image of
// a different size (default draw.ApproxBiLinear).
func WithScaler(s draw.Scaler) FrameOption {
	return func(f *Frame) { f.scaler = s }
}

// Frame is a pooled GPU texture plus its pending fence.
type Frame struct {
	dev          Device
	tex          Texture
	fenceTimeout time.Duration
	scaler       draw.Scaler

	mu      sync.Mutex
	fence   Fence // nil when no GPU work is outstanding
	scratch *image.RGBA
	uploads uint64
	closed  bool
}

// NewFrame allocates a width x height texture on dev, filled with the
// placeholder checkerboard.
func NewFrame(dev Device, width, height int, opts ...FrameOption) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gpuframe: invalid size %dx%d", width, height)
	}

	tex, err := dev.NewTexture(width, height)
	if err != nil {
		return nil, fmt.Errorf("gpuframe: creating texture: %w", err)
	}

	f := &Frame{
		dev:          dev,
		tex:          tex,
		fenceTimeout: DefaultFenceTimeout,
		scaler:       draw.ApproxBiLinear,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := tex.Upload(PlaceholderSized(tex.Size())); err != nil {
		tex.Delete()
		return nil, fmt.Errorf("gpuframe: uploading placeholder: %w", err)
	}
	return f, nil
}

// ID returns the texture identifier for the display layer.
func (f *Frame) ID() uint32 { return f.tex.ID() }

// Size returns the texture dimensions.
func (f *Frame) Size() image.Point { return f.tex.Size() }

// Texture returns the underlying texture.
func (f *Frame) Texture() Texture { return f.tex }

// Pending reports whether a fence is outstanding.
func (f *Frame) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fence != nil
}

// Uploads returns how many times content was replaced.
func (f *Frame) Uploads() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// FenceSync records a fence after the commands just submitted that use
// this frame. A fence still pending from an earlier submission is released;
// the new one covers it.
func (f *Frame) FenceSync() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	fence, err := f.dev.InsertFence()
	if err != nil {
		return fmt.Errorf("gpuframe: inserting fence: %w", err)
	}
	if f.fence != nil {
		f.fence.Release()
	}
	f.fence = fence
	return nil
}

// FenceWait blocks until the pending fence completes and clears it.
// No-op if no fence is pending.
func (f *Frame) FenceWait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fenceWaitLocked()
}

func (f *Frame) fenceWaitLocked() error {
	if f.fence == nil {
		return nil
	}

	ok, err := f.fence.Wait(f.fenceTimeout)
	if err != nil {
		return fmt.Errorf("gpuframe: texture %d: %w", f.tex.ID(), err)
	}
	if !ok {
		return fmt.Errorf("%w: texture %d after %v", ErrFenceTimeout, f.tex.ID(), f.fenceTimeout)
	}

	f.fence.Release()
	f.fence = nil
	return nil
}

// ReplaceImage waits for the pending fence, then uploads img. Images of a
// different size are scaled to the texture.
func (f *Frame) ReplaceImage(img image.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.fenceWaitLocked(); err != nil {
		return err
	}

	if err := f.tex.Upload(f.fit(img)); err != nil {
		return fmt.Errorf("gpuframe: uploading texture %d: %w", f.tex.ID(), err)
	}
	f.uploads++
	return nil
}

// fit returns img as an RGBA of the texture size, reusing the frame's
// scratch buffer when conversion is needed.
func (f *Frame) fit(img image.Image) *image.RGBA {
	size := f.tex.Size()
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Rect.Size() == size {
		return rgba
	}

	if f.scratch == nil || f.scratch.Rect.Size() != size {
		f.scratch = image.NewRGBA(image.Rectangle{Max: size})
	}
	if img.Bounds().Size() == size {
		draw.Draw(f.scratch, f.scratch.Bounds(), img, img.Bounds().Min, draw.Src)
	} else {
		f.scaler.Scale(f.scratch, f.scratch.Bounds(), img, img.Bounds(), draw.Src, nil)
	}
	return f.scratch
}

// Close waits for the pending fence and deletes the texture. The texture
// is deleted even if the wait fails; the wait error is returned.
// Calling Close more than once is safe.
func (f *Frame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	err := f.fenceWaitLocked()
	if f.fence != nil {
		f.fence.Release()
		f.fence = nil
	}
	f.tex.Delete()
	return err
}
