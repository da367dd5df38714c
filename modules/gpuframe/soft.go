package gpuframe

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// SoftDevice is an in-process Device. Fences complete after Latency, or
// only on SignalAll when Latency is zero.
type SoftDevice struct {
	Latency time.Duration

	mu        sync.Mutex
	nextID    uint32
	live      map[uint32]*SoftTexture
	pending   map[*softFence]struct{}
	fenceErr  error
	maxLive   int
	failAfter int // NewTexture fails once live textures reach this (0 = never)

	uploads      atomic.Uint64
	dirtyUploads atomic.Uint64
	fences       atomic.Uint64
}

// NewSoftDevice returns a device whose fences signal after latency.
func NewSoftDevice(latency time.Duration) *SoftDevice {
	return &SoftDevice{
		Latency: latency,
		live:    make(map[uint32]*SoftTexture),
		pending: make(map[*softFence]struct{}),
	}
}

// NewTexture implements Device.
func (d *SoftDevice) NewTexture(width, height int) (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failAfter > 0 && len(d.live) >= d.failAfter {
		return nil, fmt.Errorf("soft device: out of texture memory (%d live)", len(d.live))
	}

	d.nextID++
	t := &SoftTexture{
		dev:    d,
		id:     d.nextID,
		pixels: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	d.live[t.id] = t
	if len(d.live) > d.maxLive {
		d.maxLive = len(d.live)
	}
	return t, nil
}

// InsertFence implements Device.
func (d *SoftDevice) InsertFence() (Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f := &softFence{dev: d, done: make(chan struct{})}
	d.pending[f] = struct{}{}
	d.fences.Add(1)

	if d.Latency > 0 {
		time.AfterFunc(d.Latency, f.signal)
	}
	return f, nil
}

// SignalAll completes every outstanding fence.
func (d *SoftDevice) SignalAll() {
	d.mu.Lock()
	fences := make([]*softFence, 0, len(d.pending))
	for f := range d.pending {
		fences = append(fences, f)
	}
	d.mu.Unlock()

	for _, f := range fences {
		f.signal()
	}
}

// FailFences makes every later fence Wait return err (nil clears it).
func (d *SoftDevice) FailFences(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fenceErr = err
}

// LimitTextures makes NewTexture fail once n textures are alive.
func (d *SoftDevice) LimitTextures(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAfter = n
}

// LiveTextures returns the number of textures not yet deleted.
func (d *SoftDevice) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// PeakTextures returns the highest number of textures alive at once.
func (d *SoftDevice) PeakTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

// PendingFences returns the number of fences not yet signaled.
func (d *SoftDevice) PendingFences() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Uploads returns the total number of texture uploads.
func (d *SoftDevice) Uploads() uint64 { return d.uploads.Load() }

// DirtyUploads returns uploads made while some fence was still pending.
// A frame that honors its fence never produces one in a single-frame test.
func (d *SoftDevice) DirtyUploads() uint64 { return d.dirtyUploads.Load() }

// Fences returns the total number of fences inserted.
func (d *SoftDevice) Fences() uint64 { return d.fences.Load() }

// SoftTexture is the texture type of SoftDevice. Pixels are kept in memory.
type SoftTexture struct {
	dev *SoftDevice
	id  uint32

	mu      sync.Mutex
	pixels  *image.RGBA
	deleted bool
}

func (t *SoftTexture) ID() uint32 { return t.id }

func (t *SoftTexture) Size() image.Point { return t.pixels.Rect.Size() }

// Upload implements Texture.
func (t *SoftTexture) Upload(img *image.RGBA) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.deleted {
		return errors.New("soft device: upload to deleted texture")
	}
	if img.Rect.Size() != t.pixels.Rect.Size() {
		return fmt.Errorf("soft device: upload size %v, texture %v", img.Rect.Size(), t.pixels.Rect.Size())
	}

	if t.dev.PendingFences() > 0 {
		t.dev.dirtyUploads.Add(1)
	}
	copy(t.pixels.Pix, img.Pix)
	t.dev.uploads.Add(1)
	return nil
}

// Delete implements Texture.
func (t *SoftTexture) Delete() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.deleted {
		return
	}
	t.deleted = true

	t.dev.mu.Lock()
	delete(t.dev.live, t.id)
	t.dev.mu.Unlock()
}

// Pixels returns a copy of the texture content.
func (t *SoftTexture) Pixels() *image.RGBA {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := image.NewRGBA(t.pixels.Rect)
	copy(out.Pix, t.pixels.Pix)
	return out
}

type softFence struct {
	dev  *SoftDevice
	once sync.Once
	done chan struct{}
}

func (f *softFence) signal() {
	f.once.Do(func() {
		f.dev.mu.Lock()
		delete(f.dev.pending, f)
		f.dev.mu.Unlock()
		close(f.done)
	})
}

func (f *softFence) Wait(timeout time.Duration) (bool, error) {
	f.dev.mu.Lock()
	err := f.dev.fenceErr
	f.dev.mu.Unlock()
	if err != nil {
		return false, err
	}

	select {
	case <-f.done:
		return true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// Release drops the fence. An unsignaled fence stops counting as pending.
func (f *softFence) Release() {
	f.signal()
}
