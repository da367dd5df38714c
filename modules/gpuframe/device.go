package gpuframe

import (
	"image"
	"runtime"
	"time"
)

// Device creates GPU textures and fences.
type Device interface {
	// NewTexture allocates an RGBA texture of the given size.
	NewTexture(width, height int) (Texture, error)

	// InsertFence records a fence after every command submitted so far.
	InsertFence() (Fence, error)
}

// Texture is a GPU-resident RGBA image.
type Texture interface {
	ID() uint32
	Size() image.Point

	// Upload replaces the whole texture; img bounds must match Size.
	Upload(img *image.RGBA) error

	Delete()
}

// Fence marks a point in the GPU command stream.
type Fence interface {
	// Wait blocks until the GPU passes the fence or timeout elapses.
	// It returns false on timeout.
	Wait(timeout time.Duration) (bool, error)

	// Release frees the fence object.
	Release()
}

// ThreadBinder is implemented by devices whose calls must be made from an
// OS thread with the device context current.
type ThreadBinder interface {
	// BindThread makes the device usable from the calling OS thread.
	// The returned func undoes it.
	BindThread() (func(), error)
}

// BindThread locks the calling goroutine to its OS thread and, if dev needs
// it, makes dev current there. The returned func must run on the same
// goroutine when it is done with the device.
func BindThread(dev Device) (func(), error) {
	runtime.LockOSThread()

	b, ok := dev.(ThreadBinder)
	if !ok {
		return runtime.UnlockOSThread, nil
	}

	unbind, err := b.BindThread()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return func() {
		unbind()
		runtime.UnlockOSThread()
	}, nil
}
