// Package gldevice implements gpuframe.Device on OpenGL 4.1 core.
//
// All methods act on the GL context current on the calling OS thread. The
// render goroutine uses the main window's context; the tracker goroutine
// binds the hidden worker context created by New, which shares textures and
// sync objects with the main one.
//
// Window creation must happen on the main thread (glfw requirement), so New
// is called from main after glfw.Init and before any goroutine uses the
// device.
package gldevice

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/e7canasta/orion-tracker/modules/gpuframe"
)

// Device is an OpenGL texture and fence factory.
type Device struct {
	main   *glfw.Window
	worker *glfw.Window
	logger *slog.Logger
}

// New creates the hidden worker window sharing objects with main.
// main's context must be current on the calling thread, and gl.Init must
// have run.
func New(main *glfw.Window, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	worker, err := glfw.CreateWindow(1, 1, "tracker worker", nil, main)
	glfw.WindowHint(glfw.Visible, glfw.True)
	if err != nil {
		return nil, fmt.Errorf("gldevice: creating shared worker context: %w", err)
	}
	main.MakeContextCurrent()

	logger.Info("gl device ready",
		"vendor", gl.GoStr(gl.GetString(gl.VENDOR)),
		"renderer", gl.GoStr(gl.GetString(gl.RENDERER)),
		"version", gl.GoStr(gl.GetString(gl.VERSION)),
	)

	return &Device{main: main, worker: worker, logger: logger}, nil
}

// BindThread makes the worker context current on the calling thread.
// Callers go through gpuframe.BindThread, which locks the OS thread first.
func (d *Device) BindThread() (func(), error) {
	d.worker.MakeContextCurrent()
	return glfw.DetachCurrentContext, nil
}

// Destroy releases the worker window. Main thread only.
func (d *Device) Destroy() {
	if d.worker != nil {
		d.worker.Destroy()
		d.worker = nil
	}
}

// NewTexture implements gpuframe.Device.
func (d *Device) NewTexture(width, height int) (gpuframe.Texture, error) {
	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_2D, id)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	if err := glError("glTexImage2D"); err != nil {
		gl.DeleteTextures(1, &id)
		return nil, err
	}

	d.logger.Debug("texture created", "id", id, "width", width, "height", height)
	return &texture{id: id, size: image.Pt(width, height)}, nil
}

// InsertFence implements gpuframe.Device. The fence is flushed so waits
// from the other context can complete.
func (d *Device) InsertFence() (gpuframe.Fence, error) {
	s := gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
	if s == 0 {
		if err := glError("glFenceSync"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("gldevice: glFenceSync returned no sync object")
	}
	gl.Flush()
	return &fence{sync: s}, nil
}

type texture struct {
	id   uint32
	size image.Point
}

func (t *texture) ID() uint32        { return t.id }
func (t *texture) Size() image.Point { return t.size }

func (t *texture) Upload(img *image.RGBA) error {
	if img.Rect.Size() != t.size {
		return fmt.Errorf("gldevice: upload size %v, texture %v", img.Rect.Size(), t.size)
	}

	gl.BindTexture(gl.TEXTURE_2D, t.id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(img.Stride/4))
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(t.size.X), int32(t.size.Y), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	return glError("glTexSubImage2D")
}

func (t *texture) Delete() {
	if t.id != 0 {
		gl.DeleteTextures(1, &t.id)
		t.id = 0
	}
}

type fence struct {
	sync uintptr
}

// Wait polls glClientWaitSync in short slices so a wedged driver cannot
// hold the thread past timeout.
func (f *fence) Wait(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	flags := uint32(gl.SYNC_FLUSH_COMMANDS_BIT)

	for {
		switch gl.ClientWaitSync(f.sync, flags, uint64(waitSlice)) {
		case gl.ALREADY_SIGNALED, gl.CONDITION_SATISFIED:
			return true, nil
		case gl.WAIT_FAILED:
			return false, glError("glClientWaitSync")
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		flags = 0
	}
}

func (f *fence) Release() {
	if f.sync != 0 {
		gl.DeleteSync(f.sync)
		f.sync = 0
	}
}

const waitSlice = 5 * time.Millisecond

func glError(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gldevice: %s: GL error 0x%04x", op, code)
	}
	return nil
}
