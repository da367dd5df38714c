// Package display shows the tracker's frames in a GLFW window.
//
// Everything here runs on the main OS thread: glfw requires it for window
// and event calls, and the window's GL context stays current there.
package display

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/e7canasta/orion-tracker/internal/config"
	"github.com/e7canasta/orion-tracker/modules/gpuframe"
	"github.com/e7canasta/orion-tracker/modules/gpuframe/gldevice"
	"github.com/e7canasta/orion-tracker/modules/tracker"
)

// Window is the render side: a visible window, its GL context and the
// device shared with the tracker thread.
type Window struct {
	cfg    config.DisplayConfig
	win    *glfw.Window
	dev    *gldevice.Device
	logger *slog.Logger

	fbo         uint32
	placeholder gpuframe.Texture
	title       string
}

// Open initializes glfw, creates the window with a 4.1 core context and
// the shared worker context. Call from the main goroutine with the OS
// thread locked.
func Open(cfg config.DisplayConfig, logger *slog.Logger) (*Window, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "display")

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("display: glfw init: %w", err)
	}

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	win, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("display: creating window: %w", err)
	}
	win.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		win.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("display: gl init: %w", err)
	}
	if cfg.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	dev, err := gldevice.New(win, logger)
	if err != nil {
		win.Destroy()
		glfw.Terminate()
		return nil, err
	}

	w := &Window{cfg: cfg, win: win, dev: dev, logger: logger, title: cfg.Title}

	if w.placeholder, err = dev.NewTexture(2, 2); err == nil {
		err = w.placeholder.Upload(gpuframe.Placeholder())
	}
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("display: placeholder texture: %w", err)
	}

	gl.GenFramebuffers(1, &w.fbo)
	gl.ClearColor(0.1, 0.1, 0.1, 1)

	win.SetKeyCallback(func(win *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			win.SetShouldClose(true)
		}
	})

	logger.Info("display opened", "width", cfg.Width, "height", cfg.Height, "vsync", cfg.VSync)
	return w, nil
}

// Device returns the GL device for the tracker pipeline.
func (w *Window) Device() *gldevice.Device { return w.dev }

// ShouldClose reports whether the user asked to close the window.
func (w *Window) ShouldClose() bool { return w.win.ShouldClose() }

// Draw blits the view's texture (or the placeholder) letterboxed into the
// window.
func (w *Window) Draw(v tracker.View) error {
	fw, fh := w.win.GetFramebufferSize()
	gl.Viewport(0, 0, int32(fw), int32(fh))
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
	gl.Clear(gl.COLOR_BUFFER_BIT)

	tex, filter := w.placeholder, uint32(gl.NEAREST)
	if !v.Placeholder {
		tex, filter = v.Frame.Texture(), gl.LINEAR
	}
	src := tex.Size()
	dst := letterbox(src, image.Pt(fw, fh))

	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, w.fbo)
	gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex.ID(), 0)
	if status := gl.CheckFramebufferStatus(gl.READ_FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
		return fmt.Errorf("display: read framebuffer incomplete: 0x%04x", status)
	}

	// Image rows run top to bottom, GL rows bottom to top: flip on blit.
	gl.BlitFramebuffer(
		0, 0, int32(src.X), int32(src.Y),
		int32(dst.Min.X), int32(fh-dst.Min.Y), int32(dst.Max.X), int32(fh-dst.Max.Y),
		gl.COLOR_BUFFER_BIT, filter,
	)
	gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, 0, 0)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)

	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("display: blit: GL error 0x%04x", code)
	}
	return nil
}

// SetStatus appends s to the window title ("" restores it).
func (w *Window) SetStatus(s string) {
	title := w.cfg.Title
	if s != "" {
		title = fmt.Sprintf("%s [%s]", w.cfg.Title, s)
	}
	if title != w.title {
		w.win.SetTitle(title)
		w.title = title
	}
}

// Swap presents the back buffer and processes window events.
func (w *Window) Swap() {
	w.win.SwapBuffers()
	glfw.PollEvents()
}

// Close releases GL objects, both windows and glfw. The pipeline must have
// been stopped first.
func (w *Window) Close() {
	if w.fbo != 0 {
		gl.DeleteFramebuffers(1, &w.fbo)
		w.fbo = 0
	}
	if w.placeholder != nil {
		w.placeholder.Delete()
		w.placeholder = nil
	}
	if w.dev != nil {
		w.dev.Destroy()
		w.dev = nil
	}
	if w.win != nil {
		w.win.Destroy()
		w.win = nil
	}
	glfw.Terminate()
	w.logger.Info("display closed")
}

// Run is the presentation loop: one Tick per frame, blit, fence, swap.
// It returns when the window closes, ctx ends, or the pipeline ends and
// ExitOnEnd is set. Closing the window ends the pipeline.
func (w *Window) Run(ctx context.Context, pipe *tracker.Pipeline) error {
	p := pipe.Presenter()
	idle := time.NewTicker(16 * time.Millisecond)
	defer idle.Stop()

	for !w.ShouldClose() && ctx.Err() == nil {
		if pipe.Ended() {
			if w.cfg.ExitOnEnd {
				break
			}
			w.SetStatus("stream ended")
		}

		view := p.Tick()
		if err := w.Draw(view); err != nil {
			pipe.End()
			return err
		}
		if err := p.Rendered(); err != nil {
			pipe.End()
			return fmt.Errorf("display: fencing frame: %w", err)
		}
		w.Swap()

		if !w.cfg.VSync {
			select {
			case <-idle.C:
			case <-ctx.Done():
			}
		}
	}

	pipe.End()
	return nil
}
