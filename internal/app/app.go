package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rajveermalviya/go-webgpu/wgpu"

	"tilearray/internal/config"
	"tilearray/internal/gpu/webgpu"
	"tilearray/internal/loader"
	"tilearray/internal/logging"
	"tilearray/internal/renderer"
	"tilearray/internal/session"
)

type App struct {
	window   *glfw.Window
	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	gpu     *webgpu.Device
	session *session.Session
	cfg     *config.Config
}

// New opens the window, sets up wgpu on it and starts loading tiles from
// src. It must be called from the main goroutine.
func New(ctx context.Context, cfg *config.Config, src loader.Source) (*App, error) {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("GLFW init failed: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.CocoaRetinaFramebuffer, glfw.True)

	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("window creation failed: %w", err)
	}

	app := &App{window: window, cfg: cfg}

	if err := app.initWebGPU(); err != nil {
		app.Cleanup()
		return nil, err
	}

	width, height := window.GetFramebufferSize()
	app.gpu, err = webgpu.NewSurfaceDevice(app.adapter, app.device, app.queue, app.surface, width, height)
	if err != nil {
		app.Cleanup()
		return nil, err
	}

	app.session, err = session.Open(ctx, app.gpu, cfg, src)
	if err != nil {
		app.Cleanup()
		return nil, fmt.Errorf("renderer setup failed: %w", err)
	}

	app.setupCallbacks()
	return app, nil
}

func (app *App) initWebGPU() error {
	app.instance = wgpu.CreateInstance(&wgpu.InstanceDescriptor{
		Backends: instanceBackends,
	})
	if app.instance == nil {
		return errors.New("failed to create WebGPU instance")
	}

	var err error
	app.surface, err = createSurface(app.instance, app.window)
	if err != nil {
		return fmt.Errorf("surface creation failed: %w", err)
	}

	// Try with the surface first, then without
	app.adapter, err = app.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: app.surface,
		PowerPreference:   wgpu.PowerPreference_HighPerformance,
	})
	if err != nil {
		logging.Logger().Warn("no surface compatible adapter, retrying without constraint", "error", err)
		app.adapter, err = app.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreference_HighPerformance,
		})
		if err != nil {
			return fmt.Errorf("adapter request failed: %w", err)
		}
	}

	props := app.adapter.GetProperties()
	logging.Logger().Info("gpu adapter selected", "name", props.Name, "driver", props.DriverDescription)

	app.device, err = app.adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "TileArrayDevice",
	})
	if err != nil {
		return fmt.Errorf("device request failed: %w", err)
	}

	app.queue = app.device.GetQueue()
	return nil
}

func (app *App) setupCallbacks() {
	app.window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		if err := app.gpu.Resize(width, height); err != nil {
			logging.Logger().Error("resize failed", "width", width, "height", height, "error", err)
		}
	})

	app.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		var err error
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyR:
			err = app.session.Randomize()
		case glfw.KeyC:
			err = app.session.Checker()
		case glfw.KeySpace:
			err = app.session.Cycle()
		}
		if err != nil {
			logging.Logger().Error("index map update failed", "key", glfw.GetKeyName(key, scancode), "error", err)
		}
	})
}

// Run draws frames until the window closes. Tiles are uploaded between
// frames as they finish loading.
func (app *App) Run() error {
	lastTime := time.Now()
	frames := 0

	for !app.window.ShouldClose() {
		glfw.PollEvents()

		if err := app.session.Frame(); err != nil {
			if errors.Is(err, renderer.ErrInvalidState) {
				return err
			}
			logging.Logger().Error("render failed", "error", err)
		}

		frames++
		if time.Since(lastTime) >= time.Second {
			report := app.session.Loader().Report()
			app.window.SetTitle(fmt.Sprintf("%s | Tiles: %d/%d | FPS: %d",
				app.cfg.Window.Title, report.Loaded, report.Total, frames))
			frames = 0
			lastTime = time.Now()
		}
	}

	return nil
}

func (app *App) Cleanup() {
	if app.session != nil {
		app.session.Close()
	}
	if app.gpu != nil {
		app.gpu.Release()
	}
	if app.queue != nil {
		app.queue.Release()
	}
	if app.device != nil {
		app.device.Release()
	}
	if app.adapter != nil {
		app.adapter.Release()
	}
	if app.surface != nil {
		app.surface.Release()
	}
	if app.instance != nil {
		app.instance.Release()
	}
	if app.window != nil {
		app.window.Destroy()
	}
	glfw.Terminate()
}
