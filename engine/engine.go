package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
	"github.com/spaghettifunk/lumen/engine/renderer/hal/software"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       atomic.Pointer[config.Config]
	watcher      *config.Watcher
	events       *core.EventBus
	// platform is nil for the software backend, which runs headless.
	platform  *platform.Platform
	renderer  *renderer.Renderer
	jobs      *systems.JobSystem
	clock     *core.Clock
	metrics   *core.FrameMetrics
	isRunning atomic.Bool
	// isSuspended is set while the window is minimized.
	isSuspended bool
	width       uint32
	height      uint32
	lastTime    float64
	frameCount  uint64
}

func New(g *Game) (*Engine, error) {
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = &ApplicationConfig{}
	}
	path := g.ApplicationConfig.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if g.ApplicationConfig.Backend != "" {
		cfg.Application.Backend = g.ApplicationConfig.Backend
	}
	if g.ApplicationConfig.MaxFrames != 0 {
		cfg.Frame.MaxFrames = g.ApplicationConfig.MaxFrames
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		return nil, err
	}

	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		events:       core.NewEventBus(),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
	}
	e.config.Store(cfg)
	return e, nil
}

// Config returns the configuration currently in effect, including hot
// reloaded changes.
func (e *Engine) Config() *config.Config { return e.config.Load() }

func (e *Engine) Events() *core.EventBus { return e.events }

func (e *Engine) Metrics() *core.FrameMetrics { return e.metrics }

func (e *Engine) Stage() Stage { return e.currentStage }

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	cfg := e.config.Load()
	appConfig := e.gameInstance.ApplicationConfig

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.events.Register(core.EVENT_CODE_CONFIG_RELOADED, e, e.onConfigReloaded)

	backendType, err := renderer.ParseRendererType(cfg.Application.Backend)
	if err != nil {
		return err
	}
	backend, err := e.createBackend(backendType, cfg, appConfig)
	if err != nil {
		return err
	}

	r, err := renderer.New(backend, renderer.Options{
		Scene: raytracing.Options{
			ObjectCapacity:   cfg.RayTracing.ObjectCapacity,
			MaterialCapacity: cfg.RayTracing.MaterialCapacity,
			TextureCapacity:  cfg.RayTracing.TextureCapacity,
			InstanceCapacity: cfg.RayTracing.InstanceCapacity,
		},
	}, e.metrics)
	if err != nil {
		backend.Shutdown()
		return err
	}
	e.renderer = r

	if e.jobs, err = systems.NewJobSystem(cfg.RayTracing.BuildWorkers, cfg.RayTracing.ObjectCapacity); err != nil {
		return err
	}

	if e.watcher, err = config.Watch(e.configPath(), e.reloadConfig); err != nil {
		// Running without hot reload is fine.
		core.LogWarn("config hot reload disabled: %s", err)
	}

	e.gameInstance.Renderer = e.renderer
	e.gameInstance.Jobs = e.jobs
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized with the %s backend", backendType)
	return nil
}

func (e *Engine) configPath() string {
	if p := e.gameInstance.ApplicationConfig.ConfigPath; p != "" {
		return p
	}
	return config.DefaultPath
}

func (e *Engine) createBackend(t renderer.RendererType, cfg *config.Config, appConfig *ApplicationConfig) (renderer.Backend, error) {
	switch t {
	case renderer.Vulkan:
		e.platform = platform.New(e.events)
		if err := e.platform.Startup(cfg.Application.Name, appConfig.StartPosX, appConfig.StartPosY, cfg.Application.Width, cfg.Application.Height); err != nil {
			return nil, err
		}
		width, height := e.platform.FramebufferSize()
		return vulkan.New(e.platform, vulkan.Options{
			ApplicationName: cfg.Application.Name,
			Width:           width,
			Height:          height,
			ShaderDir:       appConfig.ShaderDir,
			Pipeline:        appConfig.Pipeline,
			Debug:           appConfig.Debug,
		})
	default:
		opts := software.DefaultOptions()
		opts.Extent = hal.Extent{Width: cfg.Application.Width, Height: cfg.Application.Height}
		return renderer.NewSoftwareBackend(opts, true), nil
	}
}

// BuildAsync builds a render object on the job system. The returned channel
// yields the build result once.
func (e *Engine) BuildAsync(h raytracing.RenderObjectHandle) <-chan error {
	scene := e.renderer.Scene()
	return e.jobs.Submit(systems.JobTask{
		Name: "blas",
		Run:  func() error { return scene.BuildRenderObject(h) },
		OnFailure: func(err error) {
			core.LogWarn("async build failed: %s", err)
		},
	})
}

// Stop ends the frame loop after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if e.platform != nil {
			e.platform.PumpMessages()
			if e.platform.ShouldClose() {
				break
			}
		}
		if e.isSuspended {
			// Nothing to present into; give the time back.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.frame(delta); err != nil {
			if core.IsFatal(err) || !errors.Is(err, errFrameDropped) {
				core.LogError("frame loop stopped: %s", err)
				e.isRunning.Store(false)
				return err
			}
		}

		e.lastTime = currentTime
		e.frameCount++
		if limit := e.config.Load().Frame.MaxFrames; limit > 0 && e.frameCount >= limit {
			core.LogInfo("reached %d frames, stopping", limit)
			e.isRunning.Store(false)
		}
	}
	return nil
}

var errFrameDropped = errors.New("frame dropped")

// frame runs the game hooks and one renderer frame. Renderer errors that are
// not fatal drop the frame and are wrapped with errFrameDropped.
func (e *Engine) frame(delta float64) error {
	g := e.gameInstance
	if g.FnUpdate != nil {
		if err := g.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update failed: %w", err)
		}
	}
	if g.FnRender != nil {
		if err := g.FnRender(e.renderer.Scene(), delta); err != nil {
			return fmt.Errorf("game render failed: %w", err)
		}
	}
	if err := e.renderer.DrawFrame(delta); err != nil {
		if core.IsFatal(err) {
			return err
		}
		core.LogWarn("frame %d dropped: %s", e.frameCount, err)
		return fmt.Errorf("%w: %w", errFrameDropped, err)
	}
	return nil
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error
	if fn := e.gameInstance.FnShutdown; fn != nil {
		errs = append(errs, fn())
	}
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	if e.jobs != nil {
		errs = append(errs, e.jobs.Shutdown())
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
	}
	if e.platform != nil {
		errs = append(errs, e.platform.Shutdown())
	}
	e.events.Shutdown()
	e.currentStage = EngineStageUninitialized
	return errors.Join(errs...)
}

// GetFramebufferSize returns the width and height (in this order)
// of the application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) reloadConfig(cfg *config.Config) {
	e.config.Store(cfg)
	e.events.Fire(core.EVENT_CODE_CONFIG_RELOADED, e, core.EventContext{})
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onConfigReloaded(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	cfg := e.config.Load()
	core.Logger().Info("configuration applied", "level", cfg.Log.Level, "max_frames", cfg.Frame.MaxFrames)
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// The scheduler skips frames until the surface has an area again.
	e.renderer.OnResize(width, height)
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	return false
}
