package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
)

type Options struct {
	Scene raytracing.Options
}

// Renderer ties a backend to the scene living on its device and the frame
// scheduler presenting it.
type Renderer struct {
	backend   Backend
	scene     *raytracing.Scene
	scheduler *FrameScheduler
	metrics   *core.FrameMetrics
}

func New(backend Backend, opts Options, metrics *core.FrameMetrics) (*Renderer, error) {
	scene, err := raytracing.NewScene(backend.Device(), opts.Scene)
	if err != nil {
		return nil, err
	}
	scheduler, err := NewFrameScheduler(backend.Device(), scene, backend.Pipeline(), metrics)
	if err != nil {
		scene.Destroy()
		return nil, err
	}
	return &Renderer{
		backend:   backend,
		scene:     scene,
		scheduler: scheduler,
		metrics:   scheduler.metrics,
	}, nil
}

func (r *Renderer) Scene() *raytracing.Scene { return r.scene }

func (r *Renderer) Scheduler() *FrameScheduler { return r.scheduler }

func (r *Renderer) Camera() *Camera { return r.scheduler.Camera() }

func (r *Renderer) Metrics() *core.FrameMetrics { return r.metrics }

// OnResize is safe to call from window callbacks.
func (r *Renderer) OnResize(width, height uint32) {
	r.scheduler.RequestResize(width, height)
}

// DrawFrame runs one frame. A skipped frame is not an error.
func (r *Renderer) DrawFrame(deltaTime float64) error {
	ok, err := r.scheduler.BeginFrame()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.scheduler.DrawFrame(); err != nil {
		core.LogError(err.Error())
		if core.IsFatal(err) {
			return err
		}
		if abandonErr := r.scheduler.AbandonFrame(); abandonErr != nil {
			return errors.Join(err, abandonErr)
		}
		return err
	}
	if err := r.scheduler.EndFrame(); err != nil {
		core.LogError("renderer EndFrame failed: %s", err)
		return err
	}
	r.metrics.Update(deltaTime)
	return nil
}

func (r *Renderer) Shutdown() error {
	r.scheduler.Destroy()
	r.scene.Destroy()
	if err := r.backend.Shutdown(); err != nil {
		return fmt.Errorf("backend shutdown: %w", err)
	}
	return nil
}
