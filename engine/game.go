package engine

import (
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Renderer and Jobs are set by the engine before FnInitialize runs.
	Renderer     *renderer.Renderer
	Jobs         *systems.JobSystem
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error

// Render marks what is visible this frame, typically with scene.Render.
type Render func(scene *raytracing.Scene, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
