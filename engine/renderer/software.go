package renderer

import (
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
	"github.com/spaghettifunk/lumen/engine/renderer/hal/software"
)

// SoftwareBackend runs the renderer on the CPU device. It needs no window.
type SoftwareBackend struct {
	device   *software.Device
	pipeline *software.Pipeline
}

// NewSoftwareBackend creates a CPU device. With tracing disabled frames
// present the cleared output image.
func NewSoftwareBackend(opts software.Options, tracing bool) *SoftwareBackend {
	b := &SoftwareBackend{device: software.NewDevice(opts)}
	if tracing {
		b.pipeline = software.NewPipeline("software")
	}
	return b
}

func (b *SoftwareBackend) Device() hal.Device { return b.device }

// Stats reports the work executed on the CPU device so far.
func (b *SoftwareBackend) Stats() software.Stats { return b.device.Stats() }

func (b *SoftwareBackend) Pipeline() hal.RayTracingPipeline {
	if b.pipeline == nil {
		return nil
	}
	return b.pipeline
}

func (b *SoftwareBackend) Shutdown() error {
	b.device.Destroy()
	return nil
}
