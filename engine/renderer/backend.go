package renderer

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// Backend owns a device and the ray-tracing pipeline created for it.
type Backend interface {
	Device() hal.Device
	// Pipeline may return nil when no shaders are available; frames then
	// present the cleared output image.
	Pipeline() hal.RayTracingPipeline
	Shutdown() error
}

type RendererType uint8

const (
	Software RendererType = iota
	Vulkan
)

func (t RendererType) String() string {
	switch t {
	case Software:
		return "software"
	case Vulkan:
		return "vulkan"
	}
	return "unknown"
}

func ParseRendererType(s string) (RendererType, error) {
	switch strings.ToLower(s) {
	case "software", "":
		return Software, nil
	case "vulkan":
		return Vulkan, nil
	}
	return Software, fmt.Errorf("unknown renderer backend %q", s)
}
