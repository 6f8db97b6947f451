package raytracing

import (
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// DescriptorBindings remembers which bindings of the ray-tracing descriptor
// set point at reallocated resources. Reallocation only marks a binding; the
// write happens once, in Flush, right before the set is used.
type DescriptorBindings struct {
	mu         sync.Mutex
	set        hal.DescriptorSet
	structures map[uint32]hal.AccelerationStructure
	images     map[uint32]hal.Image
	buffers    map[uint32]hal.Buffer
	dirty      map[uint32]bool
}

func NewDescriptorBindings(set hal.DescriptorSet) *DescriptorBindings {
	return &DescriptorBindings{
		set:        set,
		structures: make(map[uint32]hal.AccelerationStructure),
		images:     make(map[uint32]hal.Image),
		buffers:    make(map[uint32]hal.Buffer),
		dirty:      make(map[uint32]bool),
	}
}

func (d *DescriptorBindings) Set() hal.DescriptorSet {
	return d.set
}

func (d *DescriptorBindings) SetAccelerationStructure(binding uint32, as hal.AccelerationStructure) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.structures[binding] = as
	d.dirty[binding] = true
}

func (d *DescriptorBindings) SetImage(binding uint32, image hal.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images[binding] = image
	d.dirty[binding] = true
}

func (d *DescriptorBindings) SetBuffer(binding uint32, buffer hal.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers[binding] = buffer
	d.dirty[binding] = true
}

// Dirty reports whether binding waits for a Flush.
func (d *DescriptorBindings) Dirty(binding uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty[binding]
}

// Flush writes the dirty bindings and returns how many were written.
func (d *DescriptorBindings) Flush() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	written := 0
	for binding := range d.dirty {
		switch {
		case d.structures[binding] != nil:
			d.set.WriteAccelerationStructure(binding, d.structures[binding])
		case d.images[binding] != nil:
			d.set.WriteStorageImage(binding, d.images[binding])
		case d.buffers[binding] != nil:
			d.set.WriteStorageBuffer(binding, d.buffers[binding])
		default:
			core.LogWarn("descriptor binding %d marked dirty without a resource", binding)
			delete(d.dirty, binding)
			continue
		}
		delete(d.dirty, binding)
		written++
	}
	return written
}
