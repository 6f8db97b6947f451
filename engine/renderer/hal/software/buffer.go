package software

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type Buffer struct {
	device    *Device
	label     string
	usage     hal.BufferUsage
	location  hal.MemoryLocation
	address   uint64
	data      []byte
	destroyed bool

	shared  bool
	owner   hal.QueueType
	claimed bool
}

func (b *Buffer) Label() string { return b.label }

func (b *Buffer) Size() uint64 { return uint64(len(b.data)) }

func (b *Buffer) DeviceAddress() uint64 { return b.address }

func (b *Buffer) Usage() hal.BufferUsage { return b.usage }

// Shared reports whether the buffer was created for use from every queue.
func (b *Buffer) Shared() bool { return b.shared }

// claim gives an exclusive buffer to the first queue that touches it and
// rejects every other queue. Callers hold d.mu.
func (b *Buffer) claim(queue hal.QueueType) error {
	if b.shared {
		return nil
	}
	if !b.claimed {
		b.owner, b.claimed = queue, true
		return nil
	}
	if b.owner != queue {
		return fmt.Errorf("exclusive buffer %q belongs to the %s queue, used on the %s queue: %w", b.label, b.owner, queue, ErrValidation)
	}
	return nil
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()

	if b.destroyed {
		return fmt.Errorf("write to destroyed buffer %q: %w", b.label, ErrValidation)
	}
	if b.location != hal.MemoryHostVisible {
		return fmt.Errorf("buffer %q is not host visible: %w", b.label, ErrValidation)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write of %d bytes at %d overflows buffer %q (%d bytes): %w",
			len(data), offset, b.label, len(b.data), ErrValidation)
	}
	copy(b.data[offset:], data)
	return nil
}

// Contents returns a copy of the buffer memory.
func (b *Buffer) Contents() []byte {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) Destroyed() bool {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	return b.destroyed
}

func (b *Buffer) Destroy() {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	if b.destroyed {
		return
	}
	b.destroyed = true
	delete(b.device.buffers, b)
	b.device.stats.BuffersAlive--
}

type Image struct {
	label     string
	extent    hal.Extent
	format    hal.Format
	usage     hal.ImageUsage
	layout    hal.ImageLayout
	destroyed bool
}

func (i *Image) Label() string { return i.label }

func (i *Image) Extent() hal.Extent { return i.extent }

func (i *Image) Format() hal.Format { return i.format }

// Layout is only meaningful between submissions.
func (i *Image) Layout() hal.ImageLayout { return i.layout }

func (i *Image) Destroy() { i.destroyed = true }

type AccelerationStructure struct {
	device     *Device
	label      string
	kind       hal.AccelerationStructureType
	buffer     *Buffer
	address    uint64
	size       uint64
	built      bool
	primitives uint32
	instances  []hal.Instance
	destroyed  bool
	// inputs are the vertex and index buffers of the last bottom-level
	// build, read again by hit shaders.
	inputs []*Buffer
}

func (a *AccelerationStructure) Type() hal.AccelerationStructureType { return a.kind }

func (a *AccelerationStructure) DeviceAddress() uint64 { return a.address }

// Built reports whether a build into the structure has executed.
func (a *AccelerationStructure) Built() bool {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	return a.built
}

// Primitives is the triangle count of the last bottom-level build.
func (a *AccelerationStructure) Primitives() uint32 {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	return a.primitives
}

// Instances returns the instances of the last top-level build.
func (a *AccelerationStructure) Instances() []hal.Instance {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	return append([]hal.Instance(nil), a.instances...)
}

func (a *AccelerationStructure) Destroy() {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	if a.destroyed {
		return
	}
	a.destroyed = true
	delete(a.device.structures, a.address)
}

type DescriptorSet struct {
	label    string
	bindings map[uint32]interface{}
	writes   int
}

func (s *DescriptorSet) WriteAccelerationStructure(binding uint32, as hal.AccelerationStructure) {
	s.bindings[binding] = as
	s.writes++
}

func (s *DescriptorSet) WriteStorageImage(binding uint32, image hal.Image) {
	s.bindings[binding] = image
	s.writes++
}

func (s *DescriptorSet) WriteStorageBuffer(binding uint32, buffer hal.Buffer) {
	s.bindings[binding] = buffer
	s.writes++
}

// Writes counts descriptor updates since creation.
func (s *DescriptorSet) Writes() int { return s.writes }

// Binding returns the resource last written to binding.
func (s *DescriptorSet) Binding(binding uint32) interface{} { return s.bindings[binding] }

func (s *DescriptorSet) Destroy() {}

// Pipeline stands in for a ray-tracing pipeline created by shader tooling.
type Pipeline struct {
	label string
}

func NewPipeline(label string) *Pipeline {
	return &Pipeline{label: label}
}

func (p *Pipeline) Label() string { return p.label }
