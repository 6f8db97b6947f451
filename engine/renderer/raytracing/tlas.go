package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// growableBuffer is a device-local buffer with a host-visible staging twin.
// Both only ever grow.
type growableBuffer struct {
	device  hal.Device
	label   string
	usage   hal.BufferUsage
	minSize uint64
	staging hal.Buffer
	buffer  hal.Buffer
	retire  func(resources ...destroyer)
}

func (g *growableBuffer) capacity() uint64 {
	if g.buffer == nil {
		return 0
	}
	return g.buffer.Size()
}

// ensure makes room for size bytes. It reports whether the buffers were
// reallocated, which changes the device address.
func (g *growableBuffer) ensure(size uint64) (bool, error) {
	if size < g.minSize {
		size = g.minSize
	}
	if size <= g.capacity() {
		return false, nil
	}
	size = math.AlignUp(size, ResultAlignment)

	buffer, err := g.device.CreateBuffer(hal.BufferDescriptor{
		Label:    g.label,
		Size:     size,
		Usage:    g.usage | hal.BufferUsageTransferDst | hal.BufferUsageShaderDeviceAddress,
		Location: hal.MemoryDeviceLocal,
	})
	if err != nil {
		return false, fmt.Errorf("failed to grow %s to %d bytes: %w", g.label, size, err)
	}
	staging, err := g.device.CreateBuffer(hal.BufferDescriptor{
		Label:    g.label + ".staging",
		Size:     size,
		Usage:    hal.BufferUsageTransferSrc,
		Location: hal.MemoryHostVisible,
	})
	if err != nil {
		buffer.Destroy()
		return false, fmt.Errorf("failed to grow %s staging to %d bytes: %w", g.label, size, err)
	}

	var old []destroyer
	if g.buffer != nil {
		old = append(old, g.buffer, g.staging)
	}
	g.buffer, g.staging = buffer, staging
	g.retire(old...)
	core.LogDebug("%s grown to %d bytes", g.label, size)
	return true, nil
}

// upload writes data to the staging buffer and records the copy.
func (g *growableBuffer) upload(cb hal.CommandBuffer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := g.staging.Write(0, data); err != nil {
		return err
	}
	cb.CopyBuffer(g.staging, g.buffer, hal.BufferCopy{Size: uint64(len(data))})
	return nil
}

func (g *growableBuffer) destroy() {
	if g.buffer != nil {
		g.buffer.Destroy()
		g.staging.Destroy()
		g.buffer, g.staging = nil, nil
	}
}

// frameInstance is one visible object resolved for the current frame.
type frameInstance struct {
	transform    math.Affine3x4
	blasAddress  uint64
	descriptions []GeometryDescription
	materials    []MaterialHandle
}

// TlasAggregator assembles the per-frame top-level structure and the tables
// shaders read from. It is driven by a single goroutine.
type TlasAggregator struct {
	device   hal.Device
	bindings *DescriptorBindings
	retire   func(resources ...destroyer)

	instances    *growableBuffer
	descriptions *growableBuffer
	materials    *growableBuffer
	scratch      hal.Buffer
	structure    *AccelerationStructure
}

func NewTlasAggregator(device hal.Device, bindings *DescriptorBindings, instanceCapacity int, retire func(resources ...destroyer)) *TlasAggregator {
	if instanceCapacity < 1 {
		instanceCapacity = 1
	}
	newBuffer := func(label string, usage hal.BufferUsage, minSize uint64) *growableBuffer {
		return &growableBuffer{device: device, label: label, usage: usage, minSize: minSize, retire: retire}
	}
	return &TlasAggregator{
		device:       device,
		bindings:     bindings,
		retire:       retire,
		instances:    newBuffer("tlas.instances", hal.BufferUsageAccelerationStructureInput|hal.BufferUsageStorage, uint64(instanceCapacity)*hal.InstanceSize),
		descriptions: newBuffer("tlas.descriptions", hal.BufferUsageStorage, uint64(instanceCapacity)*GeometryDescriptionSize),
		materials:    newBuffer("tlas.materials", hal.BufferUsageStorage, MaterialSize),
	}
}

// Structure returns the current top-level structure, nil before the first
// frame.
func (t *TlasAggregator) Structure() *AccelerationStructure {
	return t.structure
}

// InstanceBuffer returns the device-local instance buffer.
func (t *TlasAggregator) InstanceBuffer() hal.Buffer { return t.instances.buffer }

// DescriptionBuffer returns the device-local geometry description buffer.
func (t *TlasAggregator) DescriptionBuffer() hal.Buffer { return t.descriptions.buffer }

// MaterialBuffer returns the device-local material buffer.
func (t *TlasAggregator) MaterialBuffer() hal.Buffer { return t.materials.buffer }

// record encodes the resolved instances, grows what must grow and records the
// uploads followed by the top-level build into cb.
func (t *TlasAggregator) record(cb hal.CommandBuffer, frame []frameInstance, materialIndex func(MaterialHandle) uint32, materialBytes []byte) (FrameStats, error) {
	var stats FrameStats

	instanceBytes := make([]byte, len(frame)*hal.InstanceSize)
	var descriptionBytes []byte
	for i, in := range frame {
		hal.Instance{
			Transform:             in.transform,
			CustomIndex:           stats.Geometries,
			Mask:                  0xFF,
			Flags:                 hal.InstanceTriangleFacingCullDisable,
			AccelerationStructure: in.blasAddress,
		}.Encode(instanceBytes[i*hal.InstanceSize:])

		for j, d := range in.descriptions {
			d.MaterialIndex = materialIndex(in.materials[j])
			chunk := make([]byte, GeometryDescriptionSize)
			d.Encode(chunk)
			descriptionBytes = append(descriptionBytes, chunk...)
		}
		stats.Geometries += uint32(len(in.descriptions))
	}
	stats.Instances = uint32(len(frame))

	var err error
	if stats.InstanceBufferGrew, err = t.instances.ensure(uint64(len(instanceBytes))); err != nil {
		return stats, err
	}
	if stats.InstanceBufferGrew {
		t.bindings.SetBuffer(hal.BindingInstances, t.instances.buffer)
	}
	if stats.DescriptionBufferGrew, err = t.descriptions.ensure(uint64(len(descriptionBytes))); err != nil {
		return stats, err
	}
	if stats.DescriptionBufferGrew {
		t.bindings.SetBuffer(hal.BindingGeometryDescriptions, t.descriptions.buffer)
	}
	if stats.MaterialBufferGrew, err = t.materials.ensure(uint64(len(materialBytes))); err != nil {
		return stats, err
	}
	if stats.MaterialBufferGrew {
		t.bindings.SetBuffer(hal.BindingMaterials, t.materials.buffer)
	}

	info := hal.AccelerationStructureBuildInfo{
		Type:  hal.TopLevel,
		Flags: hal.BuildPreferFastTrace,
		Geometries: []hal.AccelerationStructureGeometry{{
			Instances: &hal.InstanceGeometry{Address: t.instances.buffer.DeviceAddress()},
		}},
	}
	sizes := alignBuildSizes(t.device.AccelerationStructureBuildSizes(&info, []uint32{stats.Instances}), t.device.Limits())
	if t.structure == nil || sizes.AccelerationStructureSize > t.structure.Size {
		structure, err := newAccelerationStructure(t.device, hal.TopLevel, "tlas", sizes, false)
		if err != nil {
			return stats, err
		}
		if t.structure != nil {
			t.retire(t.structure)
		}
		t.structure = structure
		t.bindings.SetAccelerationStructure(hal.BindingTopLevel, structure.Handle)
		stats.TlasRecreated = true
		core.LogDebug("tlas recreated with %d bytes for %d instances", structure.Size, stats.Instances)
	}
	if t.scratch == nil || sizes.BuildScratchSize > scratchCapacity(t.device, t.scratch) {
		scratch, err := newScratchBuffer(t.device, "tlas.scratch", sizes.BuildScratchSize)
		if err != nil {
			return stats, err
		}
		if t.scratch != nil {
			t.retire(t.scratch)
		}
		t.scratch = scratch
	}
	info.Destination = t.structure.Handle
	info.ScratchAddress = scratchAddress(t.device, t.scratch)

	if err := t.instances.upload(cb, instanceBytes); err != nil {
		return stats, fmt.Errorf("instance upload: %w", err)
	}
	if err := t.descriptions.upload(cb, descriptionBytes); err != nil {
		return stats, fmt.Errorf("description upload: %w", err)
	}
	if err := t.materials.upload(cb, materialBytes); err != nil {
		return stats, fmt.Errorf("material upload: %w", err)
	}
	cb.PipelineBarrier(hal.StageTransfer, hal.StageAccelerationStructureBuild|hal.StageRayTracingShader, hal.MemoryBarrier{
		SrcAccess: hal.AccessTransferWrite,
		DstAccess: hal.AccessAccelerationStructureRead | hal.AccessAccelerationStructureWrite | hal.AccessShaderRead,
	})
	cb.BuildAccelerationStructures(
		[]hal.AccelerationStructureBuildInfo{info},
		[][]hal.BuildRange{{{PrimitiveCount: stats.Instances}}},
	)
	return stats, nil
}

func (t *TlasAggregator) destroy() {
	t.instances.destroy()
	t.descriptions.destroy()
	t.materials.destroy()
	if t.scratch != nil {
		t.scratch.Destroy()
		t.scratch = nil
	}
	if t.structure != nil {
		t.structure.Destroy()
		t.structure = nil
	}
}
