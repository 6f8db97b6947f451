package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// ResultAlignment is the required alignment of an acceleration structure
// inside its result buffer.
const ResultAlignment = 256

// AccelerationStructure owns the GPU memory of one bottom- or top-level
// structure. The scratch buffer is only needed while a build is in flight.
type AccelerationStructure struct {
	Type    hal.AccelerationStructureType
	Label   string
	Result  hal.Buffer
	Scratch hal.Buffer
	Handle  hal.AccelerationStructure
	Address uint64
	// Size and ScratchSize are the aligned build sizes.
	Size        uint64
	ScratchSize uint64
}

// alignBuildSizes applies the hard alignment rules to sizes reported by the
// device.
func alignBuildSizes(sizes hal.BuildSizes, limits hal.Limits) hal.BuildSizes {
	return hal.BuildSizes{
		AccelerationStructureSize: math.AlignUp(sizes.AccelerationStructureSize, ResultAlignment),
		BuildScratchSize:          math.AlignUp(sizes.BuildScratchSize, limits.MinScratchAlignment),
	}
}

// newAccelerationStructure allocates the result buffer and, when withScratch
// is set, a scratch buffer, then creates the structure bound to the result.
func newAccelerationStructure(device hal.Device, typ hal.AccelerationStructureType, label string, sizes hal.BuildSizes, withScratch bool) (*AccelerationStructure, error) {
	aligned := alignBuildSizes(sizes, device.Limits())
	as := &AccelerationStructure{
		Type:        typ,
		Label:       label,
		Size:        aligned.AccelerationStructureSize,
		ScratchSize: aligned.BuildScratchSize,
	}

	result, err := device.CreateBuffer(hal.BufferDescriptor{
		Label:    label + ".result",
		Size:     as.Size,
		Usage:    hal.BufferUsageAccelerationStructureStorage | hal.BufferUsageShaderDeviceAddress,
		Location: hal.MemoryDeviceLocal,
		// Bottom-level results are built on the compute queue and read by
		// the top-level build on the graphics queue.
		Shared:   typ == hal.BottomLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s result buffer: %w", typ, err)
	}
	as.Result = result

	if withScratch {
		scratch, err := newScratchBuffer(device, label+".scratch", as.ScratchSize)
		if err != nil {
			as.Destroy()
			return nil, err
		}
		as.Scratch = scratch
	}

	handle, err := device.CreateAccelerationStructure(hal.AccelerationStructureDescriptor{
		Label:  label,
		Type:   typ,
		Buffer: result,
		Size:   as.Size,
	})
	if err != nil {
		as.Destroy()
		return nil, fmt.Errorf("failed to create %s structure: %w", typ, err)
	}
	as.Handle = handle
	as.Address = handle.DeviceAddress()
	return as, nil
}

// newScratchBuffer over-allocates by the scratch alignment so the aligned
// address returned by scratchAddress still has size usable bytes.
func newScratchBuffer(device hal.Device, label string, size uint64) (hal.Buffer, error) {
	if a := device.Limits().MinScratchAlignment; a > 1 {
		size += a - 1
	}
	scratch, err := device.CreateBuffer(hal.BufferDescriptor{
		Label:    label,
		Size:     size,
		Usage:    hal.BufferUsageStorage | hal.BufferUsageShaderDeviceAddress,
		Location: hal.MemoryDeviceLocal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch buffer: %w", err)
	}
	return scratch, nil
}

func scratchAddress(device hal.Device, scratch hal.Buffer) uint64 {
	return math.AlignUp(scratch.DeviceAddress(), device.Limits().MinScratchAlignment)
}

// scratchCapacity is the usable size of a buffer made by newScratchBuffer.
func scratchCapacity(device hal.Device, scratch hal.Buffer) uint64 {
	if a := device.Limits().MinScratchAlignment; a > 1 {
		return scratch.Size() - (a - 1)
	}
	return scratch.Size()
}

// ReleaseScratch drops the transient build memory.
func (a *AccelerationStructure) ReleaseScratch() {
	if a.Scratch != nil {
		a.Scratch.Destroy()
		a.Scratch = nil
	}
}

func (a *AccelerationStructure) Destroy() {
	if a == nil {
		return
	}
	if a.Handle != nil {
		a.Handle.Destroy()
		a.Handle = nil
	}
	a.ReleaseScratch()
	if a.Result != nil {
		a.Result.Destroy()
		a.Result = nil
	}
	a.Address = 0
}
