package vulkan

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type VulkanAccelerationStructure struct {
	context *VulkanContext
	kind    hal.AccelerationStructureType
	label   string
	Handle  vk.AccelerationStructure
	address uint64
}

func NewVulkanAccelerationStructure(context *VulkanContext, desc hal.AccelerationStructureDescriptor) (*VulkanAccelerationStructure, error) {
	buffer, ok := desc.Buffer.(*VulkanBuffer)
	if !ok {
		return nil, fmt.Errorf("acceleration structure %q on foreign buffer %T", desc.Label, desc.Buffer)
	}
	as := &VulkanAccelerationStructure{context: context, kind: desc.Type, label: desc.Label}
	createInfo := vk.AccelerationStructureCreateInfo{
		SType:  vk.StructureTypeAccelerationStructureCreateInfo,
		Buffer: buffer.Handle,
		Offset: vk.DeviceSize(desc.Offset),
		Size:   vk.DeviceSize(desc.Size),
		Type:   accelerationStructureType(desc.Type),
	}
	device := context.Device.LogicalDevice
	if err := resultError("vkCreateAccelerationStructureKHR", vk.CreateAccelerationStructure(device, &createInfo, context.Allocator, &as.Handle)); err != nil {
		return nil, fmt.Errorf("acceleration structure %q: %w", desc.Label, err)
	}
	addressInfo := vk.AccelerationStructureDeviceAddressInfo{
		SType:                 vk.StructureTypeAccelerationStructureDeviceAddressInfo,
		AccelerationStructure: as.Handle,
	}
	as.address = uint64(vk.GetAccelerationStructureDeviceAddress(device, &addressInfo))
	return as, nil
}

func (as *VulkanAccelerationStructure) Type() hal.AccelerationStructureType { return as.kind }

func (as *VulkanAccelerationStructure) DeviceAddress() uint64 { return as.address }

func (as *VulkanAccelerationStructure) Destroy() {
	if as.Handle != vk.NullAccelerationStructure {
		vk.DestroyAccelerationStructure(as.context.Device.LogicalDevice, as.Handle, as.context.Allocator)
		as.Handle = vk.NullAccelerationStructure
	}
}

func accelerationStructureType(t hal.AccelerationStructureType) vk.AccelerationStructureType {
	if t == hal.TopLevel {
		return vk.AccelerationStructureTypeTopLevel
	}
	return vk.AccelerationStructureTypeBottomLevel
}

func buildFlags(flags hal.BuildFlags) vk.BuildAccelerationStructureFlags {
	var out vk.BuildAccelerationStructureFlagBits
	if flags&hal.BuildPreferFastTrace != 0 {
		out |= vk.BuildAccelerationStructurePreferFastTraceBit
	}
	if flags&hal.BuildPreferFastBuild != 0 {
		out |= vk.BuildAccelerationStructurePreferFastBuildBit
	}
	if flags&hal.BuildAllowUpdate != 0 {
		out |= vk.BuildAccelerationStructureAllowUpdateBit
	}
	return vk.BuildAccelerationStructureFlags(out)
}

// The address unions are plain byte arrays in the bindings; device addresses
// occupy their first eight bytes.
func deviceAddressConst(address uint64) vk.DeviceOrHostAddressConst {
	var a vk.DeviceOrHostAddressConst
	binary.LittleEndian.PutUint64(a[:], address)
	return a
}

func deviceAddress(address uint64) vk.DeviceOrHostAddress {
	var a vk.DeviceOrHostAddress
	binary.LittleEndian.PutUint64(a[:], address)
	return a
}

// geometryData copies a C geometry struct into the geometry union.
func geometryData(ref unsafe.Pointer, size uintptr) vk.AccelerationStructureGeometryData {
	var d vk.AccelerationStructureGeometryData
	copy(d[:], unsafe.Slice((*byte)(ref), size))
	return d
}

func vulkanGeometry(g hal.AccelerationStructureGeometry) vk.AccelerationStructureGeometry {
	geometry := vk.AccelerationStructureGeometry{
		SType: vk.StructureTypeAccelerationStructureGeometry,
	}
	if g.Flags&hal.GeometryOpaque != 0 {
		geometry.Flags = vk.GeometryFlags(vk.GeometryOpaqueBit)
	}
	switch {
	case g.Triangles != nil:
		triangles := vk.AccelerationStructureGeometryTrianglesData{
			SType:         vk.StructureTypeAccelerationStructureGeometryTrianglesData,
			VertexFormat:  vk.FormatR32g32b32Sfloat,
			VertexData:    deviceAddressConst(g.Triangles.VertexAddress),
			VertexStride:  vk.DeviceSize(g.Triangles.VertexStride),
			MaxVertex:     g.Triangles.MaxVertex,
			IndexType:     vk.IndexTypeUint32,
			IndexData:     deviceAddressConst(g.Triangles.IndexAddress),
			TransformData: deviceAddressConst(g.Triangles.TransformAddress),
		}
		ref, _ := triangles.PassRef()
		geometry.GeometryType = vk.GeometryTypeTriangles
		geometry.Geometry = geometryData(unsafe.Pointer(ref), unsafe.Sizeof(*ref))
	case g.Instances != nil:
		instances := vk.AccelerationStructureGeometryInstancesData{
			SType:           vk.StructureTypeAccelerationStructureGeometryInstancesData,
			ArrayOfPointers: vk.False,
			Data:            deviceAddressConst(g.Instances.Address),
		}
		ref, _ := instances.PassRef()
		geometry.GeometryType = vk.GeometryTypeInstances
		geometry.Geometry = geometryData(unsafe.Pointer(ref), unsafe.Sizeof(*ref))
	}
	return geometry
}

func buildGeometryInfo(info *hal.AccelerationStructureBuildInfo) vk.AccelerationStructureBuildGeometryInfo {
	geometries := make([]vk.AccelerationStructureGeometry, len(info.Geometries))
	for i, g := range info.Geometries {
		geometries[i] = vulkanGeometry(g)
	}
	out := vk.AccelerationStructureBuildGeometryInfo{
		SType:         vk.StructureTypeAccelerationStructureBuildGeometryInfo,
		Type:          accelerationStructureType(info.Type),
		Flags:         buildFlags(info.Flags),
		Mode:          vk.BuildAccelerationStructureModeBuild,
		GeometryCount: uint32(len(geometries)),
		PGeometries:   geometries,
		ScratchData:   deviceAddress(info.ScratchAddress),
	}
	if dst, ok := info.Destination.(*VulkanAccelerationStructure); ok {
		out.DstAccelerationStructure = dst.Handle
	}
	return out
}

func buildSizes(context *VulkanContext, info *hal.AccelerationStructureBuildInfo, primitiveCounts []uint32) hal.BuildSizes {
	geometryInfo := buildGeometryInfo(info)
	sizes := vk.AccelerationStructureBuildSizesInfo{
		SType: vk.StructureTypeAccelerationStructureBuildSizesInfo,
	}
	vk.GetAccelerationStructureBuildSizes(context.Device.LogicalDevice,
		vk.AccelerationStructureBuildTypeDevice, &geometryInfo, primitiveCounts, &sizes)
	sizes.Deref()
	return hal.BuildSizes{
		AccelerationStructureSize: uint64(sizes.AccelerationStructureSize),
		BuildScratchSize:          uint64(sizes.BuildScratchSize),
	}
}
