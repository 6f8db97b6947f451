package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type VulkanBuffer struct {
	context *VulkanContext
	label   string
	size    uint64

	Handle  vk.Buffer
	Memory  vk.DeviceMemory
	address uint64
	mapped  unsafe.Pointer
}

func bufferUsageFlags(usage hal.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage&hal.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage&hal.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	if usage&hal.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage&hal.BufferUsageShaderDeviceAddress != 0 {
		flags |= vk.BufferUsageShaderDeviceAddressBit
	}
	if usage&hal.BufferUsageAccelerationStructureInput != 0 {
		flags |= vk.BufferUsageAccelerationStructureBuildInputReadOnlyBit
	}
	if usage&hal.BufferUsageAccelerationStructureStorage != 0 {
		flags |= vk.BufferUsageAccelerationStructureStorageBit
	}
	if usage&hal.BufferUsageShaderBindingTable != 0 {
		flags |= vk.BufferUsageShaderBindingTableBit
	}
	return vk.BufferUsageFlags(flags)
}

// sharedQueueFamilies lists the distinct graphics and compute families.
func sharedQueueFamilies(context *VulkanContext) []uint32 {
	graphics, compute := context.Device.GraphicsQueueIndex, context.Device.ComputeQueueIndex
	if graphics == compute {
		return []uint32{graphics}
	}
	return []uint32{graphics, compute}
}

func NewVulkanBuffer(context *VulkanContext, desc hal.BufferDescriptor) (*VulkanBuffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size", desc.Label)
	}
	b := &VulkanBuffer{context: context, label: desc.Label, size: desc.Size}
	device := context.Device.LogicalDevice

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if desc.Shared {
		if families := sharedQueueFamilies(context); len(families) > 1 {
			createInfo.SharingMode = vk.SharingModeConcurrent
			createInfo.QueueFamilyIndexCount = uint32(len(families))
			createInfo.PQueueFamilyIndices = families
		}
	}
	if err := resultError("vkCreateBuffer", vk.CreateBuffer(device, &createInfo, context.Allocator, &b.Handle)); err != nil {
		return nil, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, b.Handle, &requirements)
	requirements.Deref()

	properties := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.Location == hal.MemoryHostVisible {
		properties = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	memoryIndex, err := context.FindMemoryIndex(requirements.MemoryTypeBits, properties)
	if err != nil {
		vk.DestroyBuffer(device, b.Handle, context.Allocator)
		return nil, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryIndex,
	}
	if desc.Usage&hal.BufferUsageShaderDeviceAddress != 0 {
		flagsInfo := vk.MemoryAllocateFlagsInfo{
			SType: vk.StructureTypeMemoryAllocateFlagsInfo,
			Flags: vk.MemoryAllocateFlags(vk.MemoryAllocateDeviceAddressBit),
		}
		ref, _ := flagsInfo.PassRef()
		allocInfo.PNext = unsafe.Pointer(ref)
	}
	err = context.Locks.SafeCall(MemoryManagement, func() error {
		return resultError("vkAllocateMemory", vk.AllocateMemory(device, &allocInfo, context.Allocator, &b.Memory))
	})
	if err != nil {
		vk.DestroyBuffer(device, b.Handle, context.Allocator)
		return nil, fmt.Errorf("buffer %q (%d bytes): %w", desc.Label, desc.Size, err)
	}
	if err := resultError("vkBindBufferMemory", vk.BindBufferMemory(device, b.Handle, b.Memory, 0)); err != nil {
		b.Destroy()
		return nil, err
	}

	if desc.Location == hal.MemoryHostVisible {
		if err := resultError("vkMapMemory", vk.MapMemory(device, b.Memory, 0, vk.DeviceSize(desc.Size), 0, &b.mapped)); err != nil {
			b.Destroy()
			return nil, err
		}
	}
	if desc.Usage&hal.BufferUsageShaderDeviceAddress != 0 {
		info := vk.BufferDeviceAddressInfo{
			SType:  vk.StructureTypeBufferDeviceAddressInfo,
			Buffer: b.Handle,
		}
		b.address = uint64(vk.GetBufferDeviceAddress(device, &info))
	}
	return b, nil
}

func (b *VulkanBuffer) Label() string { return b.label }

func (b *VulkanBuffer) Size() uint64 { return b.size }

func (b *VulkanBuffer) DeviceAddress() uint64 { return b.address }

func (b *VulkanBuffer) Write(offset uint64, data []byte) error {
	if b.mapped == nil {
		return fmt.Errorf("buffer %q is not host visible", b.label)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write of %d bytes at %d overflows buffer %q of %d bytes", len(data), offset, b.label, b.size)
	}
	if len(data) == 0 {
		return nil
	}
	dst := unsafe.Slice((*byte)(unsafe.Add(b.mapped, offset)), len(data))
	copy(dst, data)
	return nil
}

func (b *VulkanBuffer) Destroy() {
	device := b.context.Device.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(device, b.Memory)
		b.mapped = nil
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, b.Handle, b.context.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, b.Memory, b.context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
}
