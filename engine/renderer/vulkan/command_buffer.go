package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandBuffer owns its command pool, so buffers for the compute queue
// can be recorded from several goroutines at once.
type VulkanCommandBuffer struct {
	context *VulkanContext
	pool    vk.CommandPool
	Handle  vk.CommandBuffer
	State   VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, queueFamily uint32) (*VulkanCommandBuffer, error) {
	cb := &VulkanCommandBuffer{context: context, State: COMMAND_BUFFER_STATE_NOT_ALLOCATED}
	device := context.Device.LogicalDevice

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := resultError("vkCreateCommandPool", vk.CreateCommandPool(device, &poolCreateInfo, context.Allocator, &cb.pool)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cb.pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(device, &allocateInfo, handles)); err != nil {
		vk.DestroyCommandPool(device, cb.pool, context.Allocator)
		core.LogError(err.Error())
		return nil, err
	}
	cb.Handle = handles[0]
	cb.State = COMMAND_BUFFER_STATE_READY
	return cb, nil
}

func (v *VulkanCommandBuffer) Begin(oneTimeSubmit bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if err := resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(v.Handle, &beginInfo)); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if err := resultError("vkEndCommandBuffer", vk.EndCommandBuffer(v.Handle)); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) Reset() error {
	if err := resultError("vkResetCommandBuffer", vk.ResetCommandBuffer(v.Handle, 0)); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) Destroy() {
	device := v.context.Device.LogicalDevice
	if v.Handle != nil {
		vk.FreeCommandBuffers(device, v.pool, 1, []vk.CommandBuffer{v.Handle})
		v.Handle = nil
	}
	if v.pool != vk.NullCommandPool {
		vk.DestroyCommandPool(device, v.pool, v.context.Allocator)
		v.pool = vk.NullCommandPool
	}
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst hal.Buffer, regions ...hal.BufferCopy) {
	s, d := src.(*VulkanBuffer), dst.(*VulkanBuffer)
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(v.Handle, s.Handle, d.Handle, uint32(len(copies)), copies)
}

func accessFlags(access hal.Access) vk.AccessFlags {
	var flags vk.AccessFlagBits
	if access&hal.AccessTransferRead != 0 {
		flags |= vk.AccessTransferReadBit
	}
	if access&hal.AccessTransferWrite != 0 {
		flags |= vk.AccessTransferWriteBit
	}
	if access&hal.AccessAccelerationStructureRead != 0 {
		flags |= vk.AccessAccelerationStructureReadBit
	}
	if access&hal.AccessAccelerationStructureWrite != 0 {
		flags |= vk.AccessAccelerationStructureWriteBit
	}
	if access&hal.AccessShaderRead != 0 {
		flags |= vk.AccessShaderReadBit
	}
	if access&hal.AccessShaderWrite != 0 {
		flags |= vk.AccessShaderWriteBit
	}
	if access&hal.AccessMemoryRead != 0 {
		flags |= vk.AccessMemoryReadBit
	}
	return vk.AccessFlags(flags)
}

func (v *VulkanCommandBuffer) PipelineBarrier(src, dst hal.PipelineStage, barriers ...hal.MemoryBarrier) {
	memoryBarriers := make([]vk.MemoryBarrier, len(barriers))
	for i, b := range barriers {
		memoryBarriers[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: accessFlags(b.SrcAccess),
			DstAccessMask: accessFlags(b.DstAccess),
		}
	}
	vk.CmdPipelineBarrier(v.Handle, pipelineStageFlags(src), pipelineStageFlags(dst), 0,
		uint32(len(memoryBarriers)), memoryBarriers, 0, nil, 0, nil)
}

func (v *VulkanCommandBuffer) ImageBarrier(src, dst hal.PipelineStage, barriers ...hal.ImageBarrier) {
	imageBarriers := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		imageBarriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       accessFlags(b.SrcAccess),
			DstAccessMask:       accessFlags(b.DstAccess),
			OldLayout:           imageLayout(b.OldLayout),
			NewLayout:           imageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               b.Image.(*VulkanImage).Handle,
			SubresourceRange:    subresourceColor,
		}
	}
	vk.CmdPipelineBarrier(v.Handle, pipelineStageFlags(src), pipelineStageFlags(dst), 0,
		0, nil, 0, nil, uint32(len(imageBarriers)), imageBarriers)
}

func (v *VulkanCommandBuffer) CopyImage(src hal.Image, srcLayout hal.ImageLayout, dst hal.Image, dstLayout hal.ImageLayout, extent hal.Extent) {
	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	region := vk.ImageCopy{
		SrcSubresource: layers,
		DstSubresource: layers,
		Extent:         vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
	}
	vk.CmdCopyImage(v.Handle,
		src.(*VulkanImage).Handle, imageLayout(srcLayout),
		dst.(*VulkanImage).Handle, imageLayout(dstLayout),
		1, []vk.ImageCopy{region})
}

func (v *VulkanCommandBuffer) BuildAccelerationStructures(infos []hal.AccelerationStructureBuildInfo, ranges [][]hal.BuildRange) {
	geometryInfos := make([]vk.AccelerationStructureBuildGeometryInfo, len(infos))
	rangeInfos := make([][]vk.AccelerationStructureBuildRangeInfo, len(infos))
	for i := range infos {
		geometryInfos[i] = buildGeometryInfo(&infos[i])
		rangeInfos[i] = make([]vk.AccelerationStructureBuildRangeInfo, len(ranges[i]))
		for j, r := range ranges[i] {
			rangeInfos[i][j] = vk.AccelerationStructureBuildRangeInfo{
				PrimitiveCount:  r.PrimitiveCount,
				PrimitiveOffset: r.PrimitiveOffset,
				FirstVertex:     r.FirstVertex,
				TransformOffset: r.TransformOffset,
			}
		}
	}
	vk.CmdBuildAccelerationStructures(v.Handle, uint32(len(geometryInfos)), geometryInfos, rangeInfos)
}

func (v *VulkanCommandBuffer) PushConstants(pipeline hal.RayTracingPipeline, data []byte) {
	p, ok := pipeline.(*VulkanRayTracingPipeline)
	if !ok {
		core.LogError("%s", fmt.Errorf("push constants with foreign pipeline %T", pipeline))
		return
	}
	if len(data) == 0 || len(data) > hal.MaxPushConstantsSize {
		core.LogError("push constant block of %d bytes", len(data))
		return
	}
	vk.CmdPushConstants(v.Handle, p.Layout, pushConstantStages, 0, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) TraceRays(pipeline hal.RayTracingPipeline, set hal.DescriptorSet, width, height uint32) {
	p, ok := pipeline.(*VulkanRayTracingPipeline)
	if !ok {
		core.LogError("%s", fmt.Errorf("trace rays with foreign pipeline %T", pipeline))
		return
	}
	ds := set.(*VulkanDescriptorSet)
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPointRayTracing, p.Handle)
	vk.CmdBindDescriptorSets(v.Handle, vk.PipelineBindPointRayTracing, p.Layout, 0, 1, []vk.DescriptorSet{ds.Handle}, 0, nil)
	vk.CmdTraceRays(v.Handle, &p.raygen, &p.miss, &p.hit, &p.callable, width, height, 1)
}
