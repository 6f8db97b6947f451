package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// VulkanQueue shares its mutex with every other hal queue of the same family.
type VulkanQueue struct {
	*sync.Mutex
	kind   hal.QueueType
	family uint32
	Handle vk.Queue
}

func newQueue(context *VulkanContext, kind hal.QueueType, family uint32) *VulkanQueue {
	var handle vk.Queue
	vk.GetDeviceQueue(context.Device.LogicalDevice, family, 0, &handle)
	return &VulkanQueue{
		Mutex:  context.Locks.QueueLock(family),
		kind:   kind,
		family: family,
		Handle: handle,
	}
}

func (q *VulkanQueue) Type() hal.QueueType { return q.kind }

func pipelineStageFlags(stages hal.PipelineStage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlagBits
	if stages&hal.StageTopOfPipe != 0 {
		flags |= vk.PipelineStageTopOfPipeBit
	}
	if stages&hal.StageTransfer != 0 {
		flags |= vk.PipelineStageTransferBit
	}
	if stages&hal.StageAccelerationStructureBuild != 0 {
		flags |= vk.PipelineStageAccelerationStructureBuildBit
	}
	if stages&hal.StageRayTracingShader != 0 {
		flags |= vk.PipelineStageRayTracingShaderBit
	}
	if stages&hal.StageColorAttachmentOutput != 0 {
		flags |= vk.PipelineStageColorAttachmentOutputBit
	}
	if stages&hal.StageBottomOfPipe != 0 {
		flags |= vk.PipelineStageBottomOfPipeBit
	}
	if stages&hal.StageAllCommands != 0 {
		flags |= vk.PipelineStageAllCommandsBit
	}
	return vk.PipelineStageFlags(flags)
}

// Submit hands the command buffers to the queue. The caller holds the queue
// lock (see hal.Submit).
func (q *VulkanQueue) Submit(info hal.SubmitInfo) error {
	submitInfo := vk.SubmitInfo{
		SType: vk.StructureTypeSubmitInfo,
	}
	for _, c := range info.CommandBuffers {
		cb, ok := c.(*VulkanCommandBuffer)
		if !ok {
			return fmt.Errorf("foreign command buffer %T", c)
		}
		submitInfo.PCommandBuffers = append(submitInfo.PCommandBuffers, cb.Handle)
	}
	submitInfo.CommandBufferCount = uint32(len(submitInfo.PCommandBuffers))

	for i, w := range info.Wait {
		sem, ok := w.(*VulkanSemaphore)
		if !ok {
			return fmt.Errorf("foreign semaphore %T", w)
		}
		submitInfo.PWaitSemaphores = append(submitInfo.PWaitSemaphores, sem.Handle)
		stage := hal.StageAllCommands
		if i < len(info.WaitStages) {
			stage = info.WaitStages[i]
		}
		submitInfo.PWaitDstStageMask = append(submitInfo.PWaitDstStageMask, pipelineStageFlags(stage))
	}
	submitInfo.WaitSemaphoreCount = uint32(len(submitInfo.PWaitSemaphores))

	for _, s := range info.Signal {
		sem, ok := s.(*VulkanSemaphore)
		if !ok {
			return fmt.Errorf("foreign semaphore %T", s)
		}
		submitInfo.PSignalSemaphores = append(submitInfo.PSignalSemaphores, sem.Handle)
	}
	submitInfo.SignalSemaphoreCount = uint32(len(submitInfo.PSignalSemaphores))

	fence := vk.NullFence
	if info.Fence != nil {
		f, ok := info.Fence.(*VulkanFence)
		if !ok {
			return fmt.Errorf("foreign fence %T", info.Fence)
		}
		fence = f.Handle
	}
	if err := resultError("vkQueueSubmit", vk.QueueSubmit(q.Handle, 1, []vk.SubmitInfo{submitInfo}, fence)); err != nil {
		return fmt.Errorf("%s queue: %w", q.kind, err)
	}
	return nil
}

func (q *VulkanQueue) WaitIdle() error {
	q.Lock()
	defer q.Unlock()
	return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(q.Handle))
}
