package vulkan

import (
	"fmt"
	"math"
	"sync"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

type VulkanFence struct {
	context *VulkanContext
	Handle  vk.Fence

	mu         sync.Mutex
	isSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		context: context,
		// Make sure to signal the fence if required.
		isSignaled: createSignaled,
	}
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	if err := resultError("vkCreateFence", vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &fence.Handle)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return fence, nil
}

// Wait blocks until the fence signals. A zero timeout waits forever.
func (vf *VulkanFence) Wait(timeout time.Duration) error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	// If already signaled, do not wait.
	if vf.isSignaled {
		return nil
	}
	timeoutNs := uint64(math.MaxUint64)
	if timeout > 0 {
		timeoutNs = uint64(timeout.Nanoseconds())
	}
	result := vk.WaitForFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.isSignaled = true
		return nil
	case vk.Timeout:
		return fmt.Errorf("fence wait timed out after %s", timeout)
	default:
		err := resultError("vkWaitForFences", result)
		core.LogError(err.Error())
		return err
	}
}

func (vf *VulkanFence) Reset() error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if !vf.isSignaled {
		return nil
	}
	if err := resultError("vkResetFences", vk.ResetFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle})); err != nil {
		core.LogError(err.Error())
		return err
	}
	vf.isSignaled = false
	return nil
}

func (vf *VulkanFence) Signaled() bool {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if !vf.isSignaled && vk.GetFenceStatus(vf.context.Device.LogicalDevice, vf.Handle) == vk.Success {
		vf.isSignaled = true
	}
	return vf.isSignaled
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(vf.context.Device.LogicalDevice, vf.Handle, vf.context.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.isSignaled = false
}

type VulkanSemaphore struct {
	context *VulkanContext
	Handle  vk.Semaphore
}

func NewSemaphore(context *VulkanContext) (*VulkanSemaphore, error) {
	s := &VulkanSemaphore{context: context}
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	if err := resultError("vkCreateSemaphore", vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &s.Handle)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return s, nil
}

func (s *VulkanSemaphore) Destroy() {
	if s.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		s.Handle = vk.NullSemaphore
	}
}
