package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// Device exposes a VulkanContext as a hal.Device.
type Device struct {
	context   *VulkanContext
	setLayout vk.DescriptorSetLayout
	swapchain *VulkanSwapchain
	queues    map[hal.QueueType]*VulkanQueue
}

func newDevice(context *VulkanContext, swapchain *VulkanSwapchain) (*Device, error) {
	layout, err := NewRayTracingSetLayout(context)
	if err != nil {
		return nil, err
	}
	d := context.Device
	return &Device{
		context:   context,
		setLayout: layout,
		swapchain: swapchain,
		queues: map[hal.QueueType]*VulkanQueue{
			hal.QueueGraphics: newQueue(context, hal.QueueGraphics, d.GraphicsQueueIndex),
			hal.QueueCompute:  newQueue(context, hal.QueueCompute, d.ComputeQueueIndex),
			hal.QueueTransfer: newQueue(context, hal.QueueTransfer, d.TransferQueueIndex),
		},
	}, nil
}

func (d *Device) Limits() hal.Limits { return d.context.Device.Limits }

func (d *Device) CreateBuffer(desc hal.BufferDescriptor) (hal.Buffer, error) {
	return NewVulkanBuffer(d.context, desc)
}

func (d *Device) CreateImage(desc hal.ImageDescriptor) (hal.Image, error) {
	return NewVulkanImage(d.context, desc)
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	return NewFence(d.context, signaled)
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	return NewSemaphore(d.context)
}

func (d *Device) CreateCommandBuffer(queue hal.QueueType) (hal.CommandBuffer, error) {
	return NewVulkanCommandBuffer(d.context, d.queues[queue].family)
}

func (d *Device) CreateDescriptorSet(label string) (hal.DescriptorSet, error) {
	return NewVulkanDescriptorSet(d.context, d.setLayout, label)
}

func (d *Device) Queue(queue hal.QueueType) hal.Queue { return d.queues[queue] }

func (d *Device) AccelerationStructureBuildSizes(info *hal.AccelerationStructureBuildInfo, primitiveCounts []uint32) hal.BuildSizes {
	return buildSizes(d.context, info, primitiveCounts)
}

func (d *Device) CreateAccelerationStructure(desc hal.AccelerationStructureDescriptor) (hal.AccelerationStructure, error) {
	return NewVulkanAccelerationStructure(d.context, desc)
}

func (d *Device) Swapchain() hal.Swapchain { return d.swapchain }

// WaitIdle takes every queue lock; vkDeviceWaitIdle must not overlap a submit.
func (d *Device) WaitIdle() error {
	return d.context.Locks.SafeAllQueuesCall(func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.context.Device.LogicalDevice))
	})
}

// Destroy releases what the device created itself. The swapchain and the
// logical device are owned by the backend.
func (d *Device) Destroy() {
	if d.setLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(d.context.Device.LogicalDevice, d.setLayout, d.context.Allocator)
		d.setLayout = vk.NullDescriptorSetLayout
	}
}
