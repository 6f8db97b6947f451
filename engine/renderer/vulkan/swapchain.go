package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// VulkanSwapchain presents the traced image. Its images are copy targets only.
type VulkanSwapchain struct {
	context     *VulkanContext
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	extent      hal.Extent
	images      []*VulkanImage
}

func NewVulkanSwapchain(context *VulkanContext, width, height uint32) (*VulkanSwapchain, error) {
	sc := &VulkanSwapchain{context: context}
	if err := sc.create(width, height, vk.NullSwapchain); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *VulkanSwapchain) Extent() hal.Extent { return sc.extent }

func (sc *VulkanSwapchain) Format() hal.Format { return halFormat(sc.ImageFormat.Format) }

func (sc *VulkanSwapchain) ImageCount() uint32 { return uint32(len(sc.images)) }

func (sc *VulkanSwapchain) Image(index uint32) hal.Image { return sc.images[index] }

func (sc *VulkanSwapchain) AcquireNextImage(signal hal.Semaphore) (uint32, error) {
	sem, ok := signal.(*VulkanSemaphore)
	if !ok {
		return 0, fmt.Errorf("foreign semaphore %T", signal)
	}
	var index uint32
	result := vk.AcquireNextImage(sc.context.Device.LogicalDevice, sc.Handle, ^uint64(0), sem.Handle, vk.NullFence, &index)
	switch result {
	case vk.Success:
		return index, nil
	case vk.Suboptimal:
		// The image is still usable; the frame after this one rebuilds.
		return index, nil
	}
	return 0, resultError("vkAcquireNextImage", result)
}

func (sc *VulkanSwapchain) Present(queue hal.Queue, imageIndex uint32, wait hal.Semaphore) error {
	q, ok := queue.(*VulkanQueue)
	if !ok {
		return fmt.Errorf("foreign queue %T", queue)
	}
	sem, ok := wait.(*VulkanSemaphore)
	if !ok {
		return fmt.Errorf("foreign semaphore %T", wait)
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem.Handle},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.Handle},
		PImageIndices:      []uint32{imageIndex},
	}
	result := vk.QueuePresent(q.Handle, &presentInfo)
	if result == vk.Suboptimal {
		return fmt.Errorf("vkQueuePresent: suboptimal: %w", core.ErrDeviceStale)
	}
	return resultError("vkQueuePresent", result)
}

// Recreate rebuilds the swapchain for the new surface size. The caller waits
// for the device to go idle first.
func (sc *VulkanSwapchain) Recreate(width, height uint32) error {
	device := sc.context.Device
	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, sc.context.Surface, &device.SwapchainSupport); err != nil {
		return err
	}
	old := sc.Handle
	sc.destroyImages()
	err := sc.create(width, height, old)
	vk.DestroySwapchain(device.LogicalDevice, old, sc.context.Allocator)
	return err
}

func (sc *VulkanSwapchain) Destroy() {
	sc.destroyImages()
	if sc.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(sc.context.Device.LogicalDevice, sc.Handle, sc.context.Allocator)
		sc.Handle = vk.NullSwapchain
	}
}

func (sc *VulkanSwapchain) destroyImages() {
	// Only the views. The images belong to the swapchain.
	for _, img := range sc.images {
		img.Destroy()
	}
	sc.images = nil
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		format.Deref()
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	formats[0].Deref()
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	return vk.PresentModeFifo
}

func (sc *VulkanSwapchain) create(width, height uint32, old vk.Swapchain) error {
	device := sc.context.Device
	support := &device.SwapchainSupport
	if len(support.Formats) == 0 {
		return fmt.Errorf("surface reports no formats")
	}
	sc.ImageFormat = chooseSurfaceFormat(support.Formats)
	presentMode := choosePresentMode(support.PresentModes)

	capabilities := support.Capabilities
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()

	extent := vk.Extent2D{Width: width, Height: height}
	if capabilities.CurrentExtent.Width != ^uint32(0) {
		extent = capabilities.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	extent.Width = math.Clamp(extent.Width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          sc.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.ImageFormat.Format,
		ImageColorSpace:  sc.ImageFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageColorAttachmentBit),
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{device.GraphicsQueueIndex, device.PresentQueueIndex}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	if err := resultError("vkCreateSwapchain", vk.CreateSwapchain(device.LogicalDevice, &createInfo, sc.context.Allocator, &handle)); err != nil {
		core.LogError(err.Error())
		return err
	}
	sc.Handle = handle
	sc.extent = hal.Extent{Width: extent.Width, Height: extent.Height}

	var count uint32
	if err := resultError("vkGetSwapchainImages", vk.GetSwapchainImages(device.LogicalDevice, handle, &count, nil)); err != nil {
		return err
	}
	handles := make([]vk.Image, count)
	if err := resultError("vkGetSwapchainImages", vk.GetSwapchainImages(device.LogicalDevice, handle, &count, handles)); err != nil {
		return err
	}
	sc.images = make([]*VulkanImage, 0, count)
	for i, h := range handles {
		img := &VulkanImage{
			context: sc.context,
			label:   fmt.Sprintf("swapchain_%d", i),
			format:  halFormat(sc.ImageFormat.Format),
			extent:  sc.extent,
			Handle:  h,
		}
		if err := img.createView(sc.ImageFormat.Format); err != nil {
			return err
		}
		sc.images = append(sc.images, img)
	}

	core.LogInfo("swapchain created: %dx%d, %d images", extent.Width, extent.Height, count)
	return nil
}
