package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type VulkanImage struct {
	context *VulkanContext
	label   string
	format  hal.Format
	extent  hal.Extent
	// owned is false for swapchain images.
	owned bool

	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
}

func vulkanFormat(f hal.Format) vk.Format {
	switch f {
	case hal.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case hal.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case hal.FormatBGRA8Srgb:
		return vk.FormatB8g8r8a8Srgb
	}
	return vk.FormatUndefined
}

func halFormat(f vk.Format) hal.Format {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return hal.FormatRGBA8Unorm
	case vk.FormatB8g8r8a8Unorm:
		return hal.FormatBGRA8Unorm
	case vk.FormatB8g8r8a8Srgb:
		return hal.FormatBGRA8Srgb
	}
	return hal.FormatUndefined
}

func imageUsageFlags(usage hal.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if usage&hal.ImageUsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if usage&hal.ImageUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	if usage&hal.ImageUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if usage&hal.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	return vk.ImageUsageFlags(flags)
}

func NewVulkanImage(context *VulkanContext, desc hal.ImageDescriptor) (*VulkanImage, error) {
	img := &VulkanImage{context: context, label: desc.Label, format: desc.Format, extent: desc.Extent, owned: true}
	device := context.Device.LogicalDevice

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        vulkanFormat(desc.Format),
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         imageUsageFlags(desc.Usage),
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	if err := resultError("vkCreateImage", vk.CreateImage(device, &imageCreateInfo, context.Allocator, &img.Handle)); err != nil {
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, img.Handle, &requirements)
	requirements.Deref()
	memoryIndex, err := context.FindMemoryIndex(requirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryIndex,
	}
	err = context.Locks.SafeCall(MemoryManagement, func() error {
		return resultError("vkAllocateMemory", vk.AllocateMemory(device, &allocInfo, context.Allocator, &img.Memory))
	})
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}
	if err := resultError("vkBindImageMemory", vk.BindImageMemory(device, img.Handle, img.Memory, 0)); err != nil {
		img.Destroy()
		return nil, err
	}
	if err := img.createView(vulkanFormat(desc.Format)); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func (img *VulkanImage) createView(format vk.Format) error {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	return resultError("vkCreateImageView", vk.CreateImageView(img.context.Device.LogicalDevice, &viewInfo, img.context.Allocator, &img.View))
}

func (img *VulkanImage) Label() string { return img.label }

func (img *VulkanImage) Extent() hal.Extent { return img.extent }

func (img *VulkanImage) Format() hal.Format { return img.format }

func (img *VulkanImage) Destroy() {
	device := img.context.Device.LogicalDevice
	if img.View != vk.NullImageView {
		vk.DestroyImageView(device, img.View, img.context.Allocator)
		img.View = vk.NullImageView
	}
	if !img.owned {
		return
	}
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, img.Memory, img.context.Allocator)
		img.Memory = vk.NullDeviceMemory
	}
	if img.Handle != vk.NullImage {
		vk.DestroyImage(device, img.Handle, img.context.Allocator)
		img.Handle = vk.NullImage
	}
}

var subresourceColor = vk.ImageSubresourceRange{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LevelCount: 1,
	LayerCount: 1,
}

func imageLayout(l hal.ImageLayout) vk.ImageLayout {
	switch l {
	case hal.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case hal.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case hal.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case hal.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case hal.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}
