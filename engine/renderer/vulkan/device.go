package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	SwapchainSupport VulkanSwapchainSupportInfo

	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32
	ComputeQueueIndex  uint32
	TransferQueueIndex uint32

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	Limits hal.Limits
	// ShaderGroupHandleSize and ShaderGroupBaseAlignment size the shader
	// binding table.
	ShaderGroupHandleSize    uint32
	ShaderGroupBaseAlignment uint32
}

var rayTracingExtensions = []string{
	vk.KhrSwapchainExtensionName,
	vk.KhrAccelerationStructureExtensionName,
	vk.KhrRayTracingPipelineExtensionName,
	vk.KhrDeferredHostOperationsExtensionName,
	vk.KhrBufferDeviceAddressExtensionName,
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int
	PresentFamilyIndex  int
	ComputeFamilyIndex  int
	TransferFamilyIndex int
}

func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}
	device := context.Device

	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	families := []uint32{device.GraphicsQueueIndex}
	for _, f := range []uint32{device.PresentQueueIndex, device.ComputeQueueIndex, device.TransferQueueIndex} {
		shared := false
		for _, existing := range families {
			if existing == f {
				shared = true
				break
			}
		}
		if !shared {
			families = append(families, f)
		}
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, f := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	// Feature chain: buffer device address -> acceleration structure -> ray tracing pipeline -> scalar layout.
	scalarFeatures := vk.PhysicalDeviceScalarBlockLayoutFeatures{
		SType:             vk.StructureTypePhysicalDeviceScalarBlockLayoutFeatures,
		ScalarBlockLayout: vk.True,
	}
	scalarRef, _ := scalarFeatures.PassRef()
	rtFeatures := vk.PhysicalDeviceRayTracingPipelineFeatures{
		SType:              vk.StructureTypePhysicalDeviceRayTracingPipelineFeatures,
		RayTracingPipeline: vk.True,
		PNext:              unsafe.Pointer(scalarRef),
	}
	rtRef, _ := rtFeatures.PassRef()
	asFeatures := vk.PhysicalDeviceAccelerationStructureFeatures{
		SType:                 vk.StructureTypePhysicalDeviceAccelerationStructureFeatures,
		AccelerationStructure: vk.True,
		PNext:                 unsafe.Pointer(rtRef),
	}
	asRef, _ := asFeatures.PassRef()
	addressFeatures := vk.PhysicalDeviceBufferDeviceAddressFeatures{
		SType:               vk.StructureTypePhysicalDeviceBufferDeviceAddressFeatures,
		BufferDeviceAddress: vk.True,
		PNext:               unsafe.Pointer(asRef),
	}
	addressRef, _ := addressFeatures.PassRef()

	extensionNames := append([]string(nil), rayTracingExtensions...)
	if deviceHasExtension(device.PhysicalDevice, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(addressRef),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{ShaderInt64: vk.True}},
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if err := resultError("vkCreateDevice", vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logical)); err != nil {
		core.LogError(err.Error())
		return err
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	queryRayTracingLimits(device)
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	if context.Device == nil {
		return
	}
	core.LogInfo("Destroying logical device...")
	if context.Device.LogicalDevice != nil {
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}
	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
	context.Device.SwapchainSupport = VulkanSwapchainSupportInfo{}
}

// queryRayTracingLimits fills the limits the acceleration structure builders
// and the shader binding table depend on.
func queryRayTracingLimits(device *VulkanDevice) {
	asProps := vk.PhysicalDeviceAccelerationStructureProperties{
		SType: vk.StructureTypePhysicalDeviceAccelerationStructureProperties,
	}
	asRef, _ := asProps.PassRef()
	rtProps := vk.PhysicalDeviceRayTracingPipelineProperties{
		SType: vk.StructureTypePhysicalDeviceRayTracingPipelineProperties,
		PNext: unsafe.Pointer(asRef),
	}
	rtRef, _ := rtProps.PassRef()
	props := vk.PhysicalDeviceProperties2{
		SType: vk.StructureTypePhysicalDeviceProperties2,
		PNext: unsafe.Pointer(rtRef),
	}
	vk.GetPhysicalDeviceProperties2(device.PhysicalDevice, &props)
	rtProps.Deref()
	asProps.Deref()

	device.Limits = hal.Limits{
		MaxPrimitivesPerGeometry: asProps.MaxPrimitiveCount,
		MaxInstances:             asProps.MaxInstanceCount,
		MinScratchAlignment:      uint64(asProps.MinAccelerationStructureScratchOffsetAlignment),
	}
	device.ShaderGroupHandleSize = rtProps.ShaderGroupHandleSize
	device.ShaderGroupBaseAlignment = rtProps.ShaderGroupBaseAlignment
	core.LogDebug("acceleration structure limits: %d primitives, %d instances, scratch alignment %d",
		device.Limits.MaxPrimitivesPerGeometry, device.Limits.MaxInstances, device.Limits.MinScratchAlignment)
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if err := resultError("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities)); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := resultError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil)); err != nil {
		return err
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount != 0 {
		if err := resultError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats)); err != nil {
			return err
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := resultError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil)); err != nil {
		return err
	}
	supportInfo.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount != 0 {
		if err := resultError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, supportInfo.PresentModes)); err != nil {
			return err
		}
	}
	return nil
}

func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil)); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return err
	}

	for _, pd := range physicalDevices {
		properties := vk.PhysicalDeviceProperties{}
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()
		name := cString(properties.DeviceName[:])

		var support VulkanSwapchainSupportInfo
		queueInfo, ok := PhysicalDeviceMeetsRequirements(pd, context.Surface, name, &support)
		if !ok {
			continue
		}

		memory := vk.PhysicalDeviceMemoryProperties{}
		vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
		memory.Deref()

		core.LogInfo("Selected device: '%s'.", name)
		switch properties.DeviceType {
		case vk.PhysicalDeviceTypeIntegratedGpu:
			core.LogInfo("GPU type is Integrated.")
		case vk.PhysicalDeviceTypeDiscreteGpu:
			core.LogInfo("GPU type is Discrete.")
		case vk.PhysicalDeviceTypeVirtualGpu:
			core.LogInfo("GPU type is Virtual.")
		case vk.PhysicalDeviceTypeCpu:
			core.LogInfo("GPU type is CPU.")
		default:
			core.LogInfo("GPU type is Unknown.")
		}
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version(properties.ApiVersion).Major(),
			vk.Version(properties.ApiVersion).Minor(),
			vk.Version(properties.ApiVersion).Patch(),
		)

		context.Device = &VulkanDevice{
			PhysicalDevice:     pd,
			SwapchainSupport:   support,
			GraphicsQueueIndex: uint32(queueInfo.GraphicsFamilyIndex),
			PresentQueueIndex:  uint32(queueInfo.PresentFamilyIndex),
			ComputeQueueIndex:  uint32(queueInfo.ComputeFamilyIndex),
			TransferQueueIndex: uint32(queueInfo.TransferFamilyIndex),
			Properties:         properties,
			Memory:             memory,
		}
		core.LogInfo("Physical device selected.")
		return nil
	}
	return fmt.Errorf("no physical device supports ray tracing on this surface")
}

// PhysicalDeviceMeetsRequirements checks queues, swapchain support and the
// ray tracing extensions. The compute family prefers one without graphics so
// bottom-level builds run beside the frame.
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, name string, outSwapchainSupport *VulkanSwapchainSupportInfo) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{-1, -1, -1, -1}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	minTransferScore := 255
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		currentTransferScore := 0

		graphics := flags&vk.QueueGraphicsBit != 0
		if graphics && info.GraphicsFamilyIndex < 0 {
			info.GraphicsFamilyIndex = i
			currentTransferScore++
		}
		if flags&vk.QueueComputeBit != 0 {
			if info.ComputeFamilyIndex < 0 || !graphics {
				info.ComputeFamilyIndex = i
			}
			currentTransferScore++
		}
		if flags&vk.QueueTransferBit != 0 && currentTransferScore <= minTransferScore {
			// The lowest score is most likely a dedicated transfer queue.
			minTransferScore = currentTransferScore
			info.TransferFamilyIndex = i
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return info, false
		}
		if supportsPresent == vk.True && info.PresentFamilyIndex < 0 {
			info.PresentFamilyIndex = i
		}
	}

	core.LogDebug("%s: graphics %d, present %d, compute %d, transfer %d", name,
		info.GraphicsFamilyIndex, info.PresentFamilyIndex, info.ComputeFamilyIndex, info.TransferFamilyIndex)
	if info.GraphicsFamilyIndex < 0 || info.PresentFamilyIndex < 0 || info.ComputeFamilyIndex < 0 || info.TransferFamilyIndex < 0 {
		core.LogInfo("Device '%s' lacks a required queue, skipping.", name)
		return info, false
	}

	if err := DeviceQuerySwapchainSupport(device, surface, outSwapchainSupport); err != nil ||
		len(outSwapchainSupport.Formats) == 0 || len(outSwapchainSupport.PresentModes) == 0 {
		core.LogInfo("Required swapchain support not present on '%s', skipping.", name)
		return info, false
	}

	for _, ext := range rayTracingExtensions {
		if !deviceHasExtension(device, ext) {
			core.LogInfo("Required extension not found: '%s', skipping '%s'.", ext, name)
			return info, false
		}
	}
	return info, true
}

func deviceHasExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}
