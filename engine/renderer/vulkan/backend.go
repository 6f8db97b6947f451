package vulkan

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type Options struct {
	ApplicationName string
	Width, Height   uint32
	// ShaderDir holds <Pipeline>.{rgen,rmiss,rchit}.spv.
	ShaderDir string
	Pipeline  string
	Debug     bool
}

// Backend owns the Vulkan instance, the window surface, the device and the
// ray tracing pipeline.
type Backend struct {
	platform  *platform.Platform
	context   *VulkanContext
	device    *Device
	swapchain *VulkanSwapchain
	pipeline  *VulkanRayTracingPipeline
	debug     bool
}

func New(p *platform.Platform, opts Options) (*Backend, error) {
	b := &Backend{
		platform: p,
		context: &VulkanContext{
			Allocator: nil,
			Locks:     NewVulkanLockPool(),
		},
		debug: opts.Debug,
	}
	if err := b.initialize(opts); err != nil {
		b.Shutdown()
		return nil, err
	}
	core.LogInfo("Vulkan renderer initialized successfully.")
	return b, nil
}

func (b *Backend) Device() hal.Device { return b.device }

func (b *Backend) Pipeline() hal.RayTracingPipeline {
	if b.pipeline == nil {
		return nil
	}
	return b.pipeline
}

func (b *Backend) initialize(opts Options) error {
	procAddr := b.platform.GetInstanceProcAddress()
	if procAddr == nil {
		return errors.New("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk: %w", err)
	}

	if err := b.createInstance(opts.ApplicationName); err != nil {
		return err
	}

	if b.debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := resultError("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(b.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return err
		}
		b.context.debugMessenger = dbg
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := b.platform.CreateSurface(b.context.Instance)
	if err != nil {
		return fmt.Errorf("vulkan surface creation failed: %w", err)
	}
	b.context.Surface = vk.SurfaceFromPointer(surface)

	if err := DeviceCreate(b.context); err != nil {
		return err
	}

	b.swapchain, err = NewVulkanSwapchain(b.context, opts.Width, opts.Height)
	if err != nil {
		return err
	}
	b.device, err = newDevice(b.context, b.swapchain)
	if err != nil {
		return err
	}

	b.pipeline, err = NewRayTracingPipeline(b.context, b.device.setLayout, opts.ShaderDir, opts.Pipeline)
	if errors.Is(err, fs.ErrNotExist) {
		// Frames still run; they present the cleared output image.
		core.LogWarn("no compiled shaders for pipeline %q in %s: %s", opts.Pipeline, opts.ShaderDir, err)
		return nil
	}
	return err
}

func (b *Backend) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Lumen"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, b.platform.GetRequiredExtensionNames()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}
	var layers []string
	if b.debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			return err
		}
	}
	core.LogDebug("Required extensions: %v", extensions)
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := resultError("vkCreateInstance", vk.CreateInstance(&createInfo, b.context.Allocator, &b.context.Instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(b.context.Instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func checkLayers(required []string) error {
	var count uint32
	if err := resultError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := resultError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return err
	}
	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("required validation layer is missing: %s", name)
		}
	}
	return nil
}

// Shutdown destroys everything in the opposite order of creation. It is safe
// on a partially initialized backend.
func (b *Backend) Shutdown() error {
	ctx := b.context
	if ctx.Device != nil && ctx.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(ctx.Device.LogicalDevice)
	}
	if b.pipeline != nil {
		b.pipeline.Destroy()
		b.pipeline = nil
	}
	if b.device != nil {
		b.device.Destroy()
		b.device = nil
	}
	if b.swapchain != nil {
		b.swapchain.Destroy()
		b.swapchain = nil
	}
	DeviceDestroy(ctx)

	if ctx.Surface != vk.NullSurface {
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
