package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// rayTracingStages is every stage of the ray tracing pass that reads the set.
var rayTracingStages = vk.ShaderStageFlags(vk.ShaderStageRaygenBit | vk.ShaderStageClosestHitBit | vk.ShaderStageMissBit)

// pushConstantStages reads the camera block.
var pushConstantStages = vk.ShaderStageFlags(vk.ShaderStageRaygenBit)

// NewRayTracingSetLayout creates the layout of the ray tracing pass: the
// top-level structure, the output image, geometry descriptions, materials and
// instances.
func NewRayTracingSetLayout(context *VulkanContext) (vk.DescriptorSetLayout, error) {
	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: hal.BindingTopLevel, DescriptorType: vk.DescriptorTypeAccelerationStructure, DescriptorCount: 1, StageFlags: rayTracingStages},
		{Binding: hal.BindingOutputImage, DescriptorType: vk.DescriptorTypeStorageImage, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageRaygenBit)},
		{Binding: hal.BindingGeometryDescriptions, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: rayTracingStages},
		{Binding: hal.BindingMaterials, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: rayTracingStages},
		{Binding: hal.BindingInstances, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: rayTracingStages},
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if err := resultError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &layout)); err != nil {
		core.LogError(err.Error())
		return vk.NullDescriptorSetLayout, err
	}
	return layout, nil
}

// VulkanDescriptorSet owns a pool sized for exactly one ray tracing set.
type VulkanDescriptorSet struct {
	context *VulkanContext
	label   string
	pool    vk.DescriptorPool
	Handle  vk.DescriptorSet
}

func NewVulkanDescriptorSet(context *VulkanContext, layout vk.DescriptorSetLayout, label string) (*VulkanDescriptorSet, error) {
	ds := &VulkanDescriptorSet{context: context, label: label}
	device := context.Device.LogicalDevice

	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeAccelerationStructure, DescriptorCount: 1},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: 1},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 3},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	if err := resultError("vkCreateDescriptorPool", vk.CreateDescriptorPool(device, &poolInfo, context.Allocator, &ds.pool)); err != nil {
		return nil, fmt.Errorf("descriptor set %q: %w", label, err)
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     ds.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	if err := resultError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(device, &allocInfo, &ds.Handle)); err != nil {
		vk.DestroyDescriptorPool(device, ds.pool, context.Allocator)
		return nil, fmt.Errorf("descriptor set %q: %w", label, err)
	}
	return ds, nil
}

func (ds *VulkanDescriptorSet) update(write vk.WriteDescriptorSet) {
	write.SType = vk.StructureTypeWriteDescriptorSet
	write.DstSet = ds.Handle
	write.DescriptorCount = 1
	_ = ds.context.Locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(ds.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}

func (ds *VulkanDescriptorSet) WriteAccelerationStructure(binding uint32, as hal.AccelerationStructure) {
	structure := as.(*VulkanAccelerationStructure)
	asWrite := vk.WriteDescriptorSetAccelerationStructure{
		SType:                      vk.StructureTypeWriteDescriptorSetAccelerationStructure,
		AccelerationStructureCount: 1,
		PAccelerationStructures:    []vk.AccelerationStructure{structure.Handle},
	}
	ref, _ := asWrite.PassRef()
	ds.update(vk.WriteDescriptorSet{
		PNext:          unsafe.Pointer(ref),
		DstBinding:     binding,
		DescriptorType: vk.DescriptorTypeAccelerationStructure,
	})
}

func (ds *VulkanDescriptorSet) WriteStorageImage(binding uint32, image hal.Image) {
	img := image.(*VulkanImage)
	ds.update(vk.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: vk.DescriptorTypeStorageImage,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   img.View,
			ImageLayout: vk.ImageLayoutGeneral,
		}},
	})
}

func (ds *VulkanDescriptorSet) WriteStorageBuffer(binding uint32, buffer hal.Buffer) {
	b := buffer.(*VulkanBuffer)
	ds.update(vk.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: vk.DescriptorTypeStorageBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: b.Handle,
			Range:  vk.DeviceSize(vk.WholeSize),
		}},
	})
}

func (ds *VulkanDescriptorSet) Destroy() {
	if ds.pool != vk.NullDescriptorPool {
		// Freeing the pool frees the set.
		vk.DestroyDescriptorPool(ds.context.Device.LogicalDevice, ds.pool, ds.context.Allocator)
		ds.pool = vk.NullDescriptorPool
		ds.Handle = vk.NullDescriptorSet
	}
}
