package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// Shader group order inside the binding table.
const (
	groupRaygen uint32 = iota
	groupMiss
	groupHit
	groupCount
)

// VulkanRayTracingPipeline is the raygen/miss/closest-hit pipeline together
// with its shader binding table.
type VulkanRayTracingPipeline struct {
	context *VulkanContext
	label   string

	Handle vk.Pipeline
	Layout vk.PipelineLayout

	sbt      *VulkanBuffer
	raygen   vk.StridedDeviceAddressRegion
	miss     vk.StridedDeviceAddressRegion
	hit      vk.StridedDeviceAddressRegion
	callable vk.StridedDeviceAddressRegion
}

func generalGroup(shader uint32) vk.RayTracingShaderGroupCreateInfo {
	return vk.RayTracingShaderGroupCreateInfo{
		SType:              vk.StructureTypeRayTracingShaderGroupCreateInfo,
		Type:               vk.RayTracingShaderGroupTypeGeneral,
		GeneralShader:      shader,
		ClosestHitShader:   vk.ShaderUnused,
		AnyHitShader:       vk.ShaderUnused,
		IntersectionShader: vk.ShaderUnused,
	}
}

// NewRayTracingPipeline loads <shaderDir>/<name>.{rgen,rmiss,rchit}.spv and
// builds the pipeline and its binding table. A missing shader file is
// reported with os.ErrNotExist in the chain.
func NewRayTracingPipeline(context *VulkanContext, setLayout vk.DescriptorSetLayout, shaderDir, name string) (*VulkanRayTracingPipeline, error) {
	device := context.Device.LogicalDevice
	p := &VulkanRayTracingPipeline{context: context, label: name}

	kinds := []struct {
		kind  string
		stage vk.ShaderStageFlagBits
	}{
		{"rgen", vk.ShaderStageRaygenBit},
		{"rmiss", vk.ShaderStageMissBit},
		{"rchit", vk.ShaderStageClosestHitBit},
	}
	stages := make([]*VulkanShaderStage, 0, len(kinds))
	defer func() {
		// Modules are not needed once the pipeline exists.
		for _, s := range stages {
			s.Destroy(context)
		}
	}()
	stageInfos := make([]vk.PipelineShaderStageCreateInfo, 0, len(kinds))
	for _, k := range kinds {
		s, err := NewShaderModule(context, shaderDir, name, k.kind, k.stage)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
		stageInfos = append(stageInfos, s.ShaderStageCreateInfo)
	}

	hitGroup := vk.RayTracingShaderGroupCreateInfo{
		SType:              vk.StructureTypeRayTracingShaderGroupCreateInfo,
		Type:               vk.RayTracingShaderGroupTypeTrianglesHitGroup,
		GeneralShader:      vk.ShaderUnused,
		ClosestHitShader:   2,
		AnyHitShader:       vk.ShaderUnused,
		IntersectionShader: vk.ShaderUnused,
	}
	groups := []vk.RayTracingShaderGroupCreateInfo{generalGroup(0), generalGroup(1), hitGroup}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: pushConstantStages,
			Size:       hal.MaxPushConstantsSize,
		}},
	}
	err := context.Locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(device, &layoutInfo, context.Allocator, &p.Layout))
	})
	if err != nil {
		return nil, err
	}

	createInfo := vk.RayTracingPipelineCreateInfo{
		SType:                        vk.StructureTypeRayTracingPipelineCreateInfo,
		StageCount:                   uint32(len(stageInfos)),
		PStages:                      stageInfos,
		GroupCount:                   uint32(len(groups)),
		PGroups:                      groups,
		MaxPipelineRayRecursionDepth: 1,
		Layout:                       p.Layout,
		BasePipelineIndex:            -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	err = context.Locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreateRayTracingPipelines", vk.CreateRayTracingPipelines(device, vk.NullDeferredOperation, vk.NullPipelineCache, 1, []vk.RayTracingPipelineCreateInfo{createInfo}, context.Allocator, pipelines))
	})
	if err != nil {
		p.Destroy()
		return nil, err
	}
	p.Handle = pipelines[0]

	if err := p.createBindingTable(); err != nil {
		p.Destroy()
		return nil, err
	}
	core.LogDebug("ray tracing pipeline %q created", name)
	return p, nil
}

// createBindingTable copies the group handles into a host-visible buffer, one
// aligned region per group.
func (p *VulkanRayTracingPipeline) createBindingTable() error {
	handleSize := p.context.Device.ShaderGroupHandleSize
	alignment := p.context.Device.ShaderGroupBaseAlignment
	if handleSize == 0 {
		return errors.New("device reports no shader group handle size")
	}
	stride := math.AlignUp(handleSize, alignment)

	handles := make([]byte, handleSize*groupCount)
	result := vk.GetRayTracingShaderGroupHandles(p.context.Device.LogicalDevice, p.Handle, 0, groupCount, uint(len(handles)), unsafe.Pointer(&handles[0]))
	if err := resultError("vkGetRayTracingShaderGroupHandles", result); err != nil {
		return err
	}

	sbt, err := NewVulkanBuffer(p.context, hal.BufferDescriptor{
		Label:    p.label + "_sbt",
		Size:     uint64(stride * groupCount),
		Usage:    hal.BufferUsageShaderBindingTable | hal.BufferUsageShaderDeviceAddress,
		Location: hal.MemoryHostVisible,
	})
	if err != nil {
		return fmt.Errorf("shader binding table: %w", err)
	}
	p.sbt = sbt
	for g := uint32(0); g < groupCount; g++ {
		if err := sbt.Write(uint64(g*stride), handles[g*handleSize:(g+1)*handleSize]); err != nil {
			return err
		}
	}

	region := func(group uint32) vk.StridedDeviceAddressRegion {
		return vk.StridedDeviceAddressRegion{
			DeviceAddress: vk.DeviceAddress(sbt.DeviceAddress() + uint64(group*stride)),
			Stride:        vk.DeviceSize(stride),
			Size:          vk.DeviceSize(stride),
		}
	}
	p.raygen = region(groupRaygen)
	p.miss = region(groupMiss)
	p.hit = region(groupHit)
	return nil
}

func (p *VulkanRayTracingPipeline) Label() string { return p.label }

func (p *VulkanRayTracingPipeline) Destroy() {
	device := p.context.Device.LogicalDevice
	if p.sbt != nil {
		p.sbt.Destroy()
		p.sbt = nil
	}
	_ = p.context.Locks.SafeCall(PipelineManagement, func() error {
		if p.Handle != vk.NullPipeline {
			vk.DestroyPipeline(device, p.Handle, p.context.Allocator)
			p.Handle = vk.NullPipeline
		}
		if p.Layout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(device, p.Layout, p.context.Allocator)
			p.Layout = vk.NullPipelineLayout
		}
		return nil
	})
}
