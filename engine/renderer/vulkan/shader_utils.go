package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	vk "github.com/goki/vulkan"
)

// VulkanShaderStage is a single compiled stage of the ray tracing pipeline.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// spirvWords converts a SPIR-V binary into the word slice Vulkan expects.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("spir-v size %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != 0x07230203 {
		return nil, fmt.Errorf("bad spir-v magic %#x", words[0])
	}
	return words, nil
}

// NewShaderModule loads <dir>/<name>.<kind>.spv, as produced by the shader
// build target, and creates the stage for it.
func NewShaderModule(context *VulkanContext, dir, name, kind string, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	fileName := filepath.Join(dir, fmt.Sprintf("%s.%s.spv", name, kind))
	code, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("unable to read shader module: %w", err)
	}
	words, err := spirvWords(code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	s := &VulkanShaderStage{}
	if err := resultError("vkCreateShaderModule", vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &s.Handle)); err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	s.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: s.Handle,
		PName:  VulkanSafeString("main"),
	}
	return s, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
