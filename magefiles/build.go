//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Ray tracing stages compiled for every pipeline in shaders/.
var shaderStages = []string{"rgen", "rmiss", "rchit"}

const pipelineName = "raytrace"

// Compiles the ray tracing shaders to SPIR-V next to their sources.
func (Build) Shaders() error {
	for _, stage := range shaderStages {
		src := filepath.Join("shaders", fmt.Sprintf("%s.%s", pipelineName, stage))
		out := src + ".spv"
		if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the testbed binary into bin/.
func (Build) Engine() error {
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "lumen"), "."), withStream())
	return err
}
