package raytracing

import (
	"encoding/binary"
	"math"

	lmath "github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// MaterialSize is the byte size of one encoded material.
const MaterialSize = 48

// Material is stored by value. Texture references resolve to texture slot
// indices at upload time; slot 0 means no texture.
type Material struct {
	BaseColor     lmath.Vec4
	Emissive      lmath.Vec3
	Roughness     float32
	Metallic      float32
	AlbedoTexture TextureHandle
	NormalTexture TextureHandle
}

// DefaultMaterial occupies material slot 0, which no handle can refer to.
func DefaultMaterial() Material {
	return Material{
		BaseColor: lmath.NewVec4(0.8, 0.8, 0.8, 1),
		Roughness: 0.5,
	}
}

func (m Material) encode(dst []byte, albedo, normal uint32) {
	_ = dst[MaterialSize-1]
	put := func(off int, v float32) {
		binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(v))
	}
	put(0, m.BaseColor.X)
	put(4, m.BaseColor.Y)
	put(8, m.BaseColor.Z)
	put(12, m.BaseColor.W)
	put(16, m.Emissive.X)
	put(20, m.Emissive.Y)
	put(24, m.Emissive.Z)
	put(28, m.Roughness)
	put(32, m.Metallic)
	binary.LittleEndian.PutUint32(dst[36:], albedo)
	binary.LittleEndian.PutUint32(dst[40:], normal)
	binary.LittleEndian.PutUint32(dst[44:], 0)
}

// Texture is an image created by the asset pipeline and registered with the
// scene so materials can refer to it.
type Texture struct {
	Name  string
	Image hal.Image
}
