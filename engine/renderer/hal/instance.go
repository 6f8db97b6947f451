package hal

import (
	"encoding/binary"
	"math"
)

// InstanceSize is the device layout size of one Instance.
const InstanceSize = 64

type InstanceFlags uint8

const (
	InstanceTriangleFacingCullDisable InstanceFlags = 1 << iota
	InstanceTriangleFlipFacing
	InstanceForceOpaque
	InstanceForceNoOpaque
)

// Instance places one bottom-level structure in a top-level structure.
type Instance struct {
	Transform [3][4]float32
	// CustomIndex uses the low 24 bits.
	CustomIndex uint32
	Mask        uint8
	// ShaderBindingTableOffset uses the low 24 bits.
	ShaderBindingTableOffset uint32
	Flags                    InstanceFlags
	AccelerationStructure    uint64
}

// Encode writes the instance to dst in the device layout. dst must hold at
// least InstanceSize bytes.
func (in Instance) Encode(dst []byte) {
	_ = dst[InstanceSize-1]
	off := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(in.Transform[row][col]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(dst[48:], in.CustomIndex&0xFFFFFF|uint32(in.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], in.ShaderBindingTableOffset&0xFFFFFF|uint32(in.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], in.AccelerationStructure)
}

// DecodeInstance is the inverse of Encode.
func DecodeInstance(src []byte) Instance {
	_ = src[InstanceSize-1]
	var in Instance
	off := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			in.Transform[row][col] = math.Float32frombits(binary.LittleEndian.Uint32(src[off:]))
			off += 4
		}
	}
	w := binary.LittleEndian.Uint32(src[48:])
	in.CustomIndex = w & 0xFFFFFF
	in.Mask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(src[52:])
	in.ShaderBindingTableOffset = w & 0xFFFFFF
	in.Flags = InstanceFlags(w >> 24)
	in.AccelerationStructure = binary.LittleEndian.Uint64(src[56:])
	return in
}
