package hal

import "testing"

func TestInstanceEncodeLayout(t *testing.T) {
	in := Instance{
		Transform: [3][4]float32{
			{1, 0, 0, 4},
			{0, 1, 0, 5},
			{0, 0, 1, 6},
		},
		CustomIndex:              0x12345678,
		Mask:                     0xFF,
		ShaderBindingTableOffset: 2,
		Flags:                    InstanceTriangleFacingCullDisable,
		AccelerationStructure:    0xDEADBEEF00,
	}
	buf := make([]byte, InstanceSize)
	in.Encode(buf)

	// 24-bit custom index is truncated, mask lives in the top byte.
	if got := uint32(buf[48]) | uint32(buf[49])<<8 | uint32(buf[50])<<16; got != 0x345678 {
		t.Errorf("custom index bytes = %#x, want 0x345678", got)
	}
	if buf[51] != 0xFF {
		t.Errorf("mask byte = %#x, want 0xff", buf[51])
	}
	if buf[55] != byte(InstanceTriangleFacingCullDisable) {
		t.Errorf("flags byte = %#x", buf[55])
	}

	out := DecodeInstance(buf)
	if out.CustomIndex != 0x345678 || out.Mask != 0xFF || out.ShaderBindingTableOffset != 2 {
		t.Errorf("decoded = %+v", out)
	}
	if out.Transform != in.Transform {
		t.Errorf("transform = %v, want %v", out.Transform, in.Transform)
	}
	if out.AccelerationStructure != in.AccelerationStructure {
		t.Errorf("address = %#x, want %#x", out.AccelerationStructure, in.AccelerationStructure)
	}
}
