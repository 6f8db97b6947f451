package renderer

import (
	"encoding/binary"
	gomath "math"
	"testing"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
	"github.com/spaghettifunk/lumen/engine/renderer/hal/software"
)

func TestCameraAxes(t *testing.T) {
	tests := []struct {
		name        string
		yawDegrees  float32
		wantForward math.Vec3
		wantRight   math.Vec3
	}{
		{"default", 0, math.NewVec3(0, 0, -1), math.NewVec3(1, 0, 0)},
		{"quarter turn", 90, math.NewVec3(-1, 0, 0), math.NewVec3(0, 0, -1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCamera()
			c.Yaw(math.DegToRad(tt.yawDegrees))
			if got := c.Forward(); !got.Compare(tt.wantForward, 1e-5) {
				t.Errorf("forward = %+v, want %+v", got, tt.wantForward)
			}
			if got := c.Right(); !got.Compare(tt.wantRight, 1e-5) {
				t.Errorf("right = %+v, want %+v", got, tt.wantRight)
			}
		})
	}
}

func TestCameraMoveAndPitch(t *testing.T) {
	c := NewCamera()
	c.MoveForward(2)
	c.MoveUp(1)
	if want := math.NewVec3(0, 1, 0); !c.Position.Compare(want, 1e-5) {
		t.Errorf("position = %+v, want %+v", c.Position, want)
	}
	c.Pitch(math.DegToRad(200))
	if got, limit := c.EulerRotation.X, math.DegToRad(maxPitch); got != limit {
		t.Errorf("pitch = %f, want clamped to %f", got, limit)
	}
}

func TestCameraConstants(t *testing.T) {
	c := NewCamera()
	c.SetPosition(math.NewVec3(1, 2, 3))
	data := c.Constants()
	if len(data) != CameraConstantsSize || len(data) > hal.MaxPushConstantsSize || len(data)%4 != 0 {
		t.Fatalf("block is %d bytes", len(data))
	}
	float := func(i int) float32 { return gomath.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])) }
	if x, y, z := float(12), float(13), float(14); x != 1 || y != 2 || z != 3 {
		t.Errorf("translation = %v %v %v, want 1 2 3", x, y, z)
	}
	if got, want := float(16), math.TanHalf(math.DegToRad(DefaultFieldOfView)); got != want {
		t.Errorf("tanHalfFov = %f, want %f", got, want)
	}
}

func TestFramePushesCamera(t *testing.T) {
	f := newFixture(t)
	f.scheduler.Camera().SetPosition(math.NewVec3(0, 0, 9))
	if !f.frame(t) {
		t.Fatal("frame was skipped")
	}

	pushed := f.device.LastPushConstants()
	if len(pushed) != CameraConstantsSize {
		t.Fatalf("pushed %d bytes, want %d", len(pushed), CameraConstantsSize)
	}
	if z := gomath.Float32frombits(binary.LittleEndian.Uint32(pushed[14*4:])); z != 9 {
		t.Errorf("camera z = %f, want 9", z)
	}

	graphics := f.device.SubmissionsTo(hal.QueueGraphics)
	if len(graphics) == 0 {
		t.Fatal("no graphics submissions")
	}
	ops := graphics[len(graphics)-1].Ops
	push, trace := -1, -1
	for i, op := range ops {
		switch op {
		case software.OpPushConstant:
			push = i
		case software.OpTraceRays:
			trace = i
		}
	}
	if push < 0 || trace < 0 || push > trace {
		t.Errorf("ops = %v, want push constants before trace rays", ops)
	}
}
