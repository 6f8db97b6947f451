package renderer

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/lumen/engine/math"
)

// CameraConstantsSize is the raygen push constant block: the camera-to-world
// matrix, tan of half the vertical field of view, and padding.
const CameraConstantsSize = 80

const (
	DefaultFieldOfView float32 = 67.38
	maxPitch           float32 = 89
)

// DefaultCameraPosition looks down -z at the origin.
var DefaultCameraPosition = math.NewVec3(0, 0, 2)

// Camera is the viewpoint rays are launched from. Change it through the
// setters so the world matrix is rebuilt.
type Camera struct {
	Position math.Vec3
	// EulerRotation is pitch, yaw, roll in radians.
	EulerRotation math.Vec3
	// FieldOfView is vertical, in radians.
	FieldOfView float32
	IsDirty     bool
	world       math.Mat4
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.Position = DefaultCameraPosition
	c.EulerRotation = math.NewVec3Zero()
	c.FieldOfView = math.DegToRad(DefaultFieldOfView)
	c.IsDirty = true
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.IsDirty = true
}

func (c *Camera) SetFieldOfView(radians float32) {
	c.FieldOfView = radians
}

// World is the camera-to-world matrix, the inverse of the view matrix.
func (c *Camera) World() math.Mat4 {
	if c.IsDirty {
		rotation := math.NewMat4EulerXYZ(c.EulerRotation.X, c.EulerRotation.Y, c.EulerRotation.Z)
		c.world = rotation.Mul(math.NewMat4Translation(c.Position))
		c.IsDirty = false
	}
	return c.world
}

func (c *Camera) Forward() math.Vec3 {
	w := c.World()
	return math.NewVec3(-w.Data[8], -w.Data[9], -w.Data[10]).Normalized()
}

func (c *Camera) Right() math.Vec3 {
	w := c.World()
	return math.NewVec3(w.Data[0], w.Data[1], w.Data[2]).Normalized()
}

func (c *Camera) MoveForward(amount float32) {
	c.SetPosition(c.Position.Add(c.Forward().MulScalar(amount)))
}

func (c *Camera) MoveRight(amount float32) {
	c.SetPosition(c.Position.Add(c.Right().MulScalar(amount)))
}

func (c *Camera) MoveUp(amount float32) {
	c.SetPosition(c.Position.Add(math.NewVec3(0, amount, 0)))
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.IsDirty = true
}

// Pitch stops short of straight up or down to avoid gimbal lock.
func (c *Camera) Pitch(amount float32) {
	limit := math.DegToRad(maxPitch)
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X+amount, -limit, limit)
	c.IsDirty = true
}

// Constants encodes the push constant block read by the raygen shader.
func (c *Camera) Constants() []byte {
	out := make([]byte, CameraConstantsSize)
	world := c.World()
	for i, v := range world.Data {
		binary.LittleEndian.PutUint32(out[i*4:], gomath.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(out[64:], gomath.Float32bits(math.TanHalf(c.FieldOfView)))
	return out
}
