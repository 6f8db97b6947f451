package raytracing

import (
	"testing"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
	"github.com/spaghettifunk/lumen/engine/renderer/hal/software"
)

func newTestScene(t *testing.T, mutate func(*software.Options)) (*Scene, *software.Device) {
	t.Helper()
	opts := software.DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	device := software.NewDevice(opts)
	scene, err := NewScene(device, Options{ObjectCapacity: 8, MaterialCapacity: 4, InstanceCapacity: 1})
	if err != nil {
		t.Fatalf("NewScene: %v", err)
	}
	return scene, device
}

func mesh(vertexCount, indexCount int) ([]math.Vertex, []uint32) {
	vertices := make([]math.Vertex, vertexCount)
	for i := range vertices {
		vertices[i].Position = math.NewVec3(float32(i), float32(i%2), 0)
		vertices[i].Normal = math.NewVec3(0, 0, 1)
	}
	indices := make([]uint32, indexCount)
	for i := range indices {
		indices[i] = uint32(i % vertexCount)
	}
	return vertices, indices
}

// newBuiltObject creates an object with one triangle and builds it.
func newBuiltObject(t *testing.T, s *Scene, name string) RenderObjectHandle {
	t.Helper()
	h := s.CreateRenderObject(name)
	v, i := mesh(3, 3)
	if err := s.AddPrimitive(h, v, i, MaterialHandle{}); err != nil {
		t.Fatalf("AddPrimitive: %v", err)
	}
	if err := s.BuildRenderObject(h); err != nil {
		t.Fatalf("BuildRenderObject(%s): %v", name, err)
	}
	return h
}

// recordFrame records the top-level aggregation into a fresh command buffer
// and submits it.
func recordFrame(t *testing.T, s *Scene, d *software.Device) (FrameStats, *software.CommandBuffer) {
	t.Helper()
	c, err := d.CreateCommandBuffer(hal.QueueGraphics)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Begin(true); err != nil {
		t.Fatal(err)
	}
	stats, err := s.RecordTopLevel(c)
	if err != nil {
		t.Fatalf("RecordTopLevel: %v", err)
	}
	if err := c.End(); err != nil {
		t.Fatal(err)
	}
	if err := hal.Submit(d.Queue(hal.QueueGraphics), hal.SubmitInfo{CommandBuffers: []hal.CommandBuffer{c}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return stats, c.(*software.CommandBuffer)
}

func objectState(t *testing.T, s *Scene, h RenderObjectHandle) RenderObject {
	t.Helper()
	s.objectsMu.Lock()
	defer s.objectsMu.Unlock()
	obj, err := s.objects.Get(h)
	if err != nil {
		t.Fatalf("Get(%s): %v", h, err)
	}
	return *obj
}
