package raytracing

import (
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
	"github.com/spaghettifunk/lumen/engine/renderer/hal/software"
)

func builtInstances(t *testing.T, s *Scene) []hal.Instance {
	t.Helper()
	return s.Aggregator().Structure().Handle.(*software.AccelerationStructure).Instances()
}

func TestTlasMembership(t *testing.T) {
	s, d := newTestScene(t, nil)

	visibleBuilt := newBuiltObject(t, s, "visible")
	hiddenBuilt := newBuiltObject(t, s, "hidden")
	pending := s.CreateRenderObject("pending")
	destroyed := newBuiltObject(t, s, "destroyed")
	if ok, err := s.DestroyRenderObject(destroyed); !ok || err != nil {
		t.Fatalf("DestroyRenderObject = %v, %v", ok, err)
	}
	_ = hiddenBuilt

	s.Render(visibleBuilt)
	s.Render(visibleBuilt)
	s.Render(pending)
	s.Render(destroyed)
	s.Render(RenderObjectHandle{})

	stats, _ := recordFrame(t, s, d)
	if stats.Instances != 1 {
		t.Fatalf("instances = %d, want 1", stats.Instances)
	}
	if stats.Geometries != 1 {
		t.Errorf("geometries = %d, want 1", stats.Geometries)
	}
	instances := builtInstances(t, s)
	if len(instances) != 1 {
		t.Fatalf("device tlas has %d instances, want 1", len(instances))
	}
	if want := objectState(t, s, visibleBuilt).blas.Address; instances[0].AccelerationStructure != want {
		t.Errorf("instance address = %#x, want %#x", instances[0].AccelerationStructure, want)
	}

	// The visible list is per frame.
	stats, _ = recordFrame(t, s, d)
	if stats.Instances != 0 {
		t.Errorf("instances without Render = %d, want 0", stats.Instances)
	}
}

func TestTlasPendingBuild(t *testing.T) {
	s, d := newTestScene(t, nil)
	h := s.CreateRenderObject("never built")
	v, idx := mesh(3, 3)
	_ = s.AddPrimitive(h, v, idx, MaterialHandle{})
	s.Render(h)

	stats, cb := recordFrame(t, s, d)
	if stats.Instances != 0 || stats.Geometries != 0 {
		t.Errorf("stats = %+v, want no instances", stats)
	}
	if !reflect.DeepEqual(cb.Ops(), []string{software.OpCopyBuffer, software.OpBarrier, software.OpBuild}) {
		t.Errorf("ops = %v", cb.Ops())
	}
	if len(builtInstances(t, s)) != 0 {
		t.Error("device tlas has instances")
	}
}

func TestTlasRecordOrder(t *testing.T) {
	s, d := newTestScene(t, nil)
	h := newBuiltObject(t, s, "ordered")
	s.Render(h)

	_, cb := recordFrame(t, s, d)
	want := []string{software.OpCopyBuffer, software.OpCopyBuffer, software.OpCopyBuffer, software.OpBarrier, software.OpBuild}
	if !reflect.DeepEqual(cb.Ops(), want) {
		t.Errorf("ops = %v, want %v", cb.Ops(), want)
	}
}

func TestTlasBufferGrowth(t *testing.T) {
	s, d := newTestScene(t, nil)
	var handles []RenderObjectHandle
	for i := 0; i < 6; i++ {
		handles = append(handles, newBuiltObject(t, s, ""))
	}
	renderN := func(n int) FrameStats {
		for _, h := range handles[:n] {
			s.Render(h)
		}
		stats, _ := recordFrame(t, s, d)
		return stats
	}

	first := renderN(1)
	if !first.InstanceBufferGrew || !first.DescriptionBufferGrew || !first.TlasRecreated {
		t.Fatalf("first frame stats = %+v, want everything allocated", first)
	}
	instanceAddr := s.Aggregator().InstanceBuffer().DeviceAddress()
	descAddr := s.Aggregator().DescriptionBuffer().DeviceAddress()
	tlasAddr := s.Aggregator().Structure().Address

	// Same or smaller sizes never reallocate.
	for _, n := range []int{1, 0, 1} {
		stats := renderN(n)
		if stats.InstanceBufferGrew || stats.DescriptionBufferGrew || stats.TlasRecreated {
			t.Errorf("%d instances reallocated: %+v", n, stats)
		}
		if got := s.Aggregator().InstanceBuffer().DeviceAddress(); got != instanceAddr {
			t.Errorf("instance buffer moved from %#x to %#x", instanceAddr, got)
		}
		if got := s.Aggregator().DescriptionBuffer().DeviceAddress(); got != descAddr {
			t.Errorf("description buffer moved from %#x to %#x", descAddr, got)
		}
	}

	grown := renderN(6)
	if !grown.InstanceBufferGrew || !grown.DescriptionBufferGrew || !grown.TlasRecreated {
		t.Errorf("6 instances stats = %+v, want growth", grown)
	}
	grownAddr := s.Aggregator().InstanceBuffer().DeviceAddress()
	if grownAddr == instanceAddr {
		t.Error("instance buffer address unchanged after growth")
	}
	if s.Aggregator().Structure().Address == tlasAddr {
		t.Error("tlas address unchanged after recreation")
	}

	again := renderN(6)
	if again.InstanceBufferGrew || again.DescriptionBufferGrew || again.TlasRecreated {
		t.Errorf("repeated 6 instances stats = %+v", again)
	}
	if got := s.Aggregator().InstanceBuffer().DeviceAddress(); got != grownAddr {
		t.Errorf("instance buffer moved twice: %#x -> %#x", grownAddr, got)
	}
	if len(builtInstances(t, s)) != 6 {
		t.Errorf("device tlas instances = %d, want 6", len(builtInstances(t, s)))
	}
}

func TestTlasDescriptorFlushOnce(t *testing.T) {
	s, d := newTestScene(t, nil)
	h := newBuiltObject(t, s, "bound")
	set := s.Bindings().Set().(*software.DescriptorSet)

	s.Render(h)
	recordFrame(t, s, d)
	// top level, instances, descriptions and materials
	if got := set.Writes(); got != 4 {
		t.Fatalf("writes after first frame = %d, want 4", got)
	}
	if set.Binding(hal.BindingTopLevel) != s.Aggregator().Structure().Handle {
		t.Error("top-level binding does not point at the current structure")
	}

	s.Render(h)
	recordFrame(t, s, d)
	if got := set.Writes(); got != 4 {
		t.Errorf("writes after unchanged frame = %d, want 4", got)
	}
	for _, b := range []uint32{hal.BindingTopLevel, hal.BindingInstances, hal.BindingGeometryDescriptions, hal.BindingMaterials} {
		if s.Bindings().Dirty(b) {
			t.Errorf("binding %d still dirty", b)
		}
	}
}

func TestTlasUsesInstanceTransform(t *testing.T) {
	s, d := newTestScene(t, nil)
	h := newBuiltObject(t, s, "moved")
	if err := s.SetTransform(h, math.TransformFromPosition(math.NewVec3(1, 2, 3))); err != nil {
		t.Fatal(err)
	}
	s.Render(h)
	recordFrame(t, s, d)

	got := builtInstances(t, s)[0].Transform
	want := [3][4]float32{{1, 0, 0, 1}, {0, 1, 0, 2}, {0, 0, 1, 3}}
	if got != want {
		t.Errorf("instance transform = %v, want %v", got, want)
	}
}

func TestTlasMaterialIndices(t *testing.T) {
	s, d := newTestScene(t, nil)
	_ = s.CreateMaterial(Material{Roughness: 1})
	red := s.CreateMaterial(Material{BaseColor: math.NewVec4(1, 0, 0, 1)})

	h := s.CreateRenderObject("red")
	v, idx := mesh(3, 3)
	_ = s.AddPrimitive(h, v, idx, red)
	if err := s.BuildRenderObject(h); err != nil {
		t.Fatal(err)
	}

	materialIndex := func() uint32 {
		s.Render(h)
		recordFrame(t, s, d)
		data := s.Aggregator().DescriptionBuffer().(*software.Buffer).Contents()
		return binary.LittleEndian.Uint32(data[40:])
	}
	if got := materialIndex(); got != red.Index() {
		t.Errorf("material index = %d, want %d", got, red.Index())
	}

	if ok, err := s.DestroyMaterial(red); !ok || err != nil {
		t.Fatalf("DestroyMaterial = %v, %v", ok, err)
	}
	if got := materialIndex(); got != 0 {
		t.Errorf("material index after destroy = %d, want default 0", got)
	}
}
