package raytracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
	"github.com/spaghettifunk/lumen/engine/renderer/hal/software"
)

func TestPlanGeometryConcatenation(t *testing.T) {
	tests := []struct {
		name         string
		vertexCounts []int
		indexCounts  []int
	}{
		{"single", []int{3}, []int{3}},
		{"two", []int{4, 3}, []int{6, 3}},
		{"uneven", []int{10, 1, 7, 3}, []int{30, 3, 12, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prims []Primitive
			var wantVertexBytes, wantIndexBytes uint64
			for i := range tt.vertexCounts {
				v, idx := mesh(tt.vertexCounts[i], tt.indexCounts[i])
				prims = append(prims, Primitive{Vertices: v, Indices: idx})
			}

			layout := planGeometry(tt.name, prims, 0)
			if len(layout.primitives) != len(prims) {
				t.Fatalf("planned %d primitives, want %d", len(layout.primitives), len(prims))
			}
			for i, p := range layout.primitives {
				if p.vertexOffset != wantVertexBytes {
					t.Errorf("primitive %d vertex offset = %d, want %d", i, p.vertexOffset, wantVertexBytes)
				}
				if p.indexOffset != wantIndexBytes {
					t.Errorf("primitive %d index offset = %d, want %d", i, p.indexOffset, wantIndexBytes)
				}
				wantVertexBytes += uint64(tt.vertexCounts[i]) * VertexStride
				wantIndexBytes += uint64(tt.indexCounts[i]) * IndexStride
			}
			if layout.vertexBytes != wantVertexBytes || layout.indexBytes != wantIndexBytes {
				t.Errorf("sizes = %d/%d, want %d/%d", layout.vertexBytes, layout.indexBytes, wantVertexBytes, wantIndexBytes)
			}
		})
	}
}

func TestPlanGeometrySkipsInvalidPrimitives(t *testing.T) {
	good, goodIdx := mesh(3, 3)
	prims := []Primitive{
		{Vertices: nil, Indices: []uint32{0, 1, 2}},
		{Vertices: good, Indices: []uint32{0, 1}},
		{Vertices: good, Indices: []uint32{0, 1, 7}},
		{Vertices: good, Indices: goodIdx},
	}
	layout := planGeometry("mixed", prims, 0)
	if len(layout.primitives) != 1 || layout.primitives[0].source != 3 {
		t.Fatalf("planned %+v, want only primitive 3", layout.primitives)
	}
	if layout.primitives[0].vertexOffset != 0 {
		t.Errorf("offset = %d, want 0", layout.primitives[0].vertexOffset)
	}
}

func TestBuildSinglePrimitiveObject(t *testing.T) {
	s, _ := newTestScene(t, nil)
	h := newBuiltObject(t, s, "triangle")

	obj := objectState(t, s, h)
	if !obj.Built() {
		t.Fatal("object has no blas after build")
	}
	if got := obj.vertexBuffer.Size(); got != 3*VertexStride {
		t.Errorf("vertex buffer size = %d, want %d", got, 3*VertexStride)
	}
	if got := obj.indexBuffer.Size(); got != 3*4 {
		t.Errorf("index buffer size = %d, want 12", got)
	}
	if len(obj.descriptions) != 1 {
		t.Fatalf("descriptions = %d, want 1", len(obj.descriptions))
	}
	d := obj.descriptions[0]
	if d.VertexOffset != 0 || d.IndexOffset != 0 {
		t.Errorf("offsets = %d/%d, want 0/0", d.VertexOffset, d.IndexOffset)
	}
	if d.VertexAddress != obj.vertexBuffer.DeviceAddress() || d.IndexAddress != obj.indexBuffer.DeviceAddress() {
		t.Errorf("description addresses do not match the buffers")
	}
	if obj.blas.Scratch != nil {
		t.Error("scratch buffer kept after build")
	}
	if !obj.blas.Handle.(*software.AccelerationStructure).Built() {
		t.Error("device structure was never built")
	}
}

func TestBuildSubmitsOnComputeQueue(t *testing.T) {
	s, d := newTestScene(t, nil)
	newBuiltObject(t, s, "triangle")

	compute := d.SubmissionsTo(hal.QueueCompute)
	if len(compute) != 1 {
		t.Fatalf("compute submissions = %d, want 1", len(compute))
	}
	want := []string{software.OpCopyBuffer, software.OpCopyBuffer, software.OpCopyBuffer, software.OpBarrier, software.OpBuild}
	if got := strings.Join(compute[0].Ops, ","); got != strings.Join(want, ",") {
		t.Errorf("ops = %s, want %s", got, strings.Join(want, ","))
	}
	if got := len(d.SubmissionsTo(hal.QueueGraphics)); got != 0 {
		t.Errorf("graphics submissions = %d, want 0", got)
	}
}

func TestBuildSharesBuffersWithGraphics(t *testing.T) {
	s, d := newTestScene(t, nil)
	h := newBuiltObject(t, s, "triangle")
	obj := objectState(t, s, h)

	tests := []struct {
		name   string
		buffer hal.Buffer
	}{
		{"vertices", obj.vertexBuffer},
		{"indices", obj.indexBuffer},
		{"result", obj.blas.Result},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.buffer.(*software.Buffer).Shared() {
				t.Errorf("%s buffer is exclusive to the compute queue", tt.buffer.Label())
			}
		})
	}

	// The top-level build and the trace read the structure and its geometry
	// on the graphics queue.
	s.Render(h)
	if stats, _ := recordFrame(t, s, d); stats.Instances != 1 {
		t.Errorf("instances = %d, want 1", stats.Instances)
	}
}

func TestBuildUploadsConcatenatedGeometry(t *testing.T) {
	s, _ := newTestScene(t, nil)
	h := s.CreateRenderObject("pair")
	v1, i1 := mesh(4, 6)
	v2, i2 := mesh(3, 3)
	_ = s.AddPrimitive(h, v1, i1, MaterialHandle{})
	_ = s.AddPrimitive(h, v2, i2, MaterialHandle{})
	if err := s.BuildRenderObject(h); err != nil {
		t.Fatal(err)
	}

	obj := objectState(t, s, h)
	if got, want := obj.vertexBuffer.Size(), uint64(7*VertexStride); got != want {
		t.Errorf("vertex buffer = %d, want %d", got, want)
	}
	if got, want := obj.indexBuffer.Size(), uint64(9*IndexStride); got != want {
		t.Errorf("index buffer = %d, want %d", got, want)
	}
	if got := obj.descriptions[1].VertexOffset; got != 4*VertexStride {
		t.Errorf("second vertex offset = %d, want %d", got, 4*VertexStride)
	}
	if got := obj.descriptions[1].IndexOffset; got != 6*IndexStride {
		t.Errorf("second index offset = %d, want %d", got, 6*IndexStride)
	}

	// The copy ran before the build: the second primitive's indices are on
	// the device at its offset.
	data := obj.indexBuffer.(*software.Buffer).Contents()
	if got := data[6*IndexStride+4]; got != 1 {
		t.Errorf("uploaded index = %d, want 1", got)
	}
}

func TestBuildAlignment(t *testing.T) {
	for _, alignment := range []uint64{1, 64, 128, 256, 1024} {
		for _, triangles := range []int{1, 2, 5, 33} {
			d := software.NewDevice(software.Options{
				Limits: hal.Limits{MaxPrimitivesPerGeometry: 1 << 20, MinScratchAlignment: alignment},
				Extent: hal.Extent{Width: 4, Height: 4},
			})
			v, idx := mesh(3, triangles*3)
			res, err := NewBlasBuilder(d).Build("aligned", []Primitive{{Vertices: v, Indices: idx}}, math.IdentityAffine())
			if err != nil {
				t.Fatalf("alignment %d, %d triangles: %v", alignment, triangles, err)
			}
			if res.Structure.Size%ResultAlignment != 0 {
				t.Errorf("result size %d is not a multiple of %d", res.Structure.Size, ResultAlignment)
			}
			if res.Structure.ScratchSize%alignment != 0 {
				t.Errorf("scratch size %d is not a multiple of %d", res.Structure.ScratchSize, alignment)
			}
		}
	}
}

func TestBuildClampsPrimitiveCount(t *testing.T) {
	s, _ := newTestScene(t, func(o *software.Options) { o.Limits.MaxPrimitivesPerGeometry = 1 })
	h := s.CreateRenderObject("quad")
	v, idx := mesh(4, 6)
	_ = s.AddPrimitive(h, v, idx, MaterialHandle{})
	if err := s.BuildRenderObject(h); err != nil {
		t.Fatal(err)
	}
	obj := objectState(t, s, h)
	if got := obj.descriptions[0].PrimitiveCount; got != 1 {
		t.Errorf("primitive count = %d, want 1", got)
	}
	if got := obj.blas.Handle.(*software.AccelerationStructure).Primitives(); got != 1 {
		t.Errorf("device primitives = %d, want 1", got)
	}
}

func TestBuildWithoutGeometry(t *testing.T) {
	s, d := newTestScene(t, nil)
	h := s.CreateRenderObject("empty")
	_ = s.AddPrimitive(h, nil, nil, MaterialHandle{})

	if err := s.BuildRenderObject(h); err != nil {
		t.Fatalf("build of empty object returned %v", err)
	}
	obj := objectState(t, s, h)
	if obj.Built() {
		t.Error("empty object got a blas")
	}
	if got := d.Stats().BuffersAlive; got != 0 {
		t.Errorf("BuffersAlive = %d, want 0", got)
	}
}

func TestBuildFailureLeavesObjectUnbuilt(t *testing.T) {
	tests := []struct {
		name   string
		inject func(d *software.Device)
		fatal  bool
	}{
		{
			name:   "device build",
			inject: func(d *software.Device) { d.FailNextBuild(errors.New("driver refused")) },
		},
		{
			name: "result allocation",
			inject: func(d *software.Device) {
				d.SetBufferFault(func(desc hal.BufferDescriptor) error {
					if strings.HasSuffix(desc.Label, ".result") {
						return core.ErrOutOfMemory
					}
					return nil
				})
			},
			fatal: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, d := newTestScene(t, nil)
			h := s.CreateRenderObject("doomed")
			v, idx := mesh(3, 3)
			_ = s.AddPrimitive(h, v, idx, MaterialHandle{})
			tt.inject(d)

			err := s.BuildRenderObject(h)
			if !errors.Is(err, core.ErrBuildFailure) {
				t.Fatalf("err = %v, want ErrBuildFailure", err)
			}
			if core.IsFatal(err) != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", core.IsFatal(err), tt.fatal)
			}
			obj := objectState(t, s, h)
			if obj.Built() {
				t.Error("failed object has a blas")
			}
			if got := d.Stats().BuffersAlive; got != 0 {
				t.Errorf("BuffersAlive = %d after failed build, want 0", got)
			}
		})
	}
}
