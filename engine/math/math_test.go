package math

import "testing"

func TestAlignUp(t *testing.T) {
	tests := []struct {
		size, alignment, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{100, 128, 128},
		{13, 0, 13},
		{7, 1, 7},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.size, tt.alignment); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.size, tt.alignment, got, tt.want)
		}
		if !IsAligned(AlignUp(tt.size, tt.alignment), tt.alignment) {
			t.Errorf("AlignUp(%d, %d) not aligned", tt.size, tt.alignment)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 3); got != 3 {
		t.Errorf("Clamp(5, 0, 3) = %d", got)
	}
	if got := Clamp(-1.5, 0, 3); got != 0 {
		t.Errorf("Clamp(-1.5, 0, 3) = %v", got)
	}
	if got := Clamp[uint32](2, 0, 3); got != 2 {
		t.Errorf("Clamp(2, 0, 3) = %d", got)
	}
}

func TestTransformAffine(t *testing.T) {
	tests := []struct {
		name  string
		tr    *Transform
		point Vec3
		want  Vec3
	}{
		{"nil is identity", nil, NewVec3(1, 2, 3), NewVec3(1, 2, 3)},
		{"translation", TransformFromPosition(NewVec3(10, 0, -2)), NewVec3(1, 2, 3), NewVec3(11, 2, 1)},
		{
			"scale then translate",
			TransformFromPositionRotationScale(NewVec3(1, 1, 1), NewQuatIdentity(), NewVec3(2, 2, 2)),
			NewVec3(1, 0, 0),
			NewVec3(3, 1, 1),
		},
		{
			"rotate 90 degrees about y",
			TransformFromPositionRotationScale(NewVec3Zero(), NewQuatFromAxisAngle(NewVec3(0, 1, 0), DegToRad(90), true), NewVec3One()),
			NewVec3(1, 0, 0),
			NewVec3(0, 0, -1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			world := tt.tr.GetWorld()
			if got := tt.point.Transform(world); !got.Compare(tt.want, 1e-5) {
				t.Errorf("matrix transform = %+v, want %+v", got, tt.want)
			}
			a := world.Affine()
			got := Vec3{
				a[0][0]*tt.point.X + a[0][1]*tt.point.Y + a[0][2]*tt.point.Z + a[0][3],
				a[1][0]*tt.point.X + a[1][1]*tt.point.Y + a[1][2]*tt.point.Z + a[1][3],
				a[2][0]*tt.point.X + a[2][1]*tt.point.Y + a[2][2]*tt.point.Z + a[2][3],
			}
			if !got.Compare(tt.want, 1e-5) {
				t.Errorf("affine transform = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTransformParentChain(t *testing.T) {
	parent := TransformFromPosition(NewVec3(0, 5, 0))
	child := TransformFromPosition(NewVec3(1, 0, 0))
	child.Parent = parent

	got := NewVec3Zero().Transform(child.GetWorld())
	if want := NewVec3(1, 5, 0); !got.Compare(want, 1e-6) {
		t.Errorf("world origin = %+v, want %+v", got, want)
	}

	parent.Translate(NewVec3(0, 1, 0))
	got = NewVec3Zero().Transform(child.GetWorld())
	if want := NewVec3(1, 6, 0); !got.Compare(want, 1e-6) {
		t.Errorf("after parent moved = %+v, want %+v", got, want)
	}
}

func TestVec3Products(t *testing.T) {
	x, y := NewVec3(1, 0, 0), NewVec3(0, 1, 0)
	if got := x.Dot(y); got != 0 {
		t.Errorf("x.y = %v, want 0", got)
	}
	if got := x.Cross(y); !got.Compare(NewVec3(0, 0, 1), K_FLOAT_EPSILON) {
		t.Errorf("x cross y = %+v, want +z", got)
	}
	if got := NewVec3(3, 4, 0).Normalized().Length(); kabs(got-1) > 1e-6 {
		t.Errorf("normalized length = %v", got)
	}
}

func TestGeometryGenerateNormals(t *testing.T) {
	tests := []struct {
		name    string
		indices []uint32
		want    Vec3
	}{
		{"counter clockwise", []uint32{0, 1, 2}, NewVec3(0, 0, 1)},
		{"clockwise", []uint32{0, 2, 1}, NewVec3(0, 0, -1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vertices := []Vertex{
				{Position: NewVec3(0, 0, 0)},
				{Position: NewVec3(1, 0, 0)},
				{Position: NewVec3(0, 1, 0)},
			}
			GeometryGenerateNormals(vertices, tt.indices)
			for i, v := range vertices {
				if !v.Normal.Compare(tt.want, 1e-6) {
					t.Errorf("vertex %d normal = %+v, want %+v", i, v.Normal, tt.want)
				}
			}
		})
	}
}

func TestGeometryGenerateNormalsSkipsBadIndices(t *testing.T) {
	vertices := []Vertex{{Position: NewVec3(0, 0, 0)}, {Position: NewVec3(1, 0, 0)}}
	GeometryGenerateNormals(vertices, []uint32{0, 1, 5, 0})
	for i, v := range vertices {
		if v.Normal != (Vec3{}) {
			t.Errorf("vertex %d normal = %+v, want zero", i, v.Normal)
		}
	}
}

func TestGeometryDeduplicateVertices(t *testing.T) {
	a := Vertex{Position: NewVec3(0, 0, 0)}
	b := Vertex{Position: NewVec3(1, 0, 0)}
	c := Vertex{Position: NewVec3(0, 1, 0)}
	d := Vertex{Position: NewVec3(1, 1, 0)}
	vertices := []Vertex{a, b, c, b, d, c}
	indices := []uint32{0, 1, 2, 3, 4, 5}

	unique := GeometryDeduplicateVertices(vertices, indices)
	if len(unique) != 4 {
		t.Fatalf("unique vertices = %d, want 4", len(unique))
	}
	want := []uint32{0, 1, 2, 1, 3, 2}
	for i := range want {
		if indices[i] != want[i] {
			t.Fatalf("indices = %v, want %v", indices, want)
		}
	}
	for i, idx := range indices {
		if unique[idx] != vertices[i] {
			t.Errorf("index %d resolves to %+v, want %+v", i, unique[idx], vertices[i])
		}
	}
}
