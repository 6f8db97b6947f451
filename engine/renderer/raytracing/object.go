package raytracing

import (
	"encoding/binary"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

const (
	// VertexStride is the byte size of one math.Vertex on the device.
	VertexStride = 32
	// IndexStride is the byte size of one uint32 index.
	IndexStride = 4
	// GeometryDescriptionSize is the byte size of one encoded GeometryDescription.
	GeometryDescriptionSize = 48
)

type (
	RenderObjectHandle = containers.Handle[RenderObject]
	MaterialHandle     = containers.Handle[Material]
	TextureHandle      = containers.Handle[Texture]
)

// Primitive is one triangle list of a render object.
type Primitive struct {
	Vertices []math.Vertex
	Indices  []uint32
	Material MaterialHandle
}

// GeometryDescription is the per-primitive record shaders use to fetch
// vertex attributes after a hit.
type GeometryDescription struct {
	// VertexAddress and IndexAddress already include the offsets below.
	VertexAddress  uint64
	IndexAddress   uint64
	VertexOffset   uint64
	IndexOffset    uint64
	VertexCount    uint32
	PrimitiveCount uint32
	MaterialIndex  uint32
}

// Encode writes the description to dst, which must hold
// GeometryDescriptionSize bytes.
func (g GeometryDescription) Encode(dst []byte) {
	_ = dst[GeometryDescriptionSize-1]
	binary.LittleEndian.PutUint64(dst[0:], g.VertexAddress)
	binary.LittleEndian.PutUint64(dst[8:], g.IndexAddress)
	binary.LittleEndian.PutUint64(dst[16:], g.VertexOffset)
	binary.LittleEndian.PutUint64(dst[24:], g.IndexOffset)
	binary.LittleEndian.PutUint32(dst[32:], g.VertexCount)
	binary.LittleEndian.PutUint32(dst[36:], g.PrimitiveCount)
	binary.LittleEndian.PutUint32(dst[40:], g.MaterialIndex)
	binary.LittleEndian.PutUint32(dst[44:], 0)
}

// RenderObject is a renderable entity. Everything below the primitives is
// produced by a build.
type RenderObject struct {
	Name       string
	Transform  *math.Transform
	Primitives []Primitive

	vertexBuffer hal.Buffer
	indexBuffer  hal.Buffer
	descriptions []GeometryDescription
	// materials[i] is the material of descriptions[i].
	materials []MaterialHandle
	blas      *AccelerationStructure

	// buildToken identifies the latest build request; a build whose token
	// no longer matches discards its result.
	buildToken uint64
	building   bool
}

// Built reports whether the object has a completed bottom-level structure.
func (o *RenderObject) Built() bool {
	return o.blas != nil
}

// retire detaches the build products so they can be released later.
func (o *RenderObject) retire() []destroyer {
	var out []destroyer
	if o.blas != nil {
		out = append(out, o.blas)
	}
	if o.vertexBuffer != nil {
		out = append(out, o.vertexBuffer)
	}
	if o.indexBuffer != nil {
		out = append(out, o.indexBuffer)
	}
	o.blas = nil
	o.vertexBuffer = nil
	o.indexBuffer = nil
	o.descriptions = nil
	o.materials = nil
	return out
}

// FrameStats summarises one top-level aggregation.
type FrameStats struct {
	Instances             uint32
	Geometries            uint32
	InstanceBufferGrew    bool
	DescriptionBufferGrew bool
	MaterialBufferGrew    bool
	TlasRecreated         bool
}
