package raytracing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/spaghettifunk/lumen/engine/core"
	lmath "github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// transformSize is the byte size of one row-major 3x4 float matrix.
const transformSize = 48

var errNoGeometry = errors.New("no primitive with valid vertex data")

// primitiveLayout places one primitive inside the concatenated buffers.
type primitiveLayout struct {
	source         int
	vertexOffset   uint64
	indexOffset    uint64
	vertexCount    uint32
	primitiveCount uint32
}

type geometryLayout struct {
	vertexBytes uint64
	indexBytes  uint64
	primitives  []primitiveLayout
}

// planGeometry lays the valid primitives out back to back. A primitive is
// valid when it has vertices, at least one whole triangle and only in-range
// indices. Primitive counts are clamped to maxPrimitives.
func planGeometry(name string, primitives []Primitive, maxPrimitives uint64) geometryLayout {
	var layout geometryLayout
	for i, p := range primitives {
		if len(p.Vertices) == 0 || len(p.Indices) < 3 {
			continue
		}
		if bad, ok := outOfRange(p.Indices, len(p.Vertices)); !ok {
			core.LogWarn("object %q primitive %d: index %d out of range for %d vertices, skipping", name, i, bad, len(p.Vertices))
			continue
		}
		count := uint64(len(p.Indices) / 3)
		if maxPrimitives > 0 && count > maxPrimitives {
			core.LogWarn("object %q primitive %d: %d triangles clamped to %d", name, i, count, maxPrimitives)
			count = maxPrimitives
		}
		layout.primitives = append(layout.primitives, primitiveLayout{
			source:         i,
			vertexOffset:   layout.vertexBytes,
			indexOffset:    layout.indexBytes,
			vertexCount:    uint32(len(p.Vertices)),
			primitiveCount: uint32(count),
		})
		layout.vertexBytes += uint64(len(p.Vertices)) * VertexStride
		layout.indexBytes += uint64(len(p.Indices)) * IndexStride
	}
	return layout
}

func outOfRange(indices []uint32, vertexCount int) (uint32, bool) {
	for _, idx := range indices {
		if int(idx) >= vertexCount {
			return idx, false
		}
	}
	return 0, true
}

func encodeVertices(dst []byte, vertices []lmath.Vertex) {
	off := 0
	put := func(v float32) {
		binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(v))
		off += 4
	}
	for _, v := range vertices {
		put(v.Position.X)
		put(v.Position.Y)
		put(v.Position.Z)
		put(v.Normal.X)
		put(v.Normal.Y)
		put(v.Normal.Z)
		put(v.Texcoord.X)
		put(v.Texcoord.Y)
	}
}

func encodeIndices(dst []byte, indices []uint32) {
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(dst[i*IndexStride:], idx)
	}
}

func encodeTransform(dst []byte, m lmath.Affine3x4) {
	off := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(m[row][col]))
			off += 4
		}
	}
}

// BlasResult is what a successful build hands back to the owner.
type BlasResult struct {
	VertexBuffer hal.Buffer
	IndexBuffer  hal.Buffer
	Descriptions []GeometryDescription
	// Sources maps each description back to the primitive it came from.
	Sources   []int
	Structure *AccelerationStructure
}

func (r *BlasResult) resources() []destroyer {
	return []destroyer{r.Structure, r.VertexBuffer, r.IndexBuffer}
}

// BlasBuilder turns a primitive list into a bottom-level structure on the
// compute queue. Build blocks until the device has finished.
type BlasBuilder struct {
	device hal.Device
}

func NewBlasBuilder(device hal.Device) *BlasBuilder {
	return &BlasBuilder{device: device}
}

// transientSet collects buffers that must be destroyed when a build returns,
// plus the ones kept on success.
type transientSet struct {
	transient []destroyer
	kept      []destroyer
}

func (t *transientSet) release(failed bool) {
	for _, d := range t.transient {
		d.Destroy()
	}
	if failed {
		for _, d := range t.kept {
			d.Destroy()
		}
	}
}

func buildFailure(name, step string, err error) error {
	return fmt.Errorf("blas %q: %s: %w: %w", name, step, core.ErrBuildFailure, err)
}

// Build uploads the primitives and builds their structure. transform is the
// object-space transform applied to every geometry. It returns errNoGeometry
// when no primitive carries valid vertex data.
func (b *BlasBuilder) Build(name string, primitives []Primitive, transform lmath.Affine3x4) (result *BlasResult, err error) {
	limits := b.device.Limits()
	layout := planGeometry(name, primitives, limits.MaxPrimitivesPerGeometry)
	if len(layout.primitives) == 0 {
		return nil, errNoGeometry
	}

	var set transientSet
	defer func() { set.release(err != nil) }()

	// Staging: one region each for vertices, indices and the transform.
	vertexStaging, err := b.createBuffer(name+".vertices.staging", layout.vertexBytes, hal.BufferUsageTransferSrc, hal.MemoryHostVisible, false)
	if err != nil {
		return nil, buildFailure(name, "vertex staging", err)
	}
	set.transient = append(set.transient, vertexStaging)
	indexStaging, err := b.createBuffer(name+".indices.staging", layout.indexBytes, hal.BufferUsageTransferSrc, hal.MemoryHostVisible, false)
	if err != nil {
		return nil, buildFailure(name, "index staging", err)
	}
	set.transient = append(set.transient, indexStaging)
	transformStaging, err := b.createBuffer(name+".transform.staging", transformSize, hal.BufferUsageTransferSrc, hal.MemoryHostVisible, false)
	if err != nil {
		return nil, buildFailure(name, "transform staging", err)
	}
	set.transient = append(set.transient, transformStaging)

	vertexBytes := make([]byte, layout.vertexBytes)
	indexBytes := make([]byte, layout.indexBytes)
	for _, p := range layout.primitives {
		src := primitives[p.source]
		encodeVertices(vertexBytes[p.vertexOffset:], src.Vertices)
		encodeIndices(indexBytes[p.indexOffset:], src.Indices)
	}
	transformBytes := make([]byte, transformSize)
	encodeTransform(transformBytes, transform)
	if err := vertexStaging.Write(0, vertexBytes); err != nil {
		return nil, buildFailure(name, "vertex upload", err)
	}
	if err := indexStaging.Write(0, indexBytes); err != nil {
		return nil, buildFailure(name, "index upload", err)
	}
	if err := transformStaging.Write(0, transformBytes); err != nil {
		return nil, buildFailure(name, "transform upload", err)
	}

	// Device-local destinations. Vertices and indices are read again by hit
	// shaders on the graphics queue.
	inputUsage := hal.BufferUsageTransferDst | hal.BufferUsageAccelerationStructureInput | hal.BufferUsageShaderDeviceAddress
	vertexBuffer, err := b.createBuffer(name+".vertices", layout.vertexBytes, inputUsage|hal.BufferUsageStorage, hal.MemoryDeviceLocal, true)
	if err != nil {
		return nil, buildFailure(name, "vertex buffer", err)
	}
	set.kept = append(set.kept, vertexBuffer)
	indexBuffer, err := b.createBuffer(name+".indices", layout.indexBytes, inputUsage|hal.BufferUsageStorage, hal.MemoryDeviceLocal, true)
	if err != nil {
		return nil, buildFailure(name, "index buffer", err)
	}
	set.kept = append(set.kept, indexBuffer)
	transformBuffer, err := b.createBuffer(name+".transform", transformSize, inputUsage, hal.MemoryDeviceLocal, false)
	if err != nil {
		return nil, buildFailure(name, "transform buffer", err)
	}
	set.transient = append(set.transient, transformBuffer)

	// One geometry per primitive.
	geometries := make([]hal.AccelerationStructureGeometry, len(layout.primitives))
	ranges := make([]hal.BuildRange, len(layout.primitives))
	counts := make([]uint32, len(layout.primitives))
	descriptions := make([]GeometryDescription, len(layout.primitives))
	sources := make([]int, len(layout.primitives))
	for i, p := range layout.primitives {
		geometries[i] = hal.AccelerationStructureGeometry{
			Flags: hal.GeometryOpaque,
			Triangles: &hal.TriangleGeometry{
				VertexAddress:    vertexBuffer.DeviceAddress() + p.vertexOffset,
				VertexStride:     VertexStride,
				MaxVertex:        p.vertexCount - 1,
				IndexAddress:     indexBuffer.DeviceAddress() + p.indexOffset,
				TransformAddress: transformBuffer.DeviceAddress(),
			},
		}
		ranges[i] = hal.BuildRange{PrimitiveCount: p.primitiveCount}
		counts[i] = p.primitiveCount
		descriptions[i] = GeometryDescription{
			VertexAddress:  vertexBuffer.DeviceAddress() + p.vertexOffset,
			IndexAddress:   indexBuffer.DeviceAddress() + p.indexOffset,
			VertexOffset:   p.vertexOffset,
			IndexOffset:    p.indexOffset,
			VertexCount:    p.vertexCount,
			PrimitiveCount: p.primitiveCount,
		}
		sources[i] = p.source
	}

	info := hal.AccelerationStructureBuildInfo{
		Type:       hal.BottomLevel,
		Flags:      hal.BuildPreferFastTrace,
		Geometries: geometries,
	}
	sizes := b.device.AccelerationStructureBuildSizes(&info, counts)
	structure, err := newAccelerationStructure(b.device, hal.BottomLevel, name+".blas", sizes, true)
	if err != nil {
		return nil, buildFailure(name, "structure", err)
	}
	set.kept = append(set.kept, structure)
	info.Destination = structure.Handle
	info.ScratchAddress = scratchAddress(b.device, structure.Scratch)

	if err := b.submit(name, &info, ranges, []copyJob{
		{vertexStaging, vertexBuffer, layout.vertexBytes},
		{indexStaging, indexBuffer, layout.indexBytes},
		{transformStaging, transformBuffer, transformSize},
	}); err != nil {
		return nil, err
	}
	structure.ReleaseScratch()

	core.LogDebug("built blas %q: %d geometries, %d bytes at %#x", name, len(geometries), structure.Size, structure.Address)
	return &BlasResult{
		VertexBuffer: vertexBuffer,
		IndexBuffer:  indexBuffer,
		Descriptions: descriptions,
		Sources:      sources,
		Structure:    structure,
	}, nil
}

type copyJob struct {
	src, dst hal.Buffer
	size     uint64
}

// submit records copies, a barrier and the build into a one-time command
// buffer and waits on a dedicated fence.
func (b *BlasBuilder) submit(name string, info *hal.AccelerationStructureBuildInfo, ranges []hal.BuildRange, copies []copyJob) error {
	cb, err := b.device.CreateCommandBuffer(hal.QueueCompute)
	if err != nil {
		return buildFailure(name, "command buffer", err)
	}
	defer cb.Destroy()
	fence, err := b.device.CreateFence(false)
	if err != nil {
		return buildFailure(name, "fence", err)
	}
	defer fence.Destroy()

	if err := cb.Begin(true); err != nil {
		return buildFailure(name, "begin", err)
	}
	for _, c := range copies {
		cb.CopyBuffer(c.src, c.dst, hal.BufferCopy{Size: c.size})
	}
	cb.PipelineBarrier(hal.StageTransfer, hal.StageAccelerationStructureBuild, hal.MemoryBarrier{
		SrcAccess: hal.AccessTransferWrite,
		DstAccess: hal.AccessAccelerationStructureRead | hal.AccessAccelerationStructureWrite,
	})
	cb.BuildAccelerationStructures([]hal.AccelerationStructureBuildInfo{*info}, [][]hal.BuildRange{ranges})
	if err := cb.End(); err != nil {
		return buildFailure(name, "end", err)
	}

	if err := hal.Submit(b.device.Queue(hal.QueueCompute), hal.SubmitInfo{
		CommandBuffers: []hal.CommandBuffer{cb},
		Fence:          fence,
	}); err != nil {
		return buildFailure(name, "submit", err)
	}
	if err := fence.Wait(0); err != nil {
		return buildFailure(name, "wait", err)
	}
	return nil
}

func (b *BlasBuilder) createBuffer(label string, size uint64, usage hal.BufferUsage, location hal.MemoryLocation, shared bool) (hal.Buffer, error) {
	return b.device.CreateBuffer(hal.BufferDescriptor{
		Label:    label,
		Size:     size,
		Usage:    usage,
		Location: location,
		Shared:   shared,
	})
}
