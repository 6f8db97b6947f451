package hal

type AccelerationStructureType int

const (
	BottomLevel AccelerationStructureType = iota
	TopLevel
)

func (t AccelerationStructureType) String() string {
	if t == TopLevel {
		return "top-level"
	}
	return "bottom-level"
}

type BuildFlags uint32

const (
	BuildPreferFastTrace BuildFlags = 1 << iota
	BuildPreferFastBuild
	BuildAllowUpdate
)

type GeometryFlags uint32

const (
	GeometryOpaque GeometryFlags = 1 << iota
)

// TriangleGeometry references uint32-indexed triangles with a 3x4 transform
// already resident on the device.
type TriangleGeometry struct {
	VertexAddress    uint64
	VertexStride     uint64
	MaxVertex        uint32
	IndexAddress     uint64
	TransformAddress uint64
}

// InstanceGeometry references an array of encoded Instance records.
type InstanceGeometry struct {
	Address uint64
}

// AccelerationStructureGeometry carries exactly one of Triangles or Instances.
type AccelerationStructureGeometry struct {
	Flags     GeometryFlags
	Triangles *TriangleGeometry
	Instances *InstanceGeometry
}

type BuildRange struct {
	PrimitiveCount  uint32
	PrimitiveOffset uint32
	FirstVertex     uint32
	TransformOffset uint32
}

type AccelerationStructureBuildInfo struct {
	Type           AccelerationStructureType
	Flags          BuildFlags
	Geometries     []AccelerationStructureGeometry
	Destination    AccelerationStructure
	ScratchAddress uint64
}

// BuildSizes are the unaligned sizes reported by the device.
type BuildSizes struct {
	AccelerationStructureSize uint64
	BuildScratchSize          uint64
}

type AccelerationStructureDescriptor struct {
	Label  string
	Type   AccelerationStructureType
	Buffer Buffer
	Offset uint64
	Size   uint64
}

type AccelerationStructure interface {
	Type() AccelerationStructureType
	DeviceAddress() uint64
	Destroy()
}
