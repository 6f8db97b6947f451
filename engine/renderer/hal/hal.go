// Package hal is the capability surface the ray-tracing core consumes from a
// graphics backend. A backend is picked at start-up; implementations are never
// mixed within one device.
package hal

import (
	"sync"
	"time"
)

type QueueType int

const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTransfer
)

func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	}
	return "unknown"
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageStorage
	BufferUsageShaderDeviceAddress
	BufferUsageAccelerationStructureInput
	BufferUsageAccelerationStructureStorage
	BufferUsageShaderBindingTable
)

type MemoryLocation int

const (
	MemoryDeviceLocal MemoryLocation = iota
	MemoryHostVisible
)

type Format int

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatBGRA8Srgb
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageStorage
	ImageUsageSampled
)

type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutTransferSrc
	LayoutTransferDst
	LayoutShaderReadOnly
	LayoutPresentSrc
)

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageTransfer
	StageAccelerationStructureBuild
	StageRayTracingShader
	StageColorAttachmentOutput
	StageBottomOfPipe
	StageAllCommands
)

type Access uint32

const (
	AccessNone         Access = 0
	AccessTransferRead Access = 1 << iota
	AccessTransferWrite
	AccessAccelerationStructureRead
	AccessAccelerationStructureWrite
	AccessShaderRead
	AccessShaderWrite
	AccessMemoryRead
)

type Extent struct {
	Width  uint32
	Height uint32
}

// Limits are the device properties the acceleration structure builders
// depend on.
type Limits struct {
	MaxPrimitivesPerGeometry uint64
	MaxInstances             uint64
	MinScratchAlignment      uint64
}

type BufferDescriptor struct {
	Label    string
	Size     uint64
	Usage    BufferUsage
	Location MemoryLocation
	// Shared buffers may be accessed from the graphics and compute queues
	// without ownership transfers. Exclusive buffers belong to the first
	// queue that uses them.
	Shared   bool
}

type ImageDescriptor struct {
	Label  string
	Extent Extent
	Format Format
	Usage  ImageUsage
}

type Buffer interface {
	Label() string
	Size() uint64
	// DeviceAddress is stable for the lifetime of the buffer.
	DeviceAddress() uint64
	// Write copies data into a host-visible buffer at offset.
	Write(offset uint64, data []byte) error
	Destroy()
}

type Image interface {
	Label() string
	Extent() Extent
	Format() Format
	Destroy()
}

type Fence interface {
	// Wait blocks until the fence signals. A zero timeout waits forever.
	Wait(timeout time.Duration) error
	Reset() error
	Signaled() bool
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type MemoryBarrier struct {
	SrcAccess Access
	DstAccess Access
}

type ImageBarrier struct {
	Image     Image
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess Access
	DstAccess Access
}

type CommandBuffer interface {
	Begin(oneTimeSubmit bool) error
	End() error
	Reset() error
	CopyBuffer(src, dst Buffer, regions ...BufferCopy)
	PipelineBarrier(src, dst PipelineStage, barriers ...MemoryBarrier)
	ImageBarrier(src, dst PipelineStage, barriers ...ImageBarrier)
	CopyImage(src Image, srcLayout ImageLayout, dst Image, dstLayout ImageLayout, extent Extent)
	BuildAccelerationStructures(infos []AccelerationStructureBuildInfo, ranges [][]BuildRange)
	// PushConstants sets the raygen push constant block of pipeline. data
	// is at most MaxPushConstantsSize bytes, a multiple of 4.
	PushConstants(pipeline RayTracingPipeline, data []byte)
	TraceRays(pipeline RayTracingPipeline, set DescriptorSet, width, height uint32)
	Destroy()
}

// MaxPushConstantsSize is the push constant space every device guarantees.
const MaxPushConstantsSize = 128

type SubmitInfo struct {
	CommandBuffers []CommandBuffer
	Wait           []Semaphore
	WaitStages     []PipelineStage
	Signal         []Semaphore
	Fence          Fence
}

// Queue must be locked for the duration of every Submit and Present.
type Queue interface {
	sync.Locker
	Type() QueueType
	Submit(info SubmitInfo) error
	WaitIdle() error
}

type Swapchain interface {
	// AcquireNextImage returns core.ErrDeviceStale when the surface no longer
	// matches the swapchain.
	AcquireNextImage(signal Semaphore) (uint32, error)
	// Present returns core.ErrDeviceStale when the surface no longer matches
	// the swapchain.
	Present(queue Queue, imageIndex uint32, wait Semaphore) error
	Recreate(width, height uint32) error
	Extent() Extent
	Format() Format
	ImageCount() uint32
	Image(index uint32) Image
	Destroy()
}

// Descriptor bindings of the ray-tracing pass.
const (
	BindingTopLevel uint32 = iota
	BindingOutputImage
	BindingGeometryDescriptions
	BindingMaterials
	BindingInstances
)

type DescriptorSet interface {
	WriteAccelerationStructure(binding uint32, as AccelerationStructure)
	WriteStorageImage(binding uint32, image Image)
	WriteStorageBuffer(binding uint32, buffer Buffer)
	Destroy()
}

// RayTracingPipeline is created outside the renderer core together with its
// shader binding table. The core only dispatches it.
type RayTracingPipeline interface {
	Label() string
}

type Device interface {
	Limits() Limits
	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	CreateImage(desc ImageDescriptor) (Image, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandBuffer(queue QueueType) (CommandBuffer, error)
	CreateDescriptorSet(label string) (DescriptorSet, error)
	Queue(queue QueueType) Queue
	AccelerationStructureBuildSizes(info *AccelerationStructureBuildInfo, primitiveCounts []uint32) BuildSizes
	CreateAccelerationStructure(desc AccelerationStructureDescriptor) (AccelerationStructure, error)
	Swapchain() Swapchain
	WaitIdle() error
	Destroy()
}

// Submit holds the queue lock for the duration of the submission.
func Submit(q Queue, info SubmitInfo) error {
	q.Lock()
	defer q.Unlock()
	return q.Submit(info)
}

// Present holds the queue lock for the duration of the presentation.
func Present(sc Swapchain, q Queue, imageIndex uint32, wait Semaphore) error {
	q.Lock()
	defer q.Unlock()
	return sc.Present(q, imageIndex, wait)
}
