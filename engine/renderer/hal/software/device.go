// Package software implements hal on the CPU. Commands are recorded into
// closures and executed in order when submitted, so every submission has
// completed by the time Submit returns. It validates usage the way a driver's
// validation layer would: destroyed resources, unlocked queues, unsignaled
// semaphores and bad layouts are reported as errors.
package software

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

const (
	baseAddress      uint64 = 0x10000
	addressAlignment uint64 = 256
)

var ErrValidation = errors.New("validation error")

type Options struct {
	Limits     hal.Limits
	Extent     hal.Extent
	ImageCount uint32
}

func DefaultOptions() Options {
	return Options{
		Limits: hal.Limits{
			MaxPrimitivesPerGeometry: 1 << 24,
			MaxInstances:             1 << 20,
			MinScratchAlignment:      128,
		},
		Extent:     hal.Extent{Width: 1280, Height: 720},
		ImageCount: 3,
	}
}

// Stats counts executed work.
type Stats struct {
	Submits      int
	Builds       int
	TraceRays    int
	Presents     int
	Recreations  int
	BuffersAlive int
}

type Device struct {
	mu          sync.Mutex
	limits      hal.Limits
	nextAddress uint64
	buffers     map[*Buffer]struct{}
	structures  map[uint64]*AccelerationStructure
	queues      map[hal.QueueType]*Queue
	swapchain   *Swapchain
	stats       Stats

	bufferFault func(desc hal.BufferDescriptor) error
	buildFault  error
	buildHook   func(info hal.AccelerationStructureBuildInfo)
	lastTrace   []hal.Instance
	lastPush    []byte
	submissions []Submission
}

// Submission is one executed command buffer.
type Submission struct {
	Queue hal.QueueType
	Ops   []string
}

// maxSubmissions bounds the submission log of long headless runs.
const maxSubmissions = 64

func NewDevice(opts Options) *Device {
	if opts.Limits.MinScratchAlignment == 0 {
		opts.Limits.MinScratchAlignment = 1
	}
	if opts.ImageCount == 0 {
		opts.ImageCount = 3
	}
	d := &Device{
		limits:      opts.Limits,
		nextAddress: baseAddress,
		buffers:     make(map[*Buffer]struct{}),
		structures:  make(map[uint64]*AccelerationStructure),
		queues:      make(map[hal.QueueType]*Queue),
	}
	for _, t := range []hal.QueueType{hal.QueueGraphics, hal.QueueCompute, hal.QueueTransfer} {
		d.queues[t] = &Queue{device: d, kind: t}
	}
	d.swapchain = newSwapchain(d, opts.Extent, opts.ImageCount)
	core.LogDebug("software device created (%dx%d, %d images)", opts.Extent.Width, opts.Extent.Height, opts.ImageCount)
	return d
}

func (d *Device) Limits() hal.Limits {
	return d.limits
}

func (d *Device) CreateBuffer(desc hal.BufferDescriptor) (hal.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bufferFault != nil {
		if err := d.bufferFault(desc); err != nil {
			return nil, fmt.Errorf("failed to create buffer %q: %w", desc.Label, err)
		}
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size: %w", desc.Label, ErrValidation)
	}
	b := &Buffer{
		device:   d,
		label:    desc.Label,
		usage:    desc.Usage,
		location: desc.Location,
		address:  d.nextAddress,
		data:     make([]byte, desc.Size),
		shared:   desc.Shared,
	}
	d.nextAddress += math.AlignUp(desc.Size, addressAlignment) + addressAlignment
	d.buffers[b] = struct{}{}
	d.stats.BuffersAlive++
	return b, nil
}

func (d *Device) CreateImage(desc hal.ImageDescriptor) (hal.Image, error) {
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return nil, fmt.Errorf("image %q has empty extent: %w", desc.Label, ErrValidation)
	}
	return &Image{label: desc.Label, extent: desc.Extent, format: desc.Format, usage: desc.Usage}, nil
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	return newFence(signaled), nil
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	return &Semaphore{}, nil
}

func (d *Device) CreateCommandBuffer(queue hal.QueueType) (hal.CommandBuffer, error) {
	return &CommandBuffer{device: d, queue: queue}, nil
}

func (d *Device) CreateDescriptorSet(label string) (hal.DescriptorSet, error) {
	return &DescriptorSet{label: label, bindings: make(map[uint32]interface{})}, nil
}

func (d *Device) Queue(queue hal.QueueType) hal.Queue {
	return d.queues[queue]
}

// AccelerationStructureBuildSizes reports deliberately unaligned sizes so
// callers have to apply the alignment rules themselves.
func (d *Device) AccelerationStructureBuildSizes(info *hal.AccelerationStructureBuildInfo, primitiveCounts []uint32) hal.BuildSizes {
	var total uint64
	for _, c := range primitiveCounts {
		total += uint64(c)
	}
	if info.Type == hal.TopLevel {
		return hal.BuildSizes{
			AccelerationStructureSize: 128*total + 72,
			BuildScratchSize:          64*total + 24,
		}
	}
	return hal.BuildSizes{
		AccelerationStructureSize: 64*total + 200,
		BuildScratchSize:          32*total + 8,
	}
}

func (d *Device) CreateAccelerationStructure(desc hal.AccelerationStructureDescriptor) (hal.AccelerationStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := desc.Buffer.(*Buffer)
	if !ok || buf == nil || buf.destroyed {
		return nil, fmt.Errorf("acceleration structure %q needs a live buffer: %w", desc.Label, ErrValidation)
	}
	if buf.usage&hal.BufferUsageAccelerationStructureStorage == 0 {
		return nil, fmt.Errorf("buffer %q lacks acceleration structure storage usage: %w", buf.label, ErrValidation)
	}
	if desc.Offset+desc.Size > uint64(len(buf.data)) {
		return nil, fmt.Errorf("acceleration structure %q does not fit buffer %q: %w", desc.Label, buf.label, ErrValidation)
	}
	as := &AccelerationStructure{
		device:  d,
		label:   desc.Label,
		kind:    desc.Type,
		buffer:  buf,
		address: buf.address + desc.Offset,
		size:    desc.Size,
	}
	d.structures[as.address] = as
	return as, nil
}

func (d *Device) Swapchain() hal.Swapchain {
	return d.swapchain
}

func (d *Device) WaitIdle() error {
	return nil
}

func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.buffers); n > 0 {
		core.LogWarn("software device destroyed with %d live buffers", n)
	}
}

// Stats returns a snapshot of the executed work counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// SetBufferFault makes CreateBuffer fail whenever fault returns an error.
func (d *Device) SetBufferFault(fault func(desc hal.BufferDescriptor) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bufferFault = fault
}

// FailNextBuild makes the next executed acceleration structure build fail.
func (d *Device) FailNextBuild(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildFault = err
}

// OnBuild installs a hook run right before each build executes, outside any
// device lock.
func (d *Device) OnBuild(hook func(info hal.AccelerationStructureBuildInfo)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildHook = hook
}

// LastTrace returns the instances of the top-level structure bound to the
// most recent TraceRays.
func (d *Device) LastTrace() []hal.Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]hal.Instance(nil), d.lastTrace...)
}

// LastPushConstants returns the most recently executed push constant block.
func (d *Device) LastPushConstants() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.lastPush...)
}

// Submissions returns the most recent executed command buffers, oldest
// first.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submissions...)
}

// SubmissionsTo returns the logged submissions executed on queue.
func (d *Device) SubmissionsTo(queue hal.QueueType) []Submission {
	var out []Submission
	for _, s := range d.Submissions() {
		if s.Queue == queue {
			out = append(out, s)
		}
	}
	return out
}

func (d *Device) logSubmission(queue hal.QueueType, ops []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.submissions) == maxSubmissions {
		d.submissions = append(d.submissions[:0], d.submissions[1:]...)
	}
	d.submissions = append(d.submissions, Submission{Queue: queue, Ops: ops})
}

// SoftwareSwapchain exposes the fault injection hooks of the swapchain.
func (d *Device) SoftwareSwapchain() *Swapchain {
	return d.swapchain
}

// bufferAt resolves a device address. Callers hold d.mu.
func (d *Device) bufferAt(address uint64) (*Buffer, uint64, error) {
	for b := range d.buffers {
		if address >= b.address && address < b.address+uint64(len(b.data)) {
			return b, address - b.address, nil
		}
	}
	return nil, 0, fmt.Errorf("address %#x does not belong to a live buffer: %w", address, ErrValidation)
}
