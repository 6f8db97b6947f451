package renderer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
)

type FrameState int

const (
	FrameIdle FrameState = iota
	FrameAcquireImage
	FrameRecord
	FrameSubmit
	FramePresent
	FrameNeedsResize
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameAcquireImage:
		return "acquire-image"
	case FrameRecord:
		return "record"
	case FrameSubmit:
		return "submit"
	case FramePresent:
		return "present"
	case FrameNeedsResize:
		return "needs-resize"
	}
	return "unknown"
}

// OverlayPass draws on top of the ray-traced image, typically the UI. The
// target is in LayoutGeneral on entry and must be left in it.
type OverlayPass interface {
	Record(cb hal.CommandBuffer, target hal.Image, extent hal.Extent) error
}

// FrameScheduler drives one frame at a time from a single goroutine:
// acquire, top-level build, dispatch, submit, present.
type FrameScheduler struct {
	device   hal.Device
	scene    *raytracing.Scene
	pipeline hal.RayTracingPipeline
	camera   *Camera
	overlays []OverlayPass
	metrics  *core.FrameMetrics

	state          FrameState
	drawn          bool
	cb             hal.CommandBuffer
	renderFence    hal.Fence
	imageAvailable hal.Semaphore
	renderComplete hal.Semaphore
	output         hal.Image
	imageIndex     uint32

	// frame is the number of the frame being recorded, submitted the last
	// one handed to the queue.
	frame     uint64
	submitted uint64
	lastStats raytracing.FrameStats

	resizeMu      sync.Mutex
	pendingResize *hal.Extent
}

// NewFrameScheduler creates the per-frame synchronization objects and the
// output image. pipeline may be nil, in which case frames build the top-level
// structure and present the output image without dispatching rays.
func NewFrameScheduler(device hal.Device, scene *raytracing.Scene, pipeline hal.RayTracingPipeline, metrics *core.FrameMetrics) (*FrameScheduler, error) {
	if metrics == nil {
		metrics = core.NewFrameMetrics()
	}
	fs := &FrameScheduler{
		device:   device,
		scene:    scene,
		pipeline: pipeline,
		camera:   NewCamera(),
		metrics:  metrics,
	}

	var err error
	if fs.cb, err = device.CreateCommandBuffer(hal.QueueGraphics); err != nil {
		return nil, fmt.Errorf("failed to create frame command buffer: %w", err)
	}
	// Created signaled so the first frame does not wait forever.
	if fs.renderFence, err = device.CreateFence(true); err != nil {
		return nil, fmt.Errorf("failed to create render fence: %w", err)
	}
	if fs.imageAvailable, err = device.CreateSemaphore(); err != nil {
		return nil, fmt.Errorf("failed to create image available semaphore: %w", err)
	}
	if fs.renderComplete, err = device.CreateSemaphore(); err != nil {
		return nil, fmt.Errorf("failed to create render complete semaphore: %w", err)
	}
	if err := fs.createOutput(device.Swapchain().Extent()); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FrameScheduler) createOutput(extent hal.Extent) error {
	output, err := fs.device.CreateImage(hal.ImageDescriptor{
		Label:  "raytracing.output",
		Extent: extent,
		Format: hal.FormatRGBA8Unorm,
		Usage:  hal.ImageUsageStorage | hal.ImageUsageTransferSrc,
	})
	if err != nil {
		return fmt.Errorf("failed to create output image: %w", err)
	}
	if fs.output != nil {
		fs.output.Destroy()
	}
	fs.output = output
	fs.scene.Bindings().SetImage(hal.BindingOutputImage, output)
	return nil
}

func (fs *FrameScheduler) AddOverlay(pass OverlayPass) {
	fs.overlays = append(fs.overlays, pass)
}

func (fs *FrameScheduler) State() FrameState { return fs.state }

// Camera is read when the next frame is recorded.
func (fs *FrameScheduler) Camera() *Camera { return fs.camera }

// Frame returns the number of the last frame that began recording.
func (fs *FrameScheduler) Frame() uint64 { return fs.frame }

// LastStats returns the aggregation statistics of the last drawn frame.
func (fs *FrameScheduler) LastStats() raytracing.FrameStats { return fs.lastStats }

func (fs *FrameScheduler) Output() hal.Image { return fs.output }

// RequestResize records a new surface size; the swapchain is recreated at the
// start of the next frame. Safe to call from event callbacks.
func (fs *FrameScheduler) RequestResize(width, height uint32) {
	fs.resizeMu.Lock()
	defer fs.resizeMu.Unlock()
	fs.pendingResize = &hal.Extent{Width: width, Height: height}
}

func (fs *FrameScheduler) takeResize() (hal.Extent, bool) {
	fs.resizeMu.Lock()
	defer fs.resizeMu.Unlock()
	if fs.pendingResize == nil {
		return hal.Extent{}, false
	}
	e := *fs.pendingResize
	fs.pendingResize = nil
	return e, true
}

// BeginFrame prepares a frame for recording. It returns false when the frame
// must be skipped because the swapchain is stale or the surface has no area.
func (fs *FrameScheduler) BeginFrame() (bool, error) {
	if extent, ok := fs.takeResize(); ok {
		if err := fs.Resize(extent.Width, extent.Height); err != nil {
			return false, err
		}
	} else if fs.state == FrameNeedsResize {
		extent := fs.device.Swapchain().Extent()
		if err := fs.Resize(extent.Width, extent.Height); err != nil {
			return false, err
		}
	}
	if fs.state == FrameNeedsResize {
		fs.metrics.RecordSkippedFrame()
		return false, nil
	}

	// Wait for the previous frame before touching anything it uses.
	if err := fs.renderFence.Wait(0); err != nil {
		err = fmt.Errorf("render fence wait failed: %w", err)
		core.LogError(err.Error())
		return false, err
	}
	fs.scene.CollectReleases(fs.submitted)

	fs.state = FrameAcquireImage
	index, err := fs.device.Swapchain().AcquireNextImage(fs.imageAvailable)
	if errors.Is(err, core.ErrDeviceStale) {
		// The fence stays signaled, so the next BeginFrame does not block.
		core.LogDebug("swapchain stale on acquire, skipping frame")
		fs.state = FrameNeedsResize
		fs.metrics.RecordSkippedFrame()
		return false, nil
	}
	if err != nil {
		fs.state = FrameIdle
		err = fmt.Errorf("failed to acquire swapchain image: %w", err)
		core.LogError(err.Error())
		return false, err
	}
	fs.imageIndex = index

	if err := fs.renderFence.Reset(); err != nil {
		return false, fmt.Errorf("failed to reset render fence: %w", err)
	}
	fs.frame++
	fs.scene.AdvanceFrame(fs.frame)

	if err := fs.cb.Reset(); err != nil {
		return false, err
	}
	if err := fs.cb.Begin(true); err != nil {
		return false, err
	}
	fs.state = FrameRecord
	fs.drawn = false
	return true, nil
}

// DrawFrame records the top-level build, the ray dispatch, the copy to the
// swapchain image and the overlay passes.
func (fs *FrameScheduler) DrawFrame() error {
	if fs.state != FrameRecord || fs.drawn {
		return fmt.Errorf("DrawFrame called in state %s", fs.state)
	}
	cb := fs.cb
	extent := fs.device.Swapchain().Extent()
	target := fs.device.Swapchain().Image(fs.imageIndex)

	stats, err := fs.scene.RecordTopLevel(cb)
	if err != nil {
		return err
	}
	fs.lastStats = stats
	fs.metrics.RecordAccelerationStructures(stats.Instances, stats.Geometries, stats.TlasRecreated)

	cb.ImageBarrier(hal.StageTopOfPipe, hal.StageRayTracingShader, hal.ImageBarrier{
		Image:     fs.output,
		OldLayout: hal.LayoutUndefined,
		NewLayout: hal.LayoutGeneral,
		DstAccess: hal.AccessShaderWrite,
	})
	cb.PipelineBarrier(hal.StageAccelerationStructureBuild, hal.StageRayTracingShader, hal.MemoryBarrier{
		SrcAccess: hal.AccessAccelerationStructureWrite,
		DstAccess: hal.AccessAccelerationStructureRead,
	})
	if fs.pipeline != nil {
		cb.PushConstants(fs.pipeline, fs.camera.Constants())
		cb.TraceRays(fs.pipeline, fs.scene.Bindings().Set(), extent.Width, extent.Height)
	}

	cb.ImageBarrier(hal.StageRayTracingShader, hal.StageTransfer,
		hal.ImageBarrier{
			Image:     fs.output,
			OldLayout: hal.LayoutGeneral,
			NewLayout: hal.LayoutTransferSrc,
			SrcAccess: hal.AccessShaderWrite,
			DstAccess: hal.AccessTransferRead,
		},
		hal.ImageBarrier{
			Image:     target,
			OldLayout: hal.LayoutUndefined,
			NewLayout: hal.LayoutTransferDst,
			DstAccess: hal.AccessTransferWrite,
		},
	)
	cb.CopyImage(fs.output, hal.LayoutTransferSrc, target, hal.LayoutTransferDst, extent)

	last := hal.LayoutTransferDst
	if len(fs.overlays) > 0 {
		cb.ImageBarrier(hal.StageTransfer, hal.StageColorAttachmentOutput, hal.ImageBarrier{
			Image:     target,
			OldLayout: hal.LayoutTransferDst,
			NewLayout: hal.LayoutGeneral,
			SrcAccess: hal.AccessTransferWrite,
			DstAccess: hal.AccessShaderRead | hal.AccessShaderWrite,
		})
		for _, pass := range fs.overlays {
			if err := pass.Record(cb, target, extent); err != nil {
				return fmt.Errorf("overlay pass: %w", err)
			}
		}
		last = hal.LayoutGeneral
	}
	cb.ImageBarrier(hal.StageTransfer|hal.StageColorAttachmentOutput, hal.StageBottomOfPipe, hal.ImageBarrier{
		Image:     target,
		OldLayout: last,
		NewLayout: hal.LayoutPresentSrc,
		SrcAccess: hal.AccessTransferWrite,
		DstAccess: hal.AccessMemoryRead,
	})
	fs.drawn = true
	return nil
}

// AbandonFrame drops what DrawFrame recorded after it failed. The acquired
// image is presented untouched so the fence and the semaphores stay paired.
func (fs *FrameScheduler) AbandonFrame() error {
	if fs.state != FrameRecord {
		return fmt.Errorf("AbandonFrame called in state %s", fs.state)
	}
	core.LogWarn("abandoning frame %d", fs.frame)
	if err := fs.cb.Reset(); err != nil {
		return err
	}
	if err := fs.cb.Begin(true); err != nil {
		return err
	}
	fs.cb.ImageBarrier(hal.StageTopOfPipe, hal.StageBottomOfPipe, hal.ImageBarrier{
		Image:     fs.device.Swapchain().Image(fs.imageIndex),
		OldLayout: hal.LayoutUndefined,
		NewLayout: hal.LayoutPresentSrc,
		DstAccess: hal.AccessMemoryRead,
	})
	fs.drawn = true
	fs.metrics.RecordSkippedFrame()
	return fs.EndFrame()
}

// EndFrame submits the frame and presents it. A stale swapchain on present
// is not an error; the next BeginFrame recreates it.
func (fs *FrameScheduler) EndFrame() error {
	if fs.state != FrameRecord || !fs.drawn {
		return fmt.Errorf("EndFrame called in state %s before DrawFrame", fs.state)
	}
	if err := fs.cb.End(); err != nil {
		return err
	}

	fs.state = FrameSubmit
	queue := fs.device.Queue(hal.QueueGraphics)
	if err := hal.Submit(queue, hal.SubmitInfo{
		CommandBuffers: []hal.CommandBuffer{fs.cb},
		Wait:           []hal.Semaphore{fs.imageAvailable},
		WaitStages:     []hal.PipelineStage{hal.StageTransfer},
		Signal:         []hal.Semaphore{fs.renderComplete},
		Fence:          fs.renderFence,
	}); err != nil {
		err = fmt.Errorf("frame %d submit failed: %w", fs.frame, err)
		core.LogError(err.Error())
		return err
	}
	fs.submitted = fs.frame

	fs.state = FramePresent
	err := hal.Present(fs.device.Swapchain(), queue, fs.imageIndex, fs.renderComplete)
	if errors.Is(err, core.ErrDeviceStale) {
		core.LogDebug("swapchain stale on present")
		fs.state = FrameNeedsResize
		return nil
	}
	if err != nil {
		err = fmt.Errorf("frame %d present failed: %w", fs.frame, err)
		core.LogError(err.Error())
		return err
	}
	fs.state = FrameIdle
	return nil
}

// Resize waits for the device, recreates the swapchain and the output image
// and marks the output binding for rewriting. A zero-sized surface leaves the
// scheduler in FrameNeedsResize.
func (fs *FrameScheduler) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		core.LogDebug("resize to %dx%d, waiting for a usable surface", width, height)
		fs.state = FrameNeedsResize
		return nil
	}
	if err := fs.device.WaitIdle(); err != nil {
		return fmt.Errorf("wait idle before resize: %w", err)
	}
	if err := fs.device.Swapchain().Recreate(width, height); err != nil {
		err = fmt.Errorf("failed to recreate swapchain at %dx%d: %w", width, height, err)
		core.LogError(err.Error())
		return err
	}
	if err := fs.createOutput(fs.device.Swapchain().Extent()); err != nil {
		return err
	}
	fs.scene.CollectReleases(fs.submitted)
	fs.state = FrameIdle
	core.LogInfo("swapchain resized to %dx%d", width, height)
	return nil
}

func (fs *FrameScheduler) Destroy() {
	if err := fs.device.WaitIdle(); err != nil {
		core.LogWarn("wait idle before frame scheduler teardown: %s", err)
	}
	fs.output.Destroy()
	fs.imageAvailable.Destroy()
	fs.renderComplete.Destroy()
	fs.renderFence.Destroy()
	fs.cb.Destroy()
}
