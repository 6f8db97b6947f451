package software

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

// Op names recorded by the command buffer, in recording order.
const (
	OpCopyBuffer   = "copy-buffer"
	OpBarrier      = "barrier"
	OpImageBarrier = "image-barrier"
	OpCopyImage    = "copy-image"
	OpBuild        = "build"
	OpTraceRays    = "trace-rays"
	OpPushConstant = "push-constants"
)

type commandState int

const (
	stateInitial commandState = iota
	stateRecording
	stateExecutable
)

type command struct {
	name string
	run  func(d *Device) error
}

type CommandBuffer struct {
	device   *Device
	queue    hal.QueueType
	state    commandState
	oneTime  bool
	commands []command
}

func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	if c.state == stateRecording {
		return fmt.Errorf("command buffer is already recording: %w", ErrValidation)
	}
	c.commands = c.commands[:0]
	c.oneTime = oneTimeSubmit
	c.state = stateRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != stateRecording {
		return fmt.Errorf("command buffer is not recording: %w", ErrValidation)
	}
	c.state = stateExecutable
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.commands = c.commands[:0]
	c.state = stateInitial
	return nil
}

func (c *CommandBuffer) Destroy() {
	c.commands = nil
}

// Ops returns the names of the recorded commands.
func (c *CommandBuffer) Ops() []string {
	ops := make([]string, len(c.commands))
	for i, cmd := range c.commands {
		ops[i] = cmd.name
	}
	return ops
}

func (c *CommandBuffer) record(name string, run func(d *Device) error) {
	if c.state != stateRecording {
		core.LogWarn("software: %s recorded outside Begin/End", name)
	}
	c.commands = append(c.commands, command{name: name, run: run})
}

func (c *CommandBuffer) execute(queue hal.QueueType) error {
	if c.state != stateExecutable {
		return fmt.Errorf("submitted command buffer was not ended: %w", ErrValidation)
	}
	if queue != c.queue {
		return fmt.Errorf("command buffer for the %s queue submitted to the %s queue: %w", c.queue, queue, ErrValidation)
	}
	for _, cmd := range c.commands {
		if err := cmd.run(c.device); err != nil {
			return fmt.Errorf("%s: %w", cmd.name, err)
		}
	}
	if c.oneTime {
		c.state = stateInitial
	}
	return nil
}

func (c *CommandBuffer) CopyBuffer(src, dst hal.Buffer, regions ...hal.BufferCopy) {
	s, _ := src.(*Buffer)
	t, _ := dst.(*Buffer)
	queue := c.queue
	c.record(OpCopyBuffer, func(d *Device) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if s == nil || t == nil || s.destroyed || t.destroyed {
			return fmt.Errorf("copy between destroyed buffers: %w", ErrValidation)
		}
		if err := s.claim(queue); err != nil {
			return err
		}
		if err := t.claim(queue); err != nil {
			return err
		}
		for _, r := range regions {
			if r.SrcOffset+r.Size > uint64(len(s.data)) || r.DstOffset+r.Size > uint64(len(t.data)) {
				return fmt.Errorf("copy region %+v out of bounds (%q -> %q): %w", r, s.label, t.label, ErrValidation)
			}
			copy(t.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
		return nil
	})
}

func (c *CommandBuffer) PipelineBarrier(src, dst hal.PipelineStage, barriers ...hal.MemoryBarrier) {
	c.record(OpBarrier, func(*Device) error { return nil })
}

func (c *CommandBuffer) ImageBarrier(src, dst hal.PipelineStage, barriers ...hal.ImageBarrier) {
	c.record(OpImageBarrier, func(d *Device) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		for _, b := range barriers {
			img, ok := b.Image.(*Image)
			if !ok || img.destroyed {
				return fmt.Errorf("barrier on a destroyed image: %w", ErrValidation)
			}
			if b.OldLayout != hal.LayoutUndefined && b.OldLayout != img.layout {
				return fmt.Errorf("image %q is in layout %d, barrier expects %d: %w", img.label, img.layout, b.OldLayout, ErrValidation)
			}
			img.layout = b.NewLayout
		}
		return nil
	})
}

func (c *CommandBuffer) CopyImage(src hal.Image, srcLayout hal.ImageLayout, dst hal.Image, dstLayout hal.ImageLayout, extent hal.Extent) {
	c.record(OpCopyImage, func(d *Device) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		s, ok1 := src.(*Image)
		t, ok2 := dst.(*Image)
		if !ok1 || !ok2 || s.destroyed || t.destroyed {
			return fmt.Errorf("copy between destroyed images: %w", ErrValidation)
		}
		if s.layout != srcLayout || t.layout != dstLayout {
			return fmt.Errorf("copy %q -> %q with layouts %d -> %d, images are in %d -> %d: %w",
				s.label, t.label, srcLayout, dstLayout, s.layout, t.layout, ErrValidation)
		}
		if extent.Width > s.extent.Width || extent.Height > s.extent.Height ||
			extent.Width > t.extent.Width || extent.Height > t.extent.Height {
			return fmt.Errorf("copy extent %dx%d exceeds images: %w", extent.Width, extent.Height, ErrValidation)
		}
		return nil
	})
}

func (c *CommandBuffer) BuildAccelerationStructures(infos []hal.AccelerationStructureBuildInfo, ranges [][]hal.BuildRange) {
	queue := c.queue
	c.record(OpBuild, func(d *Device) error {
		if len(infos) != len(ranges) {
			return fmt.Errorf("%d build infos with %d range lists: %w", len(infos), len(ranges), ErrValidation)
		}
		for i := range infos {
			if err := d.build(queue, &infos[i], ranges[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *CommandBuffer) PushConstants(pipeline hal.RayTracingPipeline, data []byte) {
	block := append([]byte(nil), data...)
	c.record(OpPushConstant, func(d *Device) error {
		if pipeline == nil {
			return fmt.Errorf("push constants without a pipeline: %w", ErrValidation)
		}
		if len(block) == 0 || len(block)%4 != 0 || len(block) > hal.MaxPushConstantsSize {
			return fmt.Errorf("push constant block of %d bytes: %w", len(block), ErrValidation)
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		d.lastPush = block
		return nil
	})
}

func (c *CommandBuffer) TraceRays(pipeline hal.RayTracingPipeline, set hal.DescriptorSet, width, height uint32) {
	queue := c.queue
	c.record(OpTraceRays, func(d *Device) error {
		ds, ok := set.(*DescriptorSet)
		if !ok || pipeline == nil {
			return fmt.Errorf("trace rays without pipeline or descriptor set: %w", ErrValidation)
		}
		d.mu.Lock()
		defer d.mu.Unlock()

		tlas, ok := ds.bindings[hal.BindingTopLevel].(*AccelerationStructure)
		if !ok || tlas.destroyed || !tlas.built {
			return fmt.Errorf("trace rays without a built top-level structure: %w", ErrValidation)
		}
		out, ok := ds.bindings[hal.BindingOutputImage].(*Image)
		if !ok || out.destroyed {
			return fmt.Errorf("trace rays without an output image: %w", ErrValidation)
		}
		if out.layout != hal.LayoutGeneral {
			return fmt.Errorf("output image %q must be in the general layout: %w", out.label, ErrValidation)
		}
		if width > out.extent.Width || height > out.extent.Height {
			return fmt.Errorf("dispatch %dx%d exceeds output image %dx%d: %w", width, height, out.extent.Width, out.extent.Height, ErrValidation)
		}
		for _, binding := range []uint32{hal.BindingGeometryDescriptions, hal.BindingMaterials, hal.BindingInstances} {
			b, ok := ds.bindings[binding].(*Buffer)
			if !ok {
				continue
			}
			if b.destroyed {
				return fmt.Errorf("binding %d references destroyed buffer %q: %w", binding, b.label, ErrValidation)
			}
			if err := b.claim(queue); err != nil {
				return err
			}
		}
		for _, in := range tlas.instances {
			blas, ok := d.structures[in.AccelerationStructure]
			if !ok || blas.destroyed {
				return fmt.Errorf("instance references destroyed structure %#x: %w", in.AccelerationStructure, ErrValidation)
			}
			if err := blas.buffer.claim(queue); err != nil {
				return err
			}
			for _, input := range blas.inputs {
				if input.destroyed {
					return fmt.Errorf("structure %q reads destroyed buffer %q: %w", blas.label, input.label, ErrValidation)
				}
				if err := input.claim(queue); err != nil {
					return err
				}
			}
		}
		d.lastTrace = append(d.lastTrace[:0], tlas.instances...)
		d.stats.TraceRays++
		return nil
	})
}

func (d *Device) build(queue hal.QueueType, info *hal.AccelerationStructureBuildInfo, ranges []hal.BuildRange) error {
	d.mu.Lock()
	hook := d.buildHook
	d.mu.Unlock()
	if hook != nil {
		hook(*info)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.buildFault; err != nil {
		d.buildFault = nil
		return err
	}
	dst, ok := info.Destination.(*AccelerationStructure)
	if !ok || dst.destroyed || dst.buffer.destroyed {
		return fmt.Errorf("build into a destroyed structure: %w", ErrValidation)
	}
	if err := dst.buffer.claim(queue); err != nil {
		return err
	}
	if dst.kind != info.Type {
		return fmt.Errorf("%s build into a %s structure: %w", info.Type, dst.kind, ErrValidation)
	}
	if len(info.Geometries) != len(ranges) {
		return fmt.Errorf("%d geometries with %d ranges: %w", len(info.Geometries), len(ranges), ErrValidation)
	}

	counts := make([]uint32, len(ranges))
	for i, r := range ranges {
		counts[i] = r.PrimitiveCount
	}
	sizes := d.AccelerationStructureBuildSizes(info, counts)
	if sizes.AccelerationStructureSize > dst.size {
		return fmt.Errorf("structure %q holds %d bytes, build needs %d: %w", dst.label, dst.size, sizes.AccelerationStructureSize, ErrValidation)
	}
	if info.ScratchAddress%d.limits.MinScratchAlignment != 0 {
		return fmt.Errorf("scratch address %#x is not aligned to %d: %w", info.ScratchAddress, d.limits.MinScratchAlignment, ErrValidation)
	}
	scratch, off, err := d.bufferAt(info.ScratchAddress)
	if err != nil {
		return fmt.Errorf("scratch: %w", err)
	}
	if off+sizes.BuildScratchSize > uint64(len(scratch.data)) {
		return fmt.Errorf("scratch buffer %q is smaller than %d bytes: %w", scratch.label, sizes.BuildScratchSize, ErrValidation)
	}
	if err := scratch.claim(queue); err != nil {
		return err
	}

	switch info.Type {
	case hal.BottomLevel:
		var primitives uint32
		var inputs []*Buffer
		for i, g := range info.Geometries {
			if g.Triangles == nil {
				return fmt.Errorf("bottom-level geometry %d has no triangles: %w", i, ErrValidation)
			}
			used, err := d.checkTriangles(queue, g.Triangles, ranges[i])
			if err != nil {
				return fmt.Errorf("geometry %d: %w", i, err)
			}
			inputs = append(inputs, used...)
			primitives += ranges[i].PrimitiveCount
		}
		dst.primitives = primitives
		dst.inputs = inputs
	case hal.TopLevel:
		if len(info.Geometries) != 1 || info.Geometries[0].Instances == nil {
			return fmt.Errorf("top-level build needs exactly one instance geometry: %w", ErrValidation)
		}
		instances, err := d.readInstances(queue, info.Geometries[0].Instances.Address, ranges[0].PrimitiveCount)
		if err != nil {
			return err
		}
		dst.instances = instances
	}
	dst.built = true
	d.stats.Builds++
	return nil
}

// checkTriangles verifies that every index of the range is in bounds of the
// vertex data and returns the vertex and index buffers it read. Callers hold
// d.mu.
func (d *Device) checkTriangles(queue hal.QueueType, tri *hal.TriangleGeometry, r hal.BuildRange) ([]*Buffer, error) {
	vb, voff, err := d.bufferAt(tri.VertexAddress)
	if err != nil {
		return nil, fmt.Errorf("vertices: %w", err)
	}
	if voff+uint64(tri.MaxVertex+1)*tri.VertexStride > uint64(len(vb.data)) {
		return nil, fmt.Errorf("vertex range exceeds buffer %q: %w", vb.label, ErrValidation)
	}
	ib, ioff, err := d.bufferAt(tri.IndexAddress)
	if err != nil {
		return nil, fmt.Errorf("indices: %w", err)
	}
	ioff += uint64(r.PrimitiveOffset)
	end := ioff + uint64(r.PrimitiveCount)*3*4
	if end > uint64(len(ib.data)) {
		return nil, fmt.Errorf("index range exceeds buffer %q: %w", ib.label, ErrValidation)
	}
	for p := ioff; p < end; p += 4 {
		if idx := binary.LittleEndian.Uint32(ib.data[p:]); idx > tri.MaxVertex {
			return nil, fmt.Errorf("index %d exceeds max vertex %d: %w", idx, tri.MaxVertex, ErrValidation)
		}
	}
	used := []*Buffer{vb, ib}
	if tri.TransformAddress != 0 {
		tb, toff, err := d.bufferAt(tri.TransformAddress)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		if toff+uint64(r.TransformOffset)+48 > uint64(len(tb.data)) {
			return nil, fmt.Errorf("transform exceeds buffer %q: %w", tb.label, ErrValidation)
		}
		if err := tb.claim(queue); err != nil {
			return nil, err
		}
	}
	for _, b := range used {
		if err := b.claim(queue); err != nil {
			return nil, err
		}
	}
	return used, nil
}

// readInstances decodes count instances and checks that each references a
// built bottom-level structure. Callers hold d.mu.
func (d *Device) readInstances(queue hal.QueueType, address uint64, count uint32) ([]hal.Instance, error) {
	if count == 0 {
		return nil, nil
	}
	buf, off, err := d.bufferAt(address)
	if err != nil {
		return nil, fmt.Errorf("instances: %w", err)
	}
	if off+uint64(count)*hal.InstanceSize > uint64(len(buf.data)) {
		return nil, fmt.Errorf("%d instances exceed buffer %q: %w", count, buf.label, ErrValidation)
	}
	if err := buf.claim(queue); err != nil {
		return nil, err
	}
	out := make([]hal.Instance, count)
	for i := range out {
		in := hal.DecodeInstance(buf.data[off+uint64(i)*hal.InstanceSize:])
		blas, ok := d.structures[in.AccelerationStructure]
		if !ok || blas.destroyed || !blas.built || blas.kind != hal.BottomLevel {
			return nil, fmt.Errorf("instance %d references %#x, which is not a built bottom-level structure: %w",
				i, in.AccelerationStructure, ErrValidation)
		}
		if err := blas.buffer.claim(queue); err != nil {
			return nil, err
		}
		out[i] = in
	}
	return out, nil
}
