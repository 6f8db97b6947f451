// Package raytracing owns the render objects of a scene and their
// acceleration structures: bottom-level structures are built per object on
// the compute queue, the top-level structure is rebuilt every frame from the
// objects marked visible.
package raytracing

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type Options struct {
	ObjectCapacity   int
	MaterialCapacity int
	TextureCapacity  int
	InstanceCapacity int
}

// Scene holds the object, material and texture tables of one device.
//
// objectsMu and visibleMu are never held together. materialsMu is taken
// before texturesMu.
type Scene struct {
	device   hal.Device
	builder  *BlasBuilder
	tlas     *TlasAggregator
	releases *ReleaseQueue
	bindings *DescriptorBindings

	objectsMu sync.Mutex
	objects   *containers.HandleTable[RenderObject]
	nextToken uint64

	visibleMu  sync.Mutex
	visible    []RenderObjectHandle
	visibleSet map[uint64]struct{}

	materialsMu sync.Mutex
	materials   *containers.HandleTable[Material]

	texturesMu sync.Mutex
	textures   *containers.HandleTable[Texture]

	// frame is the number of the frame being recorded, or the last one
	// recorded between frames.
	frame atomic.Uint64
}

func NewScene(device hal.Device, opts Options) (*Scene, error) {
	set, err := device.CreateDescriptorSet("raytracing")
	if err != nil {
		return nil, fmt.Errorf("failed to create ray tracing descriptor set: %w", err)
	}
	s := &Scene{
		device:     device,
		builder:    NewBlasBuilder(device),
		releases:   NewReleaseQueue(16),
		bindings:   NewDescriptorBindings(set),
		objects:    containers.NewHandleTable[RenderObject](opts.ObjectCapacity),
		visibleSet: make(map[uint64]struct{}),
		materials:  containers.NewHandleTable[Material](opts.MaterialCapacity),
		textures:   containers.NewHandleTable[Texture](opts.TextureCapacity),
	}
	s.tlas = NewTlasAggregator(device, s.bindings, opts.InstanceCapacity, s.retire)
	return s, nil
}

func (s *Scene) retire(resources ...destroyer) {
	s.releases.Retire(s.frame.Load(), resources...)
}

// Bindings returns the descriptor bindings of the ray-tracing pass.
func (s *Scene) Bindings() *DescriptorBindings {
	return s.bindings
}

// Aggregator returns the top-level aggregator.
func (s *Scene) Aggregator() *TlasAggregator {
	return s.tlas
}

// AdvanceFrame sets the number of the frame about to be recorded.
func (s *Scene) AdvanceFrame(frame uint64) {
	s.frame.Store(frame)
}

// CollectReleases destroys resources retired at or before completed, the
// last frame whose fence has been observed.
func (s *Scene) CollectReleases(completed uint64) int {
	return s.releases.Collect(completed)
}

// PendingReleases returns the number of retired batches not yet destroyed.
func (s *Scene) PendingReleases() int {
	return s.releases.Len()
}

// CreateRenderObject allocates an empty object. An empty name gets a unique
// label.
func (s *Scene) CreateRenderObject(name string) RenderObjectHandle {
	if name == "" {
		name = core.NewLabel("object")
	}
	s.objectsMu.Lock()
	defer s.objectsMu.Unlock()
	return s.objects.Insert(RenderObject{Name: name, Transform: math.TransformCreate()})
}

// AddPrimitive appends a primitive. It takes effect on the next build.
func (s *Scene) AddPrimitive(h RenderObjectHandle, vertices []math.Vertex, indices []uint32, material MaterialHandle) error {
	s.objectsMu.Lock()
	defer s.objectsMu.Unlock()

	obj, err := s.objects.Get(h)
	if err != nil {
		return err
	}
	obj.Primitives = append(obj.Primitives, Primitive{
		Vertices: vertices,
		Indices:  indices,
		Material: material,
	})
	return nil
}

// SetTransform replaces the per-instance transform. It takes effect on the
// next frame, no rebuild needed.
func (s *Scene) SetTransform(h RenderObjectHandle, t *math.Transform) error {
	s.objectsMu.Lock()
	defer s.objectsMu.Unlock()

	obj, err := s.objects.Get(h)
	if err != nil {
		return err
	}
	obj.Transform = t
	return nil
}

// GetRenderObject returns a copy of the object's public fields.
func (s *Scene) GetRenderObject(h RenderObjectHandle) (RenderObject, error) {
	s.objectsMu.Lock()
	defer s.objectsMu.Unlock()

	obj, err := s.objects.Get(h)
	if err != nil {
		return RenderObject{}, err
	}
	return RenderObject{Name: obj.Name, Transform: obj.Transform, Primitives: obj.Primitives}, nil
}

// BuildRenderObject builds the bottom-level structure of h, blocking until
// the device is done. It is safe to call from any goroutine. An object
// without valid geometry is left without a structure and no error is
// returned.
func (s *Scene) BuildRenderObject(h RenderObjectHandle) error {
	s.objectsMu.Lock()
	obj, err := s.objects.Get(h)
	if err != nil {
		s.objectsMu.Unlock()
		return err
	}
	s.nextToken++
	token := s.nextToken
	obj.buildToken = token
	obj.building = true
	name := obj.Name
	primitives := append([]Primitive(nil), obj.Primitives...)
	s.objectsMu.Unlock()

	logger := core.Logger().With("object", name)
	// Instances carry the world transform, the geometry stays in object space.
	result, err := s.builder.Build(name, primitives, math.IdentityAffine())

	s.objectsMu.Lock()
	defer s.objectsMu.Unlock()

	obj, lookupErr := s.objects.Get(h)
	current := lookupErr == nil && obj.buildToken == token
	if current {
		obj.building = false
	}

	switch {
	case err != nil && current:
		// Whatever an earlier build produced no longer matches the object.
		s.retire(obj.retire()...)
		fallthrough
	case err != nil:
		if errors.Is(err, errNoGeometry) {
			logger.Debug("no valid geometry, object stays out of the scene")
			return nil
		}
		logger.Error("build failed", "err", err)
		return err
	case !current:
		// Destroyed or rebuilt while the device was busy. Our fence has
		// signaled, so nothing in flight uses the result.
		logger.Debug("discarding superseded build", "token", token)
		for _, r := range result.resources() {
			r.Destroy()
		}
		if lookupErr != nil {
			return lookupErr
		}
		return nil
	}

	s.retire(obj.retire()...)
	obj.vertexBuffer = result.VertexBuffer
	obj.indexBuffer = result.IndexBuffer
	obj.descriptions = result.Descriptions
	obj.materials = make([]MaterialHandle, len(result.Sources))
	for i, src := range result.Sources {
		obj.materials[i] = primitives[src].Material
	}
	obj.blas = result.Structure
	return nil
}

// BuildAll builds the given objects with at most limit builds in flight and
// returns every failure joined.
func (s *Scene) BuildAll(handles []RenderObjectHandle, limit int) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	errs := make([]error, len(handles))
	for i, h := range handles {
		g.Go(func() error {
			errs[i] = s.BuildRenderObject(h)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// DestroyRenderObject frees the slot and retires the GPU resources to the
// current frame. It returns false and ErrInvalidHandle for a stale handle.
func (s *Scene) DestroyRenderObject(h RenderObjectHandle) (bool, error) {
	s.objectsMu.Lock()
	obj, err := s.objects.Free(h)
	s.objectsMu.Unlock()
	if err != nil {
		return false, err
	}
	s.retire(obj.retire()...)
	return true, nil
}

// ReleaseRenderObject drops one owner of h and destroys the object when the
// last owner lets go. It reports whether the object was destroyed.
func (s *Scene) ReleaseRenderObject(h RenderObjectHandle) (bool, error) {
	s.objectsMu.Lock()
	valid := s.objects.Valid(h)
	s.objectsMu.Unlock()
	if !valid {
		return false, fmt.Errorf("release of %s: %w", h, core.ErrInvalidHandle)
	}
	if h.Release() > 0 {
		return false, nil
	}
	return s.DestroyRenderObject(h)
}

// Render marks h visible for the next frame. Handles are checked when the
// frame is recorded.
func (s *Scene) Render(h RenderObjectHandle) {
	key := uint64(h.Index())<<32 | uint64(h.Generation())
	s.visibleMu.Lock()
	defer s.visibleMu.Unlock()
	if _, ok := s.visibleSet[key]; ok {
		return
	}
	s.visibleSet[key] = struct{}{}
	s.visible = append(s.visible, h)
}

// takeVisible returns the visible list and starts a new one.
func (s *Scene) takeVisible() []RenderObjectHandle {
	s.visibleMu.Lock()
	defer s.visibleMu.Unlock()
	out := s.visible
	s.visible = nil
	clear(s.visibleSet)
	return out
}

// RecordTopLevel resolves the visible objects, records the uploads and the
// top-level build into cb and flushes the descriptor bindings that changed.
// Invalid or unbuilt objects are skipped without error.
func (s *Scene) RecordTopLevel(cb hal.CommandBuffer) (FrameStats, error) {
	visible := s.takeVisible()

	frame := make([]frameInstance, 0, len(visible))
	s.objectsMu.Lock()
	for _, h := range visible {
		obj, err := s.objects.Get(h)
		if err != nil || obj.blas == nil {
			continue
		}
		frame = append(frame, frameInstance{
			transform:    obj.Transform.GetWorld().Affine(),
			blasAddress:  obj.blas.Address,
			descriptions: obj.descriptions,
			materials:    obj.materials,
		})
	}
	s.objectsMu.Unlock()

	s.materialsMu.Lock()
	materialBytes := s.encodeMaterials()
	materialIndex := func(m MaterialHandle) uint32 {
		if s.materials.Valid(m) {
			return m.Index()
		}
		return 0
	}
	stats, err := s.tlas.record(cb, frame, materialIndex, materialBytes)
	s.materialsMu.Unlock()
	if err != nil {
		err = fmt.Errorf("top-level aggregation: %w", err)
		core.LogError(err.Error())
		return stats, err
	}
	s.bindings.Flush()
	return stats, nil
}

// Destroy waits for the device and releases everything the scene owns.
func (s *Scene) Destroy() {
	if err := s.device.WaitIdle(); err != nil {
		core.LogWarn("wait idle before scene teardown: %s", err)
	}
	s.objectsMu.Lock()
	s.objects.Each(func(_ RenderObjectHandle, obj *RenderObject) bool {
		for _, r := range obj.retire() {
			r.Destroy()
		}
		return true
	})
	s.objectsMu.Unlock()
	s.texturesMu.Lock()
	s.textures.Each(func(_ TextureHandle, t *Texture) bool {
		t.Image.Destroy()
		return true
	})
	s.texturesMu.Unlock()
	s.tlas.destroy()
	s.releases.Drain()
	s.bindings.Set().Destroy()
}
