package renderer

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
	"github.com/spaghettifunk/lumen/engine/renderer/hal/software"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
)

type fixture struct {
	device    *software.Device
	scene     *raytracing.Scene
	scheduler *FrameScheduler
	metrics   *core.FrameMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	device := software.NewDevice(software.DefaultOptions())
	scene, err := raytracing.NewScene(device, raytracing.Options{ObjectCapacity: 8, MaterialCapacity: 4, InstanceCapacity: 4})
	if err != nil {
		t.Fatalf("NewScene: %v", err)
	}
	metrics := core.NewFrameMetrics()
	fs, err := NewFrameScheduler(device, scene, software.NewPipeline("test"), metrics)
	if err != nil {
		t.Fatalf("NewFrameScheduler: %v", err)
	}
	return &fixture{device: device, scene: scene, scheduler: fs, metrics: metrics}
}

func (f *fixture) triangle(t *testing.T, name string) raytracing.RenderObjectHandle {
	t.Helper()
	h := f.scene.CreateRenderObject(name)
	vertices := []math.Vertex{
		{Position: math.NewVec3(0, 0, 0)},
		{Position: math.NewVec3(1, 0, 0)},
		{Position: math.NewVec3(0, 1, 0)},
	}
	if err := f.scene.AddPrimitive(h, vertices, []uint32{0, 1, 2}, raytracing.MaterialHandle{}); err != nil {
		t.Fatalf("AddPrimitive: %v", err)
	}
	if err := f.scene.BuildRenderObject(h); err != nil {
		t.Fatalf("BuildRenderObject: %v", err)
	}
	return h
}

// frame runs one full frame and reports whether it was drawn.
func (f *fixture) frame(t *testing.T) bool {
	t.Helper()
	ok, err := f.scheduler.BeginFrame()
	if err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if !ok {
		return false
	}
	if err := f.scheduler.DrawFrame(); err != nil {
		t.Fatalf("DrawFrame: %v", err)
	}
	if err := f.scheduler.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	return true
}

func TestFullFrame(t *testing.T) {
	f := newFixture(t)
	h := f.triangle(t, "tri")
	f.scene.Render(h)

	if !f.frame(t) {
		t.Fatal("frame was skipped")
	}
	stats := f.device.Stats()
	if stats.Presents != 1 || stats.TraceRays != 1 {
		t.Errorf("presents=%d traces=%d, want 1 and 1", stats.Presents, stats.TraceRays)
	}
	if got := len(f.device.LastTrace()); got != 1 {
		t.Errorf("traced %d instances, want 1", got)
	}
	img := f.device.SoftwareSwapchain().Image(0).(*software.Image)
	if img.Layout() != hal.LayoutPresentSrc {
		t.Errorf("swapchain image layout %d, want present", img.Layout())
	}
	if f.scheduler.State() != FrameIdle {
		t.Errorf("state %s, want idle", f.scheduler.State())
	}
	if f.scheduler.LastStats().Instances != 1 {
		t.Errorf("instances %d, want 1", f.scheduler.LastStats().Instances)
	}
	if f.scheduler.Frame() != 1 {
		t.Errorf("frame %d, want 1", f.scheduler.Frame())
	}
}

func TestEmptySceneFrame(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if !f.frame(t) {
			t.Fatalf("frame %d skipped", i)
		}
	}
	if got := f.device.Stats().Presents; got != 3 {
		t.Errorf("presents=%d, want 3", got)
	}
}

func TestStaleAcquireSkipsFrame(t *testing.T) {
	f := newFixture(t)
	if !f.frame(t) {
		t.Fatal("first frame skipped")
	}
	f.device.SoftwareSwapchain().MarkStale()

	if f.frame(t) {
		t.Fatal("frame drawn on a stale swapchain")
	}
	if f.scheduler.State() != FrameNeedsResize {
		t.Fatalf("state %s, want needs-resize", f.scheduler.State())
	}
	if f.metrics.SkippedFrames() != 1 {
		t.Errorf("skipped frames %d, want 1", f.metrics.SkippedFrames())
	}

	// The render fence must still be signaled, or this would block forever.
	if !f.frame(t) {
		t.Fatal("frame after recreation skipped")
	}
	stats := f.device.Stats()
	if stats.Recreations != 1 || stats.Presents != 2 {
		t.Errorf("recreations=%d presents=%d, want 1 and 2", stats.Recreations, stats.Presents)
	}
}

func TestStalePresent(t *testing.T) {
	f := newFixture(t)
	f.device.SoftwareSwapchain().FailNextPresent()

	if !f.frame(t) {
		t.Fatal("frame skipped")
	}
	if f.scheduler.State() != FrameNeedsResize {
		t.Fatalf("state %s, want needs-resize", f.scheduler.State())
	}
	if !f.frame(t) {
		t.Fatal("frame after stale present skipped")
	}
	if got := f.device.Stats().Recreations; got != 1 {
		t.Errorf("recreations=%d, want 1", got)
	}
}

func TestRequestResize(t *testing.T) {
	tests := []struct {
		name          string
		width, height uint32
		drawn         bool
	}{
		{"grow", 1920, 1080, true},
		{"shrink", 320, 200, true},
		{"minimized", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.scheduler.RequestResize(tt.width, tt.height)
			if got := f.frame(t); got != tt.drawn {
				t.Fatalf("drawn=%v, want %v", got, tt.drawn)
			}
			if !tt.drawn {
				if f.scheduler.State() != FrameNeedsResize {
					t.Errorf("state %s, want needs-resize", f.scheduler.State())
				}
				return
			}
			want := hal.Extent{Width: tt.width, Height: tt.height}
			if got := f.scheduler.Output().Extent(); got != want {
				t.Errorf("output extent %v, want %v", got, want)
			}
			if got := f.device.Swapchain().Extent(); got != want {
				t.Errorf("swapchain extent %v, want %v", got, want)
			}
		})
	}
}

func TestDeferredReleaseCollectedNextFrame(t *testing.T) {
	f := newFixture(t)
	h := f.triangle(t, "tri")
	f.scene.Render(h)
	if !f.frame(t) {
		t.Fatal("frame skipped")
	}

	if _, err := f.scene.DestroyRenderObject(h); err != nil {
		t.Fatalf("DestroyRenderObject: %v", err)
	}
	if f.scene.PendingReleases() == 0 {
		t.Fatal("destroy released resources immediately")
	}
	if !f.frame(t) {
		t.Fatal("frame skipped")
	}
	if got := f.scene.PendingReleases(); got != 0 {
		t.Errorf("%d releases pending after the next frame", got)
	}
	if got := len(f.device.LastTrace()); got != 0 {
		t.Errorf("traced %d instances after destroy, want 0", got)
	}
}

func TestCallOrder(t *testing.T) {
	f := newFixture(t)
	if err := f.scheduler.DrawFrame(); err == nil {
		t.Error("DrawFrame outside a frame succeeded")
	}
	if err := f.scheduler.EndFrame(); err == nil {
		t.Error("EndFrame outside a frame succeeded")
	}
	if ok, err := f.scheduler.BeginFrame(); !ok || err != nil {
		t.Fatalf("BeginFrame: %v %v", ok, err)
	}
	if err := f.scheduler.EndFrame(); err == nil {
		t.Error("EndFrame before DrawFrame succeeded")
	}
}

type recordingOverlay struct {
	calls  int
	extent hal.Extent
	err    error
}

func (o *recordingOverlay) Record(cb hal.CommandBuffer, target hal.Image, extent hal.Extent) error {
	o.calls++
	o.extent = extent
	return o.err
}

func TestOverlays(t *testing.T) {
	f := newFixture(t)
	first, second := &recordingOverlay{}, &recordingOverlay{}
	f.scheduler.AddOverlay(first)
	f.scheduler.AddOverlay(second)

	if !f.frame(t) {
		t.Fatal("frame skipped")
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("overlay calls %d and %d, want 1 and 1", first.calls, second.calls)
	}
	if first.extent != f.device.Swapchain().Extent() {
		t.Errorf("overlay extent %v", first.extent)
	}
	if got := f.device.Stats().Presents; got != 1 {
		t.Errorf("presents=%d, want 1", got)
	}
}

func TestOverlayError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	overlay := &recordingOverlay{err: boom}
	f.scheduler.AddOverlay(overlay)
	if ok, err := f.scheduler.BeginFrame(); !ok || err != nil {
		t.Fatalf("BeginFrame: %v %v", ok, err)
	}
	if err := f.scheduler.DrawFrame(); !errors.Is(err, boom) {
		t.Errorf("DrawFrame error %v, want %v", err, boom)
	}

	// The abandoned frame still releases the image and signals the fence.
	if err := f.scheduler.AbandonFrame(); err != nil {
		t.Fatalf("AbandonFrame: %v", err)
	}
	if got := f.scheduler.State(); got != FrameIdle {
		t.Errorf("state after abandon = %s, want %s", got, FrameIdle)
	}
	if f.metrics.SkippedFrames() != 1 {
		t.Errorf("skipped frames = %d, want 1", f.metrics.SkippedFrames())
	}
	overlay.err = nil
	if !f.frame(t) {
		t.Fatal("frame after abandon was skipped")
	}
	if got := f.device.Stats().Presents; got != 2 {
		t.Errorf("presents = %d, want 2", got)
	}
}

func TestRendererWithoutPipeline(t *testing.T) {
	backend := NewSoftwareBackend(software.DefaultOptions(), false)
	r, err := New(backend, Options{Scene: raytracing.Options{ObjectCapacity: 4, InstanceCapacity: 2}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := r.DrawFrame(0.016); err != nil {
			t.Fatalf("DrawFrame: %v", err)
		}
	}
	stats := backend.Stats()
	if stats.Presents != 2 || stats.TraceRays != 0 {
		t.Errorf("presents=%d traces=%d, want 2 and 0", stats.Presents, stats.TraceRays)
	}
	if err := r.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRendererTracesWithSoftwarePipeline(t *testing.T) {
	backend := NewSoftwareBackend(software.DefaultOptions(), true)
	r, err := New(backend, Options{Scene: raytracing.Options{ObjectCapacity: 4, InstanceCapacity: 2}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()
	if err := r.DrawFrame(0.016); err != nil {
		t.Fatalf("DrawFrame: %v", err)
	}
	if got := backend.Stats().TraceRays; got != 1 {
		t.Errorf("traces = %d, want 1", got)
	}
	if r.Metrics().FrameCount() != 1 {
		t.Errorf("frame count = %d, want 1", r.Metrics().FrameCount())
	}
}

func TestParseRendererType(t *testing.T) {
	tests := []struct {
		in      string
		want    RendererType
		wantErr bool
	}{
		{"software", Software, false},
		{"Vulkan", Vulkan, false},
		{"", Software, false},
		{"metal", Software, true},
	}
	for _, tt := range tests {
		got, err := ParseRendererType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRendererType(%q) = %v, %v", tt.in, got, err)
		}
	}
}
