package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
	"github.com/spaghettifunk/lumen/engine/systems"
)

const headlessConfig = `
[application]
name = "engine-test"
width = 64
height = 48
backend = "software"

[log]
level = "warn"

[raytracing]
object_capacity = 8
instance_capacity = 4
build_workers = 2

[frame]
max_frames = 3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lumen.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type triangleGame struct {
	*Game
	object   raytracing.RenderObjectHandle
	rendered int
}

func newTriangleGame(configPath string) *triangleGame {
	g := &triangleGame{Game: &Game{ApplicationConfig: &ApplicationConfig{ConfigPath: configPath}}}
	g.FnInitialize = g.initialize
	g.FnRender = g.render
	return g
}

func (g *triangleGame) initialize() error {
	scene := g.Renderer.Scene()
	g.object = scene.CreateRenderObject("triangle")
	vertices := []math.Vertex{
		{Position: math.NewVec3(0, 0, 0)},
		{Position: math.NewVec3(1, 0, 0)},
		{Position: math.NewVec3(0, 1, 0)},
	}
	if err := scene.AddPrimitive(g.object, vertices, []uint32{0, 1, 2}, raytracing.MaterialHandle{}); err != nil {
		return err
	}
	return systems.Wait(g.Jobs.SubmitFunc(func() error { return scene.BuildRenderObject(g.object) }))
}

func (g *triangleGame) render(scene *raytracing.Scene, deltaTime float64) error {
	g.rendered++
	scene.Render(g.object)
	return nil
}

func TestHeadlessRunStopsAtMaxFrames(t *testing.T) {
	g := newTriangleGame(writeConfig(t, headlessConfig))
	e, err := New(g.Game)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if g.rendered != 3 {
		t.Errorf("rendered %d frames, want 3", g.rendered)
	}
	if got := e.Metrics().FrameCount(); got != 3 {
		t.Errorf("metrics frame count = %d, want 3", got)
	}
	if instances, _ := e.Metrics().Instances(); instances != 1 {
		t.Errorf("instances in last TLAS = %d, want 1", instances)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestApplicationConfigOverrides(t *testing.T) {
	g := newTriangleGame(writeConfig(t, headlessConfig))
	g.ApplicationConfig.MaxFrames = 1
	e, err := New(g.Game)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := e.Config().Frame.MaxFrames; got != 1 {
		t.Errorf("max frames = %d, want 1", got)
	}
	if w, h := e.GetFramebufferSize(); w != 64 || h != 48 {
		t.Errorf("framebuffer = %dx%d, want 64x48", w, h)
	}

	g = newTriangleGame(writeConfig(t, headlessConfig))
	g.ApplicationConfig.Backend = "metal"
	if _, err := New(g.Game); err == nil {
		t.Error("New accepted an unknown backend")
	}
}

func TestQuitEventStopsLoop(t *testing.T) {
	g := newTriangleGame(writeConfig(t, headlessConfig))
	g.ApplicationConfig.MaxFrames = 1000
	e, err := New(g.Game)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer e.Shutdown()
	g.FnUpdate = func(float64) error {
		e.Events().Fire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
		return nil
	}
	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if g.rendered != 1 {
		t.Errorf("rendered %d frames after quit, want 1", g.rendered)
	}
}

func TestGameErrorStopsLoop(t *testing.T) {
	g := newTriangleGame(writeConfig(t, headlessConfig))
	e, err := New(g.Game)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer e.Shutdown()
	boom := errors.New("boom")
	g.FnUpdate = func(float64) error { return boom }
	if err := e.Run(); !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want %v", err, boom)
	}
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(newTriangleGame(writeConfig(t, headlessConfig)).Game)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Run(); err == nil {
		t.Error("Run before Initialize succeeded")
	}
}
