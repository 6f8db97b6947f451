package testbed

import (
	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/raytracing"
	"github.com/spaghettifunk/lumen/engine/systems"
)

type TestGame struct {
	*engine.Game
}

type spinningCube struct {
	handle    raytracing.RenderObjectHandle
	transform *math.Transform
	speed     float32
}

type gameState struct {
	width  uint32
	height uint32

	cubes []*spinningCube
	// pending is rebuilt on a worker while earlier frames render the rest.
	pending <-chan error
	rebuilt *spinningCube
	elapsed float64
}

func NewTestGame(appConfig *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: appConfig,
			State:             &gameState{},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState { return g.State.(*gameState) }

// cubeMesh returns an axis-aligned cube of the given size centered at the
// origin, with a flat normal per face.
func cubeMesh(size float32) ([]math.Vertex, []uint32) {
	h := size / 2
	corner := func(i uint32) math.Vec3 {
		x, y, z := -h, -h, -h
		if i&1 != 0 {
			x = h
		}
		if i&2 != 0 {
			y = h
		}
		if i&4 != 0 {
			z = h
		}
		return math.NewVec3(x, y, z)
	}
	corners := []uint32{
		0, 2, 1, 1, 2, 3, // -z
		4, 5, 6, 5, 7, 6, // +z
		0, 1, 4, 1, 5, 4, // -y
		2, 6, 3, 3, 6, 7, // +y
		0, 4, 2, 2, 4, 6, // -x
		1, 3, 5, 3, 7, 5, // +x
	}
	// One vertex per triangle corner so every face gets its own normal, then
	// merge the corners a face shares.
	vertices := make([]math.Vertex, len(corners))
	indices := make([]uint32, len(corners))
	for i, c := range corners {
		vertices[i] = math.Vertex{Position: corner(c)}
		indices[i] = uint32(i)
	}
	math.GeometryGenerateNormals(vertices, indices)
	return math.GeometryDeduplicateVertices(vertices, indices), indices
}

func (g *TestGame) newCube(scene *raytracing.Scene, name string, position math.Vec3, material raytracing.MaterialHandle, speed float32) (*spinningCube, error) {
	c := &spinningCube{
		handle:    scene.CreateRenderObject(name),
		transform: math.TransformFromPosition(position),
		speed:     speed,
	}
	vertices, indices := cubeMesh(1)
	if err := scene.AddPrimitive(c.handle, vertices, indices, material); err != nil {
		return nil, err
	}
	if err := scene.SetTransform(c.handle, c.transform); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing testbed...")
	s := g.state()
	scene := g.Renderer.Scene()

	g.Renderer.Camera().SetPosition(math.NewVec3(0, 0, 4))

	red := scene.CreateMaterial(raytracing.Material{BaseColor: math.NewVec4(0.8, 0.1, 0.1, 1), Roughness: 0.4})
	gold := scene.CreateMaterial(raytracing.Material{BaseColor: math.NewVec4(1, 0.8, 0.3, 1), Roughness: 0.2, Metallic: 1})

	handles := make([]raytracing.RenderObjectHandle, 0, 9)
	for i := 0; i < 9; i++ {
		material := red
		if i%2 == 0 {
			material = gold
		}
		position := math.NewVec3(float32(i%3)*2-2, float32(i/3)*2-2, -6)
		c, err := g.newCube(scene, "", position, material, 0.3+float32(i)*0.1)
		if err != nil {
			return err
		}
		s.cubes = append(s.cubes, c)
		handles = append(handles, c.handle)
	}
	// Build everything up front; the frame loop only sees built objects.
	return scene.BuildAll(handles, g.Jobs.Workers())
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.elapsed += deltaTime
	scene := g.Renderer.Scene()

	for _, c := range s.cubes {
		rotation := math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), float32(deltaTime)*c.speed, true)
		c.transform.Rotate(rotation)
		if err := scene.SetTransform(c.handle, c.transform); err != nil {
			return err
		}
	}

	// Swap the last cube for a fresh one every couple of seconds. The old
	// object keeps rendering until the replacement finished building.
	if s.pending == nil && s.elapsed > 2 {
		s.elapsed = 0
		old := s.cubes[len(s.cubes)-1]
		c, err := g.newCube(scene, "", old.transform.Position, raytracing.MaterialHandle{}, old.speed)
		if err != nil {
			return err
		}
		s.rebuilt = c
		s.pending = g.Jobs.SubmitFunc(func() error { return scene.BuildRenderObject(c.handle) })
	}
	if s.pending != nil {
		select {
		case err := <-s.pending:
			s.pending = nil
			if err != nil {
				core.LogWarn("cube rebuild failed: %s", err)
				_, _ = scene.DestroyRenderObject(s.rebuilt.handle)
				return nil
			}
			old := s.cubes[len(s.cubes)-1]
			if _, err := scene.DestroyRenderObject(old.handle); err != nil {
				return err
			}
			s.cubes[len(s.cubes)-1] = s.rebuilt
		default:
		}
	}
	return nil
}

func (g *TestGame) Render(scene *raytracing.Scene, deltaTime float64) error {
	for _, c := range g.state().cubes {
		scene.Render(c.handle)
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width, s.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	if s.pending != nil {
		// Do not tear the scene down under a running build.
		return systems.Wait(s.pending)
	}
	return nil
}
