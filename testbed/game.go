package testbed

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/renderengine/engine"
	"github.com/spaghettifunk/renderengine/engine/assets"
	"github.com/spaghettifunk/renderengine/engine/assets/loaders"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

const (
	checkerSize = 64
	// how often a texture is disposed to exercise realization again
	disposeEvery = 120
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	assets *assets.AssetManager

	kernel   resources.Handle
	params   resources.Handle
	textures []resources.Handle
	bindings []resources.Handle
	contexts []engine.RenderContext

	frame   uint64
	elapsed float64
}

func NewTestGame(app *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown

	return tg
}

// KernelSource serves the demo kernels when no kernel file exists.
func KernelSource(name string) resources.Loader {
	return loaders.NewMemoryLoader([]byte("kernel " + name))
}

func (g *TestGame) Initialize(e *engine.RenderEngine) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.State.(*gameState)

	am, err := assets.NewAssetManager(e.Config().Assets, e)
	if err != nil {
		return err
	}
	if err := am.Initialize(); err != nil {
		core.LogWarn("asset hot reload disabled: %v", err)
	}
	state.assets = am

	if state.kernel, err = e.GetKernel("unlit"); err != nil {
		return err
	}
	params := loaders.PackParameters([]loaders.Parameter{
		{Name: "tint", Values: []float32{1, 1, 1, 1}},
	})
	if state.params, err = e.CreateParameterSet("unlit.params", "unlit", uint32(len(params)), loaders.NewMemoryLoader(params)); err != nil {
		return err
	}

	// one procedural texture, plus every image found under the assets directory
	checker, err := e.CreateSurface("checker", resources.SurfaceDesc{
		Usage:         resources.UsageTexture,
		Format:        "RGBA8",
		Width:         checkerSize,
		Height:        checkerSize,
		BytesPerPixel: 4,
	}, loaders.NewMemoryLoader(checkerboard(checkerSize)))
	if err != nil {
		return err
	}
	state.textures = append(state.textures, checker)
	state.textures = append(state.textures, g.loadImages(e)...)

	for i, tex := range state.textures {
		b, err := e.CreatePortBinding(fmt.Sprintf("binding.%d", i), "unlit", map[string]resources.SurfaceView{
			"albedo": {Surface: tex, NumLevels: 1, NumFaces: 1},
		})
		if err != nil {
			return err
		}
		state.bindings = append(state.bindings, b)

		rc, err := e.CreateRenderContext(state.kernel, state.params, b)
		if err != nil {
			return err
		}
		state.contexts = append(state.contexts, rc)
	}
	core.LogInfo("testbed created %d textures", len(state.textures))
	return nil
}

// loadImages creates a tracked surface for every image in the assets directory.
func (g *TestGame) loadImages(e *engine.RenderEngine) []resources.Handle {
	state := g.State.(*gameState)
	root := state.assets.Path(".")
	var out []resources.Handle

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || assets.DetermineAssetType(path) != assets.AssetTypeImage {
			return nil
		}
		desc, err := loaders.ImageSurfaceDesc(path, 0)
		if err != nil {
			core.LogWarn("skipping %s: %v", path, err)
			return nil
		}
		l, err := state.assets.Loader(path)
		if err != nil {
			core.LogWarn("skipping %s: %v", path, err)
			return nil
		}
		h, err := e.CreateSurface(filepath.Base(path), desc, l)
		if err != nil {
			return err
		}
		if _, err := state.assets.Track(path, h, l); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	return out
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.frame++
	state.elapsed += deltaTime
	return nil
}

func (g *TestGame) Render(e *engine.RenderEngine, deltaTime float64) error {
	state := g.State.(*gameState)

	for _, rc := range state.contexts {
		if err := e.RenderContext(rc); err != nil {
			return err
		}
	}

	if state.frame%disposeEvery == 0 && len(state.textures) > 0 {
		tex := state.textures[int(state.frame/disposeEvery)%len(state.textures)]
		if err := e.DisposeResource(tex); err != nil {
			return err
		}
		fps, ms := e.Metrics().Frame()
		realized, capacity := e.CacheUsage()
		core.LogInfo("frame %d: %.1f fps (%.2f ms), cache %d/%d bytes", state.frame, fps, ms, realized, capacity)
	}
	return nil
}

func (g *TestGame) Shutdown(e *engine.RenderEngine) error {
	core.LogDebug("TestGame Shutdown fn....")
	state := g.State.(*gameState)

	for _, rc := range state.contexts {
		if err := e.DeleteRenderContext(rc); err != nil {
			core.LogWarn("%v", err)
		}
	}
	var err error
	if state.assets != nil {
		err = state.assets.Shutdown()
	}
	if derr := e.DeleteAllResources(); derr != nil && err == nil {
		err = derr
	}
	core.LogInfo("testbed ran %d frames in %.2fs", state.frame, state.elapsed)
	return err
}

// checkerboard fills an RGBA texture with 8x8 texel tiles.
func checkerboard(size int) []byte {
	out := make([]byte, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := byte(0x20)
			if (x/8+y/8)%2 == 0 {
				v = 0xe0
			}
			i := (y*size + x) * 4
			out[i], out[i+1], out[i+2], out[i+3] = v, v, v, 0xff
		}
	}
	return out
}
