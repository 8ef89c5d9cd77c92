package engine

import (
	"context"
	"errors"
	"time"

	"github.com/spaghettifunk/renderengine/engine/core"
)

// Game is the application driven by RenderEngine.Run.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

type Initialize func(e *RenderEngine) error
type Update func(deltaTime float64) error
type Render func(e *RenderEngine, deltaTime float64) error
type Shutdown func(e *RenderEngine) error

/**
 * @brief Runs the frame loop of g on a started engine: update, render,
 * present, until ctx is done, the engine is shut down or MaxFrames is
 * reached. A lost device is reset before the next frame.
 */
func (e *RenderEngine) Run(ctx context.Context, g *Game) error {
	if e.Stage() != EngineStageRunning {
		return core.ErrEngineStopped
	}
	app := g.ApplicationConfig
	if app == nil {
		app = &ApplicationConfig{Name: "renderengine"}
	}
	if g.FnInitialize != nil {
		if err := g.FnInitialize(e); err != nil {
			return err
		}
	}
	core.LogInfo("%s running", app.Name)

	var targetFrame time.Duration
	if app.TargetFPS > 0 {
		targetFrame = time.Second / time.Duration(app.TargetFPS)
	}

	clock := core.NewClock()
	clock.Start()
	lastTime := clock.Elapsed()
	var frames uint64

	err := func() error {
		for ctx.Err() == nil {
			if e.DeviceLost() {
				core.LogWarn("device lost, resetting")
				if err := e.Reset(ctx); err != nil {
					return err
				}
			}

			clock.Update()
			currentTime := clock.Elapsed()
			delta := (currentTime - lastTime).Seconds()
			frameStart := time.Now()

			if g.FnUpdate != nil {
				if err := g.FnUpdate(delta); err != nil {
					core.LogError("game update failed, shutting down: %v", err)
					return err
				}
			}
			if g.FnRender != nil {
				if err := g.FnRender(e, delta); err != nil && !errors.Is(err, core.ErrDeviceResetRequired) {
					core.LogError("game render failed, shutting down: %v", err)
					return err
				}
			}
			if err := e.Present(); err != nil {
				return err
			}

			frames++
			if app.MaxFrames > 0 && frames >= app.MaxFrames {
				return nil
			}

			// If there is time left, give it back to the OS.
			if remaining := targetFrame - time.Since(frameStart); targetFrame > 0 && remaining > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(remaining):
				}
			}
			lastTime = currentTime
		}
		return nil
	}()
	if errors.Is(err, core.ErrEngineStopped) || errors.Is(err, context.Canceled) {
		err = nil
	}

	if g.FnShutdown != nil {
		if serr := g.FnShutdown(e); serr != nil && err == nil {
			err = serr
		}
	}
	core.LogInfo("%s stopped after %d frames", app.Name, frames)
	return err
}
