package engine

import (
	"fmt"

	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

// RenderContext names a kernel, parameter set and port binding triple that
// is drawn repeatedly.
type RenderContext uint32

type renderContext struct {
	kernel   resources.Handle
	paramSet resources.Handle
	binding  resources.Handle
}

/**
 * @brief Queues a draw of kernel with the given parameter set and port
 * binding; either may be NilHandle. Resources that are not realized are
 * started and the draw waits for them on the device thread. A draw whose
 * resource fails runs with a fallback binding instead.
 */
func (e *RenderEngine) Render(kernel, paramSet, binding resources.Handle) error {
	if e.drawThread.Lost() {
		return core.ErrDeviceResetRequired
	}

	// resolving under the lock keeps DeleteResource out until d is attached
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ring == nil {
		return core.ErrEngineStopped
	}
	d, err := e.drawCommand(kernel, paramSet, binding)
	if err != nil {
		return err
	}
	if e.ring.Full() {
		// submit what we have so far and keep recording into the other ring
		if err := e.flushLocked(false); err != nil {
			return err
		}
	}
	d.Fence = e.fences.InsertFence()
	e.attach(d)
	return e.ring.Push(d)
}

// drawCommand resolves the handles of a draw.
func (e *RenderEngine) drawCommand(kernel, paramSet, binding resources.Handle) (*metadata.DrawCommand, error) {
	k, err := e.resolve(kernel, resources.KindKernel)
	if err != nil {
		return nil, err
	}
	d := &metadata.DrawCommand{Kernel: k}
	if !paramSet.IsNil() {
		if d.ParamSet, err = e.resolve(paramSet, resources.KindParameterSet); err != nil {
			return nil, err
		}
	}
	if !binding.IsNil() {
		if d.Binding, err = e.resolve(binding, resources.KindPortBinding); err != nil {
			return nil, err
		}
		for _, h := range d.Binding.Descriptor().ViewSurfaces() {
			s, err := e.resolve(h, resources.KindSurface)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.Binding.Descriptor(), err)
			}
			d.Surfaces = append(d.Surfaces, s)
		}
	}
	return d, nil
}

func (e *RenderEngine) resolve(h resources.Handle, kind resources.Kind) (*resources.GraphicsResource, error) {
	res, err := e.store.Get(h)
	if err != nil {
		return nil, err
	}
	if res.Kind() != kind {
		return nil, fmt.Errorf("%s is not a %s: %w", res.Descriptor(), kind, core.ErrInvalidHandle)
	}
	return res, nil
}

// attach registers d with every resource it references and starts the ones
// that are disposed. The extra hold keeps d pending until all are attached.
func (e *RenderEngine) attach(d *metadata.DrawCommand) {
	d.Hold()
	for _, res := range d.Resources() {
		// pin before attaching so the cache cannot pick res in between
		res.Touch(d.Fence)
		d.Hold()
		wait, start, ticket := res.AttachDraw(d)
		if !wait {
			d.Release()
		}
		if start {
			e.submitLoad(res, ticket)
		}
	}
	d.Release()
}

// CreateRenderContext validates and stores a draw triple for RenderContext.
func (e *RenderEngine) CreateRenderContext(kernel, paramSet, binding resources.Handle) (RenderContext, error) {
	if _, err := e.drawCommand(kernel, paramSet, binding); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextContext++
	id := e.nextContext
	e.contexts[id] = &renderContext{kernel: kernel, paramSet: paramSet, binding: binding}
	return id, nil
}

// RenderContext draws a stored triple. It fails if one of its resources
// has been deleted since.
func (e *RenderEngine) RenderContext(id RenderContext) error {
	e.mu.Lock()
	rc, ok := e.contexts[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("render context %d: %w", id, core.ErrInvalidHandle)
	}
	return e.Render(rc.kernel, rc.paramSet, rc.binding)
}

func (e *RenderEngine) DeleteRenderContext(id RenderContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.contexts[id]; !ok {
		return fmt.Errorf("render context %d: %w", id, core.ErrInvalidHandle)
	}
	delete(e.contexts, id)
	return nil
}
