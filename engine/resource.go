package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/fence"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

// ResourceInfo is a snapshot of a resource for tools and debugging.
type ResourceInfo struct {
	Name           string
	Kind           resources.Kind
	State          resources.State
	LastUsedFence  fence.Fence
	DeviceBytes    uint64
	EstimatedBytes uint64
	PendingDraws   int64
}

type namedKernel struct {
	handle resources.Handle
	refs   int
}

/**
 * @brief Creates a resource in the DISPOSED state. Nothing is loaded until a
 * draw references it or UpdateResource is called. A nil loader creates the
 * device object without content. Unnamed resources get a random uuid name.
 */
func (e *RenderEngine) CreateResource(desc resources.Descriptor, loader resources.Loader) (resources.Handle, error) {
	if e.stopping() {
		return resources.NilHandle, core.ErrEngineStopped
	}
	if desc.Kind() == resources.KindPortBinding {
		for _, h := range desc.ViewSurfaces() {
			res, err := e.store.Get(h)
			if err != nil {
				return resources.NilHandle, fmt.Errorf("port binding %s: %w", desc.Name(), err)
			}
			if res.Kind() != resources.KindSurface {
				return resources.NilHandle, fmt.Errorf("port binding %s: %s is not a surface: %w", desc.Name(), res.Descriptor(), core.ErrInvalidHandle)
			}
		}
	}
	if desc.Name() == "" {
		desc = desc.Renamed(uuid.NewString())
	}
	res := e.store.Create(desc, loader)
	e.metrics.ResourceCounts.WithLabelValues(resources.StateDisposed.String()).Inc()
	core.LogDebug("created %s", desc)
	return res.Handle(), nil
}

func (e *RenderEngine) CreateSurface(name string, desc resources.SurfaceDesc, loader resources.Loader) (resources.Handle, error) {
	return e.CreateResource(resources.NewSurface(name, desc), loader)
}

// CreateVertexBuffer creates a buffer of count vertices of stride bytes each.
func (e *RenderEngine) CreateVertexBuffer(name string, stride, count uint32, loader resources.Loader) (resources.Handle, error) {
	return e.CreateSurface(name, resources.SurfaceDesc{
		Usage:         resources.UsageVertexBuffer,
		Format:        "VERTEX",
		Width:         count,
		BytesPerPixel: stride,
	}, loader)
}

// CreateIndexBuffer creates a buffer of count 16 bit indices.
func (e *RenderEngine) CreateIndexBuffer(name string, count uint32, loader resources.Loader) (resources.Handle, error) {
	return e.CreateSurface(name, resources.SurfaceDesc{
		Usage:         resources.UsageIndexBuffer,
		Format:        "R16_UINT",
		Width:         count,
		BytesPerPixel: 2,
	}, loader)
}

func (e *RenderEngine) CreateParameterSet(name, kernel string, bytes uint32, loader resources.Loader) (resources.Handle, error) {
	return e.CreateResource(resources.NewParameterSet(name, resources.ParameterSetDesc{Kernel: kernel, Bytes: bytes}), loader)
}

// CreatePortBinding binds surface views to the ports of a kernel. Every view
// must reference a live surface.
func (e *RenderEngine) CreatePortBinding(name, kernel string, views map[string]resources.SurfaceView) (resources.Handle, error) {
	return e.CreateResource(resources.NewPortBinding(name, resources.PortBindingDesc{Kernel: kernel, Views: views}), nil)
}

func (e *RenderEngine) CreateKernel(name, source string, loader resources.Loader) (resources.Handle, error) {
	return e.CreateResource(resources.NewKernel(name, resources.KernelDesc{Kernel: name, Source: source}), loader)
}

/**
 * @brief Returns the shared kernel called name, creating it on first use
 * with the loader from WithKernelLoader. Every call must be paired with
 * ReleaseKernel.
 */
func (e *RenderEngine) GetKernel(name string) (resources.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if k, ok := e.kernels[name]; ok {
		if _, err := e.store.Get(k.handle); err == nil {
			k.refs++
			return k.handle, nil
		}
		// deleted behind our back
		delete(e.kernels, name)
	}

	var l resources.Loader
	if e.kernelLoader != nil {
		l = e.kernelLoader(name)
	}
	h, err := e.CreateKernel(name, "", l)
	if err != nil {
		return resources.NilHandle, err
	}
	e.kernels[name] = &namedKernel{handle: h, refs: 1}
	return h, nil
}

// ReleaseKernel drops a reference taken by GetKernel. The kernel is deleted
// with the last reference.
func (e *RenderEngine) ReleaseKernel(name string) error {
	e.mu.Lock()
	k, ok := e.kernels[name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("kernel %q: %w", name, core.ErrInvalidHandle)
	}
	k.refs--
	if k.refs > 0 {
		e.mu.Unlock()
		return nil
	}
	delete(e.kernels, name)
	e.mu.Unlock()

	err := e.DeleteResource(k.handle)
	if errors.Is(err, core.ErrInvalidHandle) {
		return nil
	}
	return err
}

/**
 * @brief Reloads a resource, optionally from a new loader. The current
 * payload, if any, keeps serving draws until the new content is realized.
 */
func (e *RenderEngine) UpdateResource(h resources.Handle, loader resources.Loader) error {
	res, err := e.store.Get(h)
	if err != nil {
		return err
	}
	ticket, ok := res.BeginLoad(loader)
	if !ok {
		return fmt.Errorf("%s: %w", res.Descriptor(), core.ErrInvalidHandle)
	}
	e.submitLoad(res, ticket)
	return nil
}

/**
 * @brief Releases the device memory of a resource once the draws already
 * referencing it have executed. The resource stays usable: a later draw
 * realizes it again.
 */
func (e *RenderEngine) DisposeResource(h resources.Handle) error {
	res, err := e.store.Get(h)
	if err != nil {
		return err
	}
	e.dispose(res, res.RequestDispose())
	return nil
}

func (e *RenderEngine) DisposeAllResources() {
	e.store.Each(func(res *resources.GraphicsResource) bool {
		if res.State() != resources.StateDisposed {
			e.dispose(res, res.RequestDispose())
		}
		return true
	})
}

/**
 * @brief Deletes a resource. The handle stops resolving right away and the
 * device memory is released after the last draw that used it. Deleting a
 * resource that queued draw commands still reference panics.
 */
func (e *RenderEngine) DeleteResource(h resources.Handle) error {
	res, ticket, err := e.unlink(h)
	if err != nil {
		return err
	}
	if res.State() == resources.StateDisposed {
		e.metrics.ResourceCounts.WithLabelValues(resources.StateDisposed.String()).Dec()
	}
	e.dispose(res, ticket)
	return nil
}

// unlink flags the resource for deletion and removes it from the store.
// Holding the front end lock keeps Render from attaching it meanwhile.
func (e *RenderEngine) unlink(h resources.Handle) (*resources.GraphicsResource, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.store.Get(h)
	if err != nil {
		return nil, 0, err
	}
	ticket := res.MarkPendingDelete()
	if err := e.store.Delete(h); err != nil {
		return nil, 0, err
	}
	return res, ticket, nil
}

// DeleteAllResources deletes every resource, typically before Shutdown.
func (e *RenderEngine) DeleteAllResources() error {
	var errs []error
	e.store.Each(func(res *resources.GraphicsResource) bool {
		if err := e.DeleteResource(res.Handle()); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	e.mu.Lock()
	clear(e.kernels)
	e.mu.Unlock()
	return errors.Join(errs...)
}

// CheckResource reports whether h still refers to a live resource.
func (e *RenderEngine) CheckResource(h resources.Handle) bool {
	_, err := e.store.Get(h)
	return err == nil
}

func (e *RenderEngine) ResourceState(h resources.Handle) (resources.State, error) {
	res, err := e.store.Get(h)
	if err != nil {
		return resources.StateDisposed, err
	}
	return res.State(), nil
}

func (e *RenderEngine) ResourceInfo(h resources.Handle) (ResourceInfo, error) {
	res, err := e.store.Get(h)
	if err != nil {
		return ResourceInfo{}, err
	}
	desc := res.Descriptor()
	return ResourceInfo{
		Name:           desc.Name(),
		Kind:           desc.Kind(),
		State:          res.State(),
		LastUsedFence:  res.LastUsedFence(),
		DeviceBytes:    res.DeviceMemoryBytes(),
		EstimatedBytes: desc.EstimatedBytes(),
		PendingDraws:   res.DrawRefs(),
	}, nil
}

// ResourceCount returns the number of live resources.
func (e *RenderEngine) ResourceCount() int {
	return e.store.Len()
}

func (e *RenderEngine) submitLoad(res *resources.GraphicsResource, ticket uint64) {
	cmd := metadata.NewResourceCommand(metadata.OP_LOAD, res, ticket, res.Loader(), e.pending)
	if err := e.pipeline.Submit(cmd); err != nil {
		core.LogWarn("loading %s: %v", res.Descriptor(), err)
	}
}

func (e *RenderEngine) dispose(res *resources.GraphicsResource, ticket uint64) {
	cmd := metadata.NewResourceCommand(metadata.OP_DISPOSE, res, ticket, nil, e.pending)
	cmd.WaitForFence = res.LastUsedFence()
	if !e.drawThread.Enqueue(cmd) {
		cmd.Complete()
		core.LogWarn("dispose of %s dropped: %v", res.Descriptor(), core.ErrEngineStopped)
	}
}

func (e *RenderEngine) stopping() bool {
	s := e.Stage()
	return s == EngineStageShuttingDown || s == EngineStageStopped
}
