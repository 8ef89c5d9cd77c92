package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/renderer/null"
	"github.com/spaghettifunk/renderengine/engine/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLoader serves fixed bytes and records the stages it ran.
type testLoader struct {
	data    []byte
	gate    chan struct{}
	loadErr error

	mu    sync.Mutex
	calls []string
}

func (l *testLoader) record(stage string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, stage)
}

func (l *testLoader) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *testLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	l.record("load")
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	return append([]byte(nil), l.data...), nil
}

func (l *testLoader) Decompress(_ resources.Descriptor, raw []byte) ([]byte, error) {
	l.record("decompress")
	return raw, nil
}

func (l *testLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	l.record("download")
	return dev.Write(res, 0, data)
}

func newTestEngine(t *testing.T, opts ...Option) (*RenderEngine, *null.Backend) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Renderer.MaxDrawCommands = 8
	cfg.Pipeline.DecompressWorkers = 2

	backend := null.New()
	e, err := New(cfg, backend, opts...)
	require.NoError(t, err)
	require.Equal(t, EngineStageInitialized, e.Stage())
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		if e.Stage() == EngineStageRunning {
			assert.NoError(t, e.Shutdown())
		}
	})
	return e, backend
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func present(t *testing.T, e *RenderEngine) {
	t.Helper()
	require.NoError(t, e.Present())
	require.NoError(t, e.WaitForIdle(waitCtx(t)))
}

func TestStartAndShutdown(t *testing.T) {
	e, backend := newTestEngine(t)
	assert.Equal(t, EngineStageRunning, e.Stage())
	assert.ErrorIs(t, e.Start(context.Background()), core.ErrAlreadyStarted)

	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("code")})
	require.NoError(t, err)
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)
	assert.Equal(t, 1, backend.Live())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageStopped, e.Stage())
	assert.Equal(t, 0, backend.Live())
	assert.ErrorIs(t, e.Render(k, resources.NilHandle, resources.NilHandle), core.ErrEngineStopped)
	assert.ErrorIs(t, e.Shutdown(), core.ErrEngineStopped)
	_, err = e.CreateKernel("late", "", nil)
	assert.ErrorIs(t, err, core.ErrEngineStopped)
}

func TestCreateIsLazy(t *testing.T) {
	e, backend := newTestEngine(t)
	l := &testLoader{data: []byte("pixels")}
	h, err := e.CreateSurface("albedo", resources.SurfaceDesc{Format: "RGBA8", Width: 4, Height: 4, BytesPerPixel: 4}, l)
	require.NoError(t, err)

	state, err := e.ResourceState(h)
	require.NoError(t, err)
	assert.Equal(t, resources.StateDisposed, state)
	assert.Empty(t, l.Calls())
	assert.Equal(t, 0, backend.Live())
	assert.Equal(t, 1, e.ResourceCount())

	anon, err := e.CreateParameterSet("", "blit", 16, l)
	require.NoError(t, err)
	info, err := e.ResourceInfo(anon)
	require.NoError(t, err)
	_, err = uuid.Parse(info.Name)
	assert.NoError(t, err)
}

func TestPipelineStageOrdering(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	e, _ := newTestEngine(t, OnStateChange(func(ev *core.ResourceEvent) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, ev.From+"->"+ev.To)
	}))

	l := &testLoader{data: []byte("code")}
	k, err := e.CreateKernel("blit", "", l)
	require.NoError(t, err)
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)

	// refresh of a realized resource
	require.NoError(t, e.UpdateResource(k, nil))
	require.NoError(t, e.WaitForIdle(waitCtx(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"DISPOSED->LOADING", "LOADING->DECOMPRESSING", "DECOMPRESSING->COPYING", "COPYING->REALIZED",
		"REALIZED->LOADING", "LOADING->DECOMPRESSING", "DECOMPRESSING->COPYING", "COPYING->REALIZED",
	}, transitions)
	assert.Equal(t, []string{"load", "decompress", "download", "load", "decompress", "download"}, l.Calls())
}

func TestDrawWaitsForUnrealizedResource(t *testing.T) {
	e, backend := newTestEngine(t)

	gate := make(chan struct{})
	slow, err := e.CreateKernel("slow", "", &testLoader{data: []byte("slow"), gate: gate})
	require.NoError(t, err)

	require.NoError(t, e.Render(slow, resources.NilHandle, resources.NilHandle))
	require.NoError(t, e.Present())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, backend.Executed())
	state, err := e.ResourceState(slow)
	require.NoError(t, err)
	assert.Equal(t, resources.StateLoading, state)

	close(gate)
	require.NoError(t, e.WaitForIdle(waitCtx(t)))

	executed := backend.Executed()
	require.Len(t, executed, 1)
	assert.False(t, executed[0].Fallback)
	data, ok := backend.Contents(executed[0].Kernel)
	require.True(t, ok)
	assert.Equal(t, []byte("slow"), data)

	// later drains do not replay it
	present(t, e)
	assert.Len(t, backend.Executed(), 1)
}

func TestRefreshKeepsServingQueuedDraws(t *testing.T) {
	e, backend := newTestEngine(t)
	none := resources.NilHandle

	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("v1")})
	require.NoError(t, err)
	require.NoError(t, e.UpdateResource(k, nil))
	require.NoError(t, e.WaitForIdle(waitCtx(t)))

	gate := make(chan struct{})
	require.NoError(t, e.Render(k, none, none))
	require.NoError(t, e.UpdateResource(k, &testLoader{data: []byte("v2"), gate: gate}))
	require.NoError(t, e.Present())

	require.Eventually(t, func() bool { return len(backend.Executed()) == 1 }, time.Second, 5*time.Millisecond)
	call := backend.Executed()[0]
	assert.False(t, call.Fallback)
	assert.True(t, call.Kernel.Valid())
	data, ok := backend.Contents(call.Kernel)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), data)
	assert.Equal(t, float64(0), testutil.ToFloat64(e.Metrics().FallbackDraws))

	close(gate)
	require.NoError(t, e.WaitForIdle(waitCtx(t)))
	state, err := e.ResourceState(k)
	require.NoError(t, err)
	assert.Equal(t, resources.StateRealized, state)

	require.NoError(t, e.Render(k, none, none))
	present(t, e)
	executed := backend.Executed()
	require.Len(t, executed, 2)
	assert.False(t, executed[1].Fallback)
	data, _ = backend.Contents(executed[1].Kernel)
	assert.Equal(t, []byte("v2"), data)
}

func TestDrawsExecuteInSubmissionOrder(t *testing.T) {
	e, backend := newTestEngine(t)

	fast, err := e.CreateKernel("fast", "", &testLoader{data: []byte("fast")})
	require.NoError(t, err)
	require.NoError(t, e.UpdateResource(fast, nil))
	require.NoError(t, e.WaitForIdle(waitCtx(t)))

	gate := make(chan struct{})
	slow, err := e.CreateKernel("slow", "", &testLoader{data: []byte("slow"), gate: gate})
	require.NoError(t, err)

	none := resources.NilHandle
	require.NoError(t, e.Render(fast, none, none))
	require.NoError(t, e.Render(slow, none, none))
	require.NoError(t, e.Render(fast, none, none))
	require.NoError(t, e.Present())

	// the second draw blocks the rest of the ring
	require.Eventually(t, func() bool { return len(backend.Executed()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, backend.Executed(), 1)

	close(gate)
	require.NoError(t, e.WaitForIdle(waitCtx(t)))

	executed := backend.Executed()
	require.Len(t, executed, 3)
	for i := 1; i < len(executed); i++ {
		assert.Less(t, executed[i-1].Fence, executed[i].Fence)
	}
	data, _ := backend.Contents(executed[1].Kernel)
	assert.Equal(t, []byte("slow"), data)
	assert.Equal(t, 1, backend.Presents())
}

func TestDrawWithBindings(t *testing.T) {
	e, backend := newTestEngine(t)

	tex, err := e.CreateSurface("albedo", resources.SurfaceDesc{Format: "RGBA8", Width: 4, Height: 4, BytesPerPixel: 4}, &testLoader{data: make([]byte, 64)})
	require.NoError(t, err)
	k, err := e.CreateKernel("lit", "", &testLoader{data: []byte("code")})
	require.NoError(t, err)
	ps, err := e.CreateParameterSet("lit.params", "lit", 64, &testLoader{data: []byte("params")})
	require.NoError(t, err)
	b, err := e.CreatePortBinding("lit.ports", "lit", map[string]resources.SurfaceView{
		"albedo": {Surface: tex},
	})
	require.NoError(t, err)

	require.NoError(t, e.Render(k, ps, b))
	present(t, e)

	executed := backend.Executed()
	require.Len(t, executed, 1)
	call := executed[0]
	assert.False(t, call.Fallback)
	assert.False(t, call.Kernel.IsNil())
	assert.False(t, call.ParamSet.IsNil())
	assert.False(t, call.Binding.IsNil())
	require.Len(t, call.Surfaces, 1)
	data, ok := backend.Contents(call.Surfaces[0])
	require.True(t, ok)
	assert.Len(t, data, 64)

	for _, h := range []resources.Handle{tex, k, ps, b} {
		info, err := e.ResourceInfo(h)
		require.NoError(t, err)
		assert.Equal(t, resources.StateRealized, info.State, info.Name)
		assert.Equal(t, executed[0].Fence, info.LastUsedFence, info.Name)
		assert.Zero(t, info.PendingDraws, info.Name)
	}
}

func TestInvalidHandles(t *testing.T) {
	e, _ := newTestEngine(t)

	tex, err := e.CreateSurface("albedo", resources.SurfaceDesc{Format: "RGBA8", Width: 1, Height: 1, BytesPerPixel: 4}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Render(tex, resources.NilHandle, resources.NilHandle), core.ErrInvalidHandle)
	assert.ErrorIs(t, e.Render(resources.NilHandle, resources.NilHandle, resources.NilHandle), core.ErrInvalidHandle)

	k, err := e.CreateKernel("blit", "", nil)
	require.NoError(t, err)
	_, err = e.CreatePortBinding("ports", "blit", map[string]resources.SurfaceView{"src": {Surface: k}})
	assert.ErrorIs(t, err, core.ErrInvalidHandle)

	require.NoError(t, e.DeleteResource(tex))
	_, err = e.CreatePortBinding("ports", "blit", map[string]resources.SurfaceView{"src": {Surface: tex}})
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.ErrorIs(t, e.UpdateResource(tex, nil), core.ErrInvalidHandle)
	assert.ErrorIs(t, e.DisposeResource(tex), core.ErrInvalidHandle)
}

func TestFailedLoadDrawsWithFallback(t *testing.T) {
	boom := errors.New("no such file")
	var failed atomic.Pointer[core.ResourceEvent]
	e, backend := newTestEngine(t, OnFailure(func(ev *core.ResourceEvent) {
		failed.Store(ev)
	}))

	k, err := e.CreateKernel("broken", "", &testLoader{loadErr: boom})
	require.NoError(t, err)
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)

	executed := backend.Executed()
	require.Len(t, executed, 1)
	assert.True(t, executed[0].Fallback)
	assert.True(t, executed[0].Kernel.IsNil())

	state, err := e.ResourceState(k)
	require.NoError(t, err)
	assert.Equal(t, resources.StateDisposed, state)

	ev := failed.Load()
	require.NotNil(t, ev)
	assert.Equal(t, "broken", ev.Name)
	assert.ErrorIs(t, ev.Err, boom)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().StageFailures.WithLabelValues("load")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().FallbackDraws))
}

func TestDisposeThenRealizeRoundTrip(t *testing.T) {
	var disposed atomic.Int32
	e, backend := newTestEngine(t, OnDispose(func(*core.ResourceEvent) { disposed.Add(1) }))

	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("program")})
	require.NoError(t, err)
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)
	first, ok := backend.Contents(backend.Executed()[0].Kernel)
	require.True(t, ok)

	require.NoError(t, e.DisposeResource(k))
	require.NoError(t, e.WaitForIdle(waitCtx(t)))
	state, err := e.ResourceState(k)
	require.NoError(t, err)
	assert.Equal(t, resources.StateDisposed, state)
	assert.Equal(t, 0, backend.Live())
	assert.Equal(t, int32(1), disposed.Load())

	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)
	executed := backend.Executed()
	require.Len(t, executed, 2)
	assert.False(t, executed[1].Fallback)
	second, ok := backend.Contents(executed[1].Kernel)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestDisposeWaitsForQueuedDraws(t *testing.T) {
	e, backend := newTestEngine(t)

	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("program")})
	require.NoError(t, err)
	require.NoError(t, e.UpdateResource(k, nil))
	require.NoError(t, e.WaitForIdle(waitCtx(t)))

	// the draw is recorded but its ring is not submitted yet
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	require.NoError(t, e.DisposeResource(k))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, backend.Live())

	present(t, e)
	executed := backend.Executed()
	require.Len(t, executed, 1)
	assert.False(t, executed[0].Fallback)
	assert.Equal(t, 0, backend.Live())
}

func TestDrawCancelsPendingDispose(t *testing.T) {
	e, backend := newTestEngine(t)

	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("program")})
	require.NoError(t, err)
	require.NoError(t, e.UpdateResource(k, nil))
	require.NoError(t, e.WaitForIdle(waitCtx(t)))

	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	require.NoError(t, e.DisposeResource(k))
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)

	state, err := e.ResourceState(k)
	require.NoError(t, err)
	assert.Equal(t, resources.StateRealized, state)
	assert.Equal(t, 1, backend.Live())
	assert.Len(t, backend.Executed(), 2)
}

func TestDeleteResource(t *testing.T) {
	e, backend := newTestEngine(t)

	gate := make(chan struct{})
	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("program"), gate: gate})
	require.NoError(t, err)
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))

	assert.Panics(t, func() { _ = e.DeleteResource(k) })
	assert.True(t, e.CheckResource(k))

	close(gate)
	present(t, e)
	assert.Equal(t, 1, backend.Live())

	require.NoError(t, e.DeleteResource(k))
	assert.False(t, e.CheckResource(k))
	_, err = e.ResourceState(k)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.ErrorIs(t, e.DeleteResource(k), core.ErrInvalidHandle)

	require.NoError(t, e.WaitForIdle(waitCtx(t)))
	assert.Equal(t, 0, backend.Live())
	assert.Equal(t, 0, e.ResourceCount())
}

func TestDeleteDuringLoad(t *testing.T) {
	e, backend := newTestEngine(t)

	gate := make(chan struct{})
	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("program"), gate: gate})
	require.NoError(t, err)
	require.NoError(t, e.UpdateResource(k, nil))
	require.NoError(t, e.DeleteResource(k))
	close(gate)

	require.NoError(t, e.WaitForIdle(waitCtx(t)))
	assert.Equal(t, 0, backend.Live())
	assert.False(t, e.CheckResource(k))
}

func TestDeviceLostAndReset(t *testing.T) {
	lost := make(chan error, 1)
	e, backend := newTestEngine(t, OnDeviceLost(func(err error) { lost <- err }))

	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("program")})
	require.NoError(t, err)
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)
	require.Len(t, backend.Executed(), 1)

	backend.LoseDevice()
	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, core.ErrDeviceResetRequired)
		assert.ErrorIs(t, err, core.ErrDeviceLost)
	case <-time.After(time.Second):
		t.Fatal("device lost was not reported")
	}
	assert.True(t, e.DeviceLost())
	assert.Len(t, backend.Executed(), 1)
	assert.ErrorIs(t, e.Render(k, resources.NilHandle, resources.NilHandle), core.ErrDeviceResetRequired)

	require.NoError(t, e.Reset(waitCtx(t)))
	assert.False(t, e.DeviceLost())
	assert.Equal(t, 1, backend.Resets())
	state, err := e.ResourceState(k)
	require.NoError(t, err)
	assert.Equal(t, resources.StateDisposed, state)

	require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	present(t, e)
	executed := backend.Executed()
	require.Len(t, executed, 2)
	assert.False(t, executed[1].Fallback)
}

func TestSetResourceCacheCapacity(t *testing.T) {
	e, _ := newTestEngine(t)

	var handles []resources.Handle
	for i := 0; i < 3; i++ {
		h, err := e.CreateKernel(fmt.Sprintf("k%d", i), "", &testLoader{data: []byte("program")})
		require.NoError(t, err)
		require.NoError(t, e.UpdateResource(h, nil))
		require.NoError(t, e.WaitForIdle(waitCtx(t)))
		handles = append(handles, h)
	}
	realized, _ := e.CacheUsage()
	assert.Equal(t, uint64(3*1024), realized)

	require.NoError(t, e.SetResourceCacheCapacity(1024))
	realized, capacity := e.CacheUsage()
	assert.Equal(t, uint64(1024), capacity)
	assert.Equal(t, uint64(1024), realized)

	// the least recently realized go first
	for i, h := range handles {
		state, err := e.ResourceState(h)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, resources.StateDisposed, state)
		} else {
			assert.Equal(t, resources.StateRealized, state)
		}
	}
	assert.Error(t, e.SetResourceCacheCapacity(0))
}

func TestRingOverflowFlushes(t *testing.T) {
	e, backend := newTestEngine(t)

	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("program")})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Render(k, resources.NilHandle, resources.NilHandle))
	}
	present(t, e)

	assert.Len(t, backend.Executed(), 20)
	assert.Equal(t, 1, backend.Presents())
}

func TestRenderContexts(t *testing.T) {
	e, backend := newTestEngine(t)

	k, err := e.CreateKernel("blit", "", &testLoader{data: []byte("program")})
	require.NoError(t, err)
	id, err := e.CreateRenderContext(k, resources.NilHandle, resources.NilHandle)
	require.NoError(t, err)

	require.NoError(t, e.RenderContext(id))
	require.NoError(t, e.RenderContext(id))
	present(t, e)
	assert.Len(t, backend.Executed(), 2)

	require.NoError(t, e.DeleteRenderContext(id))
	assert.ErrorIs(t, e.RenderContext(id), core.ErrInvalidHandle)
	assert.ErrorIs(t, e.DeleteRenderContext(id), core.ErrInvalidHandle)

	_, err = e.CreateRenderContext(resources.NilHandle, resources.NilHandle, resources.NilHandle)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
}

func TestSharedKernels(t *testing.T) {
	var names []string
	e, _ := newTestEngine(t, WithKernelLoader(func(name string) resources.Loader {
		names = append(names, name)
		return &testLoader{data: []byte(name)}
	}))

	a, err := e.GetKernel("blit")
	require.NoError(t, err)
	b, err := e.GetKernel("blit")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, []string{"blit"}, names)

	require.NoError(t, e.ReleaseKernel("blit"))
	assert.True(t, e.CheckResource(a))
	require.NoError(t, e.ReleaseKernel("blit"))
	assert.False(t, e.CheckResource(a))
	assert.ErrorIs(t, e.ReleaseKernel("blit"), core.ErrInvalidHandle)
}

func TestDisposeAndDeleteAll(t *testing.T) {
	e, backend := newTestEngine(t)

	for i := 0; i < 3; i++ {
		h, err := e.CreateKernel(fmt.Sprintf("k%d", i), "", &testLoader{data: []byte("program")})
		require.NoError(t, err)
		require.NoError(t, e.UpdateResource(h, nil))
	}
	require.NoError(t, e.WaitForIdle(waitCtx(t)))
	assert.Equal(t, 3, backend.Live())

	e.DisposeAllResources()
	require.NoError(t, e.WaitForIdle(waitCtx(t)))
	assert.Equal(t, 0, backend.Live())
	assert.Equal(t, 3, e.ResourceCount())

	require.NoError(t, e.DeleteAllResources())
	assert.Equal(t, 0, e.ResourceCount())
}

func TestRunGameLoop(t *testing.T) {
	e, backend := newTestEngine(t)

	var shutdown atomic.Bool
	var kernel resources.Handle
	g := &Game{
		ApplicationConfig: &ApplicationConfig{Name: "loop", MaxFrames: 3},
		FnInitialize: func(e *RenderEngine) error {
			var err error
			kernel, err = e.CreateKernel("blit", "", &testLoader{data: []byte("program")})
			return err
		},
		FnUpdate: func(float64) error { return nil },
		FnRender: func(e *RenderEngine, _ float64) error {
			return e.Render(kernel, resources.NilHandle, resources.NilHandle)
		},
		FnShutdown: func(*RenderEngine) error {
			shutdown.Store(true)
			return nil
		},
	}
	require.NoError(t, e.Run(waitCtx(t), g))
	require.NoError(t, e.WaitForIdle(waitCtx(t)))

	assert.True(t, shutdown.Load())
	assert.Len(t, backend.Executed(), 3)
	assert.Equal(t, 3, backend.Presents())
}

func TestRunStopsOnUpdateError(t *testing.T) {
	e, _ := newTestEngine(t)
	boom := errors.New("boom")
	g := &Game{
		FnUpdate: func(float64) error { return boom },
	}
	assert.ErrorIs(t, e.Run(waitCtx(t), g), boom)
}
