package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/fence"
	"github.com/spaghettifunk/renderengine/engine/renderer"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"github.com/spaghettifunk/renderengine/engine/resources"
	"github.com/spaghettifunk/renderengine/engine/systems"
	"golang.org/x/sync/errgroup"
)

type Stage uint32

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is built and ready to be started
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine has been shut down and cannot be restarted
	EngineStageStopped
)

/**
 * @brief RenderEngine is the submission front end. Resource creation is
 * cheap and synchronous; loading, realization and drawing happen on the
 * pipeline and the device thread. The methods are meant to be called from
 * one game goroutine; they are nevertheless safe for concurrent use.
 */
type RenderEngine struct {
	cfg          *core.Config
	currentStage atomic.Uint32

	store      *resources.Store
	fences     *fence.Manager
	pipeline   *systems.Pipeline
	drawThread *renderer.DrawThread
	metrics    *core.Metrics
	events     *core.EventBus
	clock      *core.Clock
	pending    *metadata.Counter

	kernelLoader func(name string) resources.Loader
	listeners    []listener

	mu            sync.Mutex
	ring          *renderer.DrawRing
	lastSubmitted fence.Fence
	lastFrame     time.Duration
	contexts      map[RenderContext]*renderContext
	nextContext   RenderContext
	kernels       map[string]*namedKernel

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures a RenderEngine.
type Option func(*RenderEngine)

// WithMetrics makes the engine report on m instead of a private registry.
func WithMetrics(m *core.Metrics) Option {
	return func(e *RenderEngine) { e.metrics = m }
}

// WithEventBus makes the engine fire its events on eb.
func WithEventBus(eb *core.EventBus) Option {
	return func(e *RenderEngine) { e.events = eb }
}

// WithKernelLoader sets the loader used for kernels created by GetKernel.
func WithKernelLoader(fn func(name string) resources.Loader) Option {
	return func(e *RenderEngine) { e.kernelLoader = fn }
}

// OnRealize registers fn for every resource that finished realization.
func OnRealize(fn func(ev *core.ResourceEvent)) Option {
	return onEvent(core.EVENT_CODE_RESOURCE_REALIZED, fn)
}

// OnDispose registers fn for every resource that released its device memory.
func OnDispose(fn func(ev *core.ResourceEvent)) Option {
	return onEvent(core.EVENT_CODE_RESOURCE_DISPOSED, fn)
}

// OnStateChange registers fn for every resource state transition.
func OnStateChange(fn func(ev *core.ResourceEvent)) Option {
	return onEvent(core.EVENT_CODE_RESOURCE_STATE_CHANGED, fn)
}

// OnFailure registers fn for resources whose preparation failed.
func OnFailure(fn func(ev *core.ResourceEvent)) Option {
	return onEvent(core.EVENT_CODE_RESOURCE_FAILED, fn)
}

// OnDeviceLost registers fn for fatal device failures.
func OnDeviceLost(fn func(err error)) Option {
	return func(e *RenderEngine) {
		e.listeners = append(e.listeners, listener{
			code: core.EVENT_CODE_DEVICE_LOST,
			fn: func(_ core.EventCode, _, _ interface{}, ctx core.EventContext) bool {
				if err, ok := ctx.Data.(error); ok {
					fn(err)
				}
				return false
			},
		})
	}
}

type listener struct {
	code core.EventCode
	fn   core.FnOnEvent
}

func onEvent(code core.EventCode, fn func(ev *core.ResourceEvent)) Option {
	return func(e *RenderEngine) {
		e.listeners = append(e.listeners, listener{
			code: code,
			fn: func(_ core.EventCode, _, _ interface{}, ctx core.EventContext) bool {
				if ev, ok := ctx.Data.(*core.ResourceEvent); ok {
					fn(ev)
				}
				return false
			},
		})
	}
}

/**
 * @brief Builds a render engine on top of backend. Nothing runs until Start.
 * A nil cfg uses core.DefaultConfig.
 */
func New(cfg *core.Config, backend renderer.RendererBackend, opts ...Option) (*RenderEngine, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if backend == nil {
		return nil, fmt.Errorf("render engine needs a backend")
	}
	if cfg.Log.Level != "" {
		if err := core.SetLogLevel(cfg.Log.Level); err != nil {
			return nil, err
		}
	}

	e := &RenderEngine{
		cfg:      cfg,
		store:    resources.NewStore(),
		fences:   fence.NewManager(),
		clock:    core.NewClock(),
		pending:  metadata.NewCounter(),
		contexts: make(map[RenderContext]*renderContext),
		kernels:  make(map[string]*namedKernel),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.events == nil {
		e.events = core.NewEventBus()
	}
	if e.metrics == nil {
		e.metrics = core.NewMetrics()
	}
	// listeners register once the bus is known
	for _, l := range e.listeners {
		e.events.Register(l.code, nil, l.fn)
	}
	e.listeners = nil

	e.store.Observe(e.observe)
	e.drawThread = renderer.NewDrawThread(cfg, backend, e.store, e.fences, e.metrics, e.events)
	p, err := systems.NewPipeline(cfg.Pipeline, e.drawThread, e.metrics)
	if err != nil {
		return nil, err
	}
	e.pipeline = p
	e.currentStage.Store(uint32(EngineStageInitialized))
	return e, nil
}

/**
 * @brief Starts the device thread and the pipeline. The engine stops when
 * ctx is done or Shutdown is called.
 */
func (e *RenderEngine) Start(ctx context.Context) error {
	if !e.currentStage.CompareAndSwap(uint32(EngineStageInitialized), uint32(EngineStageRunning)) {
		return core.ErrAlreadyStarted
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.group, _ = errgroup.WithContext(e.ctx)
	e.group.Go(func() error {
		return e.drawThread.Run(e.ctx)
	})
	if err := e.pipeline.Start(e.ctx); err != nil {
		e.cancel()
		return err
	}

	ring, err := e.drawThread.AcquireRing(e.ctx)
	if err != nil {
		e.cancel()
		return err
	}
	e.mu.Lock()
	e.ring = ring
	e.mu.Unlock()

	e.clock.Start()
	e.lastFrame = 0
	core.LogInfo("render engine started (cache %d bytes, %d decompress workers)", e.cfg.Cache.CapacityBytes, e.cfg.Pipeline.DecompressWorkers)
	return nil
}

/**
 * @brief Stops the pipeline, then the device thread, which releases every
 * device payload.
 */
func (e *RenderEngine) Shutdown() error {
	if !e.currentStage.CompareAndSwap(uint32(EngineStageRunning), uint32(EngineStageShuttingDown)) {
		return core.ErrEngineStopped
	}
	core.LogInfo("render engine shutting down")

	perr := e.pipeline.Stop()
	e.cancel()
	err := e.group.Wait()
	e.clock.Stop()

	e.mu.Lock()
	e.ring = nil
	e.mu.Unlock()
	e.currentStage.Store(uint32(EngineStageStopped))

	if perr != nil {
		return perr
	}
	return err
}

func (e *RenderEngine) Stage() Stage {
	return Stage(e.currentStage.Load())
}

// Present closes the current frame and hands its ring to the device thread.
// It blocks while the device thread still owns both rings.
func (e *RenderEngine) Present() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.flushLocked(true); err != nil {
		return err
	}

	e.clock.Update()
	now := e.clock.Elapsed()
	e.metrics.FrameUpdate(now - e.lastFrame)
	e.lastFrame = now
	return nil
}

// WaitForFence blocks until f has passed. Never call it from an event
// listener running on the device thread.
func (e *RenderEngine) WaitForFence(ctx context.Context, f fence.Fence) error {
	return e.fences.WaitForFence(ctx, f)
}

/**
 * @brief Submits the current ring and blocks until every draw submitted so
 * far has executed and every resource command has finished.
 */
func (e *RenderEngine) WaitForIdle(ctx context.Context) error {
	e.mu.Lock()
	if err := e.flushLocked(false); err != nil {
		e.mu.Unlock()
		return err
	}
	last := e.lastSubmitted
	e.mu.Unlock()

	if err := e.fences.WaitForFence(ctx, last); err != nil {
		return err
	}
	return e.pending.Wait(ctx)
}

func (e *RenderEngine) CurrentFence() fence.Fence {
	return e.fences.CurrentFence()
}

// SetResourceCacheCapacity changes the cache budget; resources over the new
// budget are evicted right away.
func (e *RenderEngine) SetResourceCacheCapacity(bytes uint64) error {
	if bytes == 0 {
		return fmt.Errorf("cache capacity must be > 0")
	}
	ctx, err := e.runningContext()
	if err != nil {
		return err
	}
	return e.drawThread.SetCacheCapacity(ctx, bytes)
}

// CacheUsage returns the realized bytes and the budget of the resource cache.
func (e *RenderEngine) CacheUsage() (realized, capacity uint64) {
	c := e.drawThread.Cache()
	return c.RealizedBytes(), c.CapacityBytes()
}

// DeviceLost reports a fatal device failure. Rendering resumes after Reset.
func (e *RenderEngine) DeviceLost() bool {
	return e.drawThread.Lost()
}

/**
 * @brief Recovers from a lost device. Every realized resource goes back to
 * DISPOSED and is realized again the next time a draw references it.
 */
func (e *RenderEngine) Reset(ctx context.Context) error {
	if _, err := e.runningContext(); err != nil {
		return err
	}
	return e.drawThread.Reset(ctx)
}

func (e *RenderEngine) Metrics() *core.Metrics {
	return e.metrics
}

func (e *RenderEngine) Events() *core.EventBus {
	return e.events
}

func (e *RenderEngine) Config() *core.Config {
	return e.cfg
}

// flushLocked seals the current ring and swaps in the other one.
func (e *RenderEngine) flushLocked(present bool) error {
	if e.ring == nil {
		return core.ErrEngineStopped
	}
	end := e.fences.InsertFence()
	e.ring.Seal(end, present)
	e.drawThread.SubmitRing(e.ring)
	e.ring = nil
	e.lastSubmitted = end

	ring, err := e.drawThread.AcquireRing(e.ctx)
	if err != nil {
		return err
	}
	e.ring = ring
	return nil
}

func (e *RenderEngine) runningContext() (context.Context, error) {
	if e.Stage() != EngineStageRunning {
		return nil, core.ErrEngineStopped
	}
	return e.ctx, nil
}

// observe keeps the per state gauges and fires state change events.
func (e *RenderEngine) observe(res *resources.GraphicsResource, from, to resources.State) {
	e.metrics.ResourceCounts.WithLabelValues(from.String()).Dec()
	// a deleted resource leaves the gauges on its final dispose
	if !(res.PendingDelete() && to == resources.StateDisposed) {
		e.metrics.ResourceCounts.WithLabelValues(to.String()).Inc()
	}
	desc := res.Descriptor()
	e.events.Fire(core.EVENT_CODE_RESOURCE_STATE_CHANGED, e, core.EventContext{Data: &core.ResourceEvent{
		Name: desc.Name(),
		Kind: desc.Kind().String(),
		From: from.String(),
		To:   to.String(),
	}})
}
