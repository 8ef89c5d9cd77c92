package renderer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/renderengine/engine/cache"
	"github.com/spaghettifunk/renderengine/engine/containers"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/fence"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

/**
 * @brief DrawThread is the only goroutine that talks to the backend. Each
 * iteration it runs the resource commands whose fence has passed, then
 * executes the draw commands of the current ring in submission order until
 * one is still waiting for a resource. Fences advance once the backend has
 * accepted a batch.
 */
type DrawThread struct {
	backend RendererBackend
	store   *resources.Store
	fences  *fence.Manager
	cache   *cache.LRU
	metrics *core.Metrics
	events  *core.EventBus
	poll    time.Duration

	// valid once Run has bound the device
	key resources.DeviceKey

	commands *containers.Queue[*metadata.ResourceCommand]
	wake     chan struct{}
	frames   chan *DrawRing
	free     chan *DrawRing
	requests chan func()
	done     chan struct{}

	lost    atomic.Bool
	running atomic.Bool
}

func NewDrawThread(cfg *core.Config, backend RendererBackend, store *resources.Store, fences *fence.Manager, metrics *core.Metrics, events *core.EventBus) *DrawThread {
	dt := &DrawThread{
		backend:  backend,
		store:    store,
		fences:   fences,
		metrics:  metrics,
		events:   events,
		poll:     cfg.Renderer.PollInterval.Duration,
		commands: containers.NewQueue[*metadata.ResourceCommand](),
		wake:     make(chan struct{}, 1),
		frames:   make(chan *DrawRing, 2),
		free:     make(chan *DrawRing, 2),
		requests: make(chan func()),
		done:     make(chan struct{}),
	}
	dt.cache = cache.NewLRU(cfg.Cache.CapacityBytes, fences.Passed, metrics)
	for i := 0; i < 2; i++ {
		dt.free <- newDrawRing(i, cfg.Renderer.MaxDrawCommands)
	}
	return dt
}

/**
 * @brief Runs the device loop on a locked OS thread until ctx is done.
 * It binds the store's device key, so it can run once per store.
 */
func (dt *DrawThread) Run(ctx context.Context) error {
	if !dt.running.CompareAndSwap(false, true) {
		return core.ErrAlreadyStarted
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(dt.done)

	dt.key = dt.store.BindDevice()
	if err := dt.backend.Initialize(ctx); err != nil {
		dt.commands.Close()
		return fmt.Errorf("backend initialize: %w", err)
	}
	core.LogInfo("device thread started")

	var cur *DrawRing
	for {
		dt.processCommands()
		if cur != nil && dt.drainRing(cur) {
			dt.free <- cur
			cur = nil
			continue
		}

		frames := dt.frames
		var poll <-chan time.Time
		if cur != nil {
			// the head command waits for a resource
			frames = nil
			poll = time.After(dt.poll)
		}
		select {
		case <-ctx.Done():
			return dt.shutdown(cur)
		case cur = <-frames:
		case fn := <-dt.requests:
			fn()
		case <-dt.wake:
		case <-poll:
		}
	}
}

// Enqueue hands a resource command to the device thread.
func (dt *DrawThread) Enqueue(cmd *metadata.ResourceCommand) bool {
	if !dt.commands.Push(cmd) {
		return false
	}
	if dt.metrics != nil {
		dt.metrics.QueueDepth.WithLabelValues("device").Set(float64(dt.commands.Len()))
	}
	select {
	case dt.wake <- struct{}{}:
	default:
	}
	return true
}

/**
 * @brief Returns a drained ring for the front end to fill. Blocks while
 * both rings are owned by the device thread.
 */
func (dt *DrawThread) AcquireRing(ctx context.Context) (*DrawRing, error) {
	select {
	case r := <-dt.free:
		r.reset()
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-dt.done:
		return nil, core.ErrEngineStopped
	}
}

// SubmitRing hands a sealed ring to the device thread. It never blocks.
func (dt *DrawThread) SubmitRing(r *DrawRing) {
	dt.frames <- r
}

/**
 * @brief Runs fn on the device thread and returns its error.
 */
func (dt *DrawThread) Do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	req := func() { errc <- fn() }
	select {
	case dt.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-dt.done:
		return core.ErrEngineStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetCacheCapacity changes the cache budget and evicts down to it.
func (dt *DrawThread) SetCacheCapacity(ctx context.Context, bytes uint64) error {
	return dt.Do(ctx, func() error {
		dt.cache.SetCapacity(bytes)
		if n := dt.cache.Trim(dt.evict); n > 0 {
			core.LogDebug("cache capacity set to %d bytes, %d resources evicted", bytes, n)
		}
		return nil
	})
}

/**
 * @brief Recovers from a lost device: every payload is dropped, realized
 * resources go back to DISPOSED and the backend is reset.
 */
func (dt *DrawThread) Reset(ctx context.Context) error {
	return dt.Do(ctx, func() error {
		dt.store.Each(func(res *resources.GraphicsResource) bool {
			if res.Payload(dt.key).IsNil() {
				return true
			}
			res.SetPayload(dt.key, resources.Payload{})
			if res.Evict() {
				dt.fire(core.EVENT_CODE_RESOURCE_DISPOSED, res, nil)
			}
			return true
		})
		dt.cache.Clear()
		if err := dt.backend.Reset(); err != nil {
			return fmt.Errorf("backend reset: %w", err)
		}
		dt.lost.Store(false)
		core.LogInfo("device reset")
		return nil
	})
}

// Lost reports whether the device is lost and Reset is required.
func (dt *DrawThread) Lost() bool {
	return dt.lost.Load()
}

// Cache exposes the resource cache. Its mutating methods must only be used
// from the device thread.
func (dt *DrawThread) Cache() *cache.LRU {
	return dt.cache
}

// Done is closed when Run returns.
func (dt *DrawThread) Done() <-chan struct{} {
	return dt.done
}

func (dt *DrawThread) processCommands() {
	cmds := dt.commands.Drain(func(cmd *metadata.ResourceCommand) bool {
		return dt.fences.Passed(waitFence(cmd))
	})
	for _, cmd := range cmds {
		dt.execute(cmd)
	}
	if dt.metrics != nil && len(cmds) > 0 {
		dt.metrics.QueueDepth.WithLabelValues("device").Set(float64(dt.commands.Len()))
	}
}

// waitFence is the fence a command waits for. A dispose also waits for the
// last draw that used the resource, which may be newer than the command.
func waitFence(cmd *metadata.ResourceCommand) fence.Fence {
	f := cmd.WaitForFence
	if cmd.Op == metadata.OP_DISPOSE && cmd.Err == nil {
		if last := cmd.Resource.LastUsedFence(); last > f {
			f = last
		}
	}
	return f
}

func (dt *DrawThread) execute(cmd *metadata.ResourceCommand) {
	switch cmd.Op {
	case metadata.OP_LOCK:
		dt.lock(cmd)
	case metadata.OP_UNLOCK:
		dt.unlock(cmd)
	case metadata.OP_DISPOSE:
		dt.dispose(cmd)
	default:
		panic(fmt.Sprintf("renderer: %s command on the device thread", cmd.Op))
	}
}

/**
 * @brief Realizes the resource: makes room in the cache, creates the device
 * object unless a refresh can reuse it, and lets the loader download the
 * staged data. A resource deleted while in flight is disposed instead.
 */
func (dt *DrawThread) lock(cmd *metadata.ResourceCommand) {
	res := cmd.Resource
	if res.PendingDelete() {
		dt.release(res)
		cmd.Complete()
		return
	}
	if res.Ticket() != cmd.Ticket || res.State() != resources.StateCopying {
		cmd.Complete()
		return
	}
	if dt.lost.Load() {
		dt.fail(cmd, core.ErrDeviceResetRequired)
		return
	}

	if !res.Payload(dt.key).Valid() {
		desc := res.Descriptor()
		dt.release(res)
		dt.cache.Realize(res, desc.EstimatedBytes(), dt.evict)
		payload, err := createPayload(dt.backend, desc)
		if err != nil {
			dt.cache.Remove(res)
			dt.checkLost(err)
			dt.fail(cmd, err)
			return
		}
		res.SetPayload(dt.key, payload)
		if payload.Bytes() > 0 {
			dt.cache.Resize(res, payload.Bytes())
		}
	}

	if cmd.Loader != nil {
		dc := &deviceContext{dt: dt, valid: true}
		err := cmd.Loader.Download(dc, res, cmd.Data)
		dc.valid = false
		if err != nil {
			dt.checkLost(err)
			dt.fail(cmd, fmt.Errorf("download %s: %w", res.Descriptor(), err))
			return
		}
	}
	dt.unlock(cmd.Next(metadata.OP_UNLOCK))
}

// unlock finalizes a realization and releases the waiting draws.
func (dt *DrawThread) unlock(cmd *metadata.ResourceCommand) {
	defer cmd.Complete()
	waiters, ok := cmd.Resource.Finish(cmd.Ticket)
	if !ok {
		return
	}
	for _, w := range waiters {
		w.ResourceReady(false)
	}
	dt.fire(core.EVENT_CODE_RESOURCE_REALIZED, cmd.Resource, nil)
}

/**
 * @brief Handles both an explicit dispose and a failure reported by the
 * pipeline. Waiting draws proceed with a fallback binding.
 */
func (dt *DrawThread) dispose(cmd *metadata.ResourceCommand) {
	if cmd.Err != nil {
		dt.fail(cmd, cmd.Err)
		return
	}
	defer cmd.Complete()
	res := cmd.Resource
	waiters, ok := res.Abort(cmd.Ticket)
	if !ok {
		return
	}
	dt.release(res)
	for _, w := range waiters {
		w.ResourceReady(true)
	}
	dt.fire(core.EVENT_CODE_RESOURCE_DISPOSED, res, nil)
}

func (dt *DrawThread) fail(cmd *metadata.ResourceCommand, err error) {
	defer cmd.Complete()
	res := cmd.Resource
	waiters, ok := res.Abort(cmd.Ticket)
	if !ok {
		return
	}
	dt.release(res)
	for _, w := range waiters {
		w.ResourceReady(true)
	}
	if dt.metrics != nil && cmd.Err == nil {
		dt.metrics.StageFailures.WithLabelValues("device").Inc()
	}
	core.LogWarn("resource %s failed: %v", res.Descriptor(), err)
	dt.fire(core.EVENT_CODE_RESOURCE_FAILED, res, err)
}

// evict is called by the cache for the resources it pushes out.
func (dt *DrawThread) evict(res *resources.GraphicsResource) {
	dt.destroyPayload(res)
	if res.Evict() {
		dt.fire(core.EVENT_CODE_RESOURCE_DISPOSED, res, nil)
	}
}

// release frees the payload of res and returns its bytes to the cache.
func (dt *DrawThread) release(res *resources.GraphicsResource) {
	dt.destroyPayload(res)
	dt.cache.Remove(res)
}

func (dt *DrawThread) destroyPayload(res *resources.GraphicsResource) {
	p := res.Payload(dt.key)
	if p.IsNil() {
		return
	}
	res.SetPayload(dt.key, resources.Payload{})
	if !p.Valid() {
		return
	}
	if err := dt.backend.Destroy(p); err != nil {
		core.LogError("destroying %s of %s: %v", p, res.Descriptor(), err)
		dt.checkLost(err)
	}
}

/**
 * @brief Executes the ready prefix of the ring as one batch. Returns true
 * once the ring is fully drained (or dropped) and its end fence passed.
 */
func (dt *DrawThread) drainRing(r *DrawRing) bool {
	if dt.lost.Load() {
		dt.dropRing(r, nil)
		return true
	}

	var batch []metadata.DrawCall
	var executed []*metadata.DrawCommand
	for !r.draws.IsEmpty() {
		d, _ := r.draws.Peek()
		if !d.Ready(dt.fences.Passed) {
			break
		}
		_, _ = r.draws.Dequeue()
		batch = append(batch, dt.drawCall(d))
		executed = append(executed, d)
	}

	if len(batch) > 0 {
		if err := dt.backend.SubmitDrawBatch(batch); err != nil {
			dt.deviceLost(err)
			dt.dropRing(r, executed)
			return true
		}
		for _, d := range executed {
			for _, res := range d.Resources() {
				res.DetachDraw()
			}
		}
		if dt.metrics != nil {
			dt.metrics.DrawsExecuted.Add(float64(len(batch)))
		}
		dt.advance(executed[len(executed)-1].Fence)
	}

	if !r.draws.IsEmpty() {
		return false
	}
	if r.present {
		if err := dt.backend.Present(); err != nil {
			dt.deviceLost(err)
		} else {
			dt.events.Fire(core.EVENT_CODE_FRAME_PRESENTED, dt, core.EventContext{Data: r.end})
		}
	}
	dt.advance(r.end)
	return true
}

// dropRing discards the draws of a ring after a device failure. Fences still
// advance to the end of the ring so nobody waits forever.
func (dt *DrawThread) dropRing(r *DrawRing, executed []*metadata.DrawCommand) {
	dropped := executed
	for !r.draws.IsEmpty() {
		d, _ := r.draws.Dequeue()
		dropped = append(dropped, d)
	}
	for _, d := range dropped {
		for _, res := range d.Resources() {
			res.DetachDraw()
		}
	}
	if dt.metrics != nil {
		dt.metrics.DrawsDropped.Add(float64(len(dropped)))
	}
	dt.advance(r.end)
}

func (dt *DrawThread) drawCall(d *metadata.DrawCommand) metadata.DrawCall {
	call := metadata.DrawCall{Fence: d.Fence, Fallback: d.Failed()}
	bind := func(res *resources.GraphicsResource) resources.Payload {
		if res == nil {
			return resources.Payload{}
		}
		// a refreshing resource keeps serving its current payload
		p := res.Payload(dt.key)
		if !p.Valid() {
			call.Fallback = true
			return resources.Payload{}
		}
		return p
	}
	call.Kernel = bind(d.Kernel)
	call.ParamSet = bind(d.ParamSet)
	call.Binding = bind(d.Binding)
	for _, s := range d.Surfaces {
		call.Surfaces = append(call.Surfaces, bind(s))
	}
	if call.Fallback && dt.metrics != nil {
		dt.metrics.FallbackDraws.Inc()
	}
	return call
}

func (dt *DrawThread) advance(f fence.Fence) {
	if f == 0 {
		return
	}
	dt.fences.Advance(f)
	if dt.metrics != nil {
		dt.metrics.CurrentFence.Set(float64(dt.fences.CurrentFence()))
	}
}

func (dt *DrawThread) checkLost(err error) {
	if errors.Is(err, core.ErrDeviceLost) {
		dt.deviceLost(err)
	}
}

/**
 * @brief Marks the device lost: every payload becomes invalid and the front
 * end is told a reset is required.
 */
func (dt *DrawThread) deviceLost(err error) {
	if !dt.lost.CompareAndSwap(false, true) {
		return
	}
	core.LogError("device failure, reset required: %v", err)
	dt.store.Each(func(res *resources.GraphicsResource) bool {
		if p := res.Payload(dt.key); !p.IsNil() {
			res.SetPayload(dt.key, p.Invalidate())
		}
		return true
	})
	dt.events.Fire(core.EVENT_CODE_DEVICE_LOST, dt, core.EventContext{Data: fmt.Errorf("%w: %w", core.ErrDeviceResetRequired, err)})
}

func (dt *DrawThread) shutdown(cur *DrawRing) error {
	dt.commands.Close()
	for {
		cmd, ok := dt.commands.TryPop()
		if !ok {
			break
		}
		cmd.Complete()
	}
	if cur != nil {
		dt.dropRing(cur, nil)
	}
	for {
		select {
		case r := <-dt.frames:
			dt.dropRing(r, nil)
			continue
		default:
		}
		break
	}
	dt.store.Each(func(res *resources.GraphicsResource) bool {
		dt.release(res)
		return true
	})
	core.LogInfo("device thread stopped")
	return dt.backend.Shutdown()
}

func (dt *DrawThread) fire(code core.EventCode, res *resources.GraphicsResource, err error) {
	desc := res.Descriptor()
	dt.events.Fire(code, dt, core.EventContext{Data: &core.ResourceEvent{
		Name: desc.Name(),
		Kind: desc.Kind().String(),
		To:   res.State().String(),
		Err:  err,
	}})
}

// deviceContext is the resources.Device handed to Loader.Download.
type deviceContext struct {
	dt    *DrawThread
	valid bool
}

func (dc *deviceContext) check() {
	if !dc.valid {
		panic("renderer: device context used after Download returned")
	}
}

func (dc *deviceContext) Payload(res *resources.GraphicsResource) resources.Payload {
	dc.check()
	return res.Payload(dc.dt.key)
}

func (dc *deviceContext) Write(res *resources.GraphicsResource, offset uint64, data []byte) error {
	dc.check()
	p := res.Payload(dc.dt.key)
	if !p.Valid() {
		return fmt.Errorf("write %s: no device payload", res.Descriptor())
	}
	return dc.dt.backend.Write(p, offset, data)
}
