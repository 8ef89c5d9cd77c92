package resources

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/renderengine/engine/fence"
)

/**
 * @brief GraphicsResource is the record of one resource. The store owns it;
 * the device thread owns its payload. State changes happen under mu and are
 * tagged with a load ticket so that only the newest pipeline cycle can move
 * the resource forward.
 */
type GraphicsResource struct {
	store  *Store
	handle Handle
	desc   Descriptor

	mu        sync.Mutex
	loader    Loader
	ticket    uint64
	disposing bool
	waiters   []Waiter

	// mirrors of fields written under mu, readable without it
	state         atomic.Uint32
	lastUsedFence atomic.Uint64
	deviceBytes   atomic.Uint64
	drawRefs      atomic.Int64
	pendingDelete atomic.Bool

	// device thread only
	payload Payload
}

func (r *GraphicsResource) Handle() Handle { return r.handle }

func (r *GraphicsResource) Descriptor() Descriptor { return r.desc }

func (r *GraphicsResource) Name() string { return r.desc.name }

func (r *GraphicsResource) Kind() Kind { return r.desc.kind }

func (r *GraphicsResource) State() State {
	return State(r.state.Load())
}

func (r *GraphicsResource) Loader() Loader {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loader
}

// Ticket identifies the current pipeline cycle.
func (r *GraphicsResource) Ticket() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticket
}

func (r *GraphicsResource) PendingDelete() bool {
	return r.pendingDelete.Load()
}

// LastUsedFence is the highest draw fence that referenced the resource.
func (r *GraphicsResource) LastUsedFence() fence.Fence {
	return fence.Fence(r.lastUsedFence.Load())
}

// Touch raises LastUsedFence to f. Lower fences are ignored.
func (r *GraphicsResource) Touch(f fence.Fence) {
	for {
		cur := r.lastUsedFence.Load()
		if uint64(f) <= cur {
			return
		}
		if r.lastUsedFence.CompareAndSwap(cur, uint64(f)) {
			return
		}
	}
}

// DeviceMemoryBytes is 0 unless the resource holds a payload.
func (r *GraphicsResource) DeviceMemoryBytes() uint64 {
	return r.deviceBytes.Load()
}

// DrawRefs is the number of submitted draw commands not yet executed that
// reference the resource.
func (r *GraphicsResource) DrawRefs() int64 {
	return r.drawRefs.Load()
}

func (r *GraphicsResource) Payload(key DeviceKey) Payload {
	r.store.checkKey(key)
	return r.payload
}

// SetPayload stores the device object and its size. The zero Payload clears it.
func (r *GraphicsResource) SetPayload(key DeviceKey, p Payload) {
	r.store.checkKey(key)
	r.payload = p
	r.deviceBytes.Store(p.Bytes())
}

/**
 * @brief Starts a new pipeline cycle. A nil loader keeps the current one.
 * Returns false if the resource has been deleted.
 */
func (r *GraphicsResource) BeginLoad(loader Loader) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingDelete.Load() {
		return 0, false
	}
	if loader != nil {
		r.loader = loader
	}
	r.disposing = false
	r.ticket++
	r.setStateLocked(StateLoading)
	return r.ticket, true
}

/**
 * @brief Registers a draw command that references the resource. If the
 * resource is not realized the waiter is queued and wait is true; a disposed
 * resource is lazily realized, in which case start is true and ticket is the
 * new cycle the caller must submit.
 */
func (r *GraphicsResource) AttachDraw(w Waiter) (wait bool, start bool, ticket uint64) {
	r.drawRefs.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.State()
	if state == StateRealized {
		if r.disposing {
			// the queued dispose goes stale
			r.disposing = false
			r.ticket++
		}
		return false, false, 0
	}
	r.waiters = append(r.waiters, w)
	if state == StateDisposed || r.disposing {
		r.disposing = false
		r.ticket++
		r.setStateLocked(StateLoading)
		return true, true, r.ticket
	}
	return true, false, 0
}

// DetachDraw is called once a draw that called AttachDraw is executed or dropped.
func (r *GraphicsResource) DetachDraw() {
	if r.drawRefs.Add(-1) < 0 {
		panic(fmt.Sprintf("resources: %s detached more draws than attached", r.desc))
	}
}

/**
 * @brief Moves the resource from one pipeline state to the next. It fails
 * if the ticket is stale, the state is not from, or the resource is deleted.
 */
func (r *GraphicsResource) Advance(ticket uint64, from, to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket != r.ticket || r.pendingDelete.Load() || r.State() != from {
		return false
	}
	r.setStateLocked(to)
	return true
}

/**
 * @brief Marks the resource REALIZED at the end of the ticket's cycle and
 * hands back the draws waiting for it.
 */
func (r *GraphicsResource) Finish(ticket uint64) ([]Waiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket != r.ticket || r.pendingDelete.Load() || r.State() != StateCopying {
		return nil, false
	}
	r.setStateLocked(StateRealized)
	return r.takeWaitersLocked(), true
}

/**
 * @brief Returns the resource to DISPOSED if ticket is still current, either
 * because its cycle failed or because a requested dispose has come due.
 * Waiting draws are handed back so they can proceed with a fallback.
 */
func (r *GraphicsResource) Abort(ticket uint64) ([]Waiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket != r.ticket {
		return nil, false
	}
	r.disposing = false
	if r.State() != StateDisposed {
		r.setStateLocked(StateDisposed)
	}
	return r.takeWaitersLocked(), true
}

// RequestDispose invalidates the current cycle and returns the ticket the
// device thread must present to Abort.
func (r *GraphicsResource) RequestDispose() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticket++
	r.disposing = true
	return r.ticket
}

// Evict returns a REALIZED resource to DISPOSED. A resource being refreshed
// keeps its state; only its payload goes away.
func (r *GraphicsResource) Evict() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() != StateRealized {
		return false
	}
	r.ticket++
	r.disposing = false
	r.setStateLocked(StateDisposed)
	return true
}

/**
 * @brief Flags the resource for deletion and invalidates any in-flight
 * cycle. Deleting a resource that pending draw commands still reference is a
 * programming error and panics.
 */
func (r *GraphicsResource) MarkPendingDelete() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.drawRefs.Load(); n > 0 {
		panic(fmt.Sprintf("resources: deleting %s still referenced by %d pending draw commands", r.desc, n))
	}
	r.pendingDelete.Store(true)
	r.ticket++
	return r.ticket
}

func (r *GraphicsResource) takeWaitersLocked() []Waiter {
	w := r.waiters
	r.waiters = nil
	return w
}

func (r *GraphicsResource) setStateLocked(to State) {
	from := r.State()
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("resources: illegal transition %s -> %s for %s", from, to, r.desc))
	}
	r.state.Store(uint32(to))
	r.store.notify(r, from, to)
}
