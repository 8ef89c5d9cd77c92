package resources

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/renderengine/engine/core"
)

// Handle is a generation checked index into the store. A handle whose slot
// has been reused no longer resolves.
type Handle struct {
	index      uint32
	generation uint32
}

var NilHandle Handle

func (h Handle) IsNil() bool { return h.generation == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.generation)
}

// DeviceKey proves the caller is the device thread. Only one exists per store.
type DeviceKey struct {
	t *deviceToken
}

type deviceToken struct{ _ byte }

// ObserverFunc is called for every state change while the resource is
// locked. It may read resource state but must not change it.
type ObserverFunc func(res *GraphicsResource, from, to State)

type slot struct {
	res        *GraphicsResource
	generation uint32
}

/**
 * @brief Store owns every resource record. Slots are recycled through a free
 * list; every reuse bumps the slot generation.
 */
type Store struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	count int

	device   atomic.Pointer[deviceToken]
	observer atomic.Pointer[ObserverFunc]
}

func NewStore() *Store {
	return &Store{}
}

/**
 * @brief Creates a DISPOSED resource. No I/O and no device work happens here.
 */
func (s *Store) Create(desc Descriptor, loader Loader) *GraphicsResource {
	s.mu.Lock()
	defer s.mu.Unlock()

	var index uint32
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		index = uint32(len(s.slots))
		s.slots = append(s.slots, slot{generation: 0})
	}
	sl := &s.slots[index]
	sl.generation++
	if sl.generation == 0 {
		sl.generation = 1
	}
	res := &GraphicsResource{
		store:  s,
		handle: Handle{index: index, generation: sl.generation},
		desc:   desc,
		loader: loader,
	}
	sl.res = res
	s.count++
	return res
}

func (s *Store) Get(h Handle) (*GraphicsResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h.IsNil() || int(h.index) >= len(s.slots) {
		return nil, fmt.Errorf("handle %s: %w", h, core.ErrInvalidHandle)
	}
	sl := s.slots[h.index]
	if sl.res == nil || sl.generation != h.generation {
		return nil, fmt.Errorf("handle %s: %w", h, core.ErrInvalidHandle)
	}
	return sl.res, nil
}

/**
 * @brief Removes the resource from the store. The resource must be DISPOSED
 * or flagged for deletion; the handle stops resolving immediately.
 */
func (s *Store) Delete(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.IsNil() || int(h.index) >= len(s.slots) {
		return fmt.Errorf("handle %s: %w", h, core.ErrInvalidHandle)
	}
	sl := &s.slots[h.index]
	if sl.res == nil || sl.generation != h.generation {
		return fmt.Errorf("handle %s: %w", h, core.ErrInvalidHandle)
	}
	if sl.res.State() != StateDisposed && !sl.res.PendingDelete() {
		return fmt.Errorf("%s: %w", sl.res.desc, core.ErrResourceNotDisposed)
	}
	sl.res = nil
	sl.generation++
	if sl.generation == 0 {
		sl.generation = 1
	}
	s.free = append(s.free, h.index)
	s.count--
	return nil
}

// Each calls fn for a snapshot of the live resources until fn returns false.
func (s *Store) Each(fn func(*GraphicsResource) bool) {
	s.mu.RLock()
	list := make([]*GraphicsResource, 0, s.count)
	for _, sl := range s.slots {
		if sl.res != nil {
			list = append(list, sl.res)
		}
	}
	s.mu.RUnlock()

	for _, res := range list {
		if !fn(res) {
			return
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

/**
 * @brief Hands out the key to device payloads. It is called once by the
 * device thread; a second call is a double initialization and panics.
 */
func (s *Store) BindDevice() DeviceKey {
	t := &deviceToken{}
	if !s.device.CompareAndSwap(nil, t) {
		panic("resources: device already bound to this store")
	}
	return DeviceKey{t: t}
}

// Observe installs the state change observer. Pass nil to remove it.
func (s *Store) Observe(fn ObserverFunc) {
	if fn == nil {
		s.observer.Store(nil)
		return
	}
	s.observer.Store(&fn)
}

func (s *Store) notify(res *GraphicsResource, from, to State) {
	if fn := s.observer.Load(); fn != nil {
		(*fn)(res, from, to)
	}
}

func (s *Store) checkKey(key DeviceKey) {
	if key.t == nil || key.t != s.device.Load() {
		panic("resources: device payload accessed off the device thread")
	}
}
