package cache

import (
	"sort"
	"sync/atomic"

	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/fence"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

// EvictFunc releases the payload of a resource chosen for eviction. The
// resource has already been removed from the cache when it is called.
type EvictFunc func(res *resources.GraphicsResource)

type entry struct {
	bytes uint64
	seq   uint64
}

/**
 * @brief LRU keeps the realized resources under a byte budget. Only the
 * device thread may call its mutating methods; the byte counters can be read
 * from anywhere. The budget is advisory: a resource that cannot fit even
 * after every candidate has been evicted is admitted anyway.
 */
type LRU struct {
	capacity atomic.Uint64
	realized atomic.Uint64

	entries map[*resources.GraphicsResource]*entry
	seq     uint64
	passed  func(fence.Fence) bool
	metrics *core.Metrics
}

/**
 * @brief Creates a cache. passed reports whether a fence has completed;
 * resources whose last use has not completed are never evicted.
 * metrics may be nil.
 */
func NewLRU(capacityBytes uint64, passed func(fence.Fence) bool, metrics *core.Metrics) *LRU {
	c := &LRU{
		entries: make(map[*resources.GraphicsResource]*entry),
		passed:  passed,
		metrics: metrics,
	}
	c.capacity.Store(capacityBytes)
	if metrics != nil {
		metrics.CapacityBytes.Set(float64(capacityBytes))
	}
	return c
}

/**
 * @brief Reserves bytes for res, evicting least recently used resources
 * until it fits. Returns true if the resource was admitted over budget.
 */
func (c *LRU) Realize(res *resources.GraphicsResource, bytes uint64, evict EvictFunc) bool {
	if e, ok := c.entries[res]; ok {
		c.resize(e, bytes)
		return c.realized.Load() > c.capacity.Load()
	}

	capacity := c.capacity.Load()
	for c.realized.Load()+bytes > capacity {
		victim := c.victim()
		if victim == nil {
			break
		}
		c.evict(victim, evict)
	}

	c.seq++
	c.entries[res] = &entry{bytes: bytes, seq: c.seq}
	c.realized.Add(bytes)
	c.updateGauge()

	if total := c.realized.Load(); total > capacity {
		if bytes > capacity {
			core.LogWarn("resource %s (%d bytes) is larger than the cache capacity (%d bytes)", res.Descriptor(), bytes, capacity)
		} else {
			core.LogWarn("resource cache over budget after realizing %s: %d/%d bytes", res.Descriptor(), total, capacity)
		}
		if c.metrics != nil {
			c.metrics.Oversized.Inc()
		}
		return true
	}
	return false
}

// Touch marks res as used by the draw fenced by f.
func (c *LRU) Touch(res *resources.GraphicsResource, f fence.Fence) {
	res.Touch(f)
}

// Remove forgets res and returns its bytes to the budget.
func (c *LRU) Remove(res *resources.GraphicsResource) {
	e, ok := c.entries[res]
	if !ok {
		return
	}
	delete(c.entries, res)
	c.realized.Add(^(e.bytes - 1))
	c.updateGauge()
}

// Resize replaces the estimate of res with the size reported by the device.
func (c *LRU) Resize(res *resources.GraphicsResource, bytes uint64) {
	if e, ok := c.entries[res]; ok {
		c.resize(e, bytes)
	}
}

func (c *LRU) Contains(res *resources.GraphicsResource) bool {
	_, ok := c.entries[res]
	return ok
}

// SetCapacity changes the budget. Shrinking takes effect at the next Realize
// or Trim.
func (c *LRU) SetCapacity(bytes uint64) {
	c.capacity.Store(bytes)
	if c.metrics != nil {
		c.metrics.CapacityBytes.Set(float64(bytes))
	}
}

// Trim evicts until the cache is back under budget or nothing can be
// evicted. It returns the number of evicted resources.
func (c *LRU) Trim(evict EvictFunc) int {
	n := 0
	for c.realized.Load() > c.capacity.Load() {
		victim := c.victim()
		if victim == nil {
			break
		}
		c.evict(victim, evict)
		n++
	}
	return n
}

// Realized returns the cached resources, least recently used first.
func (c *LRU) Realized() []*resources.GraphicsResource {
	out := make([]*resources.GraphicsResource, 0, len(c.entries))
	for res := range c.entries {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		return c.older(out[i], out[j])
	})
	return out
}

// Clear forgets every resource without evicting it. Used when the device
// has been reset and every payload is gone.
func (c *LRU) Clear() {
	c.entries = make(map[*resources.GraphicsResource]*entry)
	c.realized.Store(0)
	c.updateGauge()
}

func (c *LRU) RealizedBytes() uint64 {
	return c.realized.Load()
}

func (c *LRU) CapacityBytes() uint64 {
	return c.capacity.Load()
}

func (c *LRU) Len() int {
	return len(c.entries)
}

// victim returns the least recently used resource whose last use has
// completed and that no queued draw references, or nil.
func (c *LRU) victim() *resources.GraphicsResource {
	var best *resources.GraphicsResource
	for res := range c.entries {
		if !c.passed(res.LastUsedFence()) || res.DrawRefs() > 0 {
			continue
		}
		if best == nil || c.older(res, best) {
			best = res
		}
	}
	return best
}

// older orders by last used fence, then by realization order.
func (c *LRU) older(a, b *resources.GraphicsResource) bool {
	fa, fb := a.LastUsedFence(), b.LastUsedFence()
	if fa != fb {
		return fa < fb
	}
	return c.entries[a].seq < c.entries[b].seq
}

func (c *LRU) evict(victim *resources.GraphicsResource, evict EvictFunc) {
	c.Remove(victim)
	if c.metrics != nil {
		c.metrics.Evictions.Inc()
	}
	core.LogDebug("evicting %s (last used at fence %d)", victim.Descriptor(), victim.LastUsedFence())
	if evict != nil {
		evict(victim)
	}
}

func (c *LRU) resize(e *entry, bytes uint64) {
	c.realized.Add(bytes - e.bytes)
	e.bytes = bytes
	c.updateGauge()
}

func (c *LRU) updateGauge() {
	if c.metrics != nil {
		c.metrics.RealizedBytes.Set(float64(c.realized.Load()))
	}
}
