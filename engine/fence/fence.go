package fence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Fence marks a point in the stream of device work. Fence values are never
// reused and a passed fence stays passed.
type Fence uint64

/**
 * @brief Manager issues fences and tracks the highest completed one.
 * InsertFence may be called from any goroutine. Advance must only be called
 * by the device thread, which is the single writer of the completed value.
 */
type Manager struct {
	issued    atomic.Uint64
	completed atomic.Uint64

	mu      sync.Mutex
	changed chan struct{}
}

func NewManager() *Manager {
	return &Manager{
		changed: make(chan struct{}),
	}
}

/**
 * @brief Returns a fence greater than every fence returned before.
 */
func (m *Manager) InsertFence() Fence {
	return Fence(m.issued.Add(1))
}

// Issued returns the last fence handed out by InsertFence.
func (m *Manager) Issued() Fence {
	return Fence(m.issued.Load())
}

/**
 * @brief Returns the highest fence for which all device work has been submitted.
 */
func (m *Manager) CurrentFence() Fence {
	return Fence(m.completed.Load())
}

// Passed reports whether f is at or below the current fence. The zero fence
// has always passed.
func (m *Manager) Passed(f Fence) bool {
	return m.CurrentFence() >= f
}

/**
 * @brief Moves the current fence forward to f and wakes every waiter.
 * Advancing to a lower fence is a no-op. Advancing past the last issued
 * fence is a contract violation and panics.
 */
func (m *Manager) Advance(f Fence) {
	if issued := m.Issued(); f > issued {
		panic(fmt.Sprintf("fence: advance to %d past issued fence %d", f, issued))
	}
	for {
		cur := m.completed.Load()
		if uint64(f) <= cur {
			return
		}
		if m.completed.CompareAndSwap(cur, uint64(f)) {
			break
		}
	}

	m.mu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

// Changed returns a channel closed at the next advance.
func (m *Manager) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

/**
 * @brief Blocks until f has passed or ctx is done. Must never be called
 * from the device thread, which is the one advancing fences.
 */
func (m *Manager) WaitForFence(ctx context.Context, f Fence) error {
	for {
		ch := m.Changed()
		if m.Passed(f) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
