package metadata

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/renderengine/engine/fence"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

// Op is the operation carried by a resource command.
type Op uint8

const (
	OP_LOAD Op = iota
	OP_DECOMPRESS
	OP_COPY
	OP_LOCK
	OP_UNLOCK
	OP_DISPOSE
)

func (o Op) String() string {
	switch o {
	case OP_LOAD:
		return "LOAD"
	case OP_DECOMPRESS:
		return "DECOMPRESS"
	case OP_COPY:
		return "COPY"
	case OP_LOCK:
		return "LOCK"
	case OP_UNLOCK:
		return "UNLOCK"
	case OP_DISPOSE:
		return "DISPOSE"
	default:
		return "UNKNOWN"
	}
}

/**
 * @brief ResourceCommand is one unit of pipeline work. A chain of commands
 * (LOAD, DECOMPRESS, COPY, LOCK, UNLOCK or a single DISPOSE) shares one
 * Pending registration which is released by Complete when the chain ends.
 */
type ResourceCommand struct {
	Op       Op
	Resource *resources.GraphicsResource
	// WaitForFence must have passed before the device thread runs the command.
	WaitForFence fence.Fence
	Loader       resources.Loader
	// Ticket is the pipeline cycle the command belongs to.
	Ticket uint64
	Data   []byte
	// Err is set on a DISPOSE that reports a failed load.
	Err     error
	Pending *Counter

	completed *atomic.Bool
}

// NewResourceCommand starts a command chain and registers it with pending,
// which may be nil.
func NewResourceCommand(op Op, res *resources.GraphicsResource, ticket uint64, loader resources.Loader, pending *Counter) *ResourceCommand {
	if pending != nil {
		pending.Add(1)
	}
	return &ResourceCommand{
		Op:        op,
		Resource:  res,
		Loader:    loader,
		Ticket:    ticket,
		Pending:   pending,
		completed: &atomic.Bool{},
	}
}

// Next continues the chain with op. Data and Err are not carried over.
func (c *ResourceCommand) Next(op Op) *ResourceCommand {
	next := *c
	next.Op = op
	next.Data = nil
	next.Err = nil
	return &next
}

// Complete ends the chain. Only the first call has an effect.
func (c *ResourceCommand) Complete() {
	if c.completed != nil && !c.completed.CompareAndSwap(false, true) {
		return
	}
	if c.Pending != nil {
		c.Pending.Add(-1)
	}
}

/**
 * @brief Counter is a counter that can be waited on until it drops to zero.
 */
type Counter struct {
	mu   sync.Mutex
	n    int64
	zero chan struct{}
}

func NewCounter() *Counter {
	c := &Counter{zero: make(chan struct{})}
	close(c.zero)
	return c
}

func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.n
	c.n += delta
	if c.n < 0 {
		panic("metadata: counter below zero")
	}
	switch {
	case before == 0 && c.n > 0:
		c.zero = make(chan struct{})
	case before > 0 && c.n == 0:
		close(c.zero)
	}
}

func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Wait blocks until the counter is zero or ctx is done.
func (c *Counter) Wait(ctx context.Context) error {
	c.mu.Lock()
	ch := c.zero
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
