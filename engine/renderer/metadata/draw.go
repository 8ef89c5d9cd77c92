package metadata

import (
	"sync/atomic"

	"github.com/spaghettifunk/renderengine/engine/fence"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

/**
 * @brief DrawCommand is one draw request in a frame ring. It is eligible for
 * execution once no referenced resource is pending and WaitForFence has
 * passed. It implements resources.Waiter.
 */
type DrawCommand struct {
	Fence        fence.Fence
	WaitForFence fence.Fence

	Kernel   *resources.GraphicsResource
	ParamSet *resources.GraphicsResource
	Binding  *resources.GraphicsResource
	// Surfaces bound through the port binding views.
	Surfaces []*resources.GraphicsResource

	pending atomic.Int32
	failed  atomic.Bool
}

// Resources returns every resource the command references, in binding order.
func (d *DrawCommand) Resources() []*resources.GraphicsResource {
	out := make([]*resources.GraphicsResource, 0, 3+len(d.Surfaces))
	for _, r := range []*resources.GraphicsResource{d.Kernel, d.ParamSet, d.Binding} {
		if r != nil {
			out = append(out, r)
		}
	}
	return append(out, d.Surfaces...)
}

// Hold adds one pending dependency. While the command is being built the
// submitter holds one extra reference so it cannot become ready early.
func (d *DrawCommand) Hold() {
	d.pending.Add(1)
}

// Release drops a reference taken with Hold.
func (d *DrawCommand) Release() {
	if d.pending.Add(-1) < 0 {
		panic("metadata: draw command released more resources than it held")
	}
}

// ResourceReady releases one pending dependency.
func (d *DrawCommand) ResourceReady(failed bool) {
	if failed {
		d.failed.Store(true)
	}
	d.Release()
}

func (d *DrawCommand) Pending() int32 {
	return d.pending.Load()
}

// Failed reports whether a dependency failed and the draw runs with a fallback.
func (d *DrawCommand) Failed() bool {
	return d.failed.Load()
}

func (d *DrawCommand) Ready(passed func(fence.Fence) bool) bool {
	return d.pending.Load() == 0 && passed(d.WaitForFence)
}

// DrawCall is what the backend receives for an executed draw command.
// Resources that are not realized are bound as zero Payloads.
type DrawCall struct {
	Fence    fence.Fence
	Kernel   resources.Payload
	ParamSet resources.Payload
	Binding  resources.Payload
	Surfaces []resources.Payload
	Fallback bool
}
