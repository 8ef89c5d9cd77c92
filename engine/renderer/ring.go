package renderer

import (
	"github.com/spaghettifunk/renderengine/engine/containers"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/fence"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
)

/**
 * @brief DrawRing holds the draw commands of one frame. The front end fills
 * it, hands it to the device thread, and gets it back once drained. Only one
 * side touches a ring at a time.
 */
type DrawRing struct {
	id      int
	draws   *containers.RingQueue[*metadata.DrawCommand]
	present bool
	end     fence.Fence
}

func newDrawRing(id, capacity int) *DrawRing {
	return &DrawRing{
		id:    id,
		draws: containers.NewRingQueue[*metadata.DrawCommand](capacity),
	}
}

func (r *DrawRing) ID() int { return r.id }

// Push appends a draw command. It fails with core.ErrRingFull.
func (r *DrawRing) Push(d *metadata.DrawCommand) error {
	if err := r.draws.Enqueue(d); err != nil {
		return core.ErrRingFull
	}
	return nil
}

func (r *DrawRing) Full() bool { return r.draws.IsFull() }

func (r *DrawRing) Len() int { return r.draws.Len() }

// Seal marks the end of the ring. end is the fence the device thread
// advances to once every command is drained; present requests a Present.
func (r *DrawRing) Seal(end fence.Fence, present bool) {
	r.end = end
	r.present = present
}

func (r *DrawRing) End() fence.Fence { return r.end }

func (r *DrawRing) reset() {
	r.draws.Reset()
	r.present = false
	r.end = 0
}
