package renderer

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

/**
 * @brief RendererBackend is the device adapter. Every method is called from
 * the device thread only. An error wrapping core.ErrDeviceLost from any
 * method is a fatal device failure; other errors from the create methods
 * and Write only fail the resource being realized.
 */
type RendererBackend interface {
	Initialize(ctx context.Context) error
	Shutdown() error
	CreateSurface(desc resources.Descriptor) (resources.Payload, error)
	CreateBuffer(desc resources.Descriptor) (resources.Payload, error)
	CreateProgram(desc resources.Descriptor) (resources.Payload, error)
	Destroy(payload resources.Payload) error
	Write(payload resources.Payload, offset uint64, data []byte) error
	// SubmitDrawBatch returns once the batch is submitted, not retired.
	SubmitDrawBatch(batch []metadata.DrawCall) error
	Present() error
	// Reset recreates the device after a loss. Every payload is gone afterwards.
	Reset() error
}

// createPayload routes a descriptor to the matching backend constructor.
// Vertex and index surfaces, parameter sets and port bindings are buffers.
func createPayload(b RendererBackend, desc resources.Descriptor) (resources.Payload, error) {
	switch desc.Kind() {
	case resources.KindSurface:
		if desc.Surface().Usage.IsBuffer() {
			return b.CreateBuffer(desc)
		}
		return b.CreateSurface(desc)
	case resources.KindParameterSet, resources.KindPortBinding:
		return b.CreateBuffer(desc)
	case resources.KindKernel:
		return b.CreateProgram(desc)
	default:
		return resources.Payload{}, fmt.Errorf("unknown resource kind %s", desc.Kind())
	}
}
