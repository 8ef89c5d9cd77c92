package resources

import "context"

/**
 * @brief Loader produces the content of a resource. Load runs on the load
 * goroutine and may block. Decompress is a pure transform and can run
 * concurrently for different resources. Download runs on the device thread
 * and is the only method allowed to touch the device payload.
 */
type Loader interface {
	Load(ctx context.Context, desc Descriptor) ([]byte, error)
	Decompress(desc Descriptor, raw []byte) ([]byte, error)
	Download(dev Device, res *GraphicsResource, data []byte) error
}

// Device is what a Loader sees of the device thread during Download. It is
// only valid for the duration of the call.
type Device interface {
	Payload(res *GraphicsResource) Payload
	Write(res *GraphicsResource, offset uint64, data []byte) error
}

// Waiter is notified once a resource it depends on is realized or has failed.
type Waiter interface {
	ResourceReady(failed bool)
}
