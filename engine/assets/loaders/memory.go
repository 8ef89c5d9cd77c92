package loaders

import (
	"context"

	"github.com/spaghettifunk/renderengine/engine/resources"
)

// MemoryLoader serves bytes held in memory.
type MemoryLoader struct {
	Data []byte
}

func NewMemoryLoader(data []byte) *MemoryLoader {
	return &MemoryLoader{Data: data}
}

func (ml *MemoryLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]byte(nil), ml.Data...), nil
}

func (ml *MemoryLoader) Decompress(_ resources.Descriptor, raw []byte) ([]byte, error) {
	return raw, nil
}

func (ml *MemoryLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	return download(dev, res, data)
}

// download writes the whole staged buffer at the start of the payload.
func download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return dev.Write(res, 0, data)
}
