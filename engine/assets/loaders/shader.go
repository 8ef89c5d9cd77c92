package loaders

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/spaghettifunk/renderengine/engine/resources"
)

const spirvMagic uint32 = 0x07230203

/**
 * @brief KernelLoader reads kernel code. SPIR-V binaries (.spv) are checked
 * for alignment and magic number; any other file is passed through as
 * source text.
 */
type KernelLoader struct {
	Path string
}

func (kl *KernelLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readFile(kl.Path)
}

func (kl *KernelLoader) Decompress(desc resources.Descriptor, raw []byte) ([]byte, error) {
	if filepath.Ext(kl.Path) != ".spv" {
		return raw, nil
	}
	code, err := bytesToBytecode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", desc, err)
	}
	if code[0] != spirvMagic {
		return nil, fmt.Errorf("%s: not a SPIR-V module (magic %#08x)", desc, code[0])
	}
	return raw, nil
}

func (kl *KernelLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	return download(dev, res, data)
}

func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("bytecode size %d is not a multiple of 4", len(b))
	}
	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return byteCode, nil
}
