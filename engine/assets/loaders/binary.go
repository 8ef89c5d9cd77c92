package loaders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pierrec/lz4"
	"github.com/spaghettifunk/renderengine/engine/resources"
	"golang.org/x/exp/mmap"
)

/**
 * @brief FileLoader reads a file through a read-only memory map. Files with
 * the .lz4 extension (or Compressed set) are lz4 frames and are inflated on
 * the decompress stage.
 */
type FileLoader struct {
	Path       string
	Compressed bool
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{
		Path:       path,
		Compressed: filepath.Ext(path) == ".lz4",
	}
}

func (fl *FileLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readFile(fl.Path)
}

func (fl *FileLoader) Decompress(_ resources.Descriptor, raw []byte) ([]byte, error) {
	if !fl.Compressed {
		return raw, nil
	}
	return DecompressLZ4(raw)
}

func (fl *FileLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	return download(dev, res, data)
}

// readFile copies a memory mapped file into a buffer owned by the caller.
func readFile(path string) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return buf, nil
}

// CompressLZ4 packs data in an lz4 frame, the format FileLoader inflates.
func CompressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecompressLZ4(raw []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(raw))
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	return data, nil
}
