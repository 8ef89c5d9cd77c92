package loaders

import (
	"fmt"
	"image"
	"math/bits"
	"os"

	"github.com/spaghettifunk/renderengine/engine/resources"
)

// ImageSurfaceDesc reads the header of an image file and returns the RGBA
// texture surface that holds it. A levels value of 0 asks for a full mip chain.
func ImageSurfaceDesc(path string, levels uint32) (resources.SurfaceDesc, error) {
	file, err := os.Open(path)
	if err != nil {
		return resources.SurfaceDesc{}, err
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return resources.SurfaceDesc{}, fmt.Errorf("%s: %w", path, err)
	}
	if levels == 0 {
		levels = MipLevels(uint32(cfg.Width), uint32(cfg.Height))
	}
	return resources.SurfaceDesc{
		Usage:         resources.UsageTexture,
		Format:        "RGBA8",
		Width:         uint32(cfg.Width),
		Height:        uint32(cfg.Height),
		Levels:        levels,
		BytesPerPixel: 4,
	}, nil
}

// MipLevels is the length of the full mip chain of a w x h surface.
func MipLevels(w, h uint32) uint32 {
	return uint32(bits.Len32(max(w, h, 1)))
}
