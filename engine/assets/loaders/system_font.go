package loaders

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/spaghettifunk/renderengine/engine/resources"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const glyphAtlasColumns = 16

/**
 * @brief GlyphAtlasLoader rasterizes a TrueType or OpenType font into a one
 * byte per texel atlas. Glyphs are laid out on a grid of square cells, 16
 * per row, in the order of Runes.
 */
type GlyphAtlasLoader struct {
	Path  string
	Size  float64
	Runes []rune
}

// ASCII is the printable ASCII range, the default glyph set.
func ASCII() []rune {
	out := make([]rune, 0, 95)
	for r := rune(32); r < 127; r++ {
		out = append(out, r)
	}
	return out
}

func (gl *GlyphAtlasLoader) runes() []rune {
	if len(gl.Runes) == 0 {
		return ASCII()
	}
	return gl.Runes
}

// Cell is the side of one glyph cell in texels.
func (gl *GlyphAtlasLoader) Cell() int {
	return int(math.Ceil(gl.Size * 1.5))
}

// SurfaceDesc returns the surface the atlas is rasterized into.
func (gl *GlyphAtlasLoader) SurfaceDesc() resources.SurfaceDesc {
	n := len(gl.runes())
	rows := (n + glyphAtlasColumns - 1) / glyphAtlasColumns
	cell := gl.Cell()
	return resources.SurfaceDesc{
		Usage:         resources.UsageTexture,
		Format:        "R8",
		Width:         uint32(glyphAtlasColumns * cell),
		Height:        uint32(rows * cell),
		BytesPerPixel: 1,
	}
}

func (gl *GlyphAtlasLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readFile(gl.Path)
}

func (gl *GlyphAtlasLoader) Decompress(desc resources.Descriptor, raw []byte) ([]byte, error) {
	if gl.Size <= 0 {
		return nil, fmt.Errorf("%s: glyph size must be > 0", desc)
	}
	f, err := opentype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", gl.Path, err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    gl.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	defer face.Close()

	s := gl.SurfaceDesc()
	if want := desc.Surface(); want.Width != s.Width || want.Height != s.Height || want.BytesPerPixel != 1 {
		return nil, fmt.Errorf("%s: glyph atlas needs a %dx%d R8 surface", desc, s.Width, s.Height)
	}
	atlas := image.NewGray(image.Rect(0, 0, int(s.Width), int(s.Height)))
	cell := gl.Cell()
	ascent := face.Metrics().Ascent.Ceil()
	d := &font.Drawer{Dst: atlas, Src: image.White, Face: face}
	for i, r := range gl.runes() {
		col, row := i%glyphAtlasColumns, i/glyphAtlasColumns
		d.Dot = fixed.P(col*cell, row*cell+ascent)
		d.DrawString(string(r))
	}
	return atlas.Pix, nil
}

func (gl *GlyphAtlasLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	return download(dev, res, data)
}
