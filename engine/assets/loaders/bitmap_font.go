package loaders

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sort"

	"github.com/fzipp/bmfont"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

type FontGlyph struct {
	Codepoint rune
	X         int
	Y         int
	Width     int
	Height    int
	XOffset   int
	YOffset   int
	XAdvance  int
	Page      int
}

type FontKerning struct {
	Codepoint0 rune
	Codepoint1 rune
	Amount     int
}

// FontMetrics is the layout data of an AngelCode bitmap font. The page
// images are loaded separately as surfaces with FontAtlasLoader.
type FontMetrics struct {
	Face       string
	Size       int
	LineHeight int
	Baseline   int
	AtlasSizeX int
	AtlasSizeY int
	Glyphs     map[rune]FontGlyph
	Kernings   []FontKerning
	// Pages lists the page image files by page id.
	Pages []string
}

func LoadFontMetrics(fntFileName string) (*FontMetrics, error) {
	font, err := bmfont.Load(fntFileName)
	if err != nil {
		return nil, err
	}
	d := font.Descriptor

	out := &FontMetrics{
		Face:       d.Info.Face,
		Size:       int(d.Info.Size),
		LineHeight: int(d.Common.LineHeight),
		Baseline:   int(d.Common.Base),
		AtlasSizeX: int(d.Common.ScaleW),
		AtlasSizeY: int(d.Common.ScaleH),
		Glyphs:     make(map[rune]FontGlyph, len(d.Chars)),
		Kernings:   make([]FontKerning, 0, len(d.Kerning)),
	}

	pages := 0
	for _, p := range d.Pages {
		if int(p.ID)+1 > pages {
			pages = int(p.ID) + 1
		}
	}
	out.Pages = make([]string, pages)
	for _, p := range d.Pages {
		out.Pages[p.ID] = p.File
	}

	for _, g := range d.Chars {
		out.Glyphs[rune(g.ID)] = FontGlyph{
			Codepoint: rune(g.ID),
			X:         int(g.X),
			Y:         int(g.Y),
			Width:     int(g.Width),
			Height:    int(g.Height),
			XOffset:   int(g.XOffset),
			YOffset:   int(g.YOffset),
			XAdvance:  int(g.XAdvance),
			Page:      int(g.Page),
		}
	}
	for p, k := range d.Kerning {
		out.Kernings = append(out.Kernings, FontKerning{
			Codepoint0: rune(p.First),
			Codepoint1: rune(p.Second),
			Amount:     int(k.Amount),
		})
	}
	sort.Slice(out.Kernings, func(i, j int) bool {
		a, b := out.Kernings[i], out.Kernings[j]
		if a.Codepoint0 != b.Codepoint0 {
			return a.Codepoint0 < b.Codepoint0
		}
		return a.Codepoint1 < b.Codepoint1
	})
	return out, nil
}

// FontAtlasLoader loads one page image of a bitmap font into a surface.
type FontAtlasLoader struct {
	Path string
	Page int
}

func (fl *FontAtlasLoader) pagePath() (string, error) {
	m, err := LoadFontMetrics(fl.Path)
	if err != nil {
		return "", err
	}
	if fl.Page < 0 || fl.Page >= len(m.Pages) || m.Pages[fl.Page] == "" {
		return "", fmt.Errorf("bitmap font %s has no page %d", fl.Path, fl.Page)
	}
	return filepath.Join(filepath.Dir(fl.Path), m.Pages[fl.Page]), nil
}

// SurfaceDesc returns the texture surface for the page.
func (fl *FontAtlasLoader) SurfaceDesc() (resources.SurfaceDesc, error) {
	path, err := fl.pagePath()
	if err != nil {
		return resources.SurfaceDesc{}, err
	}
	return ImageSurfaceDesc(path, 1)
}

func (fl *FontAtlasLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := fl.pagePath()
	if err != nil {
		return nil, err
	}
	return readFile(path)
}

func (fl *FontAtlasLoader) Decompress(desc resources.Descriptor, raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding page %d of %s: %w", fl.Page, fl.Path, err)
	}
	return texels(desc, img, false)
}

func (fl *FontAtlasLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	return download(dev, res, data)
}
