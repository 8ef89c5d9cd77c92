package loaders

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/spaghettifunk/renderengine/engine/resources"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

/**
 * @brief ImageLoader decodes an image file into surface texels. The decode
 * runs on the decompress stage: the image is converted to the surface
 * format (4 bytes RGBA or 1 byte luminance per texel), optionally flipped,
 * and followed by its mip chain when the surface has more than one level.
 */
type ImageLoader struct {
	Path  string
	FlipY bool
}

func (il *ImageLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readFile(il.Path)
}

func (il *ImageLoader) Decompress(desc resources.Descriptor, raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", il.Path, err)
	}
	return texels(desc, img, il.FlipY)
}

func (il *ImageLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	return download(dev, res, data)
}

// texels converts img to the layout of the surface described by desc.
func texels(desc resources.Descriptor, img image.Image, flipY bool) ([]byte, error) {
	s := desc.Surface()
	b := img.Bounds()
	if s.Width != 0 && (uint32(b.Dx()) != s.Width || uint32(b.Dy()) != s.Height) {
		return nil, fmt.Errorf("%s: image is %dx%d, surface is %dx%d", desc, b.Dx(), b.Dy(), s.Width, s.Height)
	}

	base, err := newTexelImage(s.BytesPerPixel, b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", desc, err)
	}
	draw.Draw(base, base.Bounds(), img, b.Min, draw.Src)
	if flipY {
		flip(base)
	}

	out := pix(base)
	prev := base
	w, h := b.Dx(), b.Dy()
	for level := uint32(1); level < s.Levels; level++ {
		w, h = max(1, w/2), max(1, h/2)
		next, _ := newTexelImage(s.BytesPerPixel, w, h)
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		out = append(out, pix(next)...)
		prev = next
	}
	return out, nil
}

func newTexelImage(bytesPerPixel uint32, w, h int) (draw.Image, error) {
	r := image.Rect(0, 0, w, h)
	switch bytesPerPixel {
	case 4:
		return image.NewRGBA(r), nil
	case 1:
		return image.NewGray(r), nil
	default:
		return nil, fmt.Errorf("images can only fill 1 or 4 byte texels, not %d", bytesPerPixel)
	}
}

func pix(img draw.Image) []byte {
	switch m := img.(type) {
	case *image.RGBA:
		return m.Pix
	case *image.Gray:
		return m.Pix
	}
	return nil
}

// flip mirrors the rows of img in place.
func flip(img draw.Image) {
	var p []byte
	var stride int
	switch m := img.(type) {
	case *image.RGBA:
		p, stride = m.Pix, m.Stride
	case *image.Gray:
		p, stride = m.Pix, m.Stride
	default:
		return
	}
	rows := len(p) / stride
	tmp := make([]byte, stride)
	for y := 0; y < rows/2; y++ {
		top := p[y*stride : (y+1)*stride]
		bottom := p[(rows-1-y)*stride : (rows-y)*stride]
		copy(tmp, top)
		copy(top, bottom)
		copy(bottom, tmp)
	}
}
