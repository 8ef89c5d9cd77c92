package loaders

import (
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/renderengine/engine/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

// recordingDevice keeps the bytes written by Download.
type recordingDevice struct {
	data []byte
}

func (d *recordingDevice) Payload(*resources.GraphicsResource) resources.Payload {
	return resources.Payload{}
}

func (d *recordingDevice) Write(_ *resources.GraphicsResource, offset uint64, data []byte) error {
	if end := int(offset) + len(data); end > len(d.data) {
		grown := make([]byte, end)
		copy(grown, d.data)
		d.data = grown
	}
	copy(d.data[offset:], data)
	return nil
}

// run drives a loader through the three stages.
func run(t *testing.T, l resources.Loader, desc resources.Descriptor) []byte {
	t.Helper()
	raw, err := l.Load(context.Background(), desc)
	require.NoError(t, err)
	data, err := l.Decompress(desc, raw)
	require.NoError(t, err)
	dev := &recordingDevice{}
	require.NoError(t, l.Download(dev, nil, data))
	return dev.data
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

var blob = resources.NewSurface("blob", resources.SurfaceDesc{Usage: resources.UsageVertexBuffer, Width: 64, BytesPerPixel: 1})

func TestMemoryLoader(t *testing.T) {
	src := []byte("texels")
	l := NewMemoryLoader(src)
	assert.Equal(t, src, run(t, l, blob))

	raw, err := l.Load(context.Background(), blob)
	require.NoError(t, err)
	raw[0] = 'X'
	assert.Equal(t, byte('t'), l.Data[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Load(ctx, blob)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileLoader(t *testing.T) {
	path := writeFile(t, "plain.bin", []byte("plain bytes"))
	l := NewFileLoader(path)
	assert.False(t, l.Compressed)
	assert.Equal(t, []byte("plain bytes"), run(t, l, blob))

	_, err := NewFileLoader(filepath.Join(t.TempDir(), "missing.bin")).Load(context.Background(), blob)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFileLoaderLZ4(t *testing.T) {
	src := []byte(strings.Repeat("compressible ", 100))
	packed, err := CompressLZ4(src)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(src))

	path := writeFile(t, "data.lz4", packed)
	l := NewFileLoader(path)
	assert.True(t, l.Compressed)

	desc := resources.NewSurface("data", resources.SurfaceDesc{Usage: resources.UsageVertexBuffer, Width: uint32(len(src)), BytesPerPixel: 1})
	assert.Equal(t, src, run(t, l, desc))

	_, err = l.Decompress(desc, []byte("not an lz4 frame"))
	assert.Error(t, err)
}

func TestKernelLoader(t *testing.T) {
	kernel := resources.NewKernel("blit", resources.KernelDesc{Kernel: "blit"})

	spirv := binary.LittleEndian.AppendUint32(nil, spirvMagic)
	spirv = binary.LittleEndian.AppendUint32(spirv, 0x00010000)
	l := &KernelLoader{Path: writeFile(t, "blit.spv", spirv)}
	assert.Equal(t, spirv, run(t, l, kernel))

	_, err := l.Decompress(kernel, []byte{1, 2, 3, 4})
	assert.ErrorContains(t, err, "not a SPIR-V module")
	_, err = l.Decompress(kernel, []byte{1, 2, 3})
	assert.ErrorContains(t, err, "multiple of 4")

	src := &KernelLoader{Path: writeFile(t, "blit.glsl", []byte("void main() {}"))}
	assert.Equal(t, []byte("void main() {}"), run(t, src, kernel))
}

func TestImageLoader(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
		img.Set(x, 1, color.RGBA{B: 255, A: 255})
	}
	path := writePNG(t, t.TempDir(), "tex.png", img)

	sd, err := ImageSurfaceDesc(path, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), sd.Width)
	assert.Equal(t, uint32(2), sd.Height)
	assert.Equal(t, uint32(3), sd.Levels)
	desc := resources.NewSurface("tex", sd)

	data := run(t, &ImageLoader{Path: path}, desc)
	require.Len(t, data, 4*2*4+2*1*4+1*1*4)
	assert.Equal(t, []byte{255, 0, 0, 255}, data[:4])
	assert.Equal(t, []byte{0, 0, 255, 255}, data[16:20])

	flipped := run(t, &ImageLoader{Path: path, FlipY: true}, resources.NewSurface("tex", resources.SurfaceDesc{Width: 4, Height: 2, BytesPerPixel: 4}))
	require.Len(t, flipped, 32)
	assert.Equal(t, []byte{0, 0, 255, 255}, flipped[:4])

	gray := run(t, &ImageLoader{Path: path}, resources.NewSurface("lum", resources.SurfaceDesc{Width: 4, Height: 2, BytesPerPixel: 1}))
	assert.Len(t, gray, 8)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	l := &ImageLoader{Path: path}
	_, err = l.Decompress(resources.NewSurface("small", resources.SurfaceDesc{Width: 2, Height: 2, BytesPerPixel: 4}), raw)
	assert.ErrorContains(t, err, "image is 4x2")
	_, err = l.Decompress(resources.NewSurface("wide", resources.SurfaceDesc{Width: 4, Height: 2, BytesPerPixel: 8}), raw)
	assert.Error(t, err)
	_, err = l.Decompress(desc, []byte("not an image"))
	assert.Error(t, err)
}

func TestMipLevels(t *testing.T) {
	assert.Equal(t, uint32(1), MipLevels(0, 0))
	assert.Equal(t, uint32(1), MipLevels(1, 1))
	assert.Equal(t, uint32(9), MipLevels(256, 128))
	assert.Equal(t, uint32(10), MipLevels(1000, 3))
}

func TestParseParameters(t *testing.T) {
	params, err := ParseParameters(strings.NewReader(`
# material
diffuse_colour = 1 0.5 0 1
shininess=32   # specular power
garbage line
`))
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, "diffuse_colour", params[0].Name)
	assert.Equal(t, []float32{1, 0.5, 0, 1}, params[0].Values)
	assert.Equal(t, []float32{32}, params[1].Values)

	packed := PackParameters(params)
	require.Len(t, packed, 20)
	assert.Equal(t, float32(0.5), math.Float32frombits(binary.LittleEndian.Uint32(packed[4:])))
	assert.Equal(t, float32(32), math.Float32frombits(binary.LittleEndian.Uint32(packed[16:])))

	_, err = ParseParameters(strings.NewReader("a = 1\na = 2\n"))
	assert.ErrorContains(t, err, "duplicate")
	_, err = ParseParameters(strings.NewReader("a = one\n"))
	assert.Error(t, err)
	_, err = ParseParameters(strings.NewReader("a =\n"))
	assert.ErrorContains(t, err, "no value")
}

func TestParameterLoader(t *testing.T) {
	path := writeFile(t, "lit.params", []byte("colour = 1 1 1 1\n"))
	l := &ParameterLoader{Path: path}

	data := run(t, l, resources.NewParameterSet("lit", resources.ParameterSetDesc{Kernel: "lit", Bytes: 64}))
	assert.Len(t, data, 16)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = l.Decompress(resources.NewParameterSet("tiny", resources.ParameterSetDesc{Kernel: "lit", Bytes: 8}), raw)
	assert.ErrorContains(t, err, "do not fit")
}

const quad = `# unit quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
f 1/1/1 2/2/1 3/3/1 4/4/1
`

func TestParseOBJ(t *testing.T) {
	mesh, err := ParseOBJ(strings.NewReader(quad))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), mesh.VertexCount())
	assert.Equal(t, []uint16{0, 1, 2, 0, 2, 3}, mesh.Indices)

	mesh, err = ParseOBJ(strings.NewReader("v 0 0 0\nv 1 0 0\nv 0 1 0\nf -3 -2 -1\n"))
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 2}, mesh.Indices)

	_, err = ParseOBJ(strings.NewReader("v 0 0 0\nf 1 2 3\n"))
	assert.ErrorContains(t, err, "out of range")
	_, err = ParseOBJ(strings.NewReader("v 0 0\n"))
	assert.Error(t, err)
}

func TestModelLoader(t *testing.T) {
	path := writeFile(t, "quad.obj", []byte(quad))
	mesh, err := LoadMesh(path)
	require.NoError(t, err)

	vb := resources.NewSurface("quad.vb", resources.SurfaceDesc{Usage: resources.UsageVertexBuffer, Width: mesh.VertexCount(), BytesPerPixel: VertexStride})
	vertices := run(t, &ModelLoader{Path: path, Part: ModelVertices}, vb)
	require.Len(t, vertices, 4*VertexStride)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(vertices[12:])))

	ib := resources.NewSurface("quad.ib", resources.SurfaceDesc{Usage: resources.UsageIndexBuffer, Width: mesh.IndexCount(), BytesPerPixel: 2})
	indices := run(t, &ModelLoader{Path: path, Part: ModelIndices}, ib)
	require.Len(t, indices, 12)
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(indices[10:]))

	small := resources.NewSurface("small", resources.SurfaceDesc{Usage: resources.UsageVertexBuffer, Width: 1, BytesPerPixel: VertexStride})
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = (&ModelLoader{Path: path}).Decompress(small, raw)
	assert.ErrorContains(t, err, "do not fit")
}

func TestGlyphAtlasLoader(t *testing.T) {
	path := writeFile(t, "goregular.ttf", goregular.TTF)
	l := &GlyphAtlasLoader{Path: path, Size: 12, Runes: []rune("AB")}

	sd := l.SurfaceDesc()
	assert.Equal(t, uint32(16*18), sd.Width)
	assert.Equal(t, uint32(18), sd.Height)

	data := run(t, l, resources.NewSurface("glyphs", sd))
	require.Len(t, data, int(sd.Width*sd.Height))
	lit := 0
	for _, b := range data {
		if b > 0 {
			lit++
		}
	}
	assert.Positive(t, lit)

	assert.Len(t, (&GlyphAtlasLoader{Size: 12}).runes(), 95)

	_, err := l.Decompress(resources.NewSurface("wrong", resources.SurfaceDesc{Width: 8, Height: 8, BytesPerPixel: 1}), goregular.TTF)
	assert.ErrorContains(t, err, "glyph atlas needs")
	_, err = l.Decompress(resources.NewSurface("glyphs", sd), []byte("not a font"))
	assert.Error(t, err)
}

const fnt = `info face="Test" size=16 bold=0 italic=0 charset="" unicode=1 stretchH=100 smooth=1 aa=1 padding=0,0,0,0 spacing=1,1 outline=0
common lineHeight=18 base=14 scaleW=8 scaleH=8 pages=1 packed=0 alphaChnl=0 redChnl=4 greenChnl=4 blueChnl=4
page id=0 file="test_0.png"
chars count=2
char id=65   x=0     y=0     width=4     height=6     xoffset=0     yoffset=2     xadvance=5     page=0  chnl=15
char id=66   x=4     y=0     width=4     height=6     xoffset=0     yoffset=2     xadvance=5     page=0  chnl=15
kernings count=1
kerning first=65  second=66  amount=-1
`

func TestBitmapFont(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "test_0.png", image.NewGray(image.Rect(0, 0, 8, 8)))
	path := filepath.Join(dir, "test.fnt")
	require.NoError(t, os.WriteFile(path, []byte(fnt), 0o644))

	m, err := LoadFontMetrics(path)
	require.NoError(t, err)
	assert.Equal(t, "Test", m.Face)
	assert.Equal(t, 18, m.LineHeight)
	assert.Equal(t, 14, m.Baseline)
	assert.Equal(t, []string{"test_0.png"}, m.Pages)
	require.Contains(t, m.Glyphs, 'B')
	assert.Equal(t, 4, m.Glyphs['B'].X)
	assert.Equal(t, []FontKerning{{Codepoint0: 'A', Codepoint1: 'B', Amount: -1}}, m.Kernings)

	l := &FontAtlasLoader{Path: path}
	sd, err := l.SurfaceDesc()
	require.NoError(t, err)
	assert.Equal(t, uint32(8), sd.Width)
	assert.Len(t, run(t, l, resources.NewSurface("atlas", sd)), 8*8*4)

	_, err = (&FontAtlasLoader{Path: path, Page: 1}).SurfaceDesc()
	assert.ErrorContains(t, err, "no page 1")
}

type flakyLoader struct {
	MemoryLoader
	failures int32
	err      error
	calls    atomic.Int32
}

func (fl *flakyLoader) Load(ctx context.Context, desc resources.Descriptor) ([]byte, error) {
	if fl.calls.Add(1) <= fl.failures {
		return nil, fl.err
	}
	return fl.MemoryLoader.Load(ctx, desc)
}

func TestRetryLoader(t *testing.T) {
	transient := errors.New("busy")

	flaky := &flakyLoader{MemoryLoader: MemoryLoader{Data: []byte("ok")}, failures: 2, err: transient}
	rl := WithRetry(flaky, 3)
	rl.InitialInterval = time.Millisecond
	assert.Equal(t, []byte("ok"), run(t, rl, blob))
	assert.Equal(t, int32(3), flaky.calls.Load())

	broken := &flakyLoader{failures: 100, err: transient}
	rl = WithRetry(broken, 1)
	rl.InitialInterval = time.Millisecond
	_, err := rl.Load(context.Background(), blob)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, int32(2), broken.calls.Load())

	missing := &flakyLoader{failures: 100, err: fs.ErrNotExist}
	rl = WithRetry(missing, 5)
	_, err = rl.Load(context.Background(), blob)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, int32(1), missing.calls.Load())
}
