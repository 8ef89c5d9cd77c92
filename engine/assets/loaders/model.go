package loaders

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/spaghettifunk/renderengine/engine/resources"
)

type ModelPart uint8

const (
	// Vertex positions, three float32 per vertex.
	ModelVertices ModelPart = iota
	// Triangle list indices, one uint16 each.
	ModelIndices
)

// VertexStride is the size of one vertex written by ModelLoader.
const VertexStride = 12

type Mesh struct {
	Positions []float32
	Indices   []uint16
}

func (m *Mesh) VertexCount() uint32 { return uint32(len(m.Positions) / 3) }

func (m *Mesh) IndexCount() uint32 { return uint32(len(m.Indices)) }

/**
 * @brief ModelLoader reads a Wavefront OBJ file and fills either the
 * vertex or the index buffer of the mesh. Polygons are triangulated as fans;
 * only positions are kept.
 */
type ModelLoader struct {
	Path string
	Part ModelPart
}

func (ml *ModelLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readFile(ml.Path)
}

func (ml *ModelLoader) Decompress(desc resources.Descriptor, raw []byte) ([]byte, error) {
	mesh, err := ParseOBJ(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ml.Path, err)
	}
	var out []byte
	switch ml.Part {
	case ModelVertices:
		out = make([]byte, 0, len(mesh.Positions)*4)
		for _, v := range mesh.Positions {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	case ModelIndices:
		out = make([]byte, 0, len(mesh.Indices)*2)
		for _, i := range mesh.Indices {
			out = binary.LittleEndian.AppendUint16(out, i)
		}
	default:
		return nil, fmt.Errorf("%s: unknown model part %d", desc, ml.Part)
	}
	if est := desc.EstimatedBytes(); uint64(len(out)) > est {
		return nil, fmt.Errorf("%s: %d bytes of model data do not fit in %d", desc, len(out), est)
	}
	return out, nil
}

func (ml *ModelLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	return download(dev, res, data)
}

// LoadMesh parses an OBJ file, typically to size its buffers.
func LoadMesh(path string) (*Mesh, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return ParseOBJ(bytes.NewReader(raw))
}

func ParseOBJ(r io.Reader) (*Mesh, error) {
	mesh := &Mesh{}
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", n)
			}
			for _, f := range fields[1:4] {
				v, err := strconv.ParseFloat(f, 32)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", n, err)
				}
				mesh.Positions = append(mesh.Positions, float32(v))
			}
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs 3 vertices", n)
			}
			idx := make([]uint16, 0, len(fields)-1)
			for _, f := range fields[1:] {
				i, err := objIndex(f, mesh.VertexCount())
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", n, err)
				}
				idx = append(idx, i)
			}
			for i := 1; i+1 < len(idx); i++ {
				mesh.Indices = append(mesh.Indices, idx[0], idx[i], idx[i+1])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mesh, nil
}

// objIndex resolves the position part of a face vertex ("7", "7/1/2", "-1").
func objIndex(field string, vertices uint32) (uint16, error) {
	pos, _, _ := strings.Cut(field, "/")
	i, err := strconv.Atoi(pos)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		i = int(vertices) + i + 1
	}
	if i < 1 || i > int(vertices) {
		return 0, fmt.Errorf("vertex index %s out of range", pos)
	}
	if i-1 > math.MaxUint16 {
		return 0, fmt.Errorf("vertex index %d does not fit 16 bits", i)
	}
	return uint16(i - 1), nil
}
