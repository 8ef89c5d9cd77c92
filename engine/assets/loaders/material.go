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

	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

// Parameter is one named entry of a parameter file.
type Parameter struct {
	Name   string
	Values []float32
}

/**
 * @brief ParameterLoader fills a parameter set from a text file of
 * "name = v0 v1 ..." lines. Values are packed as little endian float32 in
 * file order; '#' starts a comment.
 */
type ParameterLoader struct {
	Path string
}

func (pl *ParameterLoader) Load(ctx context.Context, _ resources.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readFile(pl.Path)
}

func (pl *ParameterLoader) Decompress(desc resources.Descriptor, raw []byte) ([]byte, error) {
	params, err := ParseParameters(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pl.Path, err)
	}
	data := PackParameters(params)
	if size := desc.ParameterSet().Bytes; uint32(len(data)) > size {
		return nil, fmt.Errorf("%s: %d bytes of parameters do not fit in %d", desc, len(data), size)
	}
	return data, nil
}

func (pl *ParameterLoader) Download(dev resources.Device, res *resources.GraphicsResource, data []byte) error {
	return download(dev, res, data)
}

func ParseParameters(r io.Reader) ([]Parameter, error) {
	scanner := bufio.NewScanner(r)
	var out []Parameter
	seen := make(map[string]bool)

	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		// Skip comments and empty lines
		if line == "" {
			continue
		}

		// Split key-value pairs by the first "=" sign
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			core.LogWarn("skipping invalid parameter line %d: %s", n, line)
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" || seen[key] {
			return nil, fmt.Errorf("line %d: empty or duplicate parameter %q", n, key)
		}
		seen[key] = true

		fields := strings.Fields(parts[1])
		if len(fields) == 0 {
			return nil, fmt.Errorf("line %d: parameter %q has no value", n, key)
		}
		p := Parameter{Name: key, Values: make([]float32, len(fields))}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: parameter %q: %w", n, key, err)
			}
			p.Values[i] = float32(v)
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func PackParameters(params []Parameter) []byte {
	var n int
	for _, p := range params {
		n += len(p.Values)
	}
	out := make([]byte, 0, n*4)
	for _, p := range params {
		for _, v := range p.Values {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out
}
