package assets

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/renderengine/engine/assets/loaders"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeBinary
	AssetTypeImage
	AssetTypeKernel
	AssetTypeParameters
	AssetTypeBitmapFont
	AssetTypeSystemFont
	AssetTypeModel
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeBinary:
		return "binary"
	case AssetTypeImage:
		return "image"
	case AssetTypeKernel:
		return "kernel"
	case AssetTypeParameters:
		return "parameters"
	case AssetTypeBitmapFont:
		return "bitmap font"
	case AssetTypeSystemFont:
		return "system font"
	case AssetTypeModel:
		return "model"
	default:
		return "none"
	}
}

func DetermineAssetType(path string) AssetType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin", ".raw", ".lz4":
		return AssetTypeBinary
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeImage
	case ".spv", ".kernel", ".glsl", ".hlsl", ".wgsl":
		return AssetTypeKernel
	case ".params", ".kmt":
		return AssetTypeParameters
	case ".fnt":
		return AssetTypeBitmapFont
	case ".ttf", ".otf":
		return AssetTypeSystemFont
	case ".obj":
		return AssetTypeModel
	default:
		return AssetTypeNone
	}
}

/**
 * @brief Returns the loader for a file, picked by extension. Fonts and
 * models need settings a path cannot carry (glyph size, buffer part), so
 * they get defaults: 16 pt ASCII atlases, page 0 and the vertex buffer.
 */
func LoaderFor(path string) (resources.Loader, error) {
	switch DetermineAssetType(path) {
	case AssetTypeBinary:
		return loaders.NewFileLoader(path), nil
	case AssetTypeImage:
		return &loaders.ImageLoader{Path: path}, nil
	case AssetTypeKernel:
		return &loaders.KernelLoader{Path: path}, nil
	case AssetTypeParameters:
		return &loaders.ParameterLoader{Path: path}, nil
	case AssetTypeBitmapFont:
		return &loaders.FontAtlasLoader{Path: path}, nil
	case AssetTypeSystemFont:
		return &loaders.GlyphAtlasLoader{Path: path, Size: 16}, nil
	case AssetTypeModel:
		return &loaders.ModelLoader{Path: path, Part: loaders.ModelVertices}, nil
	default:
		return nil, fmt.Errorf("%s: %w", path, core.ErrNoLoader)
	}
}
