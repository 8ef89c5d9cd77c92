package resources

import "fmt"

// SurfaceUsage tells the backend what a surface is used for.
type SurfaceUsage uint8

const (
	UsageTexture SurfaceUsage = iota
	UsageRenderTarget
	UsageVertexBuffer
	UsageIndexBuffer
)

func (u SurfaceUsage) IsBuffer() bool {
	return u == UsageVertexBuffer || u == UsageIndexBuffer
}

// SurfaceDesc holds the creation parameters of a surface. Vertex and index
// buffers are one dimensional surfaces: Width is the element count and
// BytesPerPixel the element size.
type SurfaceDesc struct {
	Usage         SurfaceUsage
	Format        string
	Width         uint32
	Height        uint32
	Depth         uint32
	Faces         uint32
	Levels        uint32
	BytesPerPixel uint32
}

type ParameterSetDesc struct {
	Kernel string
	// Bytes is the size of the constant block.
	Bytes uint32
}

// SurfaceView selects a range of a surface bound to a kernel port.
type SurfaceView struct {
	Surface    Handle
	FirstLevel uint32
	NumLevels  uint32
	FirstFace  uint32
	NumFaces   uint32
}

type PortBindingDesc struct {
	Kernel string
	Views  map[string]SurfaceView
}

type KernelDesc struct {
	Kernel string
	Source string
}

// the estimate used for every non-surface resource
const defaultEstimate uint64 = 1024

/**
 * @brief Descriptor is an immutable description of what a resource is. It is
 * kept for the whole lifetime of the resource so the payload can be derived
 * again after an eviction. Accessors of the wrong kind panic.
 */
type Descriptor struct {
	name     string
	kind     Kind
	surface  SurfaceDesc
	paramset ParameterSetDesc
	binding  PortBindingDesc
	kernel   KernelDesc
}

func NewSurface(name string, desc SurfaceDesc) Descriptor {
	if desc.Height == 0 {
		desc.Height = 1
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.Faces == 0 {
		desc.Faces = 1
	}
	if desc.Levels == 0 {
		desc.Levels = 1
	}
	return Descriptor{name: name, kind: KindSurface, surface: desc}
}

func NewParameterSet(name string, desc ParameterSetDesc) Descriptor {
	return Descriptor{name: name, kind: KindParameterSet, paramset: desc}
}

func NewPortBinding(name string, desc PortBindingDesc) Descriptor {
	views := make(map[string]SurfaceView, len(desc.Views))
	for port, v := range desc.Views {
		views[port] = v
	}
	desc.Views = views
	return Descriptor{name: name, kind: KindPortBinding, binding: desc}
}

func NewKernel(name string, desc KernelDesc) Descriptor {
	return Descriptor{name: name, kind: KindKernel, kernel: desc}
}

// Name is only used for logging.
func (d Descriptor) Name() string { return d.name }

// Renamed returns a copy of d called name.
func (d Descriptor) Renamed(name string) Descriptor {
	d.name = name
	return d
}

func (d Descriptor) Kind() Kind { return d.kind }

func (d Descriptor) Surface() SurfaceDesc {
	d.mustBe(KindSurface)
	return d.surface
}

func (d Descriptor) ParameterSet() ParameterSetDesc {
	d.mustBe(KindParameterSet)
	return d.paramset
}

// PortBinding returns a copy of the binding; changing its views does not
// change the descriptor.
func (d Descriptor) PortBinding() PortBindingDesc {
	d.mustBe(KindPortBinding)
	out := d.binding
	out.Views = make(map[string]SurfaceView, len(d.binding.Views))
	for port, v := range d.binding.Views {
		out.Views[port] = v
	}
	return out
}

func (d Descriptor) Kernel() KernelDesc {
	d.mustBe(KindKernel)
	return d.kernel
}

// ViewSurfaces returns the surfaces referenced by a port binding, or nil for
// any other kind.
func (d Descriptor) ViewSurfaces() []Handle {
	if d.kind != KindPortBinding {
		return nil
	}
	out := make([]Handle, 0, len(d.binding.Views))
	for _, v := range d.binding.Views {
		out = append(out, v.Surface)
	}
	return out
}

/**
 * @brief Returns the device memory the resource is expected to take once
 * realized. A surface is its base level times depth, plus a third for the
 * mip chain, times the number of faces. Other kinds count as 1 KiB.
 */
func (d Descriptor) EstimatedBytes() uint64 {
	if d.kind != KindSurface {
		return defaultEstimate
	}
	s := d.surface
	slice := uint64(s.Width) * uint64(s.Height) * uint64(s.BytesPerPixel)
	base := slice * uint64(s.Depth)
	if s.Levels > 1 {
		base += base / 3
	}
	return base * uint64(s.Faces)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.kind, d.name)
}

func (d Descriptor) mustBe(k Kind) {
	if d.kind != k {
		panic(fmt.Sprintf("resources: descriptor %q is %s, not %s", d.name, d.kind, k))
	}
}
