package resources

import "fmt"

// Typed device handles. The numeric value is owned by the backend.
type (
	SurfaceHandle uint64
	BufferHandle  uint64
	BindingHandle uint64
	ProgramHandle uint64
)

/**
 * @brief Payload is the device side object of a realized resource. It is a
 * tagged variant: the accessor matching Kind returns the typed handle, the
 * others panic. The zero Payload is the fallback bound for failed resources.
 */
type Payload struct {
	kind  Kind
	id    uint64
	bytes uint64
	valid bool
}

func NewPayload(kind Kind, id uint64, bytes uint64) Payload {
	return Payload{kind: kind, id: id, bytes: bytes, valid: true}
}

func (p Payload) Kind() Kind { return p.kind }

// ID is the raw backend handle.
func (p Payload) ID() uint64 { return p.id }

// Bytes is the device reported size.
func (p Payload) Bytes() uint64 { return p.bytes }

func (p Payload) IsNil() bool { return p.id == 0 }

// Valid is false for the zero Payload and for payloads that survived a lost device.
func (p Payload) Valid() bool { return p.valid && p.id != 0 }

func (p Payload) Invalidate() Payload {
	p.valid = false
	return p
}

func (p Payload) Surface() SurfaceHandle {
	p.mustBe(KindSurface)
	return SurfaceHandle(p.id)
}

func (p Payload) ParameterSet() BufferHandle {
	p.mustBe(KindParameterSet)
	return BufferHandle(p.id)
}

func (p Payload) PortBinding() BindingHandle {
	p.mustBe(KindPortBinding)
	return BindingHandle(p.id)
}

func (p Payload) Kernel() ProgramHandle {
	p.mustBe(KindKernel)
	return ProgramHandle(p.id)
}

func (p Payload) String() string {
	if p.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%s#%d", p.kind, p.id)
}

func (p Payload) mustBe(k Kind) {
	if p.IsNil() || p.kind != k {
		panic(fmt.Sprintf("resources: payload %s accessed as %s", p, k))
	}
}
