package null

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/renderer/metadata"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

// Op names a backend call for fault injection.
type Op string

const (
	OpCreate  Op = "create"
	OpWrite   Op = "write"
	OpDestroy Op = "destroy"
	OpSubmit  Op = "submit"
	OpPresent Op = "present"
)

var ErrInjected = errors.New("injected backend failure")

type object struct {
	kind  resources.Kind
	name  string
	bytes uint64
	data  []byte
}

/**
 * @brief Backend is an in-memory device. It keeps every created object and
 * its written bytes, records submitted batches and can be told to fail.
 * It is safe to inspect from tests while the device thread runs.
 */
type Backend struct {
	mu          sync.Mutex
	initialized bool
	nextID      uint64
	live        map[uint64]*object
	batches     [][]metadata.DrawCall
	presents    int
	resets      int
	faults      map[Op][]error
	lost        bool
}

func New() *Backend {
	return &Backend{
		live:   make(map[uint64]*object),
		faults: make(map[Op][]error),
	}
}

// FailNext makes the next call of op return err. A nil err injects ErrInjected.
func (b *Backend) FailNext(op Op, err error) {
	if err == nil {
		err = ErrInjected
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[op] = append(b.faults[op], err)
}

// LoseDevice makes every call fail with core.ErrDeviceLost until Reset.
func (b *Backend) LoseDevice() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lost = true
}

func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return fmt.Errorf("null backend: %w", core.ErrAlreadyStarted)
	}
	b.initialized = true
	core.LogDebug("null backend initialized")
	return nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	if n := len(b.live); n > 0 {
		core.LogWarn("null backend shut down with %d live objects", n)
	}
	return nil
}

func (b *Backend) CreateSurface(desc resources.Descriptor) (resources.Payload, error) {
	return b.create(desc)
}

func (b *Backend) CreateBuffer(desc resources.Descriptor) (resources.Payload, error) {
	return b.create(desc)
}

func (b *Backend) CreateProgram(desc resources.Descriptor) (resources.Payload, error) {
	return b.create(desc)
}

func (b *Backend) create(desc resources.Descriptor) (resources.Payload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.faultLocked(OpCreate); err != nil {
		return resources.Payload{}, err
	}
	b.nextID++
	bytes := desc.EstimatedBytes()
	b.live[b.nextID] = &object{kind: desc.Kind(), name: desc.Name(), bytes: bytes}
	return resources.NewPayload(desc.Kind(), b.nextID, bytes), nil
}

func (b *Backend) Destroy(p resources.Payload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.faultLocked(OpDestroy); err != nil {
		return err
	}
	if _, ok := b.live[p.ID()]; !ok {
		return fmt.Errorf("null backend: destroy of unknown object %s", p)
	}
	delete(b.live, p.ID())
	return nil
}

func (b *Backend) Write(p resources.Payload, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.faultLocked(OpWrite); err != nil {
		return err
	}
	obj, ok := b.live[p.ID()]
	if !ok {
		return fmt.Errorf("null backend: write to unknown object %s", p)
	}
	end := offset + uint64(len(data))
	if uint64(len(obj.data)) < end {
		grown := make([]byte, end)
		copy(grown, obj.data)
		obj.data = grown
	}
	copy(obj.data[offset:], data)
	return nil
}

func (b *Backend) SubmitDrawBatch(batch []metadata.DrawCall) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.faultLocked(OpSubmit); err != nil {
		return err
	}
	b.batches = append(b.batches, append([]metadata.DrawCall(nil), batch...))
	return nil
}

func (b *Backend) Present() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.faultLocked(OpPresent); err != nil {
		return err
	}
	b.presents++
	return nil
}

func (b *Backend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lost = false
	b.live = make(map[uint64]*object)
	b.resets++
	return nil
}

// Batches returns a copy of every submitted batch.
func (b *Backend) Batches() [][]metadata.DrawCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]metadata.DrawCall(nil), b.batches...)
}

// Executed returns every submitted draw call in submission order.
func (b *Backend) Executed() []metadata.DrawCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []metadata.DrawCall
	for _, batch := range b.batches {
		out = append(out, batch...)
	}
	return out
}

func (b *Backend) Presents() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presents
}

func (b *Backend) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// Live is the number of objects created and not destroyed.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// LiveBytes is the total size of the live objects.
func (b *Backend) LiveBytes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n uint64
	for _, obj := range b.live {
		n += obj.bytes
	}
	return n
}

// Contents returns the bytes written to the object behind p.
func (b *Backend) Contents(p resources.Payload) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.live[p.ID()]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

func (b *Backend) faultLocked(op Op) error {
	if b.lost {
		return fmt.Errorf("null backend %s: %w", op, core.ErrDeviceLost)
	}
	if errs := b.faults[op]; len(errs) > 0 {
		b.faults[op] = errs[1:]
		return errs[0]
	}
	return nil
}
