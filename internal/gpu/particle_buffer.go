package gpu

import (
	"context"
	"fmt"
	"math"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// DefaultInitialCapacity is the number of particle slots allocated by
// NewParticleBuffer when BufferConfig.InitialCapacity is zero.
const DefaultInitialCapacity = 1024

// particleBufferUsage is applied to every backing allocation so the same
// buffer can be a compute storage binding, a vertex buffer and a copy
// source or destination.
const particleBufferUsage = gputypes.BufferUsageStorage |
	gputypes.BufferUsageVertex |
	gputypes.BufferUsageCopySrc |
	gputypes.BufferUsageCopyDst

// BufferConfig configures a ParticleBuffer.
type BufferConfig struct {
	// Label prefixes debug labels of every GPU object the buffer creates.
	Label string

	// InitialCapacity is the number of slots allocated up front.
	// Zero selects DefaultInitialCapacity.
	InitialCapacity uint32

	// FenceTimeout bounds each wait on submitted work. Zero waits without
	// bound.
	FenceTimeout time.Duration

	// Metrics receives append and growth events. May be nil.
	Metrics *Metrics

	// Memory caps the bytes held by backing allocations. During growth the
	// old and the new allocation count together. Nil means unlimited.
	Memory *MemoryBudget
}

// ParticleBuffer is a growable array of particle records in device memory.
//
// The buffer tracks a logical length (populated records) and a capacity
// (allocated slots). Appending beyond capacity replaces the backing
// allocation with a larger one, copies the populated records across and
// rebuilds every attached BindingPublisher before returning. Every transfer
// is submitted and waited on before the call returns.
//
// The device and queue are borrowed and never destroyed by the buffer.
// ParticleBuffer is not safe for concurrent use; callers serialize access.
type ParticleBuffer struct {
	sub    submitter
	label  string
	memory *MemoryBudget

	buffer     hal.Buffer
	length     uint32
	capacity   uint32
	generation uint64

	publishers []*BindingPublisher

	destroyed bool
	corrupted bool
}

// NewParticleBuffer allocates an empty buffer on device.
func NewParticleBuffer(device hal.Device, queue hal.Queue, cfg BufferConfig) (*ParticleBuffer, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("gpu: particle buffer requires a device and a queue")
	}
	capacity := cfg.InitialCapacity
	if capacity == 0 {
		capacity = DefaultInitialCapacity
	}
	label := cfg.Label
	if label == "" {
		label = "particles"
	}

	b := &ParticleBuffer{
		sub: submitter{
			device:  device,
			queue:   queue,
			timeout: cfg.FenceTimeout,
			metrics: cfg.Metrics,
		},
		label:    label,
		memory:   cfg.Memory,
		capacity: capacity,
	}
	buf, err := b.allocate(capacity)
	if err != nil {
		return nil, err
	}
	b.buffer = buf
	b.sub.metrics.setCapacity(capacity)
	return b, nil
}

// Len returns the number of populated records.
func (b *ParticleBuffer) Len() uint32 { return b.length }

// Cap returns the number of allocated slots.
func (b *ParticleBuffer) Cap() uint32 { return b.capacity }

// Generation returns how many times the backing allocation has been
// replaced. Consumers holding a handle from Buffer can compare generations
// to detect that it went stale.
func (b *ParticleBuffer) Generation() uint64 { return b.generation }

// Buffer returns the current backing allocation. The handle is borrowed and
// stays valid until the next successful grow or Destroy.
func (b *ParticleBuffer) Buffer() hal.Buffer { return b.buffer }

// ByteSize returns the size of the backing allocation in bytes.
func (b *ParticleBuffer) ByteSize() uint64 { return uint64(b.capacity) * ParticleSize }

// Corrupted reports whether a wait on the device failed part way through an
// operation.
func (b *ParticleBuffer) Corrupted() bool { return b.corrupted }

// Append adds count zero-initialized records, growing first if needed.
// A zero count does nothing.
func (b *ParticleBuffer) Append(ctx context.Context, count uint32) error {
	return b.append(ctx, count, nil)
}

// AppendParticles adds the given records, growing first if needed.
func (b *ParticleBuffer) AppendParticles(ctx context.Context, records []Particle) error {
	if uint64(len(records)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d records", ErrInvalidCapacity, len(records))
	}
	return b.append(ctx, uint32(len(records)), records)
}

func (b *ParticleBuffer) append(ctx context.Context, count uint32, records []Particle) error {
	if err := b.usable(); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	newLen := uint64(b.length) + uint64(count)
	if newLen > math.MaxUint32 {
		return fmt.Errorf("%w: length %d + %d overflows", ErrInvalidCapacity, b.length, count)
	}
	if newLen > uint64(b.capacity) {
		if err := b.grow(ctx, nextCapacity(b.capacity, b.length, count)); err != nil {
			return err
		}
	}

	size := uint64(count) * ParticleSize
	staging, err := b.stage(size, records)
	if err != nil {
		return err
	}
	offset := uint64(b.length) * ParticleSize
	err = b.sub.run(ctx, b.label+" append", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(staging, b.buffer, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: offset, Size: size},
		})
	})
	if err != nil {
		if !isWaitFailure(err) {
			b.sub.device.DestroyBuffer(staging)
		}
		return b.fail(err)
	}
	b.sub.device.DestroyBuffer(staging)

	b.length = uint32(newLen)
	b.sub.metrics.observeAppend(count, b.length)
	slogger().Debug("particle buffer: appended",
		"label", b.label, "count", count, "len", b.length, "cap", b.capacity)
	return nil
}

// stage creates a host-visible buffer of size bytes holding records, or
// zeros when records is nil.
func (b *ParticleBuffer) stage(size uint64, records []Particle) (hal.Buffer, error) {
	device := b.sub.device
	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label + " staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: staging buffer of %d bytes: %w", ErrAllocation, size, err)
	}
	mapping, err := device.MapBuffer(staging, 0, size)
	if err != nil {
		device.DestroyBuffer(staging)
		return nil, fmt.Errorf("%w: map staging buffer: %w", ErrAllocation, err)
	}
	dst := unsafe.Slice((*byte)(mapping.Ptr), size)
	if records == nil {
		clear(dst)
	} else {
		for i, p := range records {
			PutParticle(dst[i*ParticleSize:], p)
		}
	}
	if err := device.UnmapBuffer(staging); err != nil {
		device.DestroyBuffer(staging)
		return nil, fmt.Errorf("%w: unmap staging buffer: %w", ErrAllocation, err)
	}
	return staging, nil
}

// grow replaces the backing allocation with one of newCap slots. The first
// Len records are copied across and every attached publisher is rebuilt
// before the new allocation becomes current. On error before the copy is
// confirmed the buffer is left exactly as it was.
func (b *ParticleBuffer) grow(ctx context.Context, newCap uint32) error {
	if newCap <= b.capacity {
		return fmt.Errorf("%w: grow from %d to %d", ErrInvalidCapacity, b.capacity, newCap)
	}
	next, err := b.allocate(newCap)
	if err != nil {
		return err
	}

	if b.length > 0 {
		size := uint64(b.length) * ParticleSize
		old := b.buffer
		err := b.sub.run(ctx, b.label+" grow", func(enc hal.CommandEncoder) {
			enc.CopyBufferToBuffer(old, next, []hal.BufferCopy{
				{SrcOffset: 0, DstOffset: 0, Size: size},
			})
		})
		if err != nil {
			if !isWaitFailure(err) {
				b.release(next, newCap)
			}
			return b.fail(err)
		}
	}

	groups := make([]hal.BindGroup, len(b.publishers))
	for i, p := range b.publishers {
		g, err := p.build(next, newCap)
		if err != nil {
			for j := range i {
				b.publishers[j].release(groups[j])
			}
			b.release(next, newCap)
			return err
		}
		groups[i] = g
	}

	old, oldCap := b.buffer, b.capacity
	b.buffer = next
	b.capacity = newCap
	b.generation++
	for i, p := range b.publishers {
		p.publish(next, groups[i])
	}
	b.release(old, oldCap)

	b.sub.metrics.observeGrow(newCap)
	slogger().Info("particle buffer: grew",
		"label", b.label, "from", oldCap, "to", newCap, "len", b.length, "generation", b.generation)
	return nil
}

func (b *ParticleBuffer) allocate(capacity uint32) (hal.Buffer, error) {
	size := uint64(capacity) * ParticleSize
	if err := b.memory.reserve(size); err != nil {
		return nil, fmt.Errorf("%s: %d slots: %w", b.label, capacity, err)
	}
	buf, err := b.sub.device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label,
		Size:  size,
		Usage: particleBufferUsage,
	})
	if err != nil {
		b.memory.release(size)
		return nil, fmt.Errorf("%w: %d slots (%d bytes): %w", ErrAllocation, capacity, size, err)
	}
	return buf, nil
}

// release destroys a backing allocation of capacity slots and returns its
// bytes to the memory budget.
func (b *ParticleBuffer) release(buf hal.Buffer, capacity uint32) {
	b.sub.device.DestroyBuffer(buf)
	b.memory.release(uint64(capacity) * ParticleSize)
}

// ReadBack copies the populated records back to host memory.
func (b *ParticleBuffer) ReadBack(ctx context.Context) ([]Particle, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if b.length == 0 {
		return []Particle{}, nil
	}
	device := b.sub.device
	size := uint64(b.length) * ParticleSize

	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label + " readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: readback buffer of %d bytes: %w", ErrAllocation, size, err)
	}
	src := b.buffer
	err = b.sub.run(ctx, b.label+" readback", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(src, staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: size},
		})
	})
	if err != nil {
		if !isWaitFailure(err) {
			device.DestroyBuffer(staging)
		}
		return nil, b.fail(err)
	}
	defer device.DestroyBuffer(staging)

	mapping, err := device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("%w: map readback buffer: %w", ErrAllocation, err)
	}
	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(mapping.Ptr), size))
	if err := device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("%w: unmap readback buffer: %w", ErrAllocation, err)
	}
	return DecodeParticles(data)
}

// Destroy releases the backing allocation and the bind groups of attached
// publishers. It is safe to call more than once.
func (b *ParticleBuffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	for _, p := range b.publishers {
		p.drop()
	}
	b.publishers = nil
	if b.buffer != nil {
		b.release(b.buffer, b.capacity)
		b.buffer = nil
	}
}

// submit runs GPU work that reads or writes the buffer under the same
// fencing discipline as Append. A failed wait corrupts the buffer.
func (b *ParticleBuffer) submit(ctx context.Context, label string, fn func(enc hal.CommandEncoder)) error {
	if err := b.usable(); err != nil {
		return err
	}
	return b.fail(b.sub.run(ctx, b.label+" "+label, fn))
}

func (b *ParticleBuffer) attach(p *BindingPublisher) {
	b.publishers = append(b.publishers, p)
}

func (b *ParticleBuffer) detach(p *BindingPublisher) {
	for i, q := range b.publishers {
		if q == p {
			b.publishers = append(b.publishers[:i], b.publishers[i+1:]...)
			return
		}
	}
}

func (b *ParticleBuffer) usable() error {
	switch {
	case b.destroyed:
		return ErrBufferDestroyed
	case b.corrupted:
		return ErrCorrupted
	}
	return nil
}

// fail marks the buffer corrupted when err happened while waiting on the
// device, then returns err unchanged.
func (b *ParticleBuffer) fail(err error) error {
	if isWaitFailure(err) {
		b.corrupted = true
		slogger().Warn("particle buffer: corrupted", "label", b.label, "err", err)
	}
	return err
}

// nextCapacity returns the capacity to grow to so that count more records
// fit after size: double the current capacity, or exactly enough if
// doubling is not.
func nextCapacity(capacity, size, count uint32) uint32 {
	want := uint64(size) + uint64(count)
	doubled := uint64(capacity) * 2
	next := max(doubled, want)
	if next > math.MaxUint32 {
		next = math.MaxUint32
	}
	return uint32(next)
}
