package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BindingConfig describes the bind group a BindingPublisher maintains.
type BindingConfig struct {
	// Label is the debug label of the bind group.
	Label string

	// Layout is the bind group layout the group is created against.
	Layout hal.BindGroupLayout

	// Binding is the slot that receives the particle storage buffer.
	Binding uint32

	// Static entries are appended unchanged on every rebuild, e.g. a
	// uniform buffer with simulation parameters.
	Static []gputypes.BindGroupEntry
}

// BindingPublisher keeps a bind group that references the current backing
// allocation of a ParticleBuffer. The buffer rebuilds the group while it
// grows, so BindGroup never returns a group that references a freed
// allocation.
type BindingPublisher struct {
	device hal.Device
	buffer *ParticleBuffer
	cfg    BindingConfig

	group  hal.BindGroup
	target hal.Buffer
}

// NewBindingPublisher builds the initial bind group for buffer and attaches
// the publisher so later growth rebuilds it.
func NewBindingPublisher(buffer *ParticleBuffer, cfg BindingConfig) (*BindingPublisher, error) {
	if err := buffer.usable(); err != nil {
		return nil, err
	}
	if cfg.Layout == nil {
		return nil, fmt.Errorf("%w: nil bind group layout", ErrBindingFailed)
	}
	p := &BindingPublisher{
		device: buffer.sub.device,
		buffer: buffer,
		cfg:    cfg,
	}
	g, err := p.build(buffer.Buffer(), buffer.Cap())
	if err != nil {
		return nil, err
	}
	p.publish(buffer.Buffer(), g)
	buffer.attach(p)
	return p, nil
}

// BindGroup returns the current bind group. Re-fetch it every frame.
func (p *BindingPublisher) BindGroup() hal.BindGroup { return p.group }

// Allocation returns the backing allocation the current group references.
func (p *BindingPublisher) Allocation() hal.Buffer { return p.target }

// Destroy detaches the publisher and releases its bind group.
func (p *BindingPublisher) Destroy() {
	if p.buffer != nil {
		p.buffer.detach(p)
	}
	p.drop()
}

// build creates a bind group referencing buf with capacity slots.
func (p *BindingPublisher) build(buf hal.Buffer, capacity uint32) (hal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, 0, 1+len(p.cfg.Static))
	entries = append(entries, gputypes.BindGroupEntry{
		Binding: p.cfg.Binding,
		Resource: gputypes.BufferBinding{
			Buffer: buf.NativeHandle(),
			Offset: 0,
			Size:   uint64(capacity) * ParticleSize,
		},
	})
	entries = append(entries, p.cfg.Static...)

	g, err := p.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   p.cfg.Label,
		Layout:  p.cfg.Layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrBindingFailed, p.cfg.Label, err)
	}
	return g, nil
}

// publish makes g current and releases the group it replaces.
func (p *BindingPublisher) publish(buf hal.Buffer, g hal.BindGroup) {
	if p.group != nil {
		p.device.DestroyBindGroup(p.group)
	}
	p.group = g
	p.target = buf
}

func (p *BindingPublisher) release(g hal.BindGroup) {
	if g != nil {
		p.device.DestroyBindGroup(g)
	}
}

func (p *BindingPublisher) drop() {
	p.release(p.group)
	p.group = nil
	p.target = nil
	p.buffer = nil
}
