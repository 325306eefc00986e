package gpu

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func createStorageLayout(t *testing.T, device hal.Device) hal.BindGroupLayout {
	t.Helper()
	layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "test layout",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout: %v", err)
	}
	return layout
}

func bufferEntry(t *testing.T, desc *hal.BindGroupDescriptor, binding uint32) gputypes.BufferBinding {
	t.Helper()
	for _, e := range desc.Entries {
		if e.Binding != binding {
			continue
		}
		bb, ok := e.Resource.(gputypes.BufferBinding)
		if !ok {
			t.Fatalf("binding %d resource is %T, want BufferBinding", binding, e.Resource)
		}
		return bb
	}
	t.Fatalf("binding %d missing from bind group", binding)
	return gputypes.BufferBinding{}
}

func TestBindingPublisherInitialGroup(t *testing.T) {
	f := newSoftwareFixture(t)
	buf := f.newBuffer(t, BufferConfig{})

	p, err := NewBindingPublisher(buf, BindingConfig{
		Label:  "initial",
		Layout: createStorageLayout(t, f.device),
	})
	if err != nil {
		t.Fatalf("NewBindingPublisher: %v", err)
	}
	defer p.Destroy()

	if p.BindGroup() == nil {
		t.Fatal("BindGroup() = nil")
	}
	if p.Allocation() != buf.Buffer() {
		t.Error("publisher does not reference the current allocation")
	}
	bb := bufferEntry(t, f.device.lastBindGroup(), 0)
	if bb.Buffer != buf.Buffer().NativeHandle() {
		t.Errorf("bound handle = %d, want %d", bb.Buffer, buf.Buffer().NativeHandle())
	}
	if bb.Size != buf.ByteSize() {
		t.Errorf("bound size = %d, want %d", bb.Size, buf.ByteSize())
	}
}

func TestBindingPublisherRequiresLayout(t *testing.T) {
	f := newSoftwareFixture(t)
	buf := f.newBuffer(t, BufferConfig{})
	if _, err := NewBindingPublisher(buf, BindingConfig{}); !errors.Is(err, ErrBindingFailed) {
		t.Fatalf("err = %v, want ErrBindingFailed", err)
	}
}

func TestBindingPublisherFreshAfterGrow(t *testing.T) {
	ctx := context.Background()
	f := newSoftwareFixture(t)
	buf := f.newBuffer(t, BufferConfig{InitialCapacity: 4})

	static := gputypes.BindGroupEntry{
		Binding:  1,
		Resource: gputypes.BufferBinding{Buffer: 777, Size: 32},
	}
	p, err := NewBindingPublisher(buf, BindingConfig{
		Label:  "fresh",
		Layout: createStorageLayout(t, f.device),
		Static: []gputypes.BindGroupEntry{static},
	})
	if err != nil {
		t.Fatalf("NewBindingPublisher: %v", err)
	}
	defer p.Destroy()
	oldGroup, oldAlloc := p.BindGroup(), p.Allocation()

	if err := buf.Append(ctx, 5); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if p.Allocation() != buf.Buffer() {
		t.Fatal("publisher still references the superseded allocation")
	}
	if p.Allocation() == oldAlloc {
		t.Fatal("allocation did not change across grow")
	}
	if p.BindGroup() == oldGroup {
		t.Fatal("bind group was not rebuilt")
	}
	if !f.device.groupDestroyed(oldGroup) {
		t.Error("stale bind group not destroyed")
	}

	desc := f.device.lastBindGroup()
	bb := bufferEntry(t, desc, 0)
	if bb.Buffer != buf.Buffer().NativeHandle() {
		t.Errorf("bound handle = %d, want %d", bb.Buffer, buf.Buffer().NativeHandle())
	}
	if bb.Size != uint64(8*ParticleSize) {
		t.Errorf("bound size = %d, want %d", bb.Size, 8*ParticleSize)
	}
	if got := bufferEntry(t, desc, 1); got != static.Resource {
		t.Errorf("static entry = %+v, want %+v", got, static.Resource)
	}
}

func TestBindingFailureRollsBackGrow(t *testing.T) {
	ctx := context.Background()
	f := newSoftwareFixture(t)
	buf := f.newBuffer(t, BufferConfig{InitialCapacity: 4})
	if err := buf.AppendParticles(ctx, seeded(4)); err != nil {
		t.Fatalf("AppendParticles: %v", err)
	}

	p, err := NewBindingPublisher(buf, BindingConfig{
		Label:  "rollback",
		Layout: createStorageLayout(t, f.device),
	})
	if err != nil {
		t.Fatalf("NewBindingPublisher: %v", err)
	}
	defer p.Destroy()
	group, alloc := p.BindGroup(), buf.Buffer()
	created := len(f.device.createdBuffers)

	f.device.failBindGroups = true
	err = buf.Append(ctx, 1)
	if !errors.Is(err, ErrBindingFailed) {
		t.Fatalf("err = %v, want ErrBindingFailed", err)
	}

	if buf.Buffer() != alloc || buf.Cap() != 4 || buf.Len() != 4 || buf.Generation() != 0 {
		t.Fatalf("grow not rolled back: cap %d len %d gen %d", buf.Cap(), buf.Len(), buf.Generation())
	}
	if p.BindGroup() != group || p.Allocation() != alloc {
		t.Fatal("publisher changed despite failed rebuild")
	}
	if buf.Corrupted() {
		t.Error("binding failure corrupted the buffer")
	}
	// The replacement allocation must have been released.
	f.device.mu.Lock()
	next := f.device.createdBuffers[created]
	f.device.mu.Unlock()
	if !f.device.wasDestroyed(next) {
		t.Error("replacement allocation leaked")
	}

	f.device.failBindGroups = false
	if err := buf.Append(ctx, 1); err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	got, err := buf.ReadBack(ctx)
	if err != nil {
		t.Fatalf("ReadBack: %v", err)
	}
	want := seeded(4)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBindingPartialFailureReleasesBuiltGroups(t *testing.T) {
	ctx := context.Background()
	f := newSoftwareFixture(t)
	buf := f.newBuffer(t, BufferConfig{InitialCapacity: 2})
	layout := createStorageLayout(t, f.device)

	first, err := NewBindingPublisher(buf, BindingConfig{Label: "first", Layout: layout})
	if err != nil {
		t.Fatalf("first publisher: %v", err)
	}
	second, err := NewBindingPublisher(buf, BindingConfig{Label: "second", Layout: layout})
	if err != nil {
		t.Fatalf("second publisher: %v", err)
	}

	// Fail only the second rebuild.
	calls := 0
	failing := &failNthBindGroup{recordingDevice: f.device, n: 2, calls: &calls}
	buf.sub.device = failing
	first.device, second.device = failing, failing

	if err := buf.Append(ctx, 3); !errors.Is(err, ErrBindingFailed) {
		t.Fatalf("err = %v, want ErrBindingFailed", err)
	}
	if failing.built == nil {
		t.Fatal("first rebuild did not run")
	}
	if !f.device.groupDestroyed(failing.built) {
		t.Error("group built for the first publisher was not released")
	}
	if first.Allocation() != buf.Buffer() || second.Allocation() != buf.Buffer() {
		t.Error("publishers moved off the current allocation")
	}
}

// failNthBindGroup fails the n-th CreateBindGroup call and remembers the
// group returned by the call before it.
type failNthBindGroup struct {
	*recordingDevice
	n     int
	calls *int
	built hal.BindGroup
}

func (d *failNthBindGroup) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	*d.calls++
	if *d.calls == d.n {
		return nil, errInjected
	}
	g, err := d.recordingDevice.CreateBindGroup(desc)
	d.built = g
	return g, err
}

func TestBindingPublisherDestroyDetaches(t *testing.T) {
	ctx := context.Background()
	f := newSoftwareFixture(t)
	buf := f.newBuffer(t, BufferConfig{InitialCapacity: 2})

	p, err := NewBindingPublisher(buf, BindingConfig{Label: "detach", Layout: createStorageLayout(t, f.device)})
	if err != nil {
		t.Fatalf("NewBindingPublisher: %v", err)
	}
	group := p.BindGroup()
	p.Destroy()

	if !f.device.groupDestroyed(group) {
		t.Error("group not destroyed")
	}
	if p.BindGroup() != nil {
		t.Error("BindGroup() still returns a group")
	}

	before := len(f.device.bindGroups)
	if err := buf.Append(ctx, 5); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(f.device.bindGroups) != before {
		t.Error("detached publisher was rebuilt")
	}
}

func TestBufferDestroyReleasesPublisherGroups(t *testing.T) {
	f := newSoftwareFixture(t)
	buf, err := NewParticleBuffer(f.device, f.queue, BufferConfig{})
	if err != nil {
		t.Fatalf("NewParticleBuffer: %v", err)
	}
	p, err := NewBindingPublisher(buf, BindingConfig{Label: "owned", Layout: createStorageLayout(t, f.device)})
	if err != nil {
		t.Fatalf("NewBindingPublisher: %v", err)
	}
	group := p.BindGroup()

	buf.Destroy()
	if !f.device.groupDestroyed(group) {
		t.Error("publisher group survived buffer destruction")
	}
	p.Destroy() // must not panic after the buffer is gone

	if _, err := NewBindingPublisher(buf, BindingConfig{Label: "late", Layout: createStorageLayout(t, f.device)}); !errors.Is(err, ErrBufferDestroyed) {
		t.Errorf("err = %v, want ErrBufferDestroyed", err)
	}
}
