package gpu

import (
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
)

// createNoopDevice creates a noop device and queue for structural tests.
// Copies on the noop backend do nothing, so data checks use
// createSoftwareDevice instead.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

// createSoftwareDevice creates a CPU-backed device whose buffers hold real
// data and whose copies execute at record time.
func createSoftwareDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := software.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		t.Fatal("software backend exposed no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

var errInjected = errors.New("injected failure")

// recordingDevice wraps a device, records resource lifetimes and injects
// creation failures.
type recordingDevice struct {
	hal.Device

	mu sync.Mutex

	// failBuffer, when set, is consulted before every CreateBuffer.
	failBuffer func(desc *hal.BufferDescriptor) bool
	// failBindGroups fails every CreateBindGroup while set.
	failBindGroups bool

	createdBuffers   []hal.Buffer
	destroyedBuffers []hal.Buffer
	bindGroups       []*hal.BindGroupDescriptor
	destroyedGroups  []hal.BindGroup
	destroyedModules int
}

func (d *recordingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	d.mu.Lock()
	fail := d.failBuffer != nil && d.failBuffer(desc)
	d.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	buf, err := d.Device.CreateBuffer(desc)
	if err == nil {
		d.mu.Lock()
		d.createdBuffers = append(d.createdBuffers, buf)
		d.mu.Unlock()
	}
	return buf, err
}

func (d *recordingDevice) DestroyBuffer(buf hal.Buffer) {
	d.mu.Lock()
	d.destroyedBuffers = append(d.destroyedBuffers, buf)
	d.mu.Unlock()
	d.Device.DestroyBuffer(buf)
}

func (d *recordingDevice) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	d.mu.Lock()
	fail := d.failBindGroups
	d.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	g, err := d.Device.CreateBindGroup(desc)
	if err == nil {
		d.mu.Lock()
		d.bindGroups = append(d.bindGroups, desc)
		d.mu.Unlock()
	}
	return g, err
}

func (d *recordingDevice) DestroyBindGroup(g hal.BindGroup) {
	d.mu.Lock()
	d.destroyedGroups = append(d.destroyedGroups, g)
	d.mu.Unlock()
	d.Device.DestroyBindGroup(g)
}

func (d *recordingDevice) DestroyShaderModule(m hal.ShaderModule) {
	d.mu.Lock()
	d.destroyedModules++
	d.mu.Unlock()
	d.Device.DestroyShaderModule(m)
}

func (d *recordingDevice) wasDestroyed(buf hal.Buffer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.destroyedBuffers {
		if b == buf {
			return true
		}
	}
	return false
}

func (d *recordingDevice) groupDestroyed(g hal.BindGroup) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, x := range d.destroyedGroups {
		if x == g {
			return true
		}
	}
	return false
}

func (d *recordingDevice) lastBindGroup() *hal.BindGroupDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.bindGroups) == 0 {
		return nil
	}
	return d.bindGroups[len(d.bindGroups)-1]
}

// controlledQueue wraps a queue, counts submissions and can fail them or
// hold back completion.
type controlledQueue struct {
	hal.Queue

	mu          sync.Mutex
	submitErr   error
	stalled     bool
	pendingPoll int // polls to report as incomplete before completing
	submits     int
}

func (q *controlledQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	q.mu.Lock()
	err := q.submitErr
	q.mu.Unlock()
	if err != nil {
		return 0, err
	}
	idx, err := q.Queue.Submit(cmds)
	if err == nil {
		q.mu.Lock()
		q.submits++
		q.mu.Unlock()
	}
	return idx, err
}

func (q *controlledQueue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stalled {
		return 0
	}
	if q.pendingPoll > 0 {
		q.pendingPoll--
		return 0
	}
	return q.Queue.PollCompleted()
}

func (q *controlledQueue) submissions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}

func (q *controlledQueue) set(fn func(q *controlledQueue)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(q)
}

// softwareFixture bundles a software device wrapped for recording.
type softwareFixture struct {
	device *recordingDevice
	queue  *controlledQueue
}

func newSoftwareFixture(t *testing.T) *softwareFixture {
	t.Helper()
	device, queue, cleanup := createSoftwareDevice(t)
	t.Cleanup(cleanup)
	return &softwareFixture{
		device: &recordingDevice{Device: device},
		queue:  &controlledQueue{Queue: queue},
	}
}

func (f *softwareFixture) newBuffer(t *testing.T, cfg BufferConfig) *ParticleBuffer {
	t.Helper()
	buf, err := NewParticleBuffer(f.device, f.queue, cfg)
	if err != nil {
		t.Fatalf("NewParticleBuffer: %v", err)
	}
	t.Cleanup(buf.Destroy)
	return buf
}

// seeded returns n particles whose fields encode their index.
func seeded(n int) []Particle {
	ps := make([]Particle, n)
	for i := range ps {
		f := float32(i)
		ps[i] = Particle{
			Pos: [2]float32{f * 0.001, -f * 0.001},
			Vel: [2]float32{f, f + 0.5},
		}
	}
	return ps
}
