package particles

import (
	"context"
	"fmt"
	"image"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/gpu"
)

// ParticleSize is the size of one particle record in device memory.
const ParticleSize = gpu.ParticleSize

// Particle is one simulated point: position and velocity in clip space.
type Particle = gpu.Particle

// StepParams are the per-frame simulation inputs.
type StepParams = gpu.StepParams

// MemoryStats contains particle memory usage statistics.
type MemoryStats = gpu.MemoryStats

// ColorOf returns the color the draw pass gives p. Alpha fades from 0.2
// at rest to 1 at maximum speed.
func ColorOf(p Particle) [4]float32 { return gpu.ColorOf(p) }

// Simulation owns a growable particle buffer together with the compute
// pipeline that advances it and the render pipeline that draws it.
//
// The device and queue are borrowed; Close releases everything the
// simulation created but never the device itself. A Simulation is not safe
// for concurrent use.
type Simulation struct {
	shaders   *gpu.ShaderCache
	buffer    *gpu.ParticleBuffer
	stepper   *gpu.Stepper
	presenter *gpu.Presenter
	memory    *gpu.MemoryBudget

	closed bool
}

// NewSimulation creates an empty simulation on device.
func NewSimulation(device hal.Device, queue hal.Queue, opts ...Option) (*Simulation, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("particles: simulation requires a device and a queue")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var metrics *gpu.Metrics
	if o.registerer != nil {
		var err error
		metrics, err = gpu.NewMetrics(o.registerer, o.label)
		if err != nil {
			return nil, fmt.Errorf("particles: register metrics: %w", err)
		}
	}

	s := &Simulation{}
	if o.memoryBudget > 0 {
		s.memory = gpu.NewMemoryBudget(o.memoryBudget)
	}
	if err := s.init(device, queue, o, metrics); err != nil {
		s.Close()
		return nil, err
	}
	Logger().Info("simulation: created",
		"label", o.label, "capacity", s.buffer.Cap(), "timeout", o.fenceTimeout)
	return s, nil
}

func (s *Simulation) init(device hal.Device, queue hal.Queue, o options, metrics *gpu.Metrics) error {
	var err error
	s.shaders, err = gpu.NewShaderCache(device, o.shaderCacheSize)
	if err != nil {
		return fmt.Errorf("particles: shader cache: %w", err)
	}
	s.buffer, err = gpu.NewParticleBuffer(device, queue, gpu.BufferConfig{
		Label:           o.label,
		InitialCapacity: o.initialCapacity,
		FenceTimeout:    o.fenceTimeout,
		Metrics:         metrics,
		Memory:          s.memory,
	})
	if err != nil {
		return err
	}
	s.stepper, err = gpu.NewStepper(s.buffer, s.shaders)
	if err != nil {
		return err
	}
	s.presenter, err = gpu.NewPresenter(device, queue, s.shaders, gpu.PresenterConfig{
		Label:        o.label,
		FenceTimeout: o.fenceTimeout,
		Clear:        o.clear,
	})
	return err
}

// Spawn appends n zero-initialized particles.
func (s *Simulation) Spawn(ctx context.Context, n uint32) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.buffer.Append(ctx, n)
}

// SpawnParticles appends the given particles.
func (s *Simulation) SpawnParticles(ctx context.Context, ps []Particle) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.buffer.AppendParticles(ctx, ps)
}

// Step advances every particle by one time step on the device.
func (s *Simulation) Step(ctx context.Context, params StepParams) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.stepper.Step(ctx, params)
}

// Render draws the particles into a width by height frame and returns it.
func (s *Simulation) Render(ctx context.Context, width, height int) (*image.RGBA, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("particles: invalid frame size %dx%d", width, height)
	}
	if err := s.presenter.EnsureTarget(uint32(width), uint32(height)); err != nil {
		return nil, err
	}
	if err := s.presenter.Draw(ctx, s.buffer); err != nil {
		return nil, err
	}
	return s.presenter.ReadPixels(ctx)
}

// Snapshot copies every populated particle back to host memory.
func (s *Simulation) Snapshot(ctx context.Context) ([]Particle, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.buffer.ReadBack(ctx)
}

// Len returns the number of particles.
func (s *Simulation) Len() uint32 { return s.buffer.Len() }

// Cap returns the number of allocated particle slots.
func (s *Simulation) Cap() uint32 { return s.buffer.Cap() }

// Generation returns how many times the particle buffer has been replaced
// by a larger one.
func (s *Simulation) Generation() uint64 { return s.buffer.Generation() }

// MemoryStats reports usage of the budget set with WithMemoryBudget. It is
// zero when no budget was set.
func (s *Simulation) MemoryStats() MemoryStats { return s.memory.Stats() }

// Corrupted reports whether a failed wait left the simulation unusable.
func (s *Simulation) Corrupted() bool { return s.buffer.Corrupted() }

// Close releases every GPU object the simulation created. It is safe to
// call more than once.
func (s *Simulation) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.presenter != nil {
		s.presenter.Destroy()
	}
	if s.stepper != nil {
		s.stepper.Destroy()
	}
	if s.buffer != nil {
		s.buffer.Destroy()
	}
	if s.shaders != nil {
		s.shaders.Destroy()
	}
}

func (s *Simulation) check() error {
	if s.closed {
		return ErrBufferDestroyed
	}
	return nil
}
