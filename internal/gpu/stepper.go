package gpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/particles/internal/physics"
)

// StepWorkgroupSize must match @workgroup_size in particles_step.wgsl.
const StepWorkgroupSize = 256

// stepParamsSize is the size of the StepParams uniform block.
const stepParamsSize = 32

// StepParams are the per-frame inputs of the simulation shader. They are
// the same inputs the host integrator takes.
type StepParams = physics.Params

// encodeStepParams packs p and the particle count in uniform layout.
func encodeStepParams(p StepParams, count uint32) []byte {
	out := make([]byte, stepParamsSize)
	le := binary.LittleEndian
	le.PutUint32(out[0:], math.Float32bits(p.Attractor[0]))
	le.PutUint32(out[4:], math.Float32bits(p.Attractor[1]))
	le.PutUint32(out[8:], math.Float32bits(p.Gravity[0]))
	le.PutUint32(out[12:], math.Float32bits(p.Gravity[1]))
	le.PutUint32(out[16:], math.Float32bits(p.Strength))
	le.PutUint32(out[20:], math.Float32bits(p.DeltaTime))
	le.PutUint32(out[24:], count)
	return out
}

// Stepper advances every populated particle once per Step with a compute
// dispatch that reads and writes the buffer in place.
type Stepper struct {
	buffer *ParticleBuffer
	device hal.Device
	queue  hal.Queue

	layout         hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	pipeline       hal.ComputePipeline
	params         hal.Buffer
	publisher      *BindingPublisher
}

// NewStepper creates the simulation pipeline for buffer. The stepper owns a
// BindingPublisher so its bind group follows buffer growth.
func NewStepper(buffer *ParticleBuffer, shaders *ShaderCache) (*Stepper, error) {
	s := &Stepper{
		buffer: buffer,
		device: buffer.sub.device,
		queue:  buffer.sub.queue,
	}
	if err := s.init(shaders); err != nil {
		s.Destroy()
		return nil, err
	}
	slogger().Debug("stepper: pipeline created", "label", buffer.label)
	return s, nil
}

func (s *Stepper) init(shaders *ShaderCache) error {
	label := s.buffer.label + " step"
	var err error

	s.layout, err = s.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: label,
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: bind group layout: %w", ErrPipelineFailed, err)
	}

	s.params, err = s.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + " params",
		Size:  stepParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%w: params buffer: %w", ErrAllocation, err)
	}

	s.publisher, err = NewBindingPublisher(s.buffer, BindingConfig{
		Label:   label,
		Layout:  s.layout,
		Binding: 0,
		Static: []gputypes.BindGroupEntry{{
			Binding: 1,
			Resource: gputypes.BufferBinding{
				Buffer: s.params.NativeHandle(),
				Size:   stepParamsSize,
			},
		}},
	})
	if err != nil {
		return err
	}

	module, err := shaders.Module(label, stepShaderSource)
	if err != nil {
		return err
	}

	s.pipelineLayout, err = s.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: []hal.BindGroupLayout{s.layout},
	})
	if err != nil {
		return fmt.Errorf("%w: pipeline layout: %w", ErrPipelineFailed, err)
	}

	s.pipeline, err = s.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  label,
		Layout: s.pipelineLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("%w: compute pipeline: %w", ErrPipelineFailed, err)
	}
	return nil
}

// Publisher returns the binding publisher feeding the compute pass.
func (s *Stepper) Publisher() *BindingPublisher { return s.publisher }

// Step advances every populated particle by one time step and waits for
// the dispatch to complete. An empty buffer does nothing.
func (s *Stepper) Step(ctx context.Context, params StepParams) error {
	if err := s.buffer.usable(); err != nil {
		return err
	}
	count := s.buffer.Len()
	if count == 0 {
		return nil
	}
	if err := s.queue.WriteBuffer(s.params, 0, encodeStepParams(params, count)); err != nil {
		return fmt.Errorf("%w: write step params: %w", ErrSubmit, err)
	}

	groups := workgroups(count)
	return s.buffer.submit(ctx, "step", func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "particles step"})
		pass.SetPipeline(s.pipeline)
		pass.SetBindGroup(0, s.publisher.BindGroup(), nil)
		pass.Dispatch(groups, 1, 1)
		pass.End()
	})
}

// Destroy releases the pipeline objects. The shader module belongs to the
// ShaderCache and the particle buffer to its owner.
func (s *Stepper) Destroy() {
	if s.pipeline != nil {
		s.device.DestroyComputePipeline(s.pipeline)
		s.pipeline = nil
	}
	if s.pipelineLayout != nil {
		s.device.DestroyPipelineLayout(s.pipelineLayout)
		s.pipelineLayout = nil
	}
	if s.publisher != nil {
		s.publisher.Destroy()
		s.publisher = nil
	}
	if s.params != nil {
		s.device.DestroyBuffer(s.params)
		s.params = nil
	}
	if s.layout != nil {
		s.device.DestroyBindGroupLayout(s.layout)
		s.layout = nil
	}
}

// workgroups returns the number of workgroups covering count invocations.
func workgroups(count uint32) uint32 {
	return uint32((uint64(count) + StepWorkgroupSize - 1) / StepWorkgroupSize)
}
