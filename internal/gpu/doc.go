// Package gpu implements the device side of the particle simulator on top of
// the gogpu/wgpu hardware abstraction layer.
//
// # Particle buffer
//
// [ParticleBuffer] owns a growable array of 16-byte particle records in
// device memory. It tracks a logical length and a capacity; appending past
// the capacity allocates a buffer of max(2*capacity, length+count) slots,
// copies the populated records across and only then makes the new
// allocation current:
//
//	buf, err := gpu.NewParticleBuffer(device, queue, gpu.BufferConfig{})
//	err = buf.Append(ctx, 500) // len 500, cap 1024
//	err = buf.Append(ctx, 600) // grows: len 1100, cap 2048
//
// Every transfer is submitted and waited on before the call returns, so
// host-side state never runs ahead of the device. A failure while waiting
// leaves the buffer corrupted and every later call returns [ErrCorrupted].
//
// # Bindings
//
// A [BindingPublisher] keeps a bind group that references the buffer's
// current allocation. The buffer rebuilds all attached publishers during
// growth, before the old allocation is released.
//
// # Consumers
//
// [Stepper] advances the simulation with a compute dispatch and
// [Presenter] draws the particles as points into an offscreen target. Both
// re-read the buffer handle on every call. Shader modules are compiled with
// gogpu/naga and shared through a [ShaderCache].
package gpu
