package gpu

import "errors"

// Particle buffer errors.
var (
	// ErrAllocation is returned when a device or staging buffer cannot be
	// created or mapped. The operation is abandoned and state is unchanged.
	ErrAllocation = errors.New("gpu: buffer allocation failed")

	// ErrSubmit is returned when command encoding or queue submission fails.
	ErrSubmit = errors.New("gpu: command submission failed")

	// ErrFenceTimeout is returned when the device does not report completion
	// of a submission within the configured timeout.
	ErrFenceTimeout = errors.New("gpu: timed out waiting for submission")

	// ErrCorrupted is returned by every operation on a buffer whose last wait
	// failed. The owning context must be torn down.
	ErrCorrupted = errors.New("gpu: particle buffer is corrupted")

	// ErrBufferDestroyed is returned when operating on a destroyed buffer.
	ErrBufferDestroyed = errors.New("gpu: particle buffer has been destroyed")

	// ErrInvalidCapacity is returned for a non-positive capacity, a grow that
	// does not increase capacity, or a length that would overflow.
	ErrInvalidCapacity = errors.New("gpu: invalid capacity")

	// ErrBindingFailed is returned when a bind group cannot be rebuilt.
	ErrBindingFailed = errors.New("gpu: bind group creation failed")

	// ErrPipelineFailed is returned when a compute or render pipeline cannot
	// be created.
	ErrPipelineFailed = errors.New("gpu: pipeline creation failed")
)
