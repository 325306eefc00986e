package particles

import "github.com/gogpu/particles/internal/gpu"

// Errors returned by Simulation. Check them with errors.Is.
var (
	// ErrAllocation reports that a device allocation or mapping failed.
	// The simulation is unchanged.
	ErrAllocation = gpu.ErrAllocation

	// ErrSubmit reports that recording or submitting GPU work failed,
	// including device loss at submission time. The simulation is unchanged.
	ErrSubmit = gpu.ErrSubmit

	// ErrFenceTimeout reports that submitted work did not complete within
	// the fence timeout. The simulation is left corrupted.
	ErrFenceTimeout = gpu.ErrFenceTimeout

	// ErrCorrupted is returned by every operation after a failed wait. The
	// simulation must be closed and the device torn down.
	ErrCorrupted = gpu.ErrCorrupted

	// ErrBufferDestroyed is returned after Close.
	ErrBufferDestroyed = gpu.ErrBufferDestroyed

	// ErrInvalidCapacity reports an append that would exceed the maximum
	// particle count.
	ErrInvalidCapacity = gpu.ErrInvalidCapacity

	// ErrBindingFailed reports that a bind group could not be rebuilt for a
	// new allocation. Growth was rolled back.
	ErrBindingFailed = gpu.ErrBindingFailed

	// ErrPipelineFailed reports a shader or pipeline creation failure.
	ErrPipelineFailed = gpu.ErrPipelineFailed

	// ErrMemoryBudgetExceeded reports an allocation refused by the memory
	// budget. It matches ErrAllocation.
	ErrMemoryBudgetExceeded = gpu.ErrMemoryBudgetExceeded
)
