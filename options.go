package particles

import (
	"time"

	"github.com/gogpu/gputypes"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/particles/internal/gpu"
)

// Option configures a Simulation during creation.
//
// Example:
//
//	sim, err := particles.NewSimulation(device, queue,
//	    particles.WithInitialCapacity(4096),
//	    particles.WithFenceTimeout(time.Second),
//	)
type Option func(*options)

// options holds optional configuration for Simulation creation.
type options struct {
	initialCapacity uint32
	fenceTimeout    time.Duration
	registerer      prometheus.Registerer
	label           string
	shaderCacheSize int
	clear           gputypes.Color
	memoryBudget    uint64
}

// defaultOptions returns the default simulation options.
func defaultOptions() options {
	return options{
		initialCapacity: gpu.DefaultInitialCapacity,
		fenceTimeout:    gpu.DefaultFenceTimeout,
		label:           "particles",
		shaderCacheSize: gpu.DefaultShaderCacheSize,
		clear:           gputypes.Color{A: 1},
	}
}

// WithInitialCapacity sets the number of particle slots allocated up front.
// Zero keeps the default of 1024.
func WithInitialCapacity(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.initialCapacity = n
		}
	}
}

// WithFenceTimeout bounds every wait on submitted GPU work. Zero waits
// without bound.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fenceTimeout = d
	}
}

// WithMetrics registers buffer collectors with reg. Several simulations can
// share a registry when they use distinct labels.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithLabel sets the debug label of every GPU object and the metrics label.
func WithLabel(label string) Option {
	return func(o *options) {
		if label != "" {
			o.label = label
		}
	}
}

// WithShaderCacheSize sets how many compiled shader modules are kept.
func WithShaderCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shaderCacheSize = n
		}
	}
}

// WithClearColor sets the background of rendered frames.
func WithClearColor(c gputypes.Color) Option {
	return func(o *options) {
		o.clear = c
	}
}

// WithMemoryBudget caps the device memory held by the particle buffer at
// bytes. Growth needs room for the old and the new allocation at once;
// a grow that does not fit fails with ErrMemoryBudgetExceeded and leaves the
// simulation unchanged. Zero means unlimited.
func WithMemoryBudget(bytes uint64) Option {
	return func(o *options) {
		o.memoryBudget = bytes
	}
}
