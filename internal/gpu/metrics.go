package gpu

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks particle buffer activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	appends   prometheus.Counter
	particles prometheus.Counter
	grows     prometheus.Counter
	capacity  prometheus.Gauge
	length    prometheus.Gauge
	fenceWait prometheus.Histogram
}

// NewMetrics creates the buffer collectors and registers them with reg.
// Collectors already registered under the same name and label are reused,
// so several buffers with distinct labels can share one registry.
func NewMetrics(reg prometheus.Registerer, label string) (*Metrics, error) {
	labels := prometheus.Labels{"buffer": label}
	m := &Metrics{
		appends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "particles",
			Name:        "buffer_appends_total",
			Help:        "Append operations completed on the particle buffer.",
			ConstLabels: labels,
		}),
		particles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "particles",
			Name:        "buffer_appended_particles_total",
			Help:        "Particle records appended to the buffer.",
			ConstLabels: labels,
		}),
		grows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "particles",
			Name:        "buffer_grows_total",
			Help:        "Times the backing allocation was replaced by a larger one.",
			ConstLabels: labels,
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "particles",
			Name:        "buffer_capacity",
			Help:        "Allocated particle slots.",
			ConstLabels: labels,
		}),
		length: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "particles",
			Name:        "buffer_length",
			Help:        "Populated particle slots.",
			ConstLabels: labels,
		}),
		fenceWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "particles",
			Name:        "fence_wait_seconds",
			Help:        "Time spent blocking on submitted GPU work.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
	}
	var err error
	m.appends = register(reg, m.appends, &err)
	m.particles = register(reg, m.particles, &err)
	m.grows = register(reg, m.grows, &err)
	m.capacity = register(reg, m.capacity, &err)
	m.length = register(reg, m.length, &err)
	m.fenceWait = register(reg, m.fenceWait, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the previously registered collector on
// a duplicate registration. The first hard error is kept in *errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

func (m *Metrics) observeAppend(count, length uint32) {
	if m == nil {
		return
	}
	m.appends.Inc()
	m.particles.Add(float64(count))
	m.length.Set(float64(length))
}

func (m *Metrics) observeGrow(capacity uint32) {
	if m == nil {
		return
	}
	m.grows.Inc()
	m.capacity.Set(float64(capacity))
}

func (m *Metrics) setCapacity(capacity uint32) {
	if m == nil {
		return
	}
	m.capacity.Set(float64(capacity))
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.fenceWait.Observe(d.Seconds())
}
