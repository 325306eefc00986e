// Package physics integrates particles on the host with the same update the
// compute shader applies on the device. It backs the CPU integrator of the
// command line tool and serves as the reference for device results.
package physics

import (
	"context"
	"math"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"
)

// MaxSpeed is the speed every particle is clamped to.
const MaxSpeed = 10.0

const (
	minLength   = 0.02 // attractor distance floor
	friction    = -2.0 // velocity decays by exp(friction*dt)
	restitution = 0.95
	bounceBias  = 0.0001
	clampEdge   = 1.05
)

// minChunk keeps StepParallel from spawning goroutines for tiny slices.
const minChunk = 1024

// Particle is one simulated point: position and velocity in clip space.
type Particle struct {
	Pos [2]float32
	Vel [2]float32
}

// Params are the per-frame inputs of one integration step.
type Params struct {
	// Attractor is the clip-space point particles are pulled towards.
	Attractor [2]float32
	// Gravity is a constant acceleration applied to every particle.
	Gravity [2]float32
	// Strength scales the inverse-square attractor force. Zero disables it.
	Strength float32
	// DeltaTime is the frame time step in seconds.
	DeltaTime float32
}

// Step advances every particle in ps by one time step.
func Step(ps []Particle, params Params) {
	decay := float32(math.Exp(friction * float64(params.DeltaTime)))
	for i := range ps {
		ps[i] = advance(ps[i], params, decay)
	}
}

// StepParallel is Step split across workers goroutines. A non-positive
// workers uses GOMAXPROCS.
func StepParallel(ctx context.Context, ps []Particle, params Params, workers int) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := max((len(ps)+workers-1)/workers, minChunk)

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ps); start += chunk {
		part := ps[start:min(start+chunk, len(ps))]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			Step(part, params)
			return nil
		})
	}
	return g.Wait()
}

func advance(p Particle, params Params, decay float32) Particle {
	dt := params.DeltaTime
	vel := mgl32.Vec2(p.Vel)
	pos := mgl32.Vec2(p.Pos).Add(vel.Mul(dt))

	// Bounce off the clip-space border.
	for axis := range pos {
		if mgl32.Abs(pos[axis]) <= 1 {
			continue
		}
		s := sign(pos[axis])
		vel[axis] = s * (-restitution*mgl32.Abs(vel[axis]) - bounceBias)
		if mgl32.Abs(pos[axis]) >= clampEdge {
			pos[axis] = s
		}
	}

	t := mgl32.Vec2(params.Attractor).Sub(pos)
	r := max(t.Len(), minLength)
	force := t.Mul(params.Strength / (r * r * r))

	vel = vel.Add(force.Add(mgl32.Vec2(params.Gravity)).Mul(dt))
	if vel.Len() > MaxSpeed {
		vel = vel.Normalize().Mul(MaxSpeed)
	}
	return Particle{Pos: pos, Vel: vel.Mul(decay)}
}

func sign(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
