package main

import (
	"math"
	"math/rand/v2"

	"github.com/gogpu/particles"
)

// Burst shape.
const (
	burstArea     = 0.5 // centers fall in [-burstArea, burstArea]^2
	burstRadius   = 0.1
	burstMinSpeed = 0.5
	burstMaxSpeed = 2.0
)

// spawnBurst returns n particles scattered around a random center, each
// moving away from it.
func spawnBurst(rng *rand.Rand, n int) []particles.Particle {
	cx := (2*rng.Float32() - 1) * burstArea
	cy := (2*rng.Float32() - 1) * burstArea
	ps := make([]particles.Particle, n)
	for i := range ps {
		sin, cos := math.Sincos(2 * math.Pi * rng.Float64())
		dx, dy := float32(cos), float32(sin)
		r := rng.Float32() * burstRadius
		speed := burstMinSpeed + rng.Float32()*(burstMaxSpeed-burstMinSpeed)
		ps[i] = particles.Particle{
			Pos: [2]float32{cx + dx*r, cy + dy*r},
			Vel: [2]float32{dx * speed, dy * speed},
		}
	}
	return ps
}

// burstSchedule spreads bursts evenly over frames and returns how many
// bursts fire on each frame. The first burst fires on frame 0.
func burstSchedule(frames, bursts int) []int {
	schedule := make([]int, frames)
	if frames == 0 {
		return schedule
	}
	for i := range bursts {
		schedule[i*frames/bursts]++
	}
	return schedule
}
