package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/particles/internal/physics"
)

// ParticleSize is the size of one particle record in device memory.
// Layout: pos.x, pos.y, vel.x, vel.y as little-endian float32, no padding.
const ParticleSize = 16

// Particle is one simulated point: position and velocity in clip space.
type Particle = physics.Particle

// PutParticle writes p into dst in device layout. dst must hold at least
// ParticleSize bytes.
func PutParticle(dst []byte, p Particle) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(p.Pos[0]))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(p.Pos[1]))
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(p.Vel[0]))
	binary.LittleEndian.PutUint32(dst[12:], math.Float32bits(p.Vel[1]))
}

// ReadParticle decodes one record from src.
func ReadParticle(src []byte) Particle {
	return Particle{
		Pos: [2]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
			math.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		},
		Vel: [2]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
			math.Float32frombits(binary.LittleEndian.Uint32(src[12:])),
		},
	}
}

// EncodeParticles packs ps into a contiguous byte slice.
func EncodeParticles(ps []Particle) []byte {
	out := make([]byte, len(ps)*ParticleSize)
	for i, p := range ps {
		PutParticle(out[i*ParticleSize:], p)
	}
	return out
}

// DecodeParticles unpacks a byte slice produced by EncodeParticles or read
// back from the device.
func DecodeParticles(data []byte) ([]Particle, error) {
	if len(data)%ParticleSize != 0 {
		return nil, fmt.Errorf("gpu: particle data length %d is not a multiple of %d", len(data), ParticleSize)
	}
	out := make([]Particle, len(data)/ParticleSize)
	for i := range out {
		out[i] = ReadParticle(data[i*ParticleSize:])
	}
	return out, nil
}
