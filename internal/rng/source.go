// Package rng provides the small deterministic generator used by the engine.
//
// Each consumer owns its own Source so that weight initialisation, action
// sampling and experience sampling never share a stream.
package rng

import "math"

const (
	WeightInitSeed uint32 = 12345
	ActionSeed     uint32 = 54321
	ReplaySeed     uint32 = 13579
	PongSeed       uint32 = 98765

	mantissaMask = 0x7FFFFFFF
	minUniform   = 1e-10
	twoPi        = 6.28318530718
)

// Source is a xorshift32 generator. The zero value is unusable; use New.
type Source struct {
	state uint32
	seed  uint32
}

func New(seed uint32) *Source {
	if seed == 0 {
		seed = 1
	}
	return &Source{state: seed, seed: seed}
}

// Seed restarts the stream from seed.
func (s *Source) Seed(seed uint32) {
	if seed == 0 {
		seed = 1
	}
	s.state = seed
	s.seed = seed
}

// Reset restarts the stream from the seed it was created or last seeded with.
func (s *Source) Reset() {
	s.state = s.seed
}

func (s *Source) State() uint32 {
	return s.state
}

func (s *Source) Uint32() uint32 {
	x := s.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	s.state = x
	return x
}

// Float32 returns a uniform value in [0, 1].
func (s *Source) Float32() float32 {
	return float32(s.Uint32()&mantissaMask) / float32(mantissaMask)
}

// Norm32 returns a standard normal sample using the Box-Muller transform.
func (s *Source) Norm32() float32 {
	u1 := s.Float32()
	u2 := s.Float32()
	if u1 < minUniform {
		u1 = minUniform
	}
	radius := float32(math.Sqrt(float64(-2 * float32(math.Log(float64(u1))))))
	angle := float32(math.Cos(float64(float32(twoPi) * u2)))
	return radius * angle
}

// Intn returns a value in [0, n). n must be positive.
func (s *Source) Intn(n int) int {
	if n <= 0 {
		panic("rng: Intn called with non-positive bound")
	}
	return int(s.Uint32() % uint32(n))
}
