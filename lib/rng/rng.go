/*package rng is a small deterministic random number generator used to build
initial conditions and test fixtures. Every rank that seeds an RNG the same way
sees the same sequence, which is what lets multi-rank tests agree on a
particle set without communicating it.
*/
package rng

import (
	"math"

	"github.com/phil-mansfield/ddgrav/lib/geom"
)

var (
	xorshiftMaxUint = float64(math.MaxUint32)
)

// RNG is an xorshift random number generator. It is not thread safe.
type RNG struct {
	w, x, y, z uint32
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed uint64) *RNG {
	gen := &RNG{uint32(seed) ^ uint32(seed>>32), 123456789, 362436069, 521288629}
	// The first few outputs of a freshly seeded xorshift are poorly mixed.
	for i := 0; i < 8; i++ {
		gen.next()
	}
	return gen
}

func (gen *RNG) next() uint32 {
	t := gen.x ^ (gen.x << 11)
	gen.x, gen.y, gen.z = gen.y, gen.z, gen.w
	gen.w = gen.w ^ (gen.w >> 19) ^ (t ^ (t >> 8))
	return gen.w
}

// Uniform generates a single random number in the range [0, 1).
func (gen *RNG) Uniform() float64 {
	for {
		res := float64(math.MaxUint32-gen.next()) / xorshiftMaxUint
		if res != 1.0 {
			return res
		}
	}
}

// UniformSequence generates one random number in the range [0, 1) for each
// element of target and writes them to it.
func (gen *RNG) UniformSequence(target []float64) {
	for i := range target {
		target[i] = gen.Uniform()
	}
}

// Gaussian returns a normally distributed number with mean 0 and standard
// deviation 1.
func (gen *RNG) Gaussian() float64 {
	u1 := 1 - gen.Uniform()
	u2 := gen.Uniform()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// UniformBox returns n points distributed uniformly in b.
func (gen *RNG) UniformBox(n int, b geom.Box) []geom.Vec {
	w := b.Widths()
	x := make([]geom.Vec, n)
	for i := range x {
		for k := 0; k < 3; k++ {
			x[i][k] = b.Min[k] + w[k]*gen.Uniform()
		}
	}
	return x
}

// Blob returns n points drawn from an isotropic Gaussian around center.
func (gen *RNG) Blob(n int, center geom.Vec, sigma float64) []geom.Vec {
	x := make([]geom.Vec, n)
	for i := range x {
		for k := 0; k < 3; k++ {
			x[i][k] = center[k] + sigma*gen.Gaussian()
		}
	}
	return x
}
