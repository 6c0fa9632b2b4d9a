package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phil-mansfield/ddgrav/lib/geom"
)

func TestDeterministic(t *testing.T) {
	a, b := NewRNG(42), NewRNG(42)
	for i := 0; i < 100; i++ {
		if x, y := a.Uniform(), b.Uniform(); x != y {
			t.Fatalf("%d) Expected identical sequences, got %g and %g.", i, x, y)
		}
	}
	assert.NotEqual(t, NewRNG(1).Uniform(), NewRNG(2).Uniform())
}

func TestUniformRange(t *testing.T) {
	gen := NewRNG(7)
	x := make([]float64, 10000)
	gen.UniformSequence(x)
	sum := 0.0
	for i := range x {
		if x[i] < 0 || x[i] >= 1 {
			t.Fatalf("Expected x[%d] in [0, 1), got %g.", i, x[i])
		}
		sum += x[i]
	}
	assert.InDelta(t, 0.5, sum/float64(len(x)), 0.02)
}

func TestUniformBox(t *testing.T) {
	b := geom.Box{Min: geom.Vec{-1, 0, 2}, Max: geom.Vec{1, 10, 3}}
	for _, x := range NewRNG(3).UniformBox(500, b) {
		if !b.Contains(x) {
			t.Fatalf("Point %v outside of %v.", x, b)
		}
	}
}

func TestGaussian(t *testing.T) {
	gen := NewRNG(11)
	n, sum, sum2 := 20000, 0.0, 0.0
	for i := 0; i < n; i++ {
		g := gen.Gaussian()
		sum += g
		sum2 += g * g
	}
	assert.InDelta(t, 0, sum/float64(n), 0.05)
	assert.InDelta(t, 1, sum2/float64(n), 0.05)
}
