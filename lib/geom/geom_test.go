package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxExtend(t *testing.T) {
	b := EmptyBox()
	assert.True(t, b.Empty())

	b = b.Extend(Vec{1, 2, 3}).Extend(Vec{-1, 5, 0})
	assert.False(t, b.Empty())
	assert.Equal(t, Vec{-1, 2, 0}, b.Min)
	assert.Equal(t, Vec{1, 5, 3}, b.Max)

	assert.Equal(t, b, b.Union(EmptyBox()))
	assert.Equal(t, b, EmptyBox().Union(b))
}

func TestBoxPad(t *testing.T) {
	b := Box{Vec{0, 0, 0}, Vec{10, 5, 1}}
	p := b.Pad(0.01)
	for k := 0; k < 3; k++ {
		assert.InDelta(t, -0.1, p.Min[k], 1e-12)
	}
	assert.InDelta(t, 10.1, p.Max[0], 1e-12)
	assert.True(t, p.ContainsBox(b))

	point := Box{Vec{3, 3, 3}, Vec{3, 3, 3}}.Pad(0.01)
	assert.True(t, point.MaxWidth() > 0)
	assert.True(t, point.Contains(Vec{3, 3, 3}))
}

func TestBoxCube(t *testing.T) {
	b := Box{Vec{0, 0, 0}, Vec{4, 2, 1}}
	c := b.Cube()
	w := c.Widths()
	assert.Equal(t, w[0], w[1])
	assert.Equal(t, w[0], w[2])
	assert.True(t, c.ContainsBox(b))
	assert.Equal(t, b.Center(), c.Center())
}

func TestOctant(t *testing.T) {
	b := Box{Vec{0, 0, 0}, Vec{2, 2, 2}}
	tests := []struct {
		x   Vec
		oct int
	}{
		{Vec{0.5, 0.5, 0.5}, 0},
		{Vec{1.5, 0.5, 0.5}, 1},
		{Vec{0.5, 1.5, 0.5}, 2},
		{Vec{0.5, 0.5, 1.5}, 4},
		{Vec{1.5, 1.5, 1.5}, 7},
		// Ties go to the upper octant.
		{Vec{1, 1, 1}, 7},
		{Vec{1, 0, 0}, 1},
	}

	for i := range tests {
		oct := b.Octant(tests[i].x)
		if oct != tests[i].oct {
			t.Errorf("%d) Expected Octant(%v) = %d, got %d.",
				i, tests[i].x, tests[i].oct, oct)
		}
		if !b.Child(oct).Contains(tests[i].x) {
			t.Errorf("%d) Child(%d) = %v doesn't contain %v.",
				i, oct, b.Child(oct), tests[i].x)
		}
	}
}

func TestClamp(t *testing.T) {
	b := Box{Vec{0, 0, 0}, Vec{1, 1, 1}}
	assert.Equal(t, Vec{1, 0, 0.5}, b.Clamp(Vec{3, -2, 0.5}))
	assert.Equal(t, 0, b.LongestAxis())
	assert.Equal(t, 2, Box{Vec{}, Vec{1, 1, 2}}.LongestAxis())
}

func TestVec(t *testing.T) {
	v, u := Vec{1, 2, 2}, Vec{1, 0, 0}
	assert.Equal(t, 3.0, v.Norm())
	assert.Equal(t, 1.0, v.Dot(u))
	assert.Equal(t, Vec{2, 2, 2}, v.Add(u))
	assert.Equal(t, Vec{0, 2, 2}, v.Sub(u))
	assert.Equal(t, Vec{2, 4, 4}, v.Scale(2))
	assert.True(t, v.Finite())
}
