/*package geom contains the small amount of 3D vector and box arithmetic that
the decomposition and tree code share.
*/
package geom

import (
	"fmt"
	"math"
)

// Vec is a point or displacement in simulation space.
type Vec [3]float64

func (v Vec) Add(u Vec) Vec { return Vec{v[0] + u[0], v[1] + u[1], v[2] + u[2]} }
func (v Vec) Sub(u Vec) Vec { return Vec{v[0] - u[0], v[1] - u[1], v[2] - u[2]} }
func (v Vec) Scale(a float64) Vec { return Vec{a * v[0], a * v[1], a * v[2]} }
func (v Vec) Dot(u Vec) float64 { return v[0]*u[0] + v[1]*u[1] + v[2]*u[2] }
func (v Vec) Norm2() float64 { return v.Dot(v) }
func (v Vec) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Finite returns true if no component is NaN or infinite.
func (v Vec) Finite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Box is a closed axis-aligned box. The zero Box is not empty: use EmptyBox()
// to start a bounding box.
type Box struct {
	Min, Max Vec
}

// EmptyBox returns a box containing nothing which becomes a bounding box as
// points are added with Extend.
func EmptyBox() Box {
	inf := math.Inf(1)
	return Box{Vec{inf, inf, inf}, Vec{-inf, -inf, -inf}}
}

// Empty returns true if b contains no points.
func (b Box) Empty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Extend returns the smallest box containing b and x.
func (b Box) Extend(x Vec) Box {
	for k := 0; k < 3; k++ {
		b.Min[k] = math.Min(b.Min[k], x[k])
		b.Max[k] = math.Max(b.Max[k], x[k])
	}
	return b
}

// Union returns the smallest box containing b and c.
func (b Box) Union(c Box) Box {
	if c.Empty() {
		return b
	} else if b.Empty() {
		return c
	}
	return b.Extend(c.Min).Extend(c.Max)
}

// Contains returns true if x is inside b or on its boundary.
func (b Box) Contains(x Vec) bool {
	for k := 0; k < 3; k++ {
		if x[k] < b.Min[k] || x[k] > b.Max[k] {
			return false
		}
	}
	return true
}

// ContainsBox returns true if every point of c is inside b.
func (b Box) ContainsBox(c Box) bool {
	return c.Empty() || (b.Contains(c.Min) && b.Contains(c.Max))
}

func (b Box) Center() Vec { return b.Min.Add(b.Max).Scale(0.5) }
func (b Box) Widths() Vec { return b.Max.Sub(b.Min) }

// MaxWidth returns the length of b's longest side.
func (b Box) MaxWidth() float64 {
	w := b.Widths()
	return math.Max(w[0], math.Max(w[1], w[2]))
}

// LongestAxis returns the index of b's longest side. Ties go to the lower
// axis.
func (b Box) LongestAxis() int {
	w, dim := b.Widths(), 0
	for k := 1; k < 3; k++ {
		if w[k] > w[dim] {
			dim = k
		}
	}
	return dim
}

// Pad returns a box with the same center as b whose sides are longer by frac
// of b's longest side on each end. A box with zero width still gets a small
// positive width so that later steps never divide by zero.
func (b Box) Pad(frac float64) Box {
	c := b.Center()
	w := b.MaxWidth()
	if w <= 0 {
		scale := 1 + math.Max(math.Abs(c[0]), math.Max(math.Abs(c[1]), math.Abs(c[2])))
		w = 1e-12 * scale
		if frac <= 0 {
			frac = 1
		}
	}
	pad := frac * w
	for k := 0; k < 3; k++ {
		b.Min[k] -= pad
		b.Max[k] += pad
	}
	return b
}

// Cube returns the smallest cube with b's center that contains b.
func (b Box) Cube() Box {
	c, h := b.Center(), b.MaxWidth()/2
	out := Box{}
	for k := 0; k < 3; k++ {
		out.Min[k], out.Max[k] = c[k]-h, c[k]+h
		// Rounding can shave the last bit off the original box.
		out.Min[k] = math.Min(out.Min[k], b.Min[k])
		out.Max[k] = math.Max(out.Max[k], b.Max[k])
	}
	return out
}

// Octant returns the index of the child of b containing x. Bit k of the index
// is set when x[k] is at or above the center of b along axis k.
func (b Box) Octant(x Vec) int {
	c, oct := b.Center(), 0
	for k := 0; k < 3; k++ {
		if x[k] >= c[k] {
			oct |= 1 << uint(k)
		}
	}
	return oct
}

// Child returns the octant of b with the given index.
func (b Box) Child(oct int) Box {
	c := b.Center()
	out := b
	for k := 0; k < 3; k++ {
		if oct&(1<<uint(k)) != 0 {
			out.Min[k] = c[k]
		} else {
			out.Max[k] = c[k]
		}
	}
	return out
}

// Clamp returns the point in b closest to x.
func (b Box) Clamp(x Vec) Vec {
	for k := 0; k < 3; k++ {
		x[k] = math.Max(b.Min[k], math.Min(b.Max[k], x[k]))
	}
	return x
}

func (b Box) String() string {
	return fmt.Sprintf("[%.6g, %.6g] x [%.6g, %.6g] x [%.6g, %.6g]",
		b.Min[0], b.Max[0], b.Min[1], b.Max[1], b.Min[2], b.Max[2])
}
