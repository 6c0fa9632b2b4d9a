package domain

/* keys.go maps positions onto space-filling curves. */

import (
	"math"

	"github.com/phil-mansfield/ddgrav/lib/geom"
)

// cell returns the integer coordinates of the cell containing x when box is
// split into 2^bits cells along each axis. Positions outside box are clamped
// onto its boundary cells.
func cell(box geom.Box, x geom.Vec, bits int) [3]uint32 {
	n := float64(uint32(1) << uint(bits))
	w := box.Widths()
	var out [3]uint32
	for k := 0; k < 3; k++ {
		f := 0.0
		if w[k] > 0 {
			f = (x[k] - box.Min[k]) / w[k] * n
		}
		f = math.Max(0, math.Min(n-1, math.Floor(f)))
		out[k] = uint32(f)
	}
	return out
}

// HilbertKey returns the index of x along a 3D Hilbert curve with 2^bits
// cells per side of box. Keys run from 0 to 8^bits - 1, and cells with
// consecutive keys share a face.
func HilbertKey(box geom.Box, x geom.Vec, bits int) uint64 {
	return hilbertIndex(cell(box, x, bits), bits)
}

// hilbertIndex uses Skilling's transpose algorithm ("Programming the Hilbert
// curve", AIP Conf. Proc. 707, 2004): convert the axes to the transposed
// Hilbert index in place, then interleave the bits.
func hilbertIndex(x [3]uint32, bits int) uint64 {
	m := uint32(1) << uint(bits-1)

	// Inverse undo.
	for q := m; q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < 3; i++ {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}

	// Gray encode.
	for i := 1; i < 3; i++ {
		x[i] ^= x[i-1]
	}
	t := uint32(0)
	for q := m; q > 1; q >>= 1 {
		if x[2]&q != 0 {
			t ^= q - 1
		}
	}
	for i := 0; i < 3; i++ {
		x[i] ^= t
	}

	key := uint64(0)
	for b := bits - 1; b >= 0; b-- {
		for i := 0; i < 3; i++ {
			key = key<<1 | uint64((x[i]>>uint(b))&1)
		}
	}
	return key
}
