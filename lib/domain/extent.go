/*package domain partitions space between ranks and keeps particle ownership
aligned with that partition.

A run holds one Decomposition. Each step it computes the GlobalExtent of all
particles, re-partitions the extent every few steps using a pluggable Scheme,
and migrates particles whose owner changed. The resulting Assignment is
read-only until the next step.
*/
package domain

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
)

// DefaultPadding is the fraction of the extent's width added to each side.
const DefaultPadding = 0.01

// GlobalExtent is the agreed bounding region of every particle on every
// rank.
type GlobalExtent struct {
	// Box is the padded bounding box. Every particle lies inside it.
	Box geom.Box
	// Bounds is the tight bounding box before padding.
	Bounds geom.Box
	// N is the total number of particles.
	N int64
	// Mass is the total mass.
	Mass float64
}

// Cube returns the smallest cube containing the extent. Trees are built on
// this cube so that a node path means the same region on every rank.
func (ext GlobalExtent) Cube() geom.Box { return ext.Box.Cube() }

const extentSize = 8 * 8

// DetermineGlobalExtent computes each rank's bounding box, all-gathers them,
// and pads their union by padding. It fails with a Configuration error if
// no rank has any particles.
func DetermineGlobalExtent(
	ctx context.Context, c comm.Communicator, set *particles.Set,
	padding float64,
) (GlobalExtent, error) {
	local := set.Bounds()
	buf := make([]byte, extentSize)
	vals := []float64{
		local.Min[0], local.Min[1], local.Min[2],
		local.Max[0], local.Max[1], local.Max[2],
		float64(set.Len()), set.TotalMass(),
	}
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}

	parts, err := c.AllGather(ctx, buf)
	if err != nil {
		return GlobalExtent{}, err
	}

	ext := GlobalExtent{Bounds: geom.EmptyBox()}
	for r, part := range parts {
		if len(part) != extentSize {
			return GlobalExtent{}, ddgerr.TransportErrorf("Rank %d sent a "+
				"%d-byte bounding box, expected %d.", r, len(part), extentSize)
		}
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(part[8*i:]))
		}
		n := int64(vals[6])
		if n == 0 {
			continue
		}
		box := geom.Box{
			Min: geom.Vec{vals[0], vals[1], vals[2]},
			Max: geom.Vec{vals[3], vals[4], vals[5]},
		}
		ext.Bounds = ext.Bounds.Union(box)
		ext.N += n
		ext.Mass += vals[7]
	}

	if ext.N == 0 {
		return GlobalExtent{}, ddgerr.ConfigErrorf("Cannot compute the " +
			"global extent of an empty particle set.")
	}
	ext.Box = ext.Bounds.Pad(padding)
	return ext, nil
}
