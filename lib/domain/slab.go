package domain

import (
	"context"
	"fmt"
	"math"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
)

// SlabScheme cuts the extent into slabs perpendicular to its longest axis.
// The axis is split into 8^Levels bins so that slabs have the same
// resolution as HilbertScheme's ranges.
type SlabScheme struct {
	Levels       int
	WorkWeighted bool
}

var _ Scheme = &SlabScheme{}

func (s *SlabScheme) Name() string { return "slab" }

func (s *SlabScheme) Decompose(
	ctx context.Context, c comm.Communicator, set *particles.Set,
	ext GlobalExtent,
) (Assignment, error) {
	w, err := weights(ctx, c, set, s.WorkWeighted)
	if err != nil {
		return nil, err
	}

	a := &SlabAssignment{
		Box: ext.Box, Axis: ext.Box.LongestAxis(), Bins: 1 << uint(3*s.Levels),
	}
	bins := make([]uint64, set.Len())
	for i := range bins {
		bins[i] = a.bin(set.X[i])
	}
	hist, err := histogram(ctx, c, w, bins, a.Bins)
	if err != nil {
		return nil, err
	}
	a.Bounds = cut(hist, c.Size())
	return a, nil
}

// SlabAssignment gives each rank a slab of the extent along one axis.
type SlabAssignment struct {
	Box  geom.Box
	Axis int
	Bins int
	// Rank r owns bins in [Bounds[r], Bounds[r+1]).
	Bounds []uint64
}

var _ Assignment = &SlabAssignment{}

func (a *SlabAssignment) bin(x geom.Vec) uint64 {
	lo, w := a.Box.Min[a.Axis], a.Box.Max[a.Axis]-a.Box.Min[a.Axis]
	f := (x[a.Axis] - lo) / w * float64(a.Bins)
	f = math.Max(0, math.Min(float64(a.Bins-1), math.Floor(f)))
	return uint64(f)
}

func (a *SlabAssignment) Owner(x geom.Vec) int {
	return owner(a.Bounds, a.bin(x))
}

func (a *SlabAssignment) Size() int { return len(a.Bounds) - 1 }

func (a *SlabAssignment) Subdomain(rank int) Subdomain {
	box := a.Box
	lo, w := a.Box.Min[a.Axis], a.Box.Max[a.Axis]-a.Box.Min[a.Axis]
	box.Min[a.Axis] = lo + w*float64(a.Bounds[rank])/float64(a.Bins)
	box.Max[a.Axis] = lo + w*float64(a.Bounds[rank+1])/float64(a.Bins)
	return Subdomain{
		Rank: rank, Box: box,
		KeyStart: a.Bounds[rank], KeyEnd: a.Bounds[rank+1],
	}
}

func (a *SlabAssignment) Equal(b Assignment) bool {
	bb, ok := b.(*SlabAssignment)
	return ok && a.Box == bb.Box && a.Axis == bb.Axis && a.Bins == bb.Bins &&
		equalBounds(a.Bounds, bb.Bounds)
}

func (a *SlabAssignment) String() string {
	return fmt.Sprintf("slab(axis=%d, bins=%d, box=%v):%s",
		a.Axis, a.Bins, a.Box, boundsString(a.Bounds))
}
