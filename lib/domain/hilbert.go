package domain

import (
	"context"
	"fmt"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
)

// HilbertScheme splits the extent into 8^Levels cells ordered along a
// Hilbert curve and gives each rank a contiguous range of cells holding
// roughly the same weight. Hilbert ranges are spatially compact, which keeps
// the number of remote tree nodes a rank needs small.
type HilbertScheme struct {
	Levels       int
	WorkWeighted bool
}

var _ Scheme = &HilbertScheme{}

func (s *HilbertScheme) Name() string { return "hilbert" }

func (s *HilbertScheme) Decompose(
	ctx context.Context, c comm.Communicator, set *particles.Set,
	ext GlobalExtent,
) (Assignment, error) {
	w, err := weights(ctx, c, set, s.WorkWeighted)
	if err != nil {
		return nil, err
	}

	keys := make([]uint64, set.Len())
	for i := range keys {
		keys[i] = HilbertKey(ext.Box, set.X[i], s.Levels)
	}
	hist, err := histogram(ctx, c, w, keys, 1<<uint(3*s.Levels))
	if err != nil {
		return nil, err
	}

	return &KeyAssignment{
		Box: ext.Box, Levels: s.Levels, Bounds: cut(hist, c.Size()),
	}, nil
}

// KeyAssignment gives each rank a contiguous range of Hilbert keys.
type KeyAssignment struct {
	Box    geom.Box
	Levels int
	// Rank r owns keys in [Bounds[r], Bounds[r+1]).
	Bounds []uint64
}

var _ Assignment = &KeyAssignment{}

func (a *KeyAssignment) Owner(x geom.Vec) int {
	return owner(a.Bounds, HilbertKey(a.Box, x, a.Levels))
}

func (a *KeyAssignment) Size() int { return len(a.Bounds) - 1 }

func (a *KeyAssignment) Subdomain(rank int) Subdomain {
	return Subdomain{
		Rank: rank, Box: a.Box,
		KeyStart: a.Bounds[rank], KeyEnd: a.Bounds[rank+1],
	}
}

func (a *KeyAssignment) Equal(b Assignment) bool {
	bb, ok := b.(*KeyAssignment)
	return ok && a.Box == bb.Box && a.Levels == bb.Levels &&
		equalBounds(a.Bounds, bb.Bounds)
}

func (a *KeyAssignment) String() string {
	return fmt.Sprintf("hilbert(levels=%d, box=%v):%s",
		a.Levels, a.Box, boundsString(a.Bounds))
}
