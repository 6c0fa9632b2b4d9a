package domain

import (
	"context"
	"fmt"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
)

// Subdomain describes the region one rank owns.
type Subdomain struct {
	Rank int
	// Box bounds the region. For key-range assignments it is the whole
	// extent, since a key range isn't a box.
	Box geom.Box
	// KeyStart and KeyEnd give the half-open range of cells the rank owns
	// along the scheme's ordering.
	KeyStart, KeyEnd uint64
}

// Empty returns true if the subdomain owns no cells.
func (s Subdomain) Empty() bool { return s.KeyStart >= s.KeyEnd }

// Assignment is a complete, non-overlapping partition of space between
// ranks. Every position, including ones outside the extent it was built
// for, has exactly one owner.
type Assignment interface {
	// Owner returns the rank owning position x.
	Owner(x geom.Vec) int
	// Size returns the number of ranks.
	Size() int
	// Subdomain describes the region rank owns.
	Subdomain(rank int) Subdomain
	// Equal returns true if a describes the same partition.
	Equal(a Assignment) bool
	String() string
}

// Scheme is a partitioning policy. Decompose must be called by every rank
// and must give every rank the same Assignment. Given the same particles,
// extent and rank count, it must always give the same Assignment.
type Scheme interface {
	Name() string
	Decompose(
		ctx context.Context, c comm.Communicator, set *particles.Set,
		ext GlobalExtent,
	) (Assignment, error)
}

// SchemeFromConfig returns the Scheme named in a configuration.
func SchemeFromConfig(cfg *config.DecompositionConfig) (Scheme, error) {
	switch cfg.Scheme {
	case "hilbert":
		return &HilbertScheme{
			Levels: cfg.KeyLevels, WorkWeighted: cfg.WorkWeighted,
		}, nil
	case "slab":
		return &SlabScheme{
			Levels: cfg.KeyLevels, WorkWeighted: cfg.WorkWeighted,
		}, nil
	}
	return nil, ddgerr.ConfigErrorf("Unknown decomposition scheme '%s'.",
		cfg.Scheme)
}

// weights returns the load-balancing weight of each local particle. Without
// work weighting every particle weighs 1. With it, particles weigh their
// work relative to the global mean work, and particles without a work
// estimate weigh 1.
func weights(
	ctx context.Context, c comm.Communicator, set *particles.Set,
	workWeighted bool,
) ([]float64, error) {
	w := make([]float64, set.Len())
	for i := range w {
		w[i] = 1
	}
	if !workWeighted {
		return w, nil
	}

	sum, n := 0.0, 0.0
	for _, work := range set.Work {
		if work > 0 {
			sum, n = sum+work, n+1
		}
	}
	tot, err := c.AllReduce(ctx, []float64{sum, n}, comm.OpSum)
	if err != nil {
		return nil, err
	}
	if tot[1] == 0 || !(tot[0] > 0) {
		return w, nil
	}

	mean := tot[0] / tot[1]
	for i, work := range set.Work {
		if work > 0 {
			w[i] = work / mean
		}
	}
	return w, nil
}

// histogram sums the weight of every particle into cells and reduces the
// result across ranks. Every rank gets the same histogram.
func histogram(
	ctx context.Context, c comm.Communicator, w []float64, cells []uint64,
	nCells int,
) ([]float64, error) {
	hist := make([]float64, nCells)
	for i := range w {
		hist[cells[i]] += w[i]
	}
	return c.AllReduce(ctx, hist, comm.OpSum)
}

// cut splits a histogram into size contiguous ranges of roughly equal
// weight. Range r is [bounds[r], bounds[r+1]). Ranges may be empty when a
// single cell holds more than one rank's share.
func cut(hist []float64, size int) []uint64 {
	total := 0.0
	for _, h := range hist {
		total += h
	}

	bounds := make([]uint64, size+1)
	bounds[size] = uint64(len(hist))
	r, acc := 1, 0.0
	for i := 0; i < len(hist) && r < size; i++ {
		acc += hist[i]
		for r < size && acc >= float64(r)*total/float64(size) {
			bounds[r] = uint64(i + 1)
			r++
		}
	}
	for ; r < size; r++ {
		bounds[r] = uint64(len(hist))
	}
	return bounds
}

// owner returns the range in bounds containing cell k.
func owner(bounds []uint64, k uint64) int {
	lo, hi := 0, len(bounds)-2
	for lo < hi {
		mid := (lo + hi) / 2
		if bounds[mid+1] > k {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func equalBounds(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func boundsString(bounds []uint64) string {
	s := ""
	for r := 0; r+1 < len(bounds); r++ {
		s += fmt.Sprintf(" %d:[%d,%d)", r, bounds[r], bounds[r+1])
	}
	return s
}
