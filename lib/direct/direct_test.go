package direct

import (
	"context"
	"math"
	"testing"

	"github.com/phil-mansfield/gravitree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	"github.com/phil-mansfield/ddgrav/lib/eq"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/gravity"
	"github.com/phil-mansfield/ddgrav/lib/particles"
	"github.com/phil-mansfield/ddgrav/lib/rng"
	"github.com/phil-mansfield/ddgrav/lib/tree"
)

func uniformSet(n int, seed uint64) *particles.Set {
	x := rng.NewRNG(seed).UniformBox(n, geom.Box{Max: geom.Vec{10, 10, 10}})
	s := &particles.Set{}
	for i := range x {
		s.Append(uint64(i), x[i], 1, 0)
	}
	return s
}

// split runs f on size local ranks, each holding every size-th particle of
// set, and gathers the returned accelerations by ID.
func split(
	t *testing.T, set *particles.Set, size int,
	f func(ctx context.Context, c comm.Communicator,
		local *particles.Set) ([]geom.Vec, error),
) []geom.Vec {
	out := make([]geom.Vec, set.Len())
	err := comm.RunLocal(context.Background(), size,
		func(ctx context.Context, c comm.Communicator) error {
			local := &particles.Set{}
			for i := c.Rank(); i < set.Len(); i += size {
				local.AppendFrom(set, i)
			}
			acc, err := f(ctx, c, local)
			if err != nil {
				return err
			}
			for j, id := range local.ID {
				out[id] = acc[j]
			}
			return nil
		})
	require.NoError(t, err)
	return out
}

func TestCompute(t *testing.T) {
	set := uniformSet(150, 2)
	s := gravity.Solver{G: 1}

	want := make([]geom.Vec, set.Len())
	wantPot := make([]float64, set.Len())
	for i := range set.X {
		for j := range set.X {
			if i != j {
				a, p := s.Pair(set.X[i], set.X[j], set.Mass[j])
				want[i], wantPot[i] = want[i].Add(a), wantPot[i]+p
			}
		}
	}

	for size := 1; size <= 4; size++ {
		gotPot := make([]float64, set.Len())
		got := split(t, set, size, func(
			ctx context.Context, c comm.Communicator, local *particles.Set,
		) ([]geom.Vec, error) {
			acc, pot, err := Compute(ctx, c, local, s, 2)
			if err != nil {
				return nil, err
			}
			if len(pot) != local.Len() {
				t.Errorf("%d potentials for %d particles.", len(pot), local.Len())
				return acc, nil
			}
			for j, id := range local.ID {
				gotPot[id] = pot[j]
			}
			return acc, nil
		})
		if i := eq.VecsRel(got, want, 1e-10); i != -1 {
			t.Errorf("size = %d: particle %d has acceleration %v, "+
				"expected %v.", size, i, got[i], want[i])
		}
		if !eq.Float64sEps(gotPot, wantPot, 1e-9) {
			t.Errorf("size = %d: potentials %.6g, expected %.6g.",
				size, gotPot[:4], wantPot[:4])
		}
	}
}

func TestWalkMatchesDirect(t *testing.T) {
	set := uniformSet(300, 8)
	root := set.Bounds().Pad(0.01).Cube()
	cfg := &config.TreeConfig{MaxParticlesPerLeaf: 8, MaxDepth: tree.MaxDepth}
	exact := gravity.Solver{Theta: 0, G: 1, Quadrupole: true}

	var reference []geom.Vec
	for size := 1; size <= 4; size++ {
		direct := split(t, set, size, func(
			ctx context.Context, c comm.Communicator, local *particles.Set,
		) ([]geom.Vec, error) {
			acc, _, err := Compute(ctx, c, local, exact, 1)
			return acc, err
		})
		walk := split(t, set, size, func(
			ctx context.Context, c comm.Communicator, local *particles.Set,
		) ([]geom.Vec, error) {
			res, err := gravity.Evaluate(ctx, c, local, root, cfg, exact, 2)
			if err != nil {
				return nil, err
			}
			return res.Acc, nil
		})

		rep, err := Compare(walk, direct)
		require.NoError(t, err)
		assert.True(t, rep.MaxRel < 1e-10, "size = %d: %+v", size, rep)

		if reference == nil {
			reference = walk
		} else if i := eq.VecsRel(walk, reference, 1e-10); i != -1 {
			t.Errorf("size = %d: particle %d differs from one rank.", size, i)
		}
	}
}

func TestCompare(t *testing.T) {
	want := []geom.Vec{{1, 0, 0}, {0, 2, 0}, {0, 0, 0}, {3, 0, 0}}
	got := []geom.Vec{{1, 0, 0}, {0, 2, 0}, {0, 0, 0}, {-3, 0, 0}}

	rep, err := Compare(got, want)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rep.MaxRel, 1e-12)
	assert.InDelta(t, 0.25, rep.MeanRel, 1e-12)
	assert.InDelta(t, 0.5, rep.RMSRel, 1e-12)
	assert.InDelta(t, 0.0, rep.MeanMagRel, 1e-12)
	assert.InDelta(t, 2.0, rep.MaxErr, 1e-12)
	assert.InDelta(t, 0.5, rep.MeanErr, 1e-12)

	got[1] = geom.Vec{0, 1, 0}
	rep, err = Compare(got, want)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/12, rep.MeanMagRel, 1e-12)
	// Halving a vector is a 1/3 symmetric difference but a 1/2 error.
	assert.InDelta(t, 0.625, rep.MeanErr, 1e-12)

	rep, err = Compare(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)

	_, err = Compare(got, want[:2])
	assert.Equal(t, ddgerr.Configuration, ddgerr.KindOf(err))
}

func TestSingleParticle(t *testing.T) {
	set := &particles.Set{}
	set.Append(0, geom.Vec{1, 1, 1}, 3, 0)
	for _, size := range []int{1, 2} {
		got := split(t, set, size, func(
			ctx context.Context, c comm.Communicator, local *particles.Set,
		) ([]geom.Vec, error) {
			acc, _, err := Compute(ctx, c, local, gravity.Solver{G: 1}, 1)
			return acc, err
		})
		assert.Equal(t, geom.Vec{}, got[0])
	}
}

func TestTreePotential(t *testing.T) {
	set := uniformSet(500, 4)
	pe := TreePotential(set.X, 0.01)
	require.Len(t, pe, set.Len())

	s := gravity.Solver{Softening: 0.01, G: 1}
	want := make([]float64, set.Len())
	for i := range set.X {
		for j := range set.X {
			if i != j {
				_, p := s.Pair(set.X[i], set.X[j], 1)
				want[i] += p
			}
		}
	}

	for i := range pe {
		require.False(t, math.IsNaN(pe[i]) || math.IsInf(pe[i], 0))
		require.Less(t, pe[i], 0.0, "point %d", i)
	}
	// Every point feels all 499 others from no farther than the cube's
	// diagonal.
	assert.Less(t, stat.Mean(pe, nil), -499/(10*math.Sqrt(3)+1))
	// gravitree's tree is monopole-only with its own opening criterion.
	assert.Greater(t, stat.Correlation(pe, want, nil), 0.99)
	meanPE, meanWant := stat.Mean(pe, nil), stat.Mean(want, nil)
	assert.Less(t, math.Abs(meanPE-meanWant)/math.Abs(meanWant), 0.05)

	assert.Len(t, TreePotential(nil, 0.01), 0)
	assert.Equal(t, []float64{0}, TreePotential(set.X[:1], 0.01))
}

func TestDropBlankNodes(t *testing.T) {
	set := uniformSet(200, 1)
	dx := make([][3]float64, set.Len())
	for i := range set.X {
		dx[i] = set.X[i]
	}
	tr := gravitree.NewTree(dx)
	dropBlankNodes(tr)

	require.NotEmpty(t, tr.Nodes)
	assert.Equal(t, 0, tr.Nodes[0].Start)
	assert.Equal(t, set.Len(), tr.Nodes[0].End)
	assert.Same(t, &tr.Nodes[0], tr.Root)

	// Children partition their parents' points.
	leafPoints := 0
	for i, nd := range tr.Nodes {
		if nd.Left == -1 {
			leafPoints += nd.End - nd.Start
			continue
		}
		require.Less(t, nd.Left, len(tr.Nodes), "node %d", i)
		require.Less(t, nd.Right, len(tr.Nodes), "node %d", i)
		left, right := tr.Nodes[nd.Left], tr.Nodes[nd.Right]
		assert.Equal(t, nd.Start, left.Start)
		assert.Equal(t, left.End, right.Start)
		assert.Equal(t, nd.End, right.End)
	}
	assert.Equal(t, set.Len(), leafPoints)

	// A second pass has nothing to do.
	n := len(tr.Nodes)
	dropBlankNodes(tr)
	assert.Len(t, tr.Nodes, n)
}
