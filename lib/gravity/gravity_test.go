package gravity

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	"github.com/phil-mansfield/ddgrav/lib/eq"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
	"github.com/phil-mansfield/ddgrav/lib/rng"
	"github.com/phil-mansfield/ddgrav/lib/tree"
)

func uniformSet(n int, side float64, seed uint64) *particles.Set {
	gen := rng.NewRNG(seed)
	x := gen.UniformBox(n, geom.Box{Max: geom.Vec{side, side, side}})
	s := &particles.Set{}
	for i := range x {
		s.Append(uint64(i), x[i], 0.5+gen.Uniform(), 0)
	}
	return s
}

func bruteForce(set *particles.Set, s Solver) ([]geom.Vec, []float64) {
	acc, pot := make([]geom.Vec, set.Len()), make([]float64, set.Len())
	for i := range set.X {
		for j := range set.X {
			if i == j {
				continue
			}
			a, p := s.Pair(set.X[i], set.X[j], set.Mass[j])
			acc[i], pot[i] = acc[i].Add(a), pot[i]+p
		}
	}
	return acc, pot
}

// evaluate deals set out round-robin to size ranks, runs Evaluate on every
// rank and returns the results indexed by ID, plus each rank's Stats.
func evaluate(
	t *testing.T, set *particles.Set, size int, s Solver, leaf int,
) ([]geom.Vec, []float64, []Stats) {
	acc, pot := make([]geom.Vec, set.Len()), make([]float64, set.Len())
	stats := make([]Stats, size)
	root := set.Bounds().Pad(0.01).Cube()
	cfg := &config.TreeConfig{MaxParticlesPerLeaf: leaf, MaxDepth: tree.MaxDepth}

	err := comm.RunLocal(context.Background(), size,
		func(ctx context.Context, c comm.Communicator) error {
			local := &particles.Set{}
			for i := c.Rank(); i < set.Len(); i += size {
				local.AppendFrom(set, i)
			}
			res, err := Evaluate(ctx, c, local, root, cfg, s, 2)
			if err != nil {
				return err
			}
			for j, id := range local.ID {
				acc[id], pot[id] = res.Acc[j], res.Pot[j]
			}
			stats[c.Rank()] = res.Stats
			return nil
		})
	require.NoError(t, err, "size = %d", size)
	return acc, pot, stats
}

func meanRel(got, want []geom.Vec) float64 {
	sum := 0.0
	for i := range got {
		sum += eq.RelDiff(got[i], want[i])
	}
	return sum / float64(len(got))
}

func TestNewSolver(t *testing.T) {
	cfg := config.Default().Gravity
	s, err := NewSolver(&cfg)
	require.NoError(t, err)
	assert.Equal(t, Solver{Theta: 0.5, G: 1, Quadrupole: true}, s)

	bad := []config.GravityConfig{
		{OpeningAngle: -1, G: 1},
		{OpeningAngle: 0.5, Softening: -1, G: 1},
		{OpeningAngle: 0.5, G: 0},
		{OpeningAngle: math.NaN(), G: 1},
	}
	for i := range bad {
		_, err := NewSolver(&bad[i])
		assert.Equal(t, ddgerr.Configuration, ddgerr.KindOf(err), "%d", i)
	}

	_, err = NewSolver(&config.GravityConfig{G: 1})
	assert.NoError(t, err, "exact mode")
}

func TestPair(t *testing.T) {
	s := Solver{G: 2}
	acc, pot := s.Pair(geom.Vec{3, 0, 0}, geom.Vec{1, 0, 0}, 4)
	assert.InDelta(t, -2.0, acc[0], 1e-15)
	assert.Equal(t, 0.0, acc[1])
	assert.InDelta(t, -4.0, pot, 1e-15)

	acc, pot = s.Pair(geom.Vec{1, 1, 1}, geom.Vec{1, 1, 1}, 4)
	assert.Equal(t, geom.Vec{}, acc)
	assert.Equal(t, 0.0, pot)

	s.Softening = 0.5
	acc, pot = s.Pair(geom.Vec{1, 1, 1}, geom.Vec{1, 1, 1}, 4)
	assert.Equal(t, geom.Vec{}, acc)
	assert.InDelta(t, -16.0, pot, 1e-14)

	far, _ := s.Pair(geom.Vec{1000, 0, 0}, geom.Vec{}, 1)
	assert.InDelta(t, -2e-6, far[0], 1e-12)
}

func TestAccept(t *testing.T) {
	box := geom.Box{Max: geom.Vec{1, 1, 1}}
	com := geom.Vec{0.5, 0.5, 0.5}
	far := geom.Vec{10, 0.5, 0.5}

	assert.True(t, Solver{Theta: 0.5}.Accept(far, box, com))
	assert.False(t, Solver{Theta: 0.1}.Accept(far, box, com))
	assert.False(t, Solver{Theta: 0}.Accept(far, box, com))
	assert.False(t, Solver{Theta: 100}.Accept(com, box, com))
	assert.False(t, Solver{Theta: 100}.Accept(geom.Vec{1, 1, 1}, box, com))
}

func TestQuadrupole(t *testing.T) {
	gen := rng.NewRNG(11)
	x := gen.Blob(30, geom.Vec{}, 0.05)
	set := &particles.Set{}
	for i := range x {
		set.Append(uint64(i), x[i], 0.5+gen.Uniform(), 0)
	}
	tr, err := tree.Build(set, set.Bounds().Pad(0.01).Cube(),
		&config.TreeConfig{MaxParticlesPerLeaf: 100, MaxDepth: 1})
	require.NoError(t, err)
	mom := &tr.Nodes[0].Moments

	targets := []geom.Vec{{1, 0.3, 0.2}, {-0.4, 0.8, -0.1}, {0, 0, 1.5}}
	for _, target := range targets {
		exactAcc, exactPot := geom.Vec{}, 0.0
		s := Solver{G: 1}
		for i := range set.X {
			a, p := s.Pair(target, set.X[i], set.Mass[i])
			exactAcc, exactPot = exactAcc.Add(a), exactPot+p
		}

		monoAcc, monoPot := s.Node(target, mom)
		s.Quadrupole = true
		quadAcc, quadPot := s.Node(target, mom)

		monoErr := eq.RelDiff(monoAcc, exactAcc)
		quadErr := eq.RelDiff(quadAcc, exactAcc)
		assert.Less(t, quadErr, monoErr, "target %v", target)
		assert.Less(t, math.Abs(quadPot-exactPot), math.Abs(monoPot-exactPot),
			"target %v", target)
	}
}

func TestEvaluateExact(t *testing.T) {
	set := uniformSet(200, 10, 7)
	for _, soft := range []float64{0, 0.05} {
		s := Solver{Theta: 0, Softening: soft, G: 1, Quadrupole: true}
		wantAcc, wantPot := bruteForce(set, s)

		for size := 1; size <= 4; size++ {
			acc, pot, _ := evaluate(t, set, size, s, 4)
			if i := eq.VecsRel(acc, wantAcc, 1e-10); i != -1 {
				t.Errorf("size = %d, eps = %g: particle %d has acceleration "+
					"%v, expected %v.", size, soft, i, acc[i], wantAcc[i])
			}
			for i := range pot {
				d := math.Abs(pot[i]-wantPot[i]) / math.Abs(wantPot[i])
				if d > 1e-10 {
					t.Errorf("size = %d, eps = %g: particle %d has potential "+
						"%g, expected %g.", size, soft, i, pot[i], wantPot[i])
					break
				}
			}
		}
	}
}

func TestEvaluateConverges(t *testing.T) {
	set := uniformSet(400, 10, 3)
	exact, _ := bruteForce(set, Solver{G: 1})

	for _, size := range []int{1, 3} {
		for _, quad := range []bool{false, true} {
			prev := math.Inf(1)
			for _, theta := range []float64{0.9, 0.6, 0.3, 0.1} {
				s := Solver{Theta: theta, G: 1, Quadrupole: quad}
				acc, _, _ := evaluate(t, set, size, s, 8)
				err := meanRel(acc, exact)
				if err >= prev {
					t.Errorf("size = %d, quad = %v: mean error %g at theta "+
						"= %g is no better than %g.", size, quad, err, theta, prev)
				}
				prev = err
			}
			if prev > 1e-3 {
				t.Errorf("size = %d, quad = %v: mean error %g at theta = 0.1.",
					size, quad, prev)
			}
		}
	}
}

func TestEvaluateStats(t *testing.T) {
	n := 100
	set := uniformSet(n, 1, 5)

	_, _, stats := evaluate(t, set, 1, Solver{G: 1}, 4)
	assert.Equal(t, int64(n*(n-1)), stats[0].Interactions)
	assert.Equal(t, int64(0), stats[0].AcceptedNodes)
	assert.Equal(t, int64(0), stats[0].Rounds)
	assert.Equal(t, int64(0), stats[0].RemoteFetches)
	for i := range stats[0].PerParticle {
		require.Equal(t, int64(n-1), stats[0].PerParticle[i])
	}

	_, _, stats = evaluate(t, set, 3, Solver{G: 1}, 4)
	total := int64(0)
	for r := range stats {
		total += stats[r].Interactions
		assert.Equal(t, stats[0].Rounds, stats[r].Rounds)
		assert.True(t, stats[r].RemoteFetches > 0)
	}
	assert.Equal(t, int64(n*(n-1)), total)
	assert.True(t, stats[0].Rounds > 0)

	nBig := 3000
	big := uniformSet(nBig, 1, 6)
	_, _, stats = evaluate(t, big, 1, Solver{Theta: 0.8, G: 1}, 8)
	work := stats[0].Interactions + stats[0].AcceptedNodes
	assert.True(t, work < int64(nBig*(nBig-1)/4), "work = %d", work)
}

func TestSingleParticle(t *testing.T) {
	set := &particles.Set{}
	set.Append(0, geom.Vec{1, 2, 3}, 5, 0)
	for _, size := range []int{1, 3} {
		for _, theta := range []float64{0, 0.5} {
			acc, pot, _ := evaluate(t, set, size, Solver{Theta: theta, G: 1}, 1)
			assert.Equal(t, geom.Vec{}, acc[0], "size = %d", size)
			assert.Equal(t, 0.0, pot[0], "size = %d", size)
		}
	}
}

func TestEvaluateCanceled(t *testing.T) {
	set := uniformSet(10, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := comm.RunLocal(ctx, 2,
		func(ctx context.Context, c comm.Communicator) error {
			_, err := Evaluate(ctx, c, set, set.Bounds().Pad(0.01).Cube(),
				&config.TreeConfig{MaxParticlesPerLeaf: 1, MaxDepth: 5},
				Solver{G: 1}, 1)
			return err
		})
	assert.Error(t, err)
}
