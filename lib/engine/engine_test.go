package engine

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	"github.com/phil-mansfield/ddgrav/lib/direct"
	"github.com/phil-mansfield/ddgrav/lib/domain"
	"github.com/phil-mansfield/ddgrav/lib/eq"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/gravity"
	"github.com/phil-mansfield/ddgrav/lib/metrics"
	"github.com/phil-mansfield/ddgrav/lib/particles"
	"github.com/phil-mansfield/ddgrav/lib/rng"
)

func cube(n int, side float64, seed uint64) *particles.Set {
	x := rng.NewRNG(seed).UniformBox(n, geom.Box{Max: geom.Vec{side, side, side}})
	s := &particles.Set{}
	for i := range x {
		s.Append(uint64(i), x[i], 1, 0)
	}
	return s
}

func exactAcc(set *particles.Set) []geom.Vec {
	s := gravity.Solver{G: 1}
	acc := make([]geom.Vec, set.Len())
	for i := range set.X {
		for j := range set.X {
			if i != j {
				a, _ := s.Pair(set.X[i], set.X[j], set.Mass[j])
				acc[i] = acc[i].Add(a)
			}
		}
	}
	return acc
}

// launcher runs f on size connected ranks.
type launcher func(
	ctx context.Context, size int,
	f func(ctx context.Context, c comm.Communicator) error,
) error

// tcpLauncher connects ranks over loopback TCP instead of channels.
func tcpLauncher(t *testing.T, opts comm.TCPOptions) launcher {
	return func(
		ctx context.Context, size int,
		f func(ctx context.Context, c comm.Communicator) error,
	) error {
		lns := make([]net.Listener, size)
		addrs := make([]string, size)
		for r := range lns {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			lns[r], addrs[r] = ln, ln.Addr().String()
		}

		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		for r := 0; r < size; r++ {
			r := r
			g.Go(func() error {
				c, err := comm.ConnectTCP(gctx, r, lns[r], addrs, opts)
				if err != nil {
					return err
				}
				defer c.Close()
				if err := f(gctx, c); err != nil {
					return err
				}
				return comm.Barrier(gctx, c)
			})
		}
		return g.Wait()
	}
}

// run deals set out round-robin to size ranks, runs steps steps and returns
// the last step's accelerations indexed by ID. check, if non-nil, is called
// on every rank after every step.
func run(
	t *testing.T, set *particles.Set, size int, cfg *config.Config,
	theta float64, steps int, m *metrics.Metrics,
	check func(c comm.Communicator, e *Engine, step int, res *StepResult),
) []geom.Vec {
	return runWith(t, comm.RunLocal, set, size, cfg, theta, steps, m, check)
}

func runWith(
	t *testing.T, launch launcher, set *particles.Set, size int,
	cfg *config.Config, theta float64, steps int, m *metrics.Metrics,
	check func(c comm.Communicator, e *Engine, step int, res *StepResult),
) []geom.Vec {
	acc := make([]geom.Vec, set.Len())
	err := launch(context.Background(), size,
		func(ctx context.Context, c comm.Communicator) error {
			local := &particles.Set{}
			for i := c.Rank(); i < set.Len(); i += size {
				local.AppendFrom(set, i)
			}

			e, err := New(c, cfg, nil, m)
			if err != nil {
				return err
			}
			if err := e.SetOpeningAngle(theta); err != nil {
				return err
			}

			for step := 0; step < steps; step++ {
				res, err := e.Step(ctx, local)
				if err != nil {
					return err
				}
				if check != nil {
					check(c, e, step, res)
				}
				local = res.Particles
				if step == steps-1 {
					for j, id := range local.ID {
						acc[id] = res.Acc[j]
					}
				}
			}
			return nil
		})
	require.NoError(t, err, "size = %d", size)
	return acc
}

func TestEndToEnd(t *testing.T) {
	set := cube(1000, 10, 42)
	want := exactAcc(set)
	cfg := config.Default()

	got := run(t, set, 4, cfg, 0.5, 1, nil, nil)
	rep, err := direct.Compare(got, want)
	require.NoError(t, err)
	assert.True(t, rep.MeanErr < 0.01, "%+v", rep)

	// The same bound, measured by hand against the exact sum.
	sum := 0.0
	for i := range got {
		sum += got[i].Sub(want[i]).Norm() / want[i].Norm()
	}
	assert.Less(t, sum/float64(len(got)), 0.01)
}

func TestTCPMatchesLocal(t *testing.T) {
	set := cube(500, 10, 11)
	want := exactAcc(set)
	cfg := config.Default()

	local := run(t, set, 3, cfg, 0.5, 2, nil, nil)
	tcp := runWith(t, tcpLauncher(t, comm.TCPOptions{CompressThreshold: 256}),
		set, 3, cfg, 0.5, 2, nil, nil)

	if i := eq.VecsRel(tcp, local, 1e-12); i != -1 {
		t.Errorf("particle %d has %v over TCP and %v locally.",
			i, tcp[i], local[i])
	}
	rep, err := direct.Compare(tcp, want)
	require.NoError(t, err)
	assert.True(t, rep.MeanErr < 0.01, "%+v", rep)
}

func TestExactIsRankIndependent(t *testing.T) {
	set := cube(300, 10, 7)
	want := exactAcc(set)

	for _, scheme := range []string{"hilbert", "slab"} {
		cfg := config.Default()
		cfg.Decomposition.Scheme = scheme
		one := run(t, set, 1, cfg, 0, 1, nil, nil)
		four := run(t, set, 4, cfg, 0, 1, nil, nil)

		if i := eq.VecsRel(one, want, 1e-10); i != -1 {
			t.Errorf("%s, 1 rank: particle %d has %v, expected %v.",
				scheme, i, one[i], want[i])
		}
		if i := eq.VecsRel(four, one, 1e-10); i != -1 {
			t.Errorf("%s, 4 ranks: particle %d has %v, 1 rank has %v.",
				scheme, i, four[i], one[i])
		}
	}
}

func TestSteps(t *testing.T) {
	set := cube(400, 10, 3)
	cfg := config.Default()
	cfg.Decomposition.RebalanceInterval = 2
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mu := sync.Mutex{}
	rebalanced := map[int][]bool{}
	run(t, set, 3, cfg, 0.5, 4, m,
		func(c comm.Communicator, e *Engine, step int, res *StepResult) {
			mu.Lock()
			rebalanced[c.Rank()] = append(rebalanced[c.Rank()], res.Rebalanced)
			mu.Unlock()

			ext, ok := e.GlobalExtent()
			assert.True(t, ok)
			assert.Equal(t, int64(400), ext.N)
			assert.Equal(t, res.Extent, ext)
			assert.True(t, e.Assignment().Equal(res.Assignment))
			assert.Equal(t, step+1, e.Steps())

			for i := range res.Particles.X {
				if o := res.Assignment.Owner(res.Particles.X[i]); o != c.Rank() {
					t.Errorf("rank %d: particle %d belongs to rank %d.",
						c.Rank(), res.Particles.ID[i], o)
					break
				}
				if res.Particles.Work[i] <= 0 {
					t.Errorf("rank %d: particle %d has no work recorded.",
						c.Rank(), res.Particles.ID[i])
					break
				}
			}
			assert.Len(t, res.Acc, res.Particles.Len())
			assert.Len(t, res.Pot, res.Particles.Len())
		})

	for r := 0; r < 3; r++ {
		assert.Equal(t, []bool{true, false, true, false}, rebalanced[r])
		assert.Equal(t, 4.0, testutil.ToFloat64(m.Steps.WithLabelValues(
			[]string{"0", "1", "2"}[r])))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.Rebalances.WithLabelValues(
			[]string{"0", "1", "2"}[r])))
	}
}

func TestOwnershipAfterStep(t *testing.T) {
	set := cube(200, 10, 9)
	err := comm.RunLocal(context.Background(), 4,
		func(ctx context.Context, c comm.Communicator) error {
			local := &particles.Set{}
			for i := c.Rank(); i < set.Len(); i += 4 {
				local.AppendFrom(set, i)
			}
			e, err := New(c, config.Default(), nil, nil)
			if err != nil {
				return err
			}
			if _, ok := e.GlobalExtent(); ok {
				t.Errorf("extent available before the first step.")
			}
			if e.Assignment() != nil {
				t.Errorf("assignment available before the first step.")
			}
			res, err := e.Step(ctx, local)
			if err != nil {
				return err
			}
			return domain.CheckOwnership(ctx, c, res.Particles)
		})
	require.NoError(t, err)
}

func TestSingleParticle(t *testing.T) {
	set := &particles.Set{}
	set.Append(0, geom.Vec{4, 5, 6}, 1, 0)
	for _, theta := range []float64{0, 0.5} {
		acc := run(t, set, 2, config.Default(), theta, 1, nil, nil)
		assert.Equal(t, geom.Vec{}, acc[0])
	}
}

func TestErrors(t *testing.T) {
	err := comm.RunLocal(context.Background(), 2,
		func(ctx context.Context, c comm.Communicator) error {
			cfg := config.Default()
			cfg.Gravity.OpeningAngle = 0
			if _, err := New(c, cfg, nil, nil); ddgerr.KindOf(err) != ddgerr.Configuration {
				t.Errorf("OpeningAngle = 0 gave %v.", err)
			}

			e, err := New(c, config.Default(), nil, nil)
			if err != nil {
				return err
			}
			if err := e.SetOpeningAngle(-1); ddgerr.KindOf(err) != ddgerr.Configuration {
				t.Errorf("SetOpeningAngle(-1) gave %v.", err)
			}

			// Nobody has particles.
			_, err = e.Step(ctx, &particles.Set{})
			if ddgerr.KindOf(err) != ddgerr.Configuration {
				t.Errorf("empty run gave %v.", err)
			}
			return nil
		})
	require.NoError(t, err)
}
