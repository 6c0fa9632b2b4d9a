/*package lib contains the parts of the ddgrav binary which sit above the
engine: reading the command line, checking configs, connecting ranks, and
driving a run. Almost all of the heavy lifting is done by lib/'s subpackages.
*/
package lib

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	"github.com/phil-mansfield/ddgrav/lib/direct"
	"github.com/phil-mansfield/ddgrav/lib/engine"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/gravity"
	"github.com/phil-mansfield/ddgrav/lib/logging"
	"github.com/phil-mansfield/ddgrav/lib/metrics"
	"github.com/phil-mansfield/ddgrav/lib/thread"
)

// Version is the version of the software.
var Version = "0.1.0"

// Summary describes a finished run from the point of view of one rank.
// Totals are global.
type Summary struct {
	Rank, Size int
	// Owned is the number of particles the rank held after the last step.
	Owned int
	Steps int
	// Interactions and AcceptedNodes are summed over every rank and step.
	Interactions, AcceptedNodes int64
	// Validated is true if Report holds a comparison against a direct sum.
	Validated bool
	Report    direct.Report
}

// Simulate runs cfg.Run.Steps steps on the calling rank starting from
// InitialConditions. If validate is set, the last step's accelerations are
// compared against a direct sum. Every rank must call Simulate.
func Simulate(
	ctx context.Context, c comm.Communicator, cfg *config.Config,
	validate bool, log *zap.Logger, m *metrics.Metrics,
) (*Summary, error) {
	log = logging.OrNop(log)
	e, err := engine.New(c, cfg, log, m)
	if err != nil {
		return nil, err
	}

	set, err := InitialConditions(&cfg.Run, c.Rank(), c.Size())
	if err != nil {
		return nil, err
	}
	var last *engine.StepResult
	work := []int64{0, 0}
	for step := 0; step < cfg.Run.Steps; step++ {
		if last, err = e.Step(ctx, set); err != nil {
			return nil, err
		}
		set = last.Particles
		work[0] += last.Stats.Interactions
		work[1] += last.Stats.AcceptedNodes
	}

	work, err = comm.AllReduceInts(ctx, c, work, comm.OpSum)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		Rank: c.Rank(), Size: c.Size(), Owned: set.Len(),
		Steps: cfg.Run.Steps, Interactions: work[0], AcceptedNodes: work[1],
	}

	if !validate || last == nil {
		return sum, nil
	}
	solver, err := gravity.NewSolver(&cfg.Gravity)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	want, _, err := direct.Compute(ctx, c, set, solver,
		thread.Workers(cfg.Run.Threads))
	if err != nil {
		return nil, err
	}
	sum.Report, err = globalReport(ctx, c, last.Acc, want)
	if err != nil {
		return nil, err
	}
	sum.Validated = true
	log.Debug("validated", zap.Duration("elapsed", time.Since(start)))
	return sum, nil
}

// globalReport combines every rank's comparison into one Report.
func globalReport(
	ctx context.Context, c comm.Communicator, got, want []geom.Vec,
) (direct.Report, error) {
	rep, err := direct.Compare(got, want)
	if err != nil {
		return rep, err
	}
	n := float64(len(got))
	sums, err := c.AllReduce(ctx, []float64{
		n, n * rep.MeanRel, n * rep.MeanMagRel, n * rep.RMSRel * rep.RMSRel,
		n * rep.MeanErr,
	}, comm.OpSum)
	if err != nil {
		return rep, err
	}
	max, err := c.AllReduce(ctx, []float64{rep.MaxRel, rep.MaxErr}, comm.OpMax)
	if err != nil {
		return rep, err
	}

	out := direct.Report{MaxRel: max[0], MaxErr: max[1]}
	if sums[0] > 0 {
		out.MeanRel = sums[1] / sums[0]
		out.MeanMagRel = sums[2] / sums[0]
		out.RMSRel = math.Sqrt(sums[3] / sums[0])
		out.MeanErr = sums[4] / sums[0]
	}
	return out, nil
}

// Connect returns the Communicator for a single worker process.
func Connect(
	ctx context.Context, args *Args, cfg *config.Config, log *zap.Logger,
) (comm.Communicator, error) {
	switch cfg.Run.Backend {
	case "tcp":
		return comm.DialTCP(ctx, args.Rank, cfg.Run.Address,
			tcpOptions(cfg, log))
	case "mpi":
		return mpiWorld(cfg)
	}
	return nil, ddgerr.ConfigErrorf("Workers can't use the '%s' backend.",
		cfg.Run.Backend)
}

// RunAll runs f once for every rank of cfg's run from this process. Local
// ranks share channels; tcp ranks each connect to their own Run.Address;
// an mpi process only runs its own rank. The first error stops every rank.
func RunAll(
	ctx context.Context, cfg *config.Config,
	f func(ctx context.Context, c comm.Communicator) error,
) error {
	switch cfg.Run.Backend {
	case "local":
		return comm.RunLocal(ctx, cfg.Run.Ranks, f)
	case "mpi":
		c, err := mpiWorld(cfg)
		if err != nil {
			return err
		}
		defer c.Close()
		return f(ctx, c)
	}

	g, ctx := errgroup.WithContext(ctx)
	for r := 0; r < cfg.Run.Ranks; r++ {
		r := r
		g.Go(func() error {
			c, err := comm.DialTCP(ctx, r, cfg.Run.Address,
				tcpOptions(cfg, nil))
			if err != nil {
				return err
			}
			defer c.Close()
			return f(ctx, c)
		})
	}
	return g.Wait()
}

// mpiWorld joins MPI_COMM_WORLD, which has to be the size cfg asks for.
func mpiWorld(cfg *config.Config) (comm.Communicator, error) {
	c, err := comm.NewMPI()
	if err != nil {
		return nil, err
	}
	if err := checkWorld(c, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// checkWorld returns a Configuration error if c doesn't have Run.Ranks
// ranks. The launcher picks the MPI world size, not ddgrav.
func checkWorld(c comm.Communicator, cfg *config.Config) error {
	if c.Size() != cfg.Run.Ranks {
		return ddgerr.ConfigErrorf("The run is configured for %d ranks, "+
			"but the launcher started %d. Set Run.Ranks to the number of "+
			"processes given to mpirun.", cfg.Run.Ranks, c.Size())
	}
	return nil
}

func tcpOptions(cfg *config.Config, log *zap.Logger) comm.TCPOptions {
	opts := comm.TCPOptions{
		Timeout: time.Duration(cfg.Run.TimeoutSeconds * float64(time.Second)),
		Log:     log,
	}
	if cfg.Run.Compress {
		opts.CompressThreshold = comm.DefaultCompressThreshold
	}
	return opts
}
