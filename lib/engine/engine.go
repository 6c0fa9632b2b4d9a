/*package engine runs one gravity step at a time for a host simulation: it
keeps the domain decomposition current, moves particles to their owners, and
computes forces on them.

The host decides when to call Step. Between steps, other parts of the host
may read the current GlobalExtent and Assignment.
*/
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	"github.com/phil-mansfield/ddgrav/lib/domain"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/gravity"
	"github.com/phil-mansfield/ddgrav/lib/logging"
	"github.com/phil-mansfield/ddgrav/lib/metrics"
	"github.com/phil-mansfield/ddgrav/lib/particles"
	"github.com/phil-mansfield/ddgrav/lib/thread"
)

// Engine holds the state one rank keeps between steps.
type Engine struct {
	c       comm.Communicator
	dec     *domain.Decomposition
	solver  gravity.Solver
	tree    config.TreeConfig
	workers int
	log     *zap.Logger
	m       *metrics.Metrics
	steps   int
}

// StepResult is everything one step produced on one rank. Acc, Pot and
// Particles are aligned.
type StepResult struct {
	// Particles is the rank's particle set after migration, with Work set to
	// the cost of each particle's walk.
	Particles  *particles.Set
	Acc        []geom.Vec
	Pot        []float64
	Rebalanced bool
	Migration  domain.MigrationStats
	Stats      gravity.Stats
	Extent     domain.GlobalExtent
	Assignment domain.Assignment
}

// New creates an Engine for the calling rank. log and m may be nil. cfg
// isn't modified, so ranks in one process may share it.
func New(
	c comm.Communicator, cfgIn *config.Config, log *zap.Logger,
	m *metrics.Metrics,
) (*Engine, error) {
	cfg := *cfgIn
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logging.OrNop(log)

	solver, err := gravity.NewSolver(&cfg.Gravity)
	if err != nil {
		return nil, err
	}
	dec, err := domain.NewFromConfig(c, &cfg.Decomposition, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		c: c, dec: dec, solver: solver, tree: cfg.Tree,
		workers: thread.Workers(cfg.Run.Threads), log: log, m: m,
	}, nil
}

// Step advances the engine by one step using the calling rank's particles.
// Every rank must call Step. set is not modified; the particles this rank
// owns afterwards are in the result.
func (e *Engine) Step(
	ctx context.Context, set *particles.Set,
) (*StepResult, error) {
	start := time.Now()
	if err := set.Validate(); err != nil {
		return nil, err
	}

	upd, err := e.dec.Update(ctx, set)
	if err != nil {
		return nil, err
	}

	res, err := gravity.Evaluate(ctx, e.c, upd.Particles, upd.Extent.Cube(),
		&e.tree, e.solver, e.workers)
	if err != nil {
		return nil, err
	}

	owned := upd.Particles
	for i := range owned.Work {
		owned.Work[i] = float64(res.Stats.PerParticle[i])
	}

	dt := time.Since(start)
	st := &res.Stats
	e.m.Walk(e.c.Rank(), st.AcceptedNodes, st.Interactions,
		st.RemoteFetches, st.Rounds)
	e.m.Step(e.c.Rank(), upd.Migration.Sent, upd.Rebalanced, dt)

	e.log.Info("step",
		zap.Int("step", e.steps),
		zap.Stringer("extent", upd.Extent.Box),
		zap.Int64("global", upd.Extent.N),
		zap.Int("owned", owned.Len()),
		zap.Bool("rebalanced", upd.Rebalanced),
		zap.Int("sent", upd.Migration.Sent),
		zap.Int("received", upd.Migration.Received),
		zap.Int64("interactions", st.Interactions),
		zap.Int64("accepted", st.AcceptedNodes),
		zap.Int64("rounds", st.Rounds),
		zap.Duration("elapsed", dt))
	e.steps++

	return &StepResult{
		Particles: owned, Acc: res.Acc, Pot: res.Pot,
		Rebalanced: upd.Rebalanced, Migration: upd.Migration,
		Stats: res.Stats, Extent: upd.Extent, Assignment: upd.Assignment,
	}, nil
}

// GlobalExtent returns the extent of every particle as of the last Step.
// ok is false before the first Step.
func (e *Engine) GlobalExtent() (domain.GlobalExtent, bool) {
	return e.dec.GlobalExtent()
}

// Assignment returns the partition of space as of the last Step, or nil
// before the first Step.
func (e *Engine) Assignment() domain.Assignment {
	return e.dec.Assignment()
}

// SetOpeningAngle changes the opening angle used by later steps. Unlike a
// config file, it accepts 0, which makes every step an exact pairwise sum.
func (e *Engine) SetOpeningAngle(theta float64) error {
	s := e.solver
	s.Theta = theta
	if err := s.Validate(); err != nil {
		return err
	}
	e.solver = s
	return nil
}

// Steps returns the number of completed steps.
func (e *Engine) Steps() int { return e.steps }
