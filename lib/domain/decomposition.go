package domain

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	"github.com/phil-mansfield/ddgrav/lib/config"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/logging"
	"github.com/phil-mansfield/ddgrav/lib/particles"
)

// Decomposition owns a run's partition of space. Other components read its
// GlobalExtent and Assignment but only Update changes them, and Update is
// never called while a force pass is reading them.
type Decomposition struct {
	c        comm.Communicator
	scheme   Scheme
	padding  float64
	interval int
	log      *zap.Logger

	mu     sync.RWMutex
	extent GlobalExtent
	asn    Assignment
	steps  int
}

// Update holds what one call to Decomposition.Update did.
type Update struct {
	Particles  *particles.Set
	Extent     GlobalExtent
	Assignment Assignment
	Rebalanced bool
	Migration  MigrationStats
}

// New creates a Decomposition which re-partitions every interval steps.
func New(
	c comm.Communicator, scheme Scheme, padding float64, interval int,
	log *zap.Logger,
) (*Decomposition, error) {
	if interval < 1 {
		return nil, ddgerr.ConfigErrorf("Rebalance interval must be >= 1, "+
			"but is %d.", interval)
	} else if padding < 0 {
		return nil, ddgerr.ConfigErrorf("Padding must be >= 0, but is %g.",
			padding)
	}
	return &Decomposition{
		c: c, scheme: scheme, padding: padding, interval: interval,
		log: logging.OrNop(log),
	}, nil
}

// NewFromConfig creates a Decomposition from the [Decomposition] section of
// a config file.
func NewFromConfig(
	c comm.Communicator, cfg *config.DecompositionConfig, log *zap.Logger,
) (*Decomposition, error) {
	scheme, err := SchemeFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return New(c, scheme, cfg.Padding, cfg.RebalanceInterval, log)
}

// GlobalExtent returns the extent computed by the latest Update. ok is false
// before the first Update.
func (d *Decomposition) GlobalExtent() (ext GlobalExtent, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.extent, d.asn != nil
}

// Assignment returns the partition from the latest Update, or nil before the
// first one.
func (d *Decomposition) Assignment() Assignment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.asn
}

// Update recomputes the global extent, re-partitions if the first Update or
// every interval-th one, and migrates particles to their owners. Every rank
// must call it.
func (d *Decomposition) Update(
	ctx context.Context, set *particles.Set,
) (*Update, error) {
	ext, err := DetermineGlobalExtent(ctx, d.c, set, d.padding)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	asn, rebalanced := d.asn, false
	if asn == nil || d.steps%d.interval == 0 {
		asn, err = d.scheme.Decompose(ctx, d.c, set, ext)
		if err != nil {
			return nil, err
		}
		rebalanced = true
		d.log.Debug("decomposed",
			zap.String("scheme", d.scheme.Name()),
			zap.Stringer("assignment", asn))
	}

	next, stats, err := Migrate(ctx, d.c, set, asn)
	if err != nil {
		return nil, err
	}

	d.extent, d.asn = ext, asn
	d.steps++

	d.log.Debug("migrated",
		zap.Int("sent", stats.Sent), zap.Int("received", stats.Received),
		zap.Int("owned", next.Len()))

	return &Update{
		Particles: next, Extent: ext, Assignment: asn,
		Rebalanced: rebalanced, Migration: stats,
	}, nil
}
