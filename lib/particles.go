package lib

/* particles.go generates or reads the initial conditions used by "run"
mode. */

import (
	"github.com/phil-mansfield/ddgrav/lib/config"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
	"github.com/phil-mansfield/ddgrav/lib/rng"
	"github.com/phil-mansfield/ddgrav/lib/snapio"
)

// InitialConditions returns rank's share of the run's starting particles.
// If cfg.Snapshot is set they're read from that Gadget-2 file. Otherwise
// cfg.Particles unit-mass particles are drawn uniformly from a cube of side
// cfg.BoxSize, with every rank drawing the same sequence so that IDs are
// consistent across ranks. Either way, particles are dealt round-robin, so
// every rank starts with particles all over the box and the first step has
// to migrate most of them.
func InitialConditions(
	cfg *config.RunConfig, rank, size int,
) (*particles.Set, error) {
	var all *particles.Set
	if cfg.Snapshot != "" {
		var err error
		if all, _, err = snapio.ReadGadget2(cfg.Snapshot); err != nil {
			return nil, err
		}
	} else {
		box := geom.Box{Max: geom.Vec{cfg.BoxSize, cfg.BoxSize, cfg.BoxSize}}
		x := rng.NewRNG(uint64(cfg.Seed)).UniformBox(cfg.Particles, box)
		all = &particles.Set{}
		for i := range x {
			all.Append(uint64(i), x[i], 1, 0)
		}
	}

	set := &particles.Set{}
	for i := rank; i < all.Len(); i += size {
		set.AppendFrom(all, i)
	}
	return set, nil
}
