package domain

import (
	"context"
	"sort"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/particles"
)

// Relocation records a particle leaving this rank.
type Relocation struct {
	ID       uint64
	From, To int
}

// MigrationStats describes one call to Migrate on one rank.
type MigrationStats struct {
	Sent, Received int
	// Relocations lists every particle this rank sent away.
	Relocations []Relocation
}

// Migrate sends every particle that asn assigns to another rank to that
// rank. Particles that stay keep their relative order and come first in the
// returned set, followed by arriving particles in order of source rank.
// Every rank must call Migrate.
//
// Afterwards Migrate checks that every local particle is owned by this rank
// and that no particle was lost or duplicated globally. A violation of either
// is an Invariant error.
func Migrate(
	ctx context.Context, c comm.Communicator, set *particles.Set,
	asn Assignment,
) (*particles.Set, MigrationStats, error) {
	rank, size := c.Rank(), c.Size()
	stats := MigrationStats{}
	if asn.Size() != size {
		return nil, stats, ddgerr.InvariantErrorf("Assignment covers %d "+
			"ranks, but the run has %d.", asn.Size(), size)
	}

	out := make([]comm.Records, size)
	keep := make([]int, 0, set.Len())
	for i := range set.ID {
		o := asn.Owner(set.X[i])
		if o == rank {
			keep = append(keep, i)
			continue
		}
		out[o] = append(out[o], set.EncodeRecord(nil, i))
		stats.Relocations = append(stats.Relocations,
			Relocation{ID: set.ID[i], From: rank, To: o})
	}
	stats.Sent = len(stats.Relocations)

	in, err := comm.Exchange(ctx, c, out)
	if err != nil {
		return nil, stats, err
	}

	next, err := set.Subset(keep)
	if err != nil {
		return nil, stats, err
	}
	for src := range in {
		for _, rec := range in[src] {
			if err := particles.DecodeRecords(rec, next); err != nil {
				return nil, stats, err
			}
			stats.Received++
		}
	}

	for i := range next.ID {
		if o := asn.Owner(next.X[i]); o != rank {
			return nil, stats, ddgerr.InvariantErrorf("After migration, "+
				"particle %d at %v is on rank %d but owned by rank %d.",
				next.ID[i], next.X[i], rank, o)
		}
	}

	counts, err := comm.AllReduceInts(ctx, c,
		[]int64{int64(set.Len()), int64(next.Len())}, comm.OpSum)
	if err != nil {
		return nil, stats, err
	}
	if counts[0] != counts[1] {
		return nil, stats, ddgerr.InvariantErrorf("Migration changed the "+
			"global particle count from %d to %d.", counts[0], counts[1])
	}

	return next, stats, nil
}

// CheckOwnership all-gathers every rank's IDs and returns an Invariant error
// if any ID is held by more than one rank. It is a diagnostic: it moves every
// ID to every rank.
func CheckOwnership(
	ctx context.Context, c comm.Communicator, set *particles.Set,
) error {
	ids := &particles.Set{}
	for i := range set.ID {
		ids.Append(set.ID[i], set.X[i], 0, 0)
	}
	parts, err := c.AllGather(ctx, ids.Encode(nil))
	if err != nil {
		return err
	}

	type holder struct {
		id   uint64
		rank int
	}
	all := []holder{}
	for r, part := range parts {
		s := &particles.Set{}
		if err := particles.DecodeRecords(part, s); err != nil {
			return err
		}
		for _, id := range s.ID {
			all = append(all, holder{id, r})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	for i := 1; i < len(all); i++ {
		if all[i].id == all[i-1].id {
			return ddgerr.InvariantErrorf("Particle %d is owned by both "+
				"rank %d and rank %d.", all[i].id, all[i-1].rank, all[i].rank)
		}
	}
	return nil
}
