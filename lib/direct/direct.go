/*package direct computes exact pairwise gravity and compares other
estimates against it. It's O(n^2) in the global particle count and is used
to validate tree walks, not to replace them.
*/
package direct

import (
	"context"
	"math"

	"github.com/phil-mansfield/gravitree"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/phil-mansfield/ddgrav/lib/comm"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/gravity"
	"github.com/phil-mansfield/ddgrav/lib/particles"
	"github.com/phil-mansfield/ddgrav/lib/thread"
)

// Compute all-gathers every rank's particles and returns the acceleration
// and potential of each local particle due to every other particle. Pairs
// are skipped by ID, so a particle never acts on itself. Every rank must
// call Compute.
func Compute(
	ctx context.Context, c comm.Communicator, set *particles.Set,
	s gravity.Solver, workers int,
) ([]geom.Vec, []float64, error) {
	parts, err := c.AllGather(ctx, set.Encode(nil))
	if err != nil {
		return nil, nil, err
	}
	all := &particles.Set{}
	for _, part := range parts {
		if err := particles.DecodeRecords(part, all); err != nil {
			return nil, nil, err
		}
	}

	acc, pot := make([]geom.Vec, set.Len()), make([]float64, set.Len())
	thread.For(set.Len(), workers, func(i, _ int) {
		x, id := set.X[i], set.ID[i]
		for j := range all.ID {
			if all.ID[j] == id {
				continue
			}
			a, p := s.Pair(x, all.X[j], all.Mass[j])
			acc[i], pot[i] = acc[i].Add(a), pot[i]+p
		}
	})
	return acc, pot, nil
}

// Report summarizes the relative differences between two sets of vectors.
// Relative differences are |a - b| / (|a| + |b|), so they lie in [0, 1] and
// are symmetric.
type Report struct {
	MaxRel, MeanRel, RMSRel float64
	// MeanMagRel is the mean relative difference in magnitude.
	MeanMagRel float64
	// MaxErr and MeanErr measure the error against want alone,
	// |got - want| / |want|. Unlike the symmetric differences they aren't
	// bounded.
	MaxErr, MeanErr float64
}

const relFloor = 1e-15

// Compare reports how far got is from want.
func Compare(got, want []geom.Vec) (Report, error) {
	if len(got) != len(want) {
		return Report{}, ddgerr.ConfigErrorf("Comparing %d vectors to %d.",
			len(got), len(want))
	} else if len(got) == 0 {
		return Report{}, nil
	}

	rel, mag := make([]float64, len(got)), make([]float64, len(got))
	errs := make([]float64, len(got))
	for i := range got {
		a, b := got[i].Norm(), want[i].Norm()
		d := got[i].Sub(want[i]).Norm()
		rel[i] = d / (a + b + relFloor)
		mag[i] = math.Abs(a-b) / (a + b + relFloor)
		errs[i] = d / (b + relFloor)
	}

	return Report{
		MaxRel:     floats.Max(rel),
		MeanRel:    stat.Mean(rel, nil),
		RMSRel:     floats.Norm(rel, 2) / math.Sqrt(float64(len(rel))),
		MeanMagRel: stat.Mean(mag, nil),
		MaxErr:     floats.Max(errs),
		MeanErr:    stat.Mean(errs, nil),
	}, nil
}

// TreePotential returns the potential of every point in x due to every other
// point using gravitree, with unit masses, G = 1 and Plummer softening.
// gravitree's tree is monopole-only and opens nodes by its own criterion, so
// the result is a cross-check, not an exact reference.
func TreePotential(x []geom.Vec, eps float64) []float64 {
	pe := make([]float64, len(x))
	if len(x) == 0 {
		return pe
	}
	dx := make([][3]float64, len(x))
	for i := range x {
		dx[i] = x[i]
	}
	tr := gravitree.NewTree(dx)
	dropBlankNodes(tr)
	tr.Potential(eps, pe)
	return pe
}

// dropBlankNodes removes the zero-valued nodes gravitree v1.0.0's NewTree
// leaves in front of the real root. Potential walks from Nodes[0], and with
// them in place every point sees a massless root and gets a potential of 0.
func dropBlankNodes(tr *gravitree.Tree) {
	k := 0
	for k < len(tr.Nodes) && tr.Nodes[k].End == tr.Nodes[k].Start {
		k++
	}
	if k == 0 || k == len(tr.Nodes) {
		return
	}

	tr.Nodes = tr.Nodes[k:]
	for i := range tr.Nodes {
		if tr.Nodes[i].Left != -1 {
			tr.Nodes[i].Left -= k
			tr.Nodes[i].Right -= k
		}
	}
	tr.Root = &tr.Nodes[0]
}
