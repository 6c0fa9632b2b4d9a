/*package gravity computes gravitational accelerations and potentials by
walking the trees of every rank.

A walk starts at the local root and at every other rank's root. Local nodes
are read directly. Remote nodes are fetched from their owners in rounds:
walks that need a node nobody has fetched yet put it aside and keep going,
and once every walk on every rank is either done or waiting, the missing
nodes are fetched together and the waiting walks resume.
*/
package gravity

import (
	"math"

	"github.com/phil-mansfield/ddgrav/lib/config"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/tree"
)

// Solver holds the force law and the opening criterion.
type Solver struct {
	// Theta is the opening angle. Nodes with width / distance < Theta are
	// accepted whole. Theta = 0 opens every node, giving an exact sum.
	Theta float64
	// Softening is the Plummer softening length.
	Softening float64
	G         float64
	// Quadrupole adds the quadrupole term to accepted nodes.
	Quadrupole bool
}

// NewSolver creates a Solver from the [Gravity] section of a config file.
func NewSolver(cfg *config.GravityConfig) (Solver, error) {
	s := Solver{
		Theta: cfg.OpeningAngle, Softening: cfg.Softening, G: cfg.G,
		Quadrupole: cfg.Quadrupole,
	}
	return s, s.Validate()
}

// Validate returns a Configuration error if s has no physical meaning.
func (s Solver) Validate() error {
	switch {
	case s.Theta < 0 || math.IsNaN(s.Theta):
		return ddgerr.ConfigErrorf("Opening angle must be >= 0, "+
			"but is %g.", s.Theta)
	case s.Softening < 0 || math.IsNaN(s.Softening):
		return ddgerr.ConfigErrorf("Softening must be >= 0, but is %g.",
			s.Softening)
	case !(s.G > 0):
		return ddgerr.ConfigErrorf("G must be > 0, but is %g.", s.G)
	}
	return nil
}

// Pair returns the acceleration and potential at x due to a point mass m at
// y. Coincident points with no softening contribute nothing.
func (s Solver) Pair(x, y geom.Vec, m float64) (geom.Vec, float64) {
	d := x.Sub(y)
	r2 := d.Norm2() + s.Softening*s.Softening
	if r2 == 0 {
		return geom.Vec{}, 0
	}
	inv := 1 / math.Sqrt(r2)
	gm := s.G * m * inv
	return d.Scale(-gm * inv * inv), -gm
}

// Accept returns true if a node with the given bounding box and center of
// mass may stand in for its contents at x. Nodes containing x are always
// opened.
func (s Solver) Accept(x geom.Vec, box geom.Box, com geom.Vec) bool {
	if box.Contains(x) {
		return false
	}
	dist := x.Sub(com).Norm()
	return box.MaxWidth() < s.Theta*dist
}

// Node returns the acceleration and potential at x due to a node with the
// given moments.
func (s Solver) Node(x geom.Vec, mom *tree.Moments) (geom.Vec, float64) {
	acc, pot := s.Pair(x, mom.COM, mom.Mass)
	if !s.Quadrupole || mom.Count < 2 {
		return acc, pot
	}

	r := x.Sub(mom.COM)
	r2 := r.Norm2() + s.Softening*s.Softening
	if r2 == 0 {
		return acc, pot
	}
	inv2 := 1 / r2
	inv5 := inv2 * inv2 / math.Sqrt(r2)
	qr := mom.QuadApply(r)
	rqr := r.Dot(qr)

	acc = acc.Add(qr.Scale(s.G * inv5))
	acc = acc.Add(r.Scale(-2.5 * s.G * rqr * inv5 * inv2))
	pot -= 0.5 * s.G * rqr * inv5
	return acc, pot
}
