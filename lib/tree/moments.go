package tree

import (
	"github.com/phil-mansfield/ddgrav/lib/geom"
)

// Quadrupole indices.
const (
	XX = iota
	YY
	ZZ
	XY
	XZ
	YZ
)

// Moments is the multipole expansion of a group of particles about its
// center of mass: total mass, center of mass, and the traceless quadrupole
// Q_ij = sum m (3 d_i d_j - |d|^2 delta_ij), d being the displacement from
// the center of mass.
type Moments struct {
	Mass  float64
	COM   geom.Vec
	Quad  [6]float64
	Count int64
}

// momentsOf computes the moments of a group of particles directly.
func momentsOf(x []geom.Vec, m []float64, idx []int32) Moments {
	mom := Moments{Count: int64(len(idx))}
	for _, i := range idx {
		mom.Mass += m[i]
		mom.COM = mom.COM.Add(x[i].Scale(m[i]))
	}
	if mom.Mass > 0 {
		mom.COM = mom.COM.Scale(1 / mom.Mass)
	} else if len(idx) > 0 {
		// Massless groups still need a position for the opening test.
		for _, i := range idx {
			mom.COM = mom.COM.Add(x[i])
		}
		mom.COM = mom.COM.Scale(1 / float64(len(idx)))
	}

	for _, i := range idx {
		addQuad(&mom.Quad, x[i].Sub(mom.COM), m[i])
	}
	return mom
}

// merge combines the moments of child groups using the parallel axis
// theorem.
func merge(children []Moments) Moments {
	mom := Moments{}
	for _, c := range children {
		mom.Mass += c.Mass
		mom.Count += c.Count
		mom.COM = mom.COM.Add(c.COM.Scale(c.Mass))
	}
	if mom.Mass > 0 {
		mom.COM = mom.COM.Scale(1 / mom.Mass)
	} else {
		n := 0.0
		for _, c := range children {
			if c.Count > 0 {
				mom.COM, n = mom.COM.Add(c.COM), n+1
			}
		}
		if n > 0 {
			mom.COM = mom.COM.Scale(1 / n)
		}
	}

	for _, c := range children {
		for k := range mom.Quad {
			mom.Quad[k] += c.Quad[k]
		}
		addQuad(&mom.Quad, c.COM.Sub(mom.COM), c.Mass)
	}
	return mom
}

func addQuad(q *[6]float64, d geom.Vec, m float64) {
	r2 := d.Norm2()
	q[XX] += m * (3*d[0]*d[0] - r2)
	q[YY] += m * (3*d[1]*d[1] - r2)
	q[ZZ] += m * (3*d[2]*d[2] - r2)
	q[XY] += m * 3 * d[0] * d[1]
	q[XZ] += m * 3 * d[0] * d[2]
	q[YZ] += m * 3 * d[1] * d[2]
}

// QuadApply returns Q r.
func (mom *Moments) QuadApply(r geom.Vec) geom.Vec {
	q := &mom.Quad
	return geom.Vec{
		q[XX]*r[0] + q[XY]*r[1] + q[XZ]*r[2],
		q[XY]*r[0] + q[YY]*r[1] + q[YZ]*r[2],
		q[XZ]*r[0] + q[YZ]*r[1] + q[ZZ]*r[2],
	}
}
