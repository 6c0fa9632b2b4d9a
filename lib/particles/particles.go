/*package particles contains the particle sets that ranks own and the record
format used to move particles between ranks.*/
package particles

/* This file contains functions for managing particles and their fields. */

import (
	"math"
	"sort"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
)

// Set holds the particles owned by one rank. Fields are stored as parallel
// arrays and index i of every field refers to the same particle.
type Set struct {
	// ID is stable across migrations.
	ID []uint64
	X  []geom.Vec
	// Mass must be non-negative.
	Mass []float64
	// Work is the cost of the particle's most recent force evaluation. It is
	// zero if the particle hasn't been evaluated yet.
	Work []float64
}

// New creates a set from parallel arrays. A nil work array is treated as all
// zeros.
func New(id []uint64, x []geom.Vec, mass, work []float64) (*Set, error) {
	if work == nil {
		work = make([]float64, len(id))
	}
	if len(x) != len(id) || len(mass) != len(id) || len(work) != len(id) {
		return nil, ddgerr.ConfigErrorf("Particle arrays have mismatched "+
			"lengths: %d IDs, %d positions, %d masses, %d work values.",
			len(id), len(x), len(mass), len(work))
	}
	return &Set{id, x, mass, work}, nil
}

// Len returns the number of particles in the set.
func (s *Set) Len() int { return len(s.ID) }

// Append adds a particle to the end of the set.
func (s *Set) Append(id uint64, x geom.Vec, mass, work float64) {
	s.ID = append(s.ID, id)
	s.X = append(s.X, x)
	s.Mass = append(s.Mass, mass)
	s.Work = append(s.Work, work)
}

// AppendFrom adds particle i of src to the end of the set.
func (s *Set) AppendFrom(src *Set, i int) {
	s.Append(src.ID[i], src.X[i], src.Mass[i], src.Work[i])
}

// Subset returns a new set holding the particles at the given indices, in
// that order. An index outside the set is an Invariant error.
func (s *Set) Subset(idx []int) (*Set, error) {
	out := &Set{
		make([]uint64, len(idx)), make([]geom.Vec, len(idx)),
		make([]float64, len(idx)), make([]float64, len(idx)),
	}
	to := make([]int, len(idx))
	for i := range to {
		to[i] = i
	}
	if err := s.Transfer(out, idx, to); err != nil {
		return nil, err
	}
	return out, nil
}

// Transfer copies the particles at the indices 'from' into dest at the
// indices 'to'. These indices are passed as arrays to amortize the cost of
// error handling. Bad indices are Invariant errors, since they can only
// come from ddgrav's own bookkeeping.
func (s *Set) Transfer(dest *Set, from, to []int) error {
	if len(from) != len(to) {
		return ddgerr.InvariantErrorf("'from' index array has length %d, "+
			"but 'to' has length %d.", len(from), len(to))
	}
	for i := range from {
		f, t := from[i], to[i]
		if f < 0 || f >= s.Len() || t < 0 || t >= dest.Len() {
			return ddgerr.InvariantErrorf("Transfer from index %d to index "+
				"%d is out of range for sets of length %d and %d.",
				f, t, s.Len(), dest.Len())
		}
		dest.ID[t], dest.X[t] = s.ID[f], s.X[f]
		dest.Mass[t], dest.Work[t] = s.Mass[f], s.Work[f]
	}
	return nil
}

// Clone returns a deep copy of s.
func (s *Set) Clone() *Set {
	out := &Set{
		append([]uint64{}, s.ID...), append([]geom.Vec{}, s.X...),
		append([]float64{}, s.Mass...), append([]float64{}, s.Work...),
	}
	return out
}

// TotalMass returns the sum of the set's masses.
func (s *Set) TotalMass() float64 {
	sum := 0.0
	for _, m := range s.Mass {
		sum += m
	}
	return sum
}

// Bounds returns the bounding box of the set. It is empty if the set is.
func (s *Set) Bounds() geom.Box {
	b := geom.EmptyBox()
	for _, x := range s.X {
		b = b.Extend(x)
	}
	return b
}

// Validate checks that the set's arrays line up, that every position is
// finite, that every mass is non-negative, and that no ID appears twice.
func (s *Set) Validate() error {
	n := len(s.ID)
	if len(s.X) != n || len(s.Mass) != n || len(s.Work) != n {
		return ddgerr.InvariantErrorf("Particle arrays have mismatched "+
			"lengths: %d IDs, %d positions, %d masses, %d work values.",
			n, len(s.X), len(s.Mass), len(s.Work))
	}
	for i := 0; i < n; i++ {
		if !s.X[i].Finite() {
			return ddgerr.ConfigErrorf("Particle %d has position %v.",
				s.ID[i], s.X[i])
		} else if s.Mass[i] < 0 || math.IsNaN(s.Mass[i]) {
			return ddgerr.ConfigErrorf("Particle %d has mass %g.",
				s.ID[i], s.Mass[i])
		}
	}

	id := append([]uint64{}, s.ID...)
	sort.Slice(id, func(i, j int) bool { return id[i] < id[j] })
	for i := 1; i < len(id); i++ {
		if id[i] == id[i-1] {
			return ddgerr.InvariantErrorf("Particle ID %d appears twice.", id[i])
		}
	}
	return nil
}
