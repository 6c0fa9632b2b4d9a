/*package eq is a simple package for telling whether two arrays are equal to
one another, either exactly or to within a tolerance. It is used by tests
across ddgrav.*/
package eq

import (
	"math"

	"github.com/phil-mansfield/ddgrav/lib/geom"
)

// Vecs returns true if two []geom.Vec arrays are the same and false otherwise.
func Vecs(x, y []geom.Vec) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Float64sEps returns true if the two []float64 arrays are within eps of one
// another and false otherwise.
func Float64sEps(x, y []float64, eps float64) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i]+eps < y[i] || x[i]-eps > y[i] || math.IsNaN(x[i]-y[i]) {
			return false
		}
	}
	return true
}

// RelDiff returns the symmetric relative difference between two vectors,
// |a - b| / (|a| + |b| + 1e-15). It is zero when both are zero.
func RelDiff(a, b geom.Vec) float64 {
	return a.Sub(b).Norm() / (a.Norm() + b.Norm() + 1e-15)
}

// VecsRel returns the index of the first pair of vectors whose RelDiff
// exceeds eps, or -1 if there is none. Arrays of different lengths fail at
// the first index past the shorter one.
func VecsRel(x, y []geom.Vec, eps float64) int {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	for i := 0; i < n; i++ {
		if d := RelDiff(x[i], y[i]); d > eps || math.IsNaN(d) {
			return i
		}
	}
	if len(x) != len(y) {
		return n
	}
	return -1
}
