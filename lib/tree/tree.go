/*package tree builds the per-pass octree over a rank's particles and answers
other ranks' requests for its nodes.

Trees are arenas: nodes live in one slice and refer to their children by
index. A tree is rebuilt from scratch every force pass and is never modified
after Build returns, so any number of walkers may read it at once.
*/
package tree

import (
	"math"

	"github.com/phil-mansfield/ddgrav/lib/config"
	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
	"github.com/phil-mansfield/ddgrav/lib/particles"
)

// NoChild marks a missing child in Node.Child.
const NoChild = -1

// Node is one cell of a Tree.
type Node struct {
	Path Path
	Box  geom.Box
	Moments
	Leaf bool
	// Child holds the arena index of each octant's child, or NoChild.
	Child [8]int32
	// Start and End bound the node's particles in Tree.Index.
	Start, End int32
}

// Tree is an octree over one rank's particles.
type Tree struct {
	// Root is the cube the tree subdivides. Every rank in a pass uses the
	// same root.
	Root  geom.Box
	Nodes []Node
	// Index orders particle indices so that every node's particles are
	// contiguous.
	Index []int32

	x        []geom.Vec
	mass     []float64
	leafSize int
	maxDepth int
}

// Build subdivides root into octants until every leaf holds at most
// cfg.MaxParticlesPerLeaf particles or sits at cfg.MaxDepth. Particles
// keep their relative order within each octant, so the same particles
// always give the same tree. Every particle must lie inside root.
//
// The tree refers to set's positions and masses, which must not change
// while it's in use.
func Build(
	set *particles.Set, root geom.Box, cfg *config.TreeConfig,
) (*Tree, error) {
	if cfg.MaxParticlesPerLeaf < 1 {
		return nil, ddgerr.ConfigErrorf("MaxParticlesPerLeaf must be >= 1, "+
			"but is %d.", cfg.MaxParticlesPerLeaf)
	} else if cfg.MaxDepth < 0 || cfg.MaxDepth > MaxDepth {
		return nil, ddgerr.ConfigErrorf("MaxDepth must be in [0, %d], "+
			"but is %d.", MaxDepth, cfg.MaxDepth)
	} else if set.Len() > math.MaxInt32 {
		return nil, ddgerr.ConfigErrorf("%d particles is too many for "+
			"one rank's tree.", set.Len())
	}

	n := set.Len()
	t := &Tree{
		Root: root, Index: make([]int32, n),
		x: set.X, mass: set.Mass,
		leafSize: cfg.MaxParticlesPerLeaf, maxDepth: cfg.MaxDepth,
	}
	for i := range t.Index {
		if !root.Contains(set.X[i]) {
			return nil, ddgerr.InvariantErrorf("Particle %d at %v is "+
				"outside the tree's root %v.", set.ID[i], set.X[i], root)
		}
		t.Index[i] = int32(i)
	}

	t.Nodes = make([]Node, 1, 2*n/t.leafSize+1)
	t.Nodes[0] = Node{Path: Root(), Box: root}
	t.build(0, 0, int32(n), make([]int32, n))
	return t, nil
}

func (t *Tree) build(ni, start, end int32, buf []int32) {
	t.Nodes[ni].Start, t.Nodes[ni].End = start, end
	for k := range t.Nodes[ni].Child {
		t.Nodes[ni].Child[k] = NoChild
	}

	path, box := t.Nodes[ni].Path, t.Nodes[ni].Box
	if int(end-start) <= t.leafSize || int(path.Depth) >= t.maxDepth {
		t.Nodes[ni].Leaf = true
		t.Nodes[ni].Moments = momentsOf(t.x, t.mass, t.Index[start:end])
		return
	}

	// Stable counting sort by octant.
	count := [8]int32{}
	for _, i := range t.Index[start:end] {
		count[box.Octant(t.x[i])]++
	}
	off := [9]int32{start}
	for k := 0; k < 8; k++ {
		off[k+1] = off[k] + count[k]
	}
	pos := off
	for _, i := range t.Index[start:end] {
		oct := box.Octant(t.x[i])
		buf[pos[oct]] = i
		pos[oct]++
	}
	copy(t.Index[start:end], buf[start:end])

	children := make([]Moments, 0, 8)
	for k := 0; k < 8; k++ {
		if count[k] == 0 {
			continue
		}
		ci := int32(len(t.Nodes))
		t.Nodes = append(t.Nodes, Node{Path: path.Child(k), Box: box.Child(k)})
		t.build(ci, off[k], off[k+1], buf)
		t.Nodes[ni].Child[k] = ci
		children = append(children, t.Nodes[ci].Moments)
	}
	t.Nodes[ni].Moments = merge(children)
}

// Len returns the number of particles in the tree.
func (t *Tree) Len() int { return len(t.Index) }

// Position returns the position of particle i.
func (t *Tree) Position(i int32) geom.Vec { return t.x[i] }

// Mass returns the mass of particle i.
func (t *Tree) Mass(i int32) float64 { return t.mass[i] }

// Check returns an Invariant error if any node's count or mass differs from
// the sum over its children or particles, with masses compared to a relative
// tolerance of tol, or if any particle or child lies outside its node.
func (t *Tree) Check(tol float64) error {
	if got := t.Nodes[0].Count; got != int64(len(t.Index)) {
		return ddgerr.InvariantErrorf("Tree root holds %d particles, "+
			"but %d were inserted.", got, len(t.Index))
	}

	for ni := range t.Nodes {
		nd := &t.Nodes[ni]
		count, mass := int64(0), 0.0
		if nd.Leaf {
			for _, i := range t.Index[nd.Start:nd.End] {
				if !nd.Box.Contains(t.x[i]) {
					return ddgerr.InvariantErrorf("Particle at %v is "+
						"outside its leaf %s, %v.", t.x[i], nd.Path, nd.Box)
				}
				count, mass = count+1, mass+t.mass[i]
			}
		} else {
			for _, ci := range nd.Child {
				if ci == NoChild {
					continue
				}
				c := &t.Nodes[ci]
				if c.Path.Parent() != nd.Path || !nd.Box.ContainsBox(c.Box) {
					return ddgerr.InvariantErrorf("Node %s is not inside "+
						"its parent %s.", c.Path, nd.Path)
				}
				count, mass = count+c.Count, mass+c.Mass
			}
		}

		if count != nd.Count || count != int64(nd.End-nd.Start) {
			return ddgerr.InvariantErrorf("Node %s records %d particles, "+
				"but holds %d.", nd.Path, nd.Count, count)
		}
		if math.Abs(mass-nd.Mass) > tol*math.Abs(nd.Mass) {
			return ddgerr.InvariantErrorf("Node %s records a mass of %g, "+
				"but its contents have a mass of %g.", nd.Path, nd.Mass, mass)
		}
	}
	return nil
}

// Lookup returns the arena index of the node at path. ok is false if no
// such node exists.
func (t *Tree) Lookup(path Path) (ni int32, ok bool) {
	for level := 0; level < int(path.Depth); level++ {
		ni = t.Nodes[ni].Child[path.Octant(level)]
		if ni == NoChild {
			return NoChild, false
		}
	}
	return ni, true
}

// Summary returns what another rank needs to know about the node at path.
// Asking for a node that doesn't exist is an Invariant error: walks only
// request children that a summary said were there.
func (t *Tree) Summary(path Path) (NodeSummary, error) {
	if path.Depth > MaxDepth {
		return NodeSummary{}, ddgerr.InvariantErrorf("Node %s is deeper "+
			"than the maximum depth, %d.", path, MaxDepth)
	}
	ni, ok := t.Lookup(path)
	if !ok {
		return NodeSummary{}, ddgerr.InvariantErrorf("No node at %s.", path)
	}
	s := NodeSummary{Path: path, Box: path.Box(t.Root)}

	nd := &t.Nodes[ni]
	s.Moments, s.Leaf = nd.Moments, nd.Leaf
	if nd.Leaf {
		n := nd.End - nd.Start
		s.X, s.Masses = make([]geom.Vec, n), make([]float64, n)
		for j, i := range t.Index[nd.Start:nd.End] {
			s.X[j], s.Masses[j] = t.x[i], t.mass[i]
		}
		return s, nil
	}
	for k, ci := range nd.Child {
		if ci != NoChild {
			s.ChildMask |= 1 << uint(k)
		}
	}
	return s, nil
}
