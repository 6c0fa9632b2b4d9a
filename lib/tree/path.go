package tree

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/phil-mansfield/ddgrav/lib/config"
	"github.com/phil-mansfield/ddgrav/lib/geom"
)

// MaxDepth is the deepest level a Path can describe: three bits per level
// in a uint64.
const MaxDepth = config.MaxTreeDepth

// Path names a node by the sequence of octants leading to it from the root.
// Every rank builds its tree on the same root cube, so a Path refers to the
// same region of space on every rank.
type Path struct {
	Depth uint8
	// Bits holds the octants, three bits each, with the first step in the
	// most significant occupied bits.
	Bits uint64
}

// Key names a node in a specific rank's tree.
type Key struct {
	Rank int
	Path Path
}

// Root returns the path of the root node.
func Root() Path { return Path{} }

// Child returns the path to octant oct of p.
func (p Path) Child(oct int) Path {
	return Path{p.Depth + 1, p.Bits<<3 | uint64(oct&7)}
}

// Parent returns the path to p's parent. The root is its own parent.
func (p Path) Parent() Path {
	if p.Depth == 0 {
		return p
	}
	return Path{p.Depth - 1, p.Bits >> 3}
}

// Octant returns the octant taken at the given level, 0 being the first
// step below the root.
func (p Path) Octant(level int) int {
	return int(p.Bits>>(3*uint(int(p.Depth)-1-level))) & 7
}

// Box returns the region p covers inside root.
func (p Path) Box(root geom.Box) geom.Box {
	b := root
	for level := 0; level < int(p.Depth); level++ {
		b = b.Child(p.Octant(level))
	}
	return b
}

func (p Path) String() string {
	if p.Depth == 0 {
		return "/"
	}
	sb := strings.Builder{}
	for level := 0; level < int(p.Depth); level++ {
		fmt.Fprintf(&sb, "/%d", p.Octant(level))
	}
	return sb.String()
}

const pathSize = 9

func (p Path) encode(buf []byte) []byte {
	var b [pathSize]byte
	b[0] = p.Depth
	binary.LittleEndian.PutUint64(b[1:], p.Bits)
	return append(buf, b[:]...)
}

func decodePath(b []byte) Path {
	return Path{b[0], binary.LittleEndian.Uint64(b[1:])}
}
