package tree

import (
	"encoding/binary"
	"math"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
	"github.com/phil-mansfield/ddgrav/lib/geom"
)

// NodeSummary is a node as seen from another rank: its moments, which
// children exist, and for leaves the particles themselves.
type NodeSummary struct {
	Path Path
	// Box is computed from Path by the receiver and is not sent.
	Box geom.Box
	Moments
	Leaf      bool
	ChildMask uint8
	X         []geom.Vec
	Masses    []float64
}

// HasChild returns true if the summarized node has a child in octant oct.
func (s *NodeSummary) HasChild(oct int) bool {
	return s.ChildMask&(1<<uint(oct)) != 0
}

const (
	summaryHeaderSize   = pathSize + 8 + 8 + 3*8 + 6*8 + 1 + 1 + 4
	summaryParticleSize = 4 * 8
)

func (s NodeSummary) encode(buf []byte) []byte {
	n := len(s.X)
	b := make([]byte, summaryHeaderSize+n*summaryParticleSize)
	s.Path.encode(b[:0])

	off := pathSize
	putF := func(x float64) {
		binary.LittleEndian.PutUint64(b[off:], math.Float64bits(x))
		off += 8
	}
	binary.LittleEndian.PutUint64(b[off:], uint64(s.Count))
	off += 8
	putF(s.Moments.Mass)
	for k := 0; k < 3; k++ {
		putF(s.COM[k])
	}
	for k := 0; k < 6; k++ {
		putF(s.Quad[k])
	}
	if s.Leaf {
		b[off] = 1
	}
	b[off+1] = s.ChildMask
	binary.LittleEndian.PutUint32(b[off+2:], uint32(n))
	off += 6

	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			putF(s.X[i][k])
		}
		putF(s.Masses[i])
	}
	return append(buf, b...)
}

func decodeSummary(b []byte, root geom.Box) (NodeSummary, error) {
	s := NodeSummary{}
	if len(b) < summaryHeaderSize {
		return s, ddgerr.TransportErrorf("Node summary is %d bytes, "+
			"shorter than its %d-byte header.", len(b), summaryHeaderSize)
	}

	s.Path = decodePath(b)
	if s.Path.Depth > MaxDepth {
		return s, ddgerr.TransportErrorf("Node summary has depth %d.",
			s.Path.Depth)
	}
	s.Box = s.Path.Box(root)

	off := pathSize
	getF := func() float64 {
		x := math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		off += 8
		return x
	}
	s.Count = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	s.Moments.Mass = getF()
	for k := 0; k < 3; k++ {
		s.COM[k] = getF()
	}
	for k := 0; k < 6; k++ {
		s.Quad[k] = getF()
	}
	s.Leaf = b[off] != 0
	s.ChildMask = b[off+1]
	n := int(binary.LittleEndian.Uint32(b[off+2:]))
	off += 6

	if len(b) != summaryHeaderSize+n*summaryParticleSize {
		return s, ddgerr.TransportErrorf("Node summary for %s claims %d "+
			"particles but is %d bytes.", s.Path, n, len(b))
	}
	if n > 0 {
		s.X, s.Masses = make([]geom.Vec, n), make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			s.X[i][k] = getF()
		}
		s.Masses[i] = getF()
	}
	return s, nil
}
