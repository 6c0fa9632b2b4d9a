package particles

/* record.go contains the fixed-size binary layout particles travel in. */

import (
	"encoding/binary"
	"math"

	ddgerr "github.com/phil-mansfield/ddgrav/lib/error"
)

// RecordSize is the number of bytes in one encoded particle: ID, three
// position components, mass and work.
const RecordSize = 48

var order = binary.LittleEndian

// EncodeRecord appends particle i of s to buf and returns the extended
// buffer.
func (s *Set) EncodeRecord(buf []byte, i int) []byte {
	var rec [RecordSize]byte
	order.PutUint64(rec[0:], s.ID[i])
	for k := 0; k < 3; k++ {
		order.PutUint64(rec[8+8*k:], math.Float64bits(s.X[i][k]))
	}
	order.PutUint64(rec[32:], math.Float64bits(s.Mass[i]))
	order.PutUint64(rec[40:], math.Float64bits(s.Work[i]))
	return append(buf, rec[:]...)
}

// Encode appends every particle in s to buf.
func (s *Set) Encode(buf []byte) []byte {
	for i := range s.ID {
		buf = s.EncodeRecord(buf, i)
	}
	return buf
}

// DecodeRecords appends the particles encoded in b to dest. The length of b
// must be a multiple of RecordSize.
func DecodeRecords(b []byte, dest *Set) error {
	if len(b)%RecordSize != 0 {
		return ddgerr.TransportErrorf("Particle buffer has %d bytes, which "+
			"isn't a multiple of the %d-byte record size.", len(b), RecordSize)
	}
	for ; len(b) > 0; b = b[RecordSize:] {
		var x [3]float64
		for k := 0; k < 3; k++ {
			x[k] = math.Float64frombits(order.Uint64(b[8+8*k:]))
		}
		dest.Append(
			order.Uint64(b[0:]), x,
			math.Float64frombits(order.Uint64(b[32:])),
			math.Float64frombits(order.Uint64(b[40:])),
		)
	}
	return nil
}
